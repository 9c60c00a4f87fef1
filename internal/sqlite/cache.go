// This file stores request-cache buckets: named, versioned groups of cached
// HTTP responses keyed by URL.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// CachedResponse is one stored HTTP response.
type CachedResponse struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// CacheStore persists cache buckets in the same database as the records.
type CacheStore struct {
	backend *Backend
}

const cacheCollection = "cache"

// ErrBucketNotFound is returned by Put when the bucket was never opened or
// has been deleted.
var ErrBucketNotFound = errors.New("cache bucket not found")

// Open creates the bucket if it does not exist.
func (c *CacheStore) Open(bucket string) error {
	return c.backend.withTx("cacheOpen", cacheCollection, func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT OR IGNORE INTO cache_buckets (name, created_at) VALUES (?, ?)",
			bucket, time.Now().UnixNano())
		return err
	})
}

// Buckets lists bucket names in creation order.
func (c *CacheStore) Buckets() ([]string, error) {
	names := []string{}
	err := c.backend.withDB("cacheBuckets", cacheCollection, func(db *sql.DB) error {
		rows, err := db.Query("SELECT name FROM cache_buckets ORDER BY created_at, name")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			names = append(names, name)
		}
		return rows.Err()
	})
	return names, err
}

// DeleteBucket removes a bucket and every entry in it.
func (c *CacheStore) DeleteBucket(bucket string) error {
	return c.backend.withTx("cacheDelete", cacheCollection, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM cache_entries WHERE bucket = ?", bucket); err != nil {
			return err
		}
		_, err := tx.Exec("DELETE FROM cache_buckets WHERE name = ?", bucket)
		return err
	})
}

// Put stores resp under url, replacing any previous entry atomically. The
// bucket must already exist; a write into a missing bucket returns
// ErrBucketNotFound and stores nothing, so a deleted bucket stays deleted.
func (c *CacheStore) Put(bucket string, resp CachedResponse) error {
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return err
	}
	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	return c.backend.withTx("cachePut", cacheCollection, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRow("SELECT 1 FROM cache_buckets WHERE name = ?", bucket).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrBucketNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(`
			INSERT INTO cache_entries (bucket, url, status, header, body, stored_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(bucket, url) DO UPDATE SET
				status = excluded.status,
				header = excluded.header,
				body = excluded.body,
				stored_at = excluded.stored_at`,
			bucket, resp.URL, resp.Status, string(header), resp.Body, storedAt.UnixNano())
		return err
	})
}

// Match returns the entry stored under url. ok is false on a miss.
func (c *CacheStore) Match(bucket, url string) (resp CachedResponse, ok bool, err error) {
	err = c.backend.withDB("cacheMatch", cacheCollection, func(db *sql.DB) error {
		var header string
		var storedAt int64
		err := db.QueryRow(
			"SELECT url, status, header, body, stored_at FROM cache_entries WHERE bucket = ? AND url = ?",
			bucket, url).Scan(&resp.URL, &resp.Status, &header, &resp.Body, &storedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(header), &resp.Header); err != nil {
			return err
		}
		resp.StoredAt = time.Unix(0, storedAt)
		ok = true
		return nil
	})
	return resp, ok, err
}
