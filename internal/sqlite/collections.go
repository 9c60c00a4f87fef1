// This file implements types.LocalStore over the per-collection tables.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/tillsync/pkg/types"
)

// Put upserts body by its id inside a transaction scoped to the collection.
func (b *Backend) Put(collection string, body json.RawMessage) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}
	h, err := types.ParseHeader(body)
	if err != nil {
		return err
	}
	return b.withTx("put", collection, func(tx *sql.Tx) error {
		_, err := tx.Exec(fmt.Sprintf(`
			INSERT INTO %s (id, updated_at, body) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				updated_at = excluded.updated_at,
				body = excluded.body`, table),
			h.ID, h.UpdatedAt.UnixNano(), string(body))
		return err
	})
}

// GetAll returns every record in the collection ordered by id.
func (b *Backend) GetAll(collection string) ([]json.RawMessage, error) {
	table, err := tableFor(collection)
	if err != nil {
		return nil, err
	}
	records := []json.RawMessage{}
	err = b.withDB("getAll", collection, func(db *sql.DB) error {
		rows, err := db.Query(fmt.Sprintf("SELECT body FROM %s ORDER BY id", table))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var body string
			if err := rows.Scan(&body); err != nil {
				return err
			}
			records = append(records, json.RawMessage(body))
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// GetByID returns one record or a *NotFoundError.
func (b *Backend) GetByID(collection, id string) (json.RawMessage, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	table, err := tableFor(collection)
	if err != nil {
		return nil, err
	}
	var body string
	err = b.withDB("getById", collection, func(db *sql.DB) error {
		err := db.QueryRow(fmt.Sprintf("SELECT body FROM %s WHERE id = ?", table), id).Scan(&body)
		if errors.Is(err, sql.ErrNoRows) {
			return &types.NotFoundError{Collection: collection, ID: id}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// Delete removes one record. An absent id is not an error.
func (b *Backend) Delete(collection, id string) error {
	if id == "" {
		return types.ErrInvalidID
	}
	table, err := tableFor(collection)
	if err != nil {
		return err
	}
	return b.withTx("delete", collection, func(tx *sql.Tx) error {
		_, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
		return err
	})
}

// Clear removes every record in the collection.
func (b *Backend) Clear(collection string) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}
	return b.withTx("clear", collection, func(tx *sql.Tx) error {
		_, err := tx.Exec(fmt.Sprintf("DELETE FROM %s", table))
		return err
	})
}

// ReplaceAll swaps the entire content of a collection in one transaction.
// Used by snapshot restore and JSONL import.
func (b *Backend) ReplaceAll(collection string, records []json.RawMessage) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}
	headers := make([]types.Header, len(records))
	for i, rec := range records {
		if headers[i], err = types.ParseHeader(rec); err != nil {
			return err
		}
	}
	return b.withTx("replaceAll", collection, func(tx *sql.Tx) error {
		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return err
		}
		stmt, err := tx.Prepare(fmt.Sprintf(
			"INSERT OR REPLACE INTO %s (id, updated_at, body) VALUES (?, ?, ?)", table))
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, rec := range records {
			if _, err := stmt.Exec(headers[i].ID, headers[i].UpdatedAt.UnixNano(), string(rec)); err != nil {
				return err
			}
		}
		return nil
	})
}

// isDomainErr reports errors that callers match on and must not be hidden
// inside a *StoreError.
func isDomainErr(err error) bool {
	return errors.Is(err, types.ErrNotFound) ||
		errors.Is(err, types.ErrInvalidData) ||
		errors.Is(err, types.ErrInvalidID) ||
		errors.Is(err, types.ErrUnknownCollection) ||
		errors.Is(err, ErrBucketNotFound)
}
