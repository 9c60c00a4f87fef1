// Package sqlite implements the durable client-side storage of the sync
// engine on SQLite: the LocalStore record collections, the outbox of pending
// operations, and the request-cache buckets.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/tillsync/pkg/types"
)

// DatabaseFile is the name of the SQLite file created inside DataDir.
const DatabaseFile = "tillsync.db"

// Backend owns the SQLite connection. It implements types.LocalStore directly
// and hands out the outbox and cache storage that share the connection.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	dataDir  string
	db       *sql.DB

	outbox *Outbox
	cache  *CacheStore
}

var _ types.LocalStore = (*Backend)(nil)

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend() *Backend {
	return &Backend{}
}

// Attach opens (or creates) the database in config.DataDir and applies the
// schema. Existing data is kept. Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return &types.StoreError{Op: "attach", Err: err}
	}

	dsn := filepath.Join(dataDir, DatabaseFile) + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return &types.StoreError{Op: "attach", Err: err}
	}
	// A single connection serializes writers; SQLite would otherwise
	// report SQLITE_BUSY under concurrent transactions.
	db.SetMaxOpenConns(1)

	for _, stmt := range schemaDDL() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return &types.StoreError{Op: "attach", Err: fmt.Errorf("applying schema: %w", err)}
		}
	}

	b.db = db
	b.config = config
	b.dataDir = dataDir
	b.outbox = &Outbox{backend: b}
	b.cache = &CacheStore{backend: b}
	b.attached = true
	return nil
}

// Detach closes the database. Detach is idempotent. After Detach every
// operation returns ErrDetached.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	b.attached = false
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return &types.StoreError{Op: "detach", Err: err}
		}
		b.db = nil
	}
	return nil
}

// DataDir returns the directory holding the database.
func (b *Backend) DataDir() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dataDir
}

// Outbox returns the pending-operations log. It is nil before Attach.
func (b *Backend) Outbox() *Outbox {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.outbox
}

// CacheStorage returns the request-cache bucket storage. It is nil before Attach.
func (b *Backend) CacheStorage() *CacheStore {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cache
}

// withTx runs fn inside a transaction while holding the attach read lock.
// A non-nil error from fn rolls back, leaving prior state intact.
func (b *Backend) withTx(op, collection string, fn func(tx *sql.Tx) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return types.ErrDetached
	}
	tx, err := b.db.Begin()
	if err != nil {
		return &types.StoreError{Op: op, Collection: collection, Err: err}
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return wrapStoreErr(op, collection, err)
	}
	if err := tx.Commit(); err != nil {
		return &types.StoreError{Op: op, Collection: collection, Err: err}
	}
	return nil
}

// withDB runs a read-only fn while holding the attach read lock.
func (b *Backend) withDB(op, collection string, fn func(db *sql.DB) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return types.ErrDetached
	}
	if err := fn(b.db); err != nil {
		return wrapStoreErr(op, collection, err)
	}
	return nil
}

// wrapStoreErr wraps SQLite failures in *StoreError and passes domain
// errors (not found, invalid data, unknown collection) through unchanged.
func wrapStoreErr(op, collection string, err error) error {
	switch {
	case err == nil:
		return nil
	case isDomainErr(err):
		return err
	default:
		return &types.StoreError{Op: op, Collection: collection, Err: err}
	}
}
