// This file holds the SQLite schema for record collections, the outbox, and
// request-cache buckets.
package sqlite

import (
	"fmt"

	"github.com/mesh-intelligence/tillsync/pkg/types"
)

// collectionTables maps each LocalStore collection to its SQLite table.
// Table names only ever come from this map, so they are safe to interpolate.
var collectionTables = map[string]string{
	types.CollectionProducts:     "products",
	types.CollectionCategories:   "categories",
	types.CollectionSales:        "sales",
	types.CollectionUsers:        "users",
	types.CollectionSettings:     "settings",
	types.CollectionSubscription: "subscription",
}

// createCollection is the DDL shared by every record collection. The body
// column holds the full JSON record; id and updated_at are copied out of it
// for lookups and ordering.
const createCollection = `CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    updated_at INTEGER NOT NULL,
    body TEXT NOT NULL
);`

const (
	createPendingOperations = `CREATE TABLE IF NOT EXISTS pending_operations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    record_id TEXT NOT NULL,
    payload TEXT NOT NULL,
    timestamp INTEGER NOT NULL
);`

	createCacheBuckets = `CREATE TABLE IF NOT EXISTS cache_buckets (
    name TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL
);`

	createCacheEntries = `CREATE TABLE IF NOT EXISTS cache_entries (
    bucket TEXT NOT NULL,
    url TEXT NOT NULL,
    status INTEGER NOT NULL,
    header TEXT NOT NULL,
    body BLOB NOT NULL,
    stored_at INTEGER NOT NULL,
    PRIMARY KEY (bucket, url),
    FOREIGN KEY (bucket) REFERENCES cache_buckets(name) ON DELETE CASCADE
);`
)

// Secondary indexes on the outbox (type, entity type, timestamp).
const (
	idxPendingType       = `CREATE INDEX IF NOT EXISTS idx_pending_operations_type ON pending_operations(type);`
	idxPendingEntityType = `CREATE INDEX IF NOT EXISTS idx_pending_operations_entity_type ON pending_operations(entity_type);`
	idxPendingTimestamp  = `CREATE INDEX IF NOT EXISTS idx_pending_operations_timestamp ON pending_operations(timestamp);`
)

// schemaDDL returns every statement needed to initialize a database, in
// dependency order.
func schemaDDL() []string {
	stmts := []string{"PRAGMA foreign_keys = ON;"}
	for _, coll := range types.LocalCollections {
		stmts = append(stmts, fmt.Sprintf(createCollection, collectionTables[coll]))
	}
	return append(stmts,
		createPendingOperations,
		idxPendingType,
		idxPendingEntityType,
		idxPendingTimestamp,
		createCacheBuckets,
		createCacheEntries,
	)
}

// tableFor resolves a collection name to its table.
func tableFor(collection string) (string, error) {
	table, ok := collectionTables[collection]
	if !ok {
		return "", fmt.Errorf("%w: %q", types.ErrUnknownCollection, collection)
	}
	return table, nil
}
