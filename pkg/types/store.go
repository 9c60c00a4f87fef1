package types

import (
	"encoding/json"
	"time"
)

// LocalStore is the durable client-resident record store: one collection per
// entity type. Each call runs in its own transaction scoped to a single
// collection; there is no cross-collection transaction. A failed call leaves
// the prior state intact and returns a *StoreError.
type LocalStore interface {
	// Put upserts body by its "id" field. Returns ErrInvalidData if body has no id.
	Put(collection string, body json.RawMessage) error

	// GetAll returns every record in the collection.
	GetAll(collection string) ([]json.RawMessage, error)

	// GetByID returns the record with the given id, or a *NotFoundError.
	GetByID(collection, id string) (json.RawMessage, error)

	// Delete removes the record with the given id. Deleting an absent id is a no-op.
	Delete(collection, id string) error

	// Clear removes every record in the collection.
	Clear(collection string) error
}

// Outbox is the ordered log of mutations not yet acknowledged remotely.
type Outbox interface {
	// Append queues m stamped with at and returns the stored entry.
	Append(m Mutation, at time.Time) (OutboxEntry, error)

	// Pending returns the entries for one entity type, oldest first.
	Pending(et EntityType) ([]OutboxEntry, error)

	// All returns every entry, oldest first.
	All() ([]OutboxEntry, error)

	// Replace swaps the mutation held by an entry, keeping its id and timestamp.
	Replace(id int64, m Mutation) error

	// Remove deletes an entry. Removing an absent entry is a no-op.
	Remove(id int64) error

	// Count returns the number of queued entries.
	Count() (int, error)
}
