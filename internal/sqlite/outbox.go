// This file implements types.Outbox over the pending_operations table.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/mesh-intelligence/tillsync/pkg/types"
)

// Outbox is the durable log of mutations awaiting remote acknowledgement.
// Entries are keyed by an autoincrement id and replayed oldest first.
type Outbox struct {
	backend *Backend
}

var _ types.Outbox = (*Outbox)(nil)

const selectPending = `SELECT id, type, entity_type, record_id, payload, timestamp FROM pending_operations`

// Append stores m stamped with at.
func (o *Outbox) Append(m types.Mutation, at time.Time) (types.OutboxEntry, error) {
	entry := types.OutboxEntry{Mutation: m, Timestamp: at}
	err := o.backend.withTx("append", types.CollectionPendingOperations, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"INSERT INTO pending_operations (type, entity_type, record_id, payload, timestamp) VALUES (?, ?, ?, ?, ?)",
			string(m.Op()), string(m.Entity()), m.RecordID(), string(m.Payload()), at.UnixNano())
		if err != nil {
			return err
		}
		entry.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return types.OutboxEntry{}, err
	}
	return entry, nil
}

// Pending returns the entries of one entity type sorted by timestamp, then id.
func (o *Outbox) Pending(et types.EntityType) ([]types.OutboxEntry, error) {
	return o.query(selectPending+" WHERE entity_type = ? ORDER BY timestamp, id", string(et))
}

// All returns every entry sorted by timestamp, then id.
func (o *Outbox) All() ([]types.OutboxEntry, error) {
	return o.query(selectPending + " ORDER BY timestamp, id")
}

// Replace swaps the mutation of an existing entry. Its id and timestamp are kept.
func (o *Outbox) Replace(id int64, m types.Mutation) error {
	return o.backend.withTx("replace", types.CollectionPendingOperations, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"UPDATE pending_operations SET type = ?, entity_type = ?, record_id = ?, payload = ? WHERE id = ?",
			string(m.Op()), string(m.Entity()), m.RecordID(), string(m.Payload()), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &types.NotFoundError{Collection: types.CollectionPendingOperations, ID: formatEntryID(id)}
		}
		return nil
	})
}

// Remove deletes one entry. Removing an absent entry is a no-op.
func (o *Outbox) Remove(id int64) error {
	return o.backend.withTx("remove", types.CollectionPendingOperations, func(tx *sql.Tx) error {
		_, err := tx.Exec("DELETE FROM pending_operations WHERE id = ?", id)
		return err
	})
}

// Count returns the number of queued entries.
func (o *Outbox) Count() (int, error) {
	var n int
	err := o.backend.withDB("count", types.CollectionPendingOperations, func(db *sql.DB) error {
		return db.QueryRow("SELECT COUNT(*) FROM pending_operations").Scan(&n)
	})
	return n, err
}

func (o *Outbox) query(q string, args ...any) ([]types.OutboxEntry, error) {
	entries := []types.OutboxEntry{}
	err := o.backend.withDB("pending", types.CollectionPendingOperations, func(db *sql.DB) error {
		rows, err := db.Query(q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				id                     int64
				op, et, recID, payload string
				ts                     int64
			)
			if err := rows.Scan(&id, &op, &et, &recID, &payload, &ts); err != nil {
				return err
			}
			m, err := types.DecodeMutation(types.OpType(op), types.EntityType(et), recID, json.RawMessage(payload))
			if err != nil {
				return err
			}
			entries = append(entries, types.OutboxEntry{ID: id, Mutation: m, Timestamp: time.Unix(0, ts).UTC()})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func formatEntryID(id int64) string {
	return strconv.FormatInt(id, 10)
}
