package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mesh-intelligence/tillsync/internal/events"
	"github.com/mesh-intelligence/tillsync/pkg/types"
)

// DrainResult counts what one Drain did with the queued entries of a type.
type DrainResult struct {
	EntityType types.EntityType `json:"entityType" yaml:"entityType"`
	Compacted  int              `json:"compacted" yaml:"compacted"`
	Synced     int              `json:"synced" yaml:"synced"`
	Failed     int              `json:"failed" yaml:"failed"`
	// Deferred entries target a record whose earlier entry failed in the
	// same drain; they stay queued so they cannot overtake it.
	Deferred int `json:"deferred" yaml:"deferred"`
	// Adopted maps temporary ids to the server ids that replaced them.
	Adopted map[string]string `json:"adopted,omitempty" yaml:"adopted,omitempty"`
}

// Drain replays the queued entries of et against the backend, oldest first.
//
// An add POSTs the record without its temporary id. An edit of a record
// that still has a temporary id is sent as an add; otherwise it is a PUT.
// A delete of a temporary id succeeds without a request; otherwise it is a
// DELETE, and a 404 counts as done. An entry is removed only after the
// backend accepted it.
//
// When a create succeeds, the server id replaces the temporary id in the
// local record and in every later queued entry of et for that record.
//
// A failing entry is logged and left queued; it does not stop the drain.
// Drain returns an error only when the local store or outbox fails, or
// when ctx is done.
func (c *Coordinator) Drain(ctx context.Context, et types.EntityType) (DrainResult, error) {
	result := DrainResult{EntityType: et}

	if c.compact {
		n, err := c.Compact(et)
		if err != nil {
			return result, &types.SyncError{Phase: types.PhaseDrain, EntityType: et, Err: err}
		}
		result.Compacted = n
	}

	entries, err := c.outbox.Pending(et)
	if err != nil {
		return result, &types.SyncError{Phase: types.PhaseDrain, EntityType: et, Err: err}
	}

	failed := map[string]bool{}
	for i := range entries {
		if err := ctx.Err(); err != nil {
			return result, &types.SyncError{Phase: types.PhaseDrain, EntityType: et, Err: err}
		}
		entry := entries[i]
		m := entry.Mutation
		log := c.logger.With("entity_type", et, "entry_id", entry.ID, "op", m.Op(), "record_id", m.RecordID())

		if failed[m.RecordID()] {
			result.Deferred++
			log.Debug("outbox entry deferred behind a failed entry")
			continue
		}

		created, err := c.replay(ctx, m)
		if err != nil {
			failed[m.RecordID()] = true
			result.Failed++
			log.Warn("outbox entry failed", "error", err)
			c.bus.Publish(events.Event{
				Kind: events.EntryFailed, EntityType: et, RecordID: m.RecordID(),
				EntryID: entry.ID, Op: m.Op(), Err: err, Pending: -1,
			})
			continue
		}

		// The entry leaves the outbox only after its record is adopted. A
		// failed adoption keeps it queued and the retry re-sends the create
		// under the same idempotency key.
		if created != nil && types.IsTemporaryID(m.RecordID()) {
			serverID, err := c.adopt(et, m.RecordID(), created, entries[i+1:])
			if err != nil {
				return result, &types.SyncError{Phase: types.PhaseDrain, EntityType: et, Err: err}
			}
			if result.Adopted == nil {
				result.Adopted = map[string]string{}
			}
			result.Adopted[m.RecordID()] = serverID
			log = log.With("server_id", serverID)
		}

		if err := c.outbox.Remove(entry.ID); err != nil {
			return result, &types.SyncError{Phase: types.PhaseDrain, EntityType: et, Err: err}
		}
		result.Synced++
		log.Debug("outbox entry synced")
		c.bus.Publish(events.Event{
			Kind: events.EntrySynced, EntityType: et, RecordID: m.RecordID(),
			EntryID: entry.ID, Op: m.Op(), Pending: -1,
		})
	}
	return result, nil
}

// replay sends one mutation. created is the server record when the
// mutation was sent as a create.
func (c *Coordinator) replay(ctx context.Context, m types.Mutation) (created json.RawMessage, err error) {
	et, id := m.Entity(), m.RecordID()
	switch m := m.(type) {
	case types.Add:
		return c.create(ctx, et, id, m.Record)
	case types.Edit:
		if types.IsTemporaryID(id) {
			return c.create(ctx, et, id, m.Record)
		}
		_, err := c.remote.Update(ctx, et, id, m.Record)
		return nil, err
	case types.Delete:
		if types.IsTemporaryID(id) {
			return nil, nil
		}
		err := c.remote.Delete(ctx, et, id)
		if isStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	default:
		return nil, fmt.Errorf("%w: unknown mutation %T", types.ErrInvalidData, m)
	}
}

func (c *Coordinator) create(ctx context.Context, et types.EntityType, id string, record json.RawMessage) (json.RawMessage, error) {
	body, key := record, ""
	if types.IsTemporaryID(id) {
		stripped, err := types.StripBodyID(record)
		if err != nil {
			return nil, err
		}
		body, key = stripped, id
	}
	created, err := c.remote.Create(ctx, et, body, key)
	if err != nil {
		return nil, err
	}
	if _, err := types.ParseHeader(created); err != nil {
		return nil, fmt.Errorf("create response: %w", err)
	}
	return created, nil
}

// adopt moves a record from its temporary id to the server id. The local
// copy keeps its latest content under the new id; the temporary copy is
// removed. Later queued entries of the same type are retargeted both in the
// outbox and in rest. References from other records are not rewritten.
func (c *Coordinator) adopt(et types.EntityType, tempID string, created json.RawMessage, rest []types.OutboxEntry) (string, error) {
	h, err := types.ParseHeader(created)
	if err != nil {
		return "", err
	}
	serverID := h.ID
	coll := et.Collection()

	local, err := c.store.GetByID(coll, tempID)
	switch {
	case errors.Is(err, types.ErrNotFound):
		// Deleted locally after the add was queued; the queued delete
		// below is retargeted and will remove the server copy.
	case err != nil:
		return "", err
	default:
		rekeyed, err := types.SetBodyID(local, serverID)
		if err != nil {
			return "", err
		}
		if err := c.store.Put(coll, rekeyed); err != nil {
			return "", err
		}
		if err := c.store.Delete(coll, tempID); err != nil {
			return "", err
		}
	}

	for j := range rest {
		if rest[j].Mutation.RecordID() != tempID {
			continue
		}
		m, err := types.RetargetMutation(rest[j].Mutation, serverID)
		if err != nil {
			return "", err
		}
		if err := c.outbox.Replace(rest[j].ID, m); err != nil {
			return "", err
		}
		rest[j].Mutation = m
	}
	return serverID, nil
}

// Compact removes every queued entry of a record that was never synced and
// has a queued delete. It returns the number of entries removed.
func (c *Coordinator) Compact(et types.EntityType) (int, error) {
	entries, err := c.outbox.Pending(et)
	if err != nil {
		return 0, err
	}
	deleted := map[string]bool{}
	for _, e := range entries {
		if e.Mutation.Op() == types.OpDelete && types.IsTemporaryID(e.Mutation.RecordID()) {
			deleted[e.Mutation.RecordID()] = true
		}
	}
	removed := 0
	for _, e := range entries {
		if !deleted[e.Mutation.RecordID()] {
			continue
		}
		if err := c.outbox.Remove(e.ID); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info("outbox compacted", "entity_type", et, "removed", removed)
	}
	return removed, nil
}

func isStatus(err error, code int) bool {
	var ne *types.NetworkError
	return errors.As(err, &ne) && ne.StatusCode == code
}
