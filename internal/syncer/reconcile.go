package syncer

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/mesh-intelligence/tillsync/pkg/types"
)

// ReconcileResult counts how a Reconcile changed the local collection.
type ReconcileResult struct {
	EntityType types.EntityType `json:"entityType" yaml:"entityType"`
	Inserted   int              `json:"inserted" yaml:"inserted"`
	Updated    int              `json:"updated" yaml:"updated"`
	Removed    int              `json:"removed" yaml:"removed"`
	// KeptLocal counts records whose local copy is strictly newer.
	KeptLocal int `json:"keptLocal" yaml:"keptLocal"`
}

// Reconcile merges the authoritative remote collection of et into the local
// one by last-writer-wins on updatedAt:
//
//   - a remote record absent locally is inserted;
//   - a remote record overwrites the local copy unless the local updatedAt
//     is strictly newer, so the remote copy wins ties;
//   - a local record with a server id that the remote no longer lists is
//     deleted;
//   - records with temporary ids are left alone.
//
// A failed fetch or store write is returned as a *types.SyncError.
func (c *Coordinator) Reconcile(ctx context.Context, et types.EntityType) (ReconcileResult, error) {
	result := ReconcileResult{EntityType: et}
	fail := func(err error) (ReconcileResult, error) {
		return result, &types.SyncError{Phase: types.PhaseReconcile, EntityType: et, Err: err}
	}

	remote, err := c.remote.List(ctx, et)
	if err != nil {
		return fail(err)
	}
	coll := et.Collection()
	localBodies, err := c.store.GetAll(coll)
	if err != nil {
		return fail(err)
	}

	type localRecord struct {
		header types.Header
		body   json.RawMessage
	}
	local := make(map[string]localRecord, len(localBodies))
	for _, body := range localBodies {
		h, err := types.ParseHeader(body)
		if err != nil {
			c.logger.Warn("skipping unreadable local record", "entity_type", et, "error", err)
			continue
		}
		local[h.ID] = localRecord{header: h, body: body}
	}

	seen := make(map[string]bool, len(remote))
	for _, rec := range remote {
		h, err := types.ParseHeader(rec)
		if err != nil {
			c.logger.Warn("skipping remote record without id", "entity_type", et, "error", err)
			continue
		}
		seen[h.ID] = true

		cur, ok := local[h.ID]
		switch {
		case !ok:
			result.Inserted++
		case cur.header.UpdatedAt.After(h.UpdatedAt):
			result.KeptLocal++
			continue
		case sameJSON(cur.body, rec):
			continue
		default:
			result.Updated++
		}
		if err := c.store.Put(coll, rec); err != nil {
			return fail(err)
		}
	}

	for id := range local {
		if seen[id] || types.IsTemporaryID(id) {
			continue
		}
		if err := c.store.Delete(coll, id); err != nil {
			return fail(err)
		}
		result.Removed++
	}

	c.logger.Debug("reconciled", "entity_type", et,
		"inserted", result.Inserted, "updated", result.Updated,
		"removed", result.Removed, "kept_local", result.KeptLocal)
	return result, nil
}

// sameJSON reports whether a and b encode the same value, ignoring
// whitespace and key order.
func sameJSON(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	ca, err := json.Marshal(va)
	if err != nil {
		return false
	}
	cb, err := json.Marshal(vb)
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}
