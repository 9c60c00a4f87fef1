package syncer

import (
	"context"
	"encoding/json"

	"github.com/mesh-intelligence/tillsync/pkg/types"
)

// PushSnapshot uploads every syncable collection to the bulk endpoint.
// The outbox is not touched.
func (c *Coordinator) PushSnapshot(ctx context.Context) (types.Snapshot, error) {
	snap := types.Snapshot{CustomerID: c.customerID, BusinessName: c.businessName}
	for _, et := range types.SyncableEntityTypes {
		records, err := c.store.GetAll(et.Collection())
		if err != nil {
			return snap, &types.SyncError{Phase: types.PhasePush, EntityType: et, Err: err}
		}
		snap.SetRecords(et, records)
	}
	if err := c.remote.PushSnapshot(ctx, snap); err != nil {
		return snap, &types.SyncError{Phase: types.PhasePush, Err: err}
	}
	c.logger.Info("snapshot pushed", "customer_id", c.customerID)
	return snap, nil
}

// RestoreSnapshot replaces every syncable collection with the backend's
// snapshot. Records without an id are skipped. Collections are replaced one
// at a time; a failure part way leaves earlier collections restored. Queued
// outbox entries are kept.
func (c *Coordinator) RestoreSnapshot(ctx context.Context) (map[types.EntityType]int, error) {
	snap, err := c.remote.Restore(ctx, c.customerID, c.businessName)
	if err != nil {
		return nil, &types.SyncError{Phase: types.PhaseRestore, Err: err}
	}

	counts := map[types.EntityType]int{}
	for _, et := range types.SyncableEntityTypes {
		records := make([]json.RawMessage, 0, len(snap.Records(et)))
		for _, rec := range snap.Records(et) {
			if _, err := types.ParseHeader(rec); err != nil {
				c.logger.Warn("skipping restored record without id", "entity_type", et)
				continue
			}
			records = append(records, rec)
		}
		if err := c.replace(et.Collection(), records); err != nil {
			return counts, &types.SyncError{Phase: types.PhaseRestore, EntityType: et, Err: err}
		}
		counts[et] = len(records)
	}
	c.logger.Info("snapshot restored", "customer_id", c.customerID)
	return counts, nil
}

// RemoteStatus fetches the backend's sync metadata for this customer.
func (c *Coordinator) RemoteStatus(ctx context.Context) (types.SyncMetadata, error) {
	meta, err := c.remote.Status(ctx, c.customerID, c.businessName)
	if err != nil {
		return meta, &types.SyncError{Phase: types.PhaseStatus, Err: err}
	}
	return meta, nil
}

func (c *Coordinator) replace(collection string, records []json.RawMessage) error {
	if r, ok := c.store.(replacer); ok {
		return r.ReplaceAll(collection, records)
	}
	if err := c.store.Clear(collection); err != nil {
		return err
	}
	for _, rec := range records {
		if err := c.store.Put(collection, rec); err != nil {
			return err
		}
	}
	return nil
}
