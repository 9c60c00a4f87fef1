// Package services holds the CRUD façades over the LocalStore. Every write
// goes to the store first and is then handed to a WriteStrategy, which
// queues it in the outbox when the backend is unreachable.
package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mesh-intelligence/tillsync/internal/events"
	"github.com/mesh-intelligence/tillsync/pkg/types"
)

// EntityService manages one entity type. T is the entity struct and PT its
// pointer, which carries the types.Record methods.
type EntityService[T any, PT interface {
	*T
	types.Record
}] struct {
	entity   types.EntityType
	store    types.LocalStore
	strategy WriteStrategy
	bus      *events.Bus
	now      func() time.Time
}

// NewEntityService creates a service for T.
func NewEntityService[T any, PT interface {
	*T
	types.Record
}](store types.LocalStore, strategy WriteStrategy, opts ...Option) *EntityService[T, PT] {
	o := applyOptions(opts)
	var zero T
	return &EntityService[T, PT]{
		entity:   PT(&zero).EntityType(),
		store:    store,
		strategy: strategy,
		bus:      o.bus,
		now:      o.now,
	}
}

// EntityType returns the entity type the service manages.
func (s *EntityService[T, PT]) EntityType() types.EntityType {
	return s.entity
}

// Create mints a temporary id and timestamps for data, stores it, and hands
// an add mutation to the write strategy. Any id already set on data is
// replaced.
func (s *EntityService[T, PT]) Create(data T) (PT, error) {
	rec := PT(&data)
	now := s.now().UTC()
	rec.SetID(types.NewTemporaryID(now))
	rec.SetCreatedAt(now)
	rec.SetUpdatedAt(now)

	if err := s.put(rec); err != nil {
		return nil, err
	}
	m, err := types.NewAdd(rec)
	if err != nil {
		return nil, err
	}
	if err := s.after(events.RecordCreated, m); err != nil {
		return rec, err
	}
	return rec, nil
}

// Update loads the record, applies mutate to it, refreshes updatedAt and
// stores the merged result. The edit mutation carries the full record.
// Returns a *types.NotFoundError if id does not exist.
func (s *EntityService[T, PT]) Update(id string, mutate func(PT) error) (PT, error) {
	rec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	createdAt := rec.GetCreatedAt()
	if err := mutate(rec); err != nil {
		return nil, err
	}
	return s.saveEdit(rec, id, createdAt)
}

// Patch merges the JSON object partial onto the stored record. Fields absent
// from partial are kept; id, createdAt and updatedAt in partial are ignored.
func (s *EntityService[T, PT]) Patch(id string, partial json.RawMessage) (PT, error) {
	body, err := s.store.GetByID(s.collection(), id)
	if err != nil {
		return nil, err
	}
	merged, err := mergeJSON(body, partial)
	if err != nil {
		return nil, err
	}
	rec, err := types.Decode[T](merged)
	if err != nil {
		return nil, err
	}
	old, err := types.Decode[T](body)
	if err != nil {
		return nil, err
	}
	return s.saveEdit(PT(rec), id, PT(old).GetCreatedAt())
}

// Delete removes the record and hands a delete mutation carrying the removed
// record to the write strategy. Returns a *types.NotFoundError if id does not
// exist.
func (s *EntityService[T, PT]) Delete(id string) error {
	rec, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(s.collection(), id); err != nil {
		return err
	}
	m, err := types.NewDelete(rec)
	if err != nil {
		return err
	}
	return s.after(events.RecordDeleted, m)
}

// Get returns one record or a *types.NotFoundError.
func (s *EntityService[T, PT]) Get(id string) (PT, error) {
	body, err := s.store.GetByID(s.collection(), id)
	if err != nil {
		return nil, err
	}
	rec, err := types.Decode[T](body)
	if err != nil {
		return nil, err
	}
	return PT(rec), nil
}

// List returns every record of the type.
func (s *EntityService[T, PT]) List() ([]PT, error) {
	bodies, err := s.store.GetAll(s.collection())
	if err != nil {
		return nil, err
	}
	out := make([]PT, 0, len(bodies))
	for _, body := range bodies {
		rec, err := types.Decode[T](body)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", s.entity, err)
		}
		out = append(out, PT(rec))
	}
	return out, nil
}

func (s *EntityService[T, PT]) collection() string {
	return s.entity.Collection()
}

func (s *EntityService[T, PT]) saveEdit(rec PT, id string, createdAt time.Time) (PT, error) {
	rec.SetID(id)
	rec.SetCreatedAt(createdAt)
	rec.SetUpdatedAt(s.now().UTC())
	if err := s.put(rec); err != nil {
		return nil, err
	}
	m, err := types.NewEdit(rec)
	if err != nil {
		return nil, err
	}
	if err := s.after(events.RecordUpdated, m); err != nil {
		return rec, err
	}
	return rec, nil
}

func (s *EntityService[T, PT]) put(rec PT) error {
	body, err := types.Encode(rec)
	if err != nil {
		return err
	}
	return s.store.Put(s.collection(), body)
}

// after runs the write strategy and publishes the resulting events. The local
// write has already happened; an error here means the outbox append failed.
func (s *EntityService[T, PT]) after(kind events.Kind, m types.Mutation) error {
	s.bus.Publish(events.Event{Kind: kind, EntityType: s.entity, RecordID: m.RecordID(), Op: m.Op(), Pending: -1})
	out, err := s.strategy.AfterWrite(m)
	if err != nil {
		return fmt.Errorf("queueing %s %s %s: %w", m.Op(), s.entity, m.RecordID(), err)
	}
	if out.Entry != nil {
		s.bus.Publish(events.Event{
			Kind:       events.MutationQueued,
			EntityType: s.entity,
			RecordID:   m.RecordID(),
			EntryID:    out.Entry.ID,
			Op:         m.Op(),
			Pending:    out.Pending,
		})
	}
	return nil
}

// mergeJSON overlays the top-level fields of partial onto base.
func mergeJSON(base, partial json.RawMessage) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidData, err)
	}
	overlay := map[string]json.RawMessage{}
	if err := json.Unmarshal(partial, &overlay); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidData, err)
	}
	for k, v := range overlay {
		switch k {
		case "id", "createdAt", "updatedAt":
			continue
		}
		fields[k] = v
	}
	return json.Marshal(fields)
}
