package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// OpType identifies the kind of a queued mutation.
type OpType string

// Outbox operation types.
const (
	OpAdd    OpType = "add"
	OpEdit   OpType = "edit"
	OpDelete OpType = "delete"
)

// Mutation is a pending change to one record. It is a closed union: the only
// implementations are Add, Edit and Delete. Each carries a full snapshot of
// the record, never a diff, so replay is order-independent at the field level.
type Mutation interface {
	Op() OpType
	Entity() EntityType
	RecordID() string
	Payload() json.RawMessage
	withID(id string, payload json.RawMessage) Mutation
}

// Add creates a record the server has not seen.
type Add struct {
	EntityType EntityType
	ID         string
	Record     json.RawMessage
}

// Edit replaces a record with its fully merged state.
type Edit struct {
	EntityType EntityType
	ID         string
	Record     json.RawMessage
}

// Delete removes a record. Record holds the removed snapshot.
type Delete struct {
	EntityType EntityType
	ID         string
	Record     json.RawMessage
}

func (m Add) Op() OpType               { return OpAdd }
func (m Add) Entity() EntityType       { return m.EntityType }
func (m Add) RecordID() string         { return m.ID }
func (m Add) Payload() json.RawMessage { return m.Record }

func (m Edit) Op() OpType               { return OpEdit }
func (m Edit) Entity() EntityType       { return m.EntityType }
func (m Edit) RecordID() string         { return m.ID }
func (m Edit) Payload() json.RawMessage { return m.Record }

func (m Delete) Op() OpType               { return OpDelete }
func (m Delete) Entity() EntityType       { return m.EntityType }
func (m Delete) RecordID() string         { return m.ID }
func (m Delete) Payload() json.RawMessage { return m.Record }

func (m Add) withID(id string, p json.RawMessage) Mutation    { return Add{m.EntityType, id, p} }
func (m Edit) withID(id string, p json.RawMessage) Mutation   { return Edit{m.EntityType, id, p} }
func (m Delete) withID(id string, p json.RawMessage) Mutation { return Delete{m.EntityType, id, p} }

// NewAdd builds an Add from a record. The entity type comes from the record
// itself, so a mutation can never be filed under the wrong collection.
func NewAdd(rec Record) (Add, error) {
	body, err := Encode(rec)
	if err != nil {
		return Add{}, err
	}
	return Add{EntityType: rec.EntityType(), ID: rec.GetID(), Record: body}, nil
}

// NewEdit builds an Edit holding the full merged record.
func NewEdit(rec Record) (Edit, error) {
	body, err := Encode(rec)
	if err != nil {
		return Edit{}, err
	}
	return Edit{EntityType: rec.EntityType(), ID: rec.GetID(), Record: body}, nil
}

// NewDelete builds a Delete carrying the removed record.
func NewDelete(rec Record) (Delete, error) {
	body, err := Encode(rec)
	if err != nil {
		return Delete{}, err
	}
	return Delete{EntityType: rec.EntityType(), ID: rec.GetID(), Record: body}, nil
}

// DecodeMutation rebuilds a Mutation from its persisted columns.
func DecodeMutation(op OpType, et EntityType, id string, payload json.RawMessage) (Mutation, error) {
	if !et.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, et)
	}
	switch op {
	case OpAdd:
		return Add{EntityType: et, ID: id, Record: payload}, nil
	case OpEdit:
		return Edit{EntityType: et, ID: id, Record: payload}, nil
	case OpDelete:
		return Delete{EntityType: et, ID: id, Record: payload}, nil
	default:
		return nil, fmt.Errorf("%w: unknown op %q", ErrInvalidData, op)
	}
}

// RetargetMutation returns m addressed to a new record id, with the id inside
// the payload rewritten as well.
func RetargetMutation(m Mutation, id string) (Mutation, error) {
	payload := m.Payload()
	if len(payload) > 0 {
		var err error
		payload, err = SetBodyID(payload, id)
		if err != nil {
			return nil, err
		}
	}
	return m.withID(id, payload), nil
}

// OutboxEntry is a mutation that the remote authority has not acknowledged.
// ID is assigned by the outbox (autoincrement).
type OutboxEntry struct {
	ID        int64
	Mutation  Mutation
	Timestamp time.Time
}

// MarshalJSON renders the entry in its persisted shape.
func (e OutboxEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID         int64           `json:"id"`
		Type       OpType          `json:"type"`
		EntityType EntityType      `json:"entityType"`
		RecordID   string          `json:"recordId"`
		Payload    json.RawMessage `json:"payload"`
		Timestamp  time.Time       `json:"timestamp"`
	}{e.ID, e.Mutation.Op(), e.Mutation.Entity(), e.Mutation.RecordID(), e.Mutation.Payload(), e.Timestamp})
}
