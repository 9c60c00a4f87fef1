package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record is implemented by every entity the engine stores.
// Entity structs satisfy it by embedding Meta and declaring EntityType.
type Record interface {
	GetID() string
	SetID(id string)
	GetCreatedAt() time.Time
	SetCreatedAt(t time.Time)
	GetUpdatedAt() time.Time
	SetUpdatedAt(t time.Time)
	EntityType() EntityType
}

// Meta carries the primary key and timestamps shared by all records.
type Meta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (m *Meta) GetID() string            { return m.ID }
func (m *Meta) SetID(id string)          { m.ID = id }
func (m *Meta) GetCreatedAt() time.Time  { return m.CreatedAt }
func (m *Meta) SetCreatedAt(t time.Time) { m.CreatedAt = t }
func (m *Meta) GetUpdatedAt() time.Time  { return m.UpdatedAt }
func (m *Meta) SetUpdatedAt(t time.Time) { m.UpdatedAt = t }

// Header is the part of a stored record the engine reads without knowing
// its concrete type.
type Header struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ParseHeader extracts the id and updatedAt of a JSON record.
// Returns ErrInvalidData if the body is not an object or has no id.
func ParseHeader(body json.RawMessage) (Header, error) {
	var h Header
	if err := json.Unmarshal(body, &h); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if h.ID == "" {
		return Header{}, fmt.Errorf("%w: record has no id", ErrInvalidData)
	}
	return h, nil
}

// Encode serializes a record to its stored JSON form.
func Encode(rec Record) (json.RawMessage, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return body, nil
}

// Decode parses a stored JSON record into a new T.
func Decode[T any](body json.RawMessage) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(body, v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return v, nil
}

// SetBodyID returns a copy of body with its "id" field replaced. Unknown
// fields are preserved.
func SetBodyID(body json.RawMessage, id string) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	idJSON, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	fields["id"] = idJSON
	return json.Marshal(fields)
}

// StripBodyID returns a copy of body without its "id" field. Used before
// POSTing a record the server has never seen.
func StripBodyID(body json.RawMessage) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	delete(fields, "id")
	return json.Marshal(fields)
}

// TemporaryIDPrefix marks ids minted on the client before the server has
// assigned one.
const TemporaryIDPrefix = "local_"

// NewTemporaryID mints a client-side id of the form local_<unixms>_<random>.
func NewTemporaryID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s%d_%s", TemporaryIDPrefix, now.UnixMilli(), suffix)
}

// IsTemporaryID reports whether id was minted by NewTemporaryID.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TemporaryIDPrefix)
}
