package types

import (
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTemporaryID(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	id := NewTemporaryID(now)

	assert.Regexp(t, regexp.MustCompile(`^local_1700000000123_[0-9a-f]{9}$`), id)
	assert.True(t, IsTemporaryID(id))
	assert.NotEqual(t, id, NewTemporaryID(now), "ids minted in the same millisecond must differ")
}

func TestIsTemporaryID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"local_123_abc", true},
		{"srv_9", false},
		{"64f1c2", false},
		{"", false},
		{"LOCAL_123_abc", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTemporaryID(tt.id), tt.id)
	}
}

func TestParseHeader(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	body, err := Encode(&Product{Meta: Meta{ID: "srv_1", UpdatedAt: ts}, Name: "Tea"})
	require.NoError(t, err)

	h, err := ParseHeader(body)
	require.NoError(t, err)
	assert.Equal(t, "srv_1", h.ID)
	assert.True(t, ts.Equal(h.UpdatedAt))

	_, err = ParseHeader(json.RawMessage(`{"name":"no id"}`))
	assert.True(t, errors.Is(err, ErrInvalidData))

	_, err = ParseHeader(json.RawMessage(`[1,2]`))
	assert.True(t, errors.Is(err, ErrInvalidData))
}

func TestSetAndStripBodyID(t *testing.T) {
	body := json.RawMessage(`{"id":"local_1_a","name":"Tea","extra":{"x":1}}`)

	out, err := SetBodyID(body, "srv_2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"srv_2","name":"Tea","extra":{"x":1}}`, string(out))

	out, err = StripBodyID(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Tea","extra":{"x":1}}`, string(out))
}

func TestDecode(t *testing.T) {
	p, err := Decode[Product](json.RawMessage(`{"id":"p1","name":"Coffee","price":2.5,"stock":4}`))
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, 2.5, p.Price)
	assert.Equal(t, EntityProducts, p.EntityType())

	_, err = Decode[Product](json.RawMessage(`not json`))
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestNotFoundErrorMatchesSentinel(t *testing.T) {
	var err error = &NotFoundError{Collection: "products", ID: "p1"}
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "p1")
}
