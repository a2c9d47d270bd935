package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashInvariantUnderKeyOrder(t *testing.T) {
	h := NewHasher()

	a, err := h.HashJSON([]byte(`{"id":"SPEC-001","title":"Parser","priority":1}`))
	require.NoError(t, err)
	b, err := h.HashJSON([]byte(`{"priority":1,"id":"SPEC-001","title":"Parser"}`))
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestHashInvariantUnderArrayOrder(t *testing.T) {
	h := NewHasher()

	a, err := h.HashJSON([]byte(`{"id":"I-1","tags":["api","db","ui"]}`))
	require.NoError(t, err)
	b, err := h.HashJSON([]byte(`{"id":"I-1","tags":["ui","api","db"]}`))
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestHashExcludesTimestamps(t *testing.T) {
	h := NewHasher()

	a, err := h.HashJSON([]byte(`{"id":"I-1","title":"x","created_at":"2024-01-01T00:00:00Z","updated_at":"2024-01-01T00:00:00Z"}`))
	require.NoError(t, err)
	b, err := h.HashJSON([]byte(`{"id":"I-1","title":"x","created_at":"2025-06-15T12:00:00Z","updated_at":"2025-06-16T09:30:00Z"}`))
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestHashConfiguredExclusions(t *testing.T) {
	h := NewHasher("content_hash")

	a, err := h.HashJSON([]byte(`{"id":"I-1","content_hash":"abc"}`))
	require.NoError(t, err)
	b, err := h.HashJSON([]byte(`{"id":"I-1","content_hash":"def"}`))
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestHashDetectsContentChange(t *testing.T) {
	h := NewHasher()

	a, err := h.HashJSON([]byte(`{"id":"I-1","title":"before"}`))
	require.NoError(t, err)
	b, err := h.HashJSON([]byte(`{"id":"I-1","title":"after"}`))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestHashNestedObjectKeyOrder(t *testing.T) {
	h := NewHasher()

	a, err := h.HashJSON([]byte(`{"anchor":{"line":3,"heading":"Intro"},"id":"F-1"}`))
	require.NoError(t, err)
	b, err := h.HashJSON([]byte(`{"id":"F-1","anchor":{"heading":"Intro","line":3}}`))
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestHashStruct(t *testing.T) {
	h := NewHasher()

	type entity struct {
		ID    string   `json:"id"`
		Title string   `json:"title"`
		Tags  []string `json:"tags"`
	}
	a, err := h.Hash(entity{ID: "I-1", Title: "x", Tags: []string{"b", "a"}})
	require.NoError(t, err)
	b, err := h.Hash(entity{ID: "I-1", Title: "x", Tags: []string{"a", "b"}})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}
