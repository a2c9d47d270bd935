package syncer

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sudocode-ai/sudocode/internal/types"
)

func specAt(id, uuid string, updated time.Time) *types.Spec {
	return &types.Spec{ID: id, UUID: uuid, Title: id, CreatedAt: updated, UpdatedAt: updated}
}

func TestDetectChanges(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	current := specEntities([]*types.Spec{
		specAt("SPEC-001", "a", t0),
		specAt("SPEC-002", "b", t0),
		specAt("SPEC-003", "c", t0),
	})
	incoming := specEntities([]*types.Spec{
		specAt("SPEC-001", "a", t0), // unchanged
		specAt("SPEC-002", "b", t1), // updated by timestamp
		specAt("SPEC-004", "d", t0), // added
	})

	ch := DetectChanges(current, incoming, nil)
	assert.Len(t, ch.Added, 1)
	assert.Equal(t, "d", ch.Added[0].EntityUUID())
	assert.Len(t, ch.Updated, 1)
	assert.Equal(t, "b", ch.Updated[0].EntityUUID())
	assert.Len(t, ch.Deleted, 1)
	assert.Equal(t, "c", ch.Deleted[0].EntityUUID())
}

func TestDetectChangesForceUpdate(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	current := specEntities([]*types.Spec{specAt("SPEC-001", "a", t0)})
	incoming := specEntities([]*types.Spec{specAt("SPEC-001", "a", t0)})

	ch := DetectChanges(current, incoming, nil)
	assert.Empty(t, ch.Updated)

	ch = DetectChanges(current, incoming, map[string]bool{"SPEC-001": true})
	assert.Len(t, ch.Updated, 1)
}

func TestRenumberStripsSuffixAndAddsThousand(t *testing.T) {
	alloc := newIDAllocator([]string{"SPEC-003"})
	assert.Equal(t, "SPEC-1003", alloc.renumber("SPEC-003", "uuid-b"))
	// Memoized: same uuid resolves to the same id.
	assert.Equal(t, "SPEC-1003", alloc.renumber("SPEC-003", "uuid-b"))
	// A different uuid colliding on the same id probes past the taken slot.
	assert.Equal(t, "SPEC-1004", alloc.renumber("SPEC-003", "uuid-c"))
}

func TestRenumberWithoutNumericSuffix(t *testing.T) {
	alloc := newIDAllocator([]string{"ROOT"})
	assert.Equal(t, "ROOT-1000", alloc.renumber("ROOT", "u"))
}

func TestRenumberTimestampFallback(t *testing.T) {
	used := make([]string, 0, renumberProbes+1)
	used = append(used, "SPEC-003")
	for i := 0; i < renumberProbes; i++ {
		used = append(used, "SPEC-"+strconv.Itoa(1003+i))
	}
	alloc := newIDAllocator(used)
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	alloc.now = func() time.Time { return fixed }

	got := alloc.renumber("SPEC-003", "u")
	assert.Equal(t, "SPEC-"+strconv.FormatInt(fixed.UnixMilli(), 10), got)
}

func TestResolveCollisionsWithinIncoming(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	earlier := specAt("SPEC-007", "uuid-a", t0)
	later := specAt("SPEC-007", "uuid-b", t0.Add(time.Minute))
	later.CreatedAt = t0.Add(time.Minute)

	var collisions []Collision
	alloc := newIDAllocator(nil)
	resolveCollisions(map[string]string{}, specEntities([]*types.Spec{earlier, later}), alloc,
		func(c Collision) { collisions = append(collisions, c) })

	assert.Equal(t, "SPEC-007", earlier.ID)
	assert.Equal(t, "SPEC-1007", later.ID)
	assert.Len(t, collisions, 1)
}

func TestResolveCollisionsCreatedAtTieBreaksOnUUID(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	smaller := specAt("SPEC-007", "aaaa", t0)
	greater := specAt("SPEC-007", "zzzz", t0)

	alloc := newIDAllocator(nil)
	resolveCollisions(map[string]string{}, specEntities([]*types.Spec{greater, smaller}), alloc,
		func(Collision) {})

	// Equal created_at: the smaller uuid keeps the id regardless of
	// input order.
	assert.Equal(t, "SPEC-007", smaller.ID)
	assert.Equal(t, "SPEC-1007", greater.ID)
}
