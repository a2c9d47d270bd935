package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudocode-ai/sudocode/internal/types"
)

func TestDiffDocsClassifiesChanges(t *testing.T) {
	base := map[string]map[string]any{
		"I1": {"id": "I1", "title": "one", "priority": float64(2), "updated_at": "2026-08-01T00:00:00Z"},
		"I3": {"id": "I3", "title": "three"},
	}
	after := map[string]map[string]any{
		"I1": {"id": "I1", "title": "one renamed", "priority": float64(2), "updated_at": "2026-08-02T00:00:00Z"},
		"I2": {"id": "I2", "title": "two"},
	}

	changes := diffDocs(base, after)
	require.Len(t, changes, 3)
	assert.Equal(t, types.EntityChange{ID: "I1", ChangeType: types.ChangeModified, ChangedFields: []string{"title"}}, changes[0])
	assert.Equal(t, types.EntityChange{ID: "I2", ChangeType: types.ChangeCreated}, changes[1])
	assert.Equal(t, types.EntityChange{ID: "I3", ChangeType: types.ChangeDeleted}, changes[2])
}

func TestDiffDocsUpdatedAtAloneIsNoChange(t *testing.T) {
	base := map[string]map[string]any{
		"I1": {"id": "I1", "title": "one", "updated_at": "2026-08-01T00:00:00Z"},
	}
	after := map[string]map[string]any{
		"I1": {"id": "I1", "title": "one", "updated_at": "2026-08-02T00:00:00Z"},
	}
	assert.Empty(t, diffDocs(base, after))
}

func TestDiffDocsAddedAndRemovedFields(t *testing.T) {
	base := map[string]map[string]any{
		"I1": {"id": "I1", "title": "one", "assignee": "alex"},
	}
	after := map[string]map[string]any{
		"I1": {"id": "I1", "title": "one", "content": "body"},
	}
	changes := diffDocs(base, after)
	require.Len(t, changes, 1)
	assert.Equal(t, []string{"assignee", "content"}, changes[0].ChangedFields)
}

func TestSnapshotJSONNullWhenEmpty(t *testing.T) {
	snap, err := snapshotJSON(nil)
	require.NoError(t, err)
	assert.Nil(t, snap)

	snap, err = snapshotJSON([]types.EntityChange{{ID: "I1", ChangeType: types.ChangeCreated}})
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.JSONEq(t, `[{"id":"I1","changeType":"created"}]`, *snap)
}
