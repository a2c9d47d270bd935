package syncer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudocode-ai/sudocode/internal/storage"
	"github.com/sudocode-ai/sudocode/internal/types"
)

func newMDSync(t *testing.T) (*MarkdownSync, storage.Storage, string) {
	t.Helper()
	s := newTestStore(t)
	root := t.TempDir()
	return NewMarkdownSync(s, root, zerolog.Nop()), s, root
}

func writeMD(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	if !mtime.IsZero() {
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
}

func TestSyncFileOrphanDeleted(t *testing.T) {
	m, _, root := newMDSync(t)
	path := filepath.Join(root, "specs", "ghost.md")
	writeMD(t, path, "---\nid: SPEC-404\nuuid: nope\ntitle: ghost\n---\n\nbody\n", time.Time{})

	action, err := m.SyncFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, ActionOrphanDeleted, action)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSyncFileNoFrontmatterIsOrphan(t *testing.T) {
	m, _, root := newMDSync(t)
	path := filepath.Join(root, "issues", "notes.md")
	writeMD(t, path, "just some notes\n", time.Time{})

	action, err := m.SyncFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, ActionOrphanDeleted, action)
}

func TestSyncFileMatchingContentNoAction(t *testing.T) {
	m, s, _ := newMDSync(t)
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sp := specAt("SPEC-001", "u1", t0)
	sp.Content = "the body"
	require.NoError(t, s.CreateSpec(ctx, sp))

	path, err := m.WriteSpec(ctx, sp)
	require.NoError(t, err)

	action, err := m.SyncFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, action)
}

func TestSyncFileMarkdownNewerUpdatesStore(t *testing.T) {
	m, s, root := newMDSync(t)
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	is := issueAt("ISSUE-001", "u1", t0)
	is.Content = "old body"
	require.NoError(t, s.CreateIssue(ctx, is))

	path := filepath.Join(root, "issues", "issue_001.md")
	edited := "---\nid: ISSUE-001\nuuid: u1\ntitle: Edited title\nstatus: in_progress\n---\n\nnew body\n"
	writeMD(t, path, edited, t0.Add(time.Hour))

	action, err := m.SyncFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdatedStore, action)

	got, err := s.GetIssue(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Edited title", got.Title)
	assert.Equal(t, "new body\n", got.Content)
	assert.Equal(t, types.StatusInProgress, got.Status)
	// Incoming timestamp (file mtime) is preserved.
	assert.True(t, got.UpdatedAt.Equal(t0.Add(time.Hour)))
}

func TestSyncFileStoreNewerRewritesFile(t *testing.T) {
	m, s, root := newMDSync(t)
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sp := specAt("SPEC-001", "u1", t0)
	sp.Title = "Current title"
	sp.Content = "current body"
	require.NoError(t, s.CreateSpec(ctx, sp))

	// Stale file, mtime older than the store's updated_at.
	path := filepath.Join(root, "specs", "current_title.md")
	stale := "---\nid: SPEC-001\nuuid: u1\ntitle: Stale title\n---\n\nstale body\n"
	writeMD(t, path, stale, t0.Add(-time.Hour))

	action, err := m.SyncFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, ActionWroteFile, action)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Current title")
	assert.Contains(t, string(data), "current body")
}

func TestSyncFileOscillationGuard(t *testing.T) {
	m, s, root := newMDSync(t)
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	is := issueAt("ISSUE-001", "u1", t0)
	is.Content = "store body"
	require.NoError(t, s.CreateIssue(ctx, is))

	// File content differs from the store, but its hash is already in
	// the cache: the syncer saw this exact content before and must not
	// ping-pong.
	path := filepath.Join(root, "issues", "issue_001.md")
	content := "---\nid: ISSUE-001\nuuid: u1\ntitle: ISSUE-001\n---\n\ndivergent body\n"
	writeMD(t, path, content, t0.Add(time.Hour))
	m.RecordHash(path, []byte(content))

	action, err := m.SyncFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, action)

	got, err := s.GetIssue(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "store body", got.Content)
}

func TestSweepOrphans(t *testing.T) {
	m, s, root := newMDSync(t)
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sp := specAt("SPEC-001", "u1", t0)
	require.NoError(t, s.CreateSpec(ctx, sp))
	livePath, err := m.WriteSpec(ctx, sp)
	require.NoError(t, err)

	orphanPath := filepath.Join(root, "specs", "orphan.md")
	writeMD(t, orphanPath, "---\nid: SPEC-999\nuuid: gone\ntitle: orphan\n---\n\nx\n", time.Time{})

	deleted, err := m.SweepOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = os.Stat(livePath)
	assert.NoError(t, err)
	_, err = os.Stat(orphanPath)
	assert.True(t, os.IsNotExist(err))
}
