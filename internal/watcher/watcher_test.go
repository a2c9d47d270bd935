package watcher

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudocode-ai/sudocode/internal/eventbus"
	"github.com/sudocode-ai/sudocode/internal/storage"
	"github.com/sudocode-ai/sudocode/internal/storage/sqlite"
	"github.com/sudocode-ai/sudocode/internal/syncer"
	"github.com/sudocode-ai/sudocode/internal/types"
)

type fixture struct {
	root    string
	store   storage.Storage
	watcher *Watcher
	bus     *eventbus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	bus := eventbus.New(zerolog.Nop())
	store, err := sqlite.Open(context.Background(), filepath.Join(root, ".sudocode.db"), bus)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	md := syncer.NewMarkdownSync(store, root, zerolog.Nop())
	rec := syncer.NewReconciler(syncer.NewImporter(store, zerolog.Nop()), zerolog.Nop())
	return &fixture{
		root:    root,
		store:   store,
		watcher: New(root, md, rec, bus, zerolog.Nop()),
		bus:     bus,
	}
}

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	if !mtime.IsZero() {
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
}

func TestProcessPathMarkdownEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	is := &types.Issue{ID: "ISSUE-001", UUID: "u1", Title: "old", Status: types.StatusOpen,
		CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, f.store.CreateIssue(ctx, is))

	path := filepath.Join(f.root, "issues", "old.md")
	writeFile(t, path,
		"---\nid: ISSUE-001\nuuid: u1\ntitle: new title\nstatus: in_progress\n---\n\nbody\n",
		t0.Add(time.Hour))

	require.NoError(t, f.watcher.ProcessPath(ctx, path))

	got, err := f.store.GetIssue(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "new title", got.Title)
	assert.Equal(t, types.StatusInProgress, got.Status)
}

func TestProcessPathIdenticalContentGated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	is := &types.Issue{ID: "ISSUE-001", UUID: "u1", Title: "old", Status: types.StatusOpen,
		CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, f.store.CreateIssue(ctx, is))

	path := filepath.Join(f.root, "issues", "old.md")
	writeFile(t, path,
		"---\nid: ISSUE-001\nuuid: u1\ntitle: new title\n---\n\nbody\n", t0.Add(time.Hour))

	require.NoError(t, f.watcher.ProcessPath(ctx, path))
	first, err := f.store.GetIssue(ctx, "u1")
	require.NoError(t, err)

	// Same bytes again: the content-hash gate stops re-processing and
	// the entity is untouched.
	require.NoError(t, f.watcher.ProcessPath(ctx, path))
	second, err := f.store.GetIssue(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt))
}

func TestProcessPathJSONLCreatesEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	is := &types.Issue{ID: "ISSUE-001", UUID: "u1", Title: "from jsonl",
		Status: types.StatusOpen, CreatedAt: t0, UpdatedAt: t0}
	line, err := json.Marshal(is)
	require.NoError(t, err)
	writeFile(t, f.watcher.IssuesJSONL(), string(line)+"\n", time.Time{})

	require.NoError(t, f.watcher.ProcessPath(ctx, f.watcher.IssuesJSONL()))

	got, err := f.store.GetIssue(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "from jsonl", got.Title)
}

func TestStartPrimesAndSweeps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// An orphan markdown file present before startup is removed by the
	// sweep; JSONL priming means startup itself imports nothing.
	orphan := filepath.Join(f.root, "specs", "ghost.md")
	writeFile(t, orphan, "---\nid: SPEC-404\nuuid: gone\ntitle: ghost\n---\n\nx\n", time.Time{})

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	is := &types.Issue{ID: "ISSUE-001", UUID: "u1", Title: "primed",
		Status: types.StatusOpen, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, f.store.CreateIssue(ctx, is))
	line, err := json.Marshal(is)
	require.NoError(t, err)
	writeFile(t, f.watcher.IssuesJSONL(), string(line)+"\n", time.Time{})

	require.NoError(t, f.watcher.Start(ctx))
	t.Cleanup(func() { _ = f.watcher.Close() })

	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err))

	// Priming means the first reconcile of unchanged content is a no-op.
	result, err := f.watcher.rec.ReconcileIssues(ctx, f.watcher.IssuesJSONL())
	require.NoError(t, err)
	assert.Equal(t, 0, result.IssuesCreated)
	assert.Equal(t, 0, result.IssuesUpdated)
}

func TestWatcherEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	is := &types.Issue{ID: "ISSUE-001", UUID: "u1", Title: "before", Status: types.StatusOpen,
		CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, f.store.CreateIssue(ctx, is))

	require.NoError(t, f.watcher.Start(ctx))
	t.Cleanup(func() { _ = f.watcher.Close() })

	path := filepath.Join(f.root, "issues", "before.md")
	writeFile(t, path, "---\nid: ISSUE-001\nuuid: u1\ntitle: after\n---\n\nbody\n",
		time.Now().Add(time.Hour))

	require.Eventually(t, func() bool {
		got, err := f.store.GetIssue(ctx, "u1")
		return err == nil && got.Title == "after"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestConcurrentProcessSerializes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var paths []string
	for i, id := range []string{"ISSUE-001", "ISSUE-002", "ISSUE-003"} {
		is := &types.Issue{ID: id, UUID: id + "-u", Title: "t", Status: types.StatusOpen,
			CreatedAt: t0.Add(time.Duration(i) * time.Second),
			UpdatedAt: t0.Add(time.Duration(i) * time.Second)}
		require.NoError(t, f.store.CreateIssue(ctx, is))
		path := filepath.Join(f.root, "issues", id+".md")
		writeFile(t, path,
			"---\nid: "+id+"\nuuid: "+id+"-u\ntitle: edited "+id+"\n---\n\nbody\n",
			t0.Add(time.Hour))
		paths = append(paths, path)
	}

	var wg sync.WaitGroup
	for _, p := range paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			assert.NoError(t, f.watcher.ProcessPath(ctx, path))
		}(p)
	}
	wg.Wait()

	for _, id := range []string{"ISSUE-001", "ISSUE-002", "ISSUE-003"} {
		got, err := f.store.GetIssue(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "edited "+id, got.Title)
	}
}

func TestRelevantFiltersTempAndForeignFiles(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.watcher.relevant(filepath.Join(f.root, "specs", "a.md")))
	assert.True(t, f.watcher.relevant(f.watcher.SpecsJSONL()))
	assert.False(t, f.watcher.relevant(filepath.Join(f.root, "specs", "a.md.tmp")))
	assert.False(t, f.watcher.relevant(filepath.Join(f.root, "specs", "a.txt")))
	assert.False(t, f.watcher.relevant(filepath.Join(f.root, "other.jsonl")))
}
