// Package watcher observes the markdown tree and the JSONL snapshots
// and routes filesystem changes through the sync engine. The filesystem
// is never authoritative for existence: a deleted file is logged and
// ignored rather than propagated as an entity deletion.
package watcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/sudocode-ai/sudocode/internal/eventbus"
	"github.com/sudocode-ai/sudocode/internal/syncer"
	"github.com/sudocode-ai/sudocode/internal/types"
)

// stableWindow is how long a file's size must hold still before we
// read it. Editors and agents write in bursts; reading mid-burst yields
// torn JSON.
const stableWindow = 100 * time.Millisecond

// stablePoll is the size-probe interval inside the stability gate.
const stablePoll = 25 * time.Millisecond

// stableTimeout bounds the gate for files that never settle.
const stableTimeout = 5 * time.Second

// Watcher wires fsnotify into the sync engine. All change processing
// is serialized through a single FIFO mutex so a sync-triggered write
// can never interleave with the event that caused it.
type Watcher struct {
	root string
	md   *syncer.MarkdownSync
	rec  *syncer.Reconciler
	bus  *eventbus.Bus
	log  zerolog.Logger

	fsw *fsnotify.Watcher

	// syncMu is the global FIFO mutex over all change handling.
	syncMu sync.Mutex

	// inProcess marks paths currently being handled; further events for
	// those paths are dropped until handling finishes.
	procMu    sync.Mutex
	inProcess map[string]bool

	// content hashes keyed by absolute path gate out no-op writes
	hashMu sync.Mutex
	hashes map[string]string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher over the base directory holding specs/,
// issues/, specs.jsonl, and issues.jsonl.
func New(root string, md *syncer.MarkdownSync, rec *syncer.Reconciler, bus *eventbus.Bus, log zerolog.Logger) *Watcher {
	return &Watcher{
		root:      root,
		md:        md,
		rec:       rec,
		bus:       bus,
		log:       log.With().Str("component", "watcher").Logger(),
		inProcess: make(map[string]bool),
		hashes:    make(map[string]string),
	}
}

// SpecsJSONL is the watched specs snapshot path.
func (w *Watcher) SpecsJSONL() string { return filepath.Join(w.root, "specs.jsonl") }

// IssuesJSONL is the watched issues snapshot path.
func (w *Watcher) IssuesJSONL() string { return filepath.Join(w.root, "issues.jsonl") }

// Start primes caches, sweeps orphans, and begins watching. The JSONL
// hash caches are seeded from current content so the first post-launch
// event does not look like a change to every entity.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.rec.PrimeSpecs(w.SpecsJSONL()); err != nil {
		return fmt.Errorf("watcher: prime specs: %w", err)
	}
	if err := w.rec.PrimeIssues(w.IssuesJSONL()); err != nil {
		return fmt.Errorf("watcher: prime issues: %w", err)
	}
	deleted, err := w.md.SweepOrphans(ctx)
	if err != nil {
		return fmt.Errorf("watcher: orphan sweep: %w", err)
	}
	if deleted > 0 {
		w.log.Info().Int("deleted", deleted).Msg("startup orphan sweep")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	w.fsw = fsw

	for _, dir := range []string{w.md.SpecsDir(), w.md.IssuesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fsw.Close()
			return fmt.Errorf("watcher: %w", err)
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return fmt.Errorf("watcher: watch %s: %w", dir, err)
		}
	}
	// The JSONL files live directly in root; watching the directory
	// catches atomic rename-into-place writes that per-file watches miss.
	if err := fsw.Add(w.root); err != nil {
		fsw.Close()
		return fmt.Errorf("watcher: watch %s: %w", w.root, err)
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop(ctx)
	w.log.Info().Str("root", w.root).Msg("watching")
	return nil
}

// Close stops the event loop and waits for in-flight handling.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	var err error
	if w.fsw != nil {
		err = w.fsw.Close()
	}
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.dispatch(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

func (w *Watcher) dispatch(ctx context.Context, ev fsnotify.Event) {
	path := ev.Name
	if !w.relevant(path) {
		return
	}

	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		// Store and JSONL are the source of truth for existence.
		w.log.Debug().Str("path", path).Msg("file removed, ignoring")
		return
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	w.procMu.Lock()
	if w.inProcess[path] {
		w.procMu.Unlock()
		return
	}
	w.inProcess[path] = true
	w.procMu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.procMu.Lock()
			delete(w.inProcess, path)
			w.procMu.Unlock()
		}()
		if err := w.ProcessPath(ctx, path); err != nil {
			w.log.Error().Err(err).Str("path", path).Msg("sync failed")
		}
	}()
}

// relevant filters watched paths: markdown files in the two entity
// directories and the two JSONL snapshots. Temp siblings are skipped.
func (w *Watcher) relevant(path string) bool {
	if strings.HasSuffix(path, ".tmp") {
		return false
	}
	if path == w.SpecsJSONL() || path == w.IssuesJSONL() {
		return true
	}
	dir := filepath.Dir(path)
	return (dir == w.md.SpecsDir() || dir == w.md.IssuesDir()) && strings.HasSuffix(path, ".md")
}

// ProcessPath handles one changed file end to end: stability gate,
// FIFO serialization, content-hash gating, then the appropriate sync.
func (w *Watcher) ProcessPath(ctx context.Context, path string) error {
	if err := waitStable(ctx, path); err != nil {
		return err
	}

	w.syncMu.Lock()
	defer w.syncMu.Unlock()

	data, err := os.ReadFile(path) // #nosec G304 -- path restricted by relevant()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	sum := fmt.Sprintf("%x", sha256.Sum256(data))
	w.hashMu.Lock()
	prev, seen := w.hashes[path]
	w.hashMu.Unlock()
	if seen && prev == sum {
		return nil
	}

	switch path {
	case w.SpecsJSONL():
		err = w.reconcileJSONL(ctx, path, types.EntitySpec)
	case w.IssuesJSONL():
		err = w.reconcileJSONL(ctx, path, types.EntityIssue)
	default:
		err = w.syncMarkdown(ctx, path)
	}
	if err != nil {
		return err
	}

	w.hashMu.Lock()
	w.hashes[path] = sum
	w.hashMu.Unlock()
	return nil
}

func (w *Watcher) reconcileJSONL(ctx context.Context, path string, kind types.EntityType) error {
	var result *syncer.ImportResult
	var err error
	if kind == types.EntitySpec {
		result, err = w.rec.ReconcileSpecs(ctx, path)
	} else {
		result, err = w.rec.ReconcileIssues(ctx, path)
	}
	if err != nil {
		return err
	}

	created := result.SpecsCreated + result.IssuesCreated
	updated := result.SpecsUpdated + result.IssuesUpdated
	if created+updated == 0 {
		return nil
	}
	w.emit(kind, "", actionFor(created, updated), eventbus.SourceJSONL, map[string]any{
		"created": created,
		"updated": updated,
	})
	return nil
}

func actionFor(created, updated int) string {
	if created > 0 && updated == 0 {
		return "created"
	}
	return "updated"
}

func (w *Watcher) syncMarkdown(ctx context.Context, path string) error {
	action, err := w.md.SyncFile(ctx, path)
	if err != nil {
		return err
	}
	kind := types.EntitySpec
	if filepath.Dir(path) == w.md.IssuesDir() {
		kind = types.EntityIssue
	}
	switch action {
	case syncer.ActionUpdatedStore:
		w.emit(kind, entityIDFor(path), "updated", eventbus.SourceMarkdown, nil)
	case syncer.ActionWroteFile:
		w.emit(kind, entityIDFor(path), "updated", eventbus.SourceDatabase, nil)
	case syncer.ActionOrphanDeleted:
		w.emit(kind, "", "deleted", eventbus.SourceMarkdown, map[string]any{"path": path})
	}
	return nil
}

// entityIDFor re-reads the frontmatter id for event reporting. Failures
// just leave the id blank; events are advisory.
func entityIDFor(path string) string {
	data, err := os.ReadFile(path) // #nosec G304 -- path restricted by relevant()
	if err != nil {
		return ""
	}
	for _, line := range strings.SplitN(string(data), "\n", 8) {
		if strings.HasPrefix(line, "id:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		}
	}
	return ""
}

func (w *Watcher) emit(kind types.EntityType, id, action string, source eventbus.SyncSource, extra map[string]any) {
	if w.bus == nil {
		return
	}
	p := eventbus.NewPayload("entity_sync")
	p.Kind = kind
	p.ID = id
	p.Action = action
	p.Source = source
	p.Extra = extra

	name := eventbus.EventFilesystemSpecUpdated
	if kind == types.EntityIssue {
		name = eventbus.EventFilesystemIssueUpdated
	}
	if action == "created" {
		name = eventbus.EventFilesystemSpecCreated
		if kind == types.EntityIssue {
			name = eventbus.EventFilesystemIssueCreated
		}
	}
	w.bus.Publish(name, p)
}

// waitStable blocks until the file size stops changing for
// stableWindow, or the timeout elapses. A missing file is stable.
func waitStable(ctx context.Context, path string) error {
	deadline := time.Now().Add(stableTimeout)
	lastSize := int64(-1)
	stableSince := time.Now()

	for {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.Size() != lastSize {
			lastSize = info.Size()
			stableSince = time.Now()
		} else if time.Since(stableSince) >= stableWindow {
			return nil
		}
		if time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(stablePoll):
		}
	}
}
