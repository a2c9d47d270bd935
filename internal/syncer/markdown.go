package syncer

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sudocode-ai/sudocode/internal/markdown"
	"github.com/sudocode-ai/sudocode/internal/storage"
	"github.com/sudocode-ai/sudocode/internal/types"
)

// Action reports what a markdown sync pass did with a file.
type Action int

// Sync outcomes for a single markdown file.
const (
	ActionNone Action = iota
	ActionOrphanDeleted
	ActionWroteFile    // store was newer: projection written to disk
	ActionUpdatedStore // file was newer: entity updated from the file
)

// MarkdownSync keeps the per-entity markdown tree and the store
// consistent at single-file granularity. A content-hash cache keyed by
// absolute path prevents write oscillation: a file the syncer itself
// just wrote does not trigger a reverse update.
type MarkdownSync struct {
	store storage.Storage
	root  string
	log   zerolog.Logger

	mu     sync.Mutex
	hashes map[string]string
}

// NewMarkdownSync creates a syncer rooted at the directory holding
// specs/ and issues/.
func NewMarkdownSync(store storage.Storage, root string, log zerolog.Logger) *MarkdownSync {
	return &MarkdownSync{
		store:  store,
		root:   root,
		log:    log.With().Str("component", "mdsync").Logger(),
		hashes: make(map[string]string),
	}
}

// SpecsDir is the directory holding spec markdown files.
func (m *MarkdownSync) SpecsDir() string { return filepath.Join(m.root, "specs") }

// IssuesDir is the directory holding issue markdown files.
func (m *MarkdownSync) IssuesDir() string { return filepath.Join(m.root, "issues") }

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// RecordHash seeds the oscillation cache for a path, marking its
// current content as already synced.
func (m *MarkdownSync) RecordHash(path string, data []byte) {
	m.mu.Lock()
	m.hashes[path] = contentHash(data)
	m.mu.Unlock()
}

func (m *MarkdownSync) cachedHash(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[path]
	return h, ok
}

// SyncFile reconciles one markdown file with the store. The entity
// kind is inferred from the parent directory. A vanished file is not
// an instruction to delete the entity; the caller logs and ignores it.
func (m *MarkdownSync) SyncFile(ctx context.Context, path string) (Action, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path confined to the entity markdown tree
	if err != nil {
		if os.IsNotExist(err) {
			return ActionNone, nil
		}
		return ActionNone, fmt.Errorf("sync %s: %w", path, err)
	}

	doc, err := markdown.Parse(data)
	if err != nil {
		return ActionNone, fmt.Errorf("sync %s: %w", path, err)
	}
	if doc.Frontmatter.ID == "" {
		return m.deleteOrphan(path, "no frontmatter id")
	}

	switch kindForPath(path) {
	case types.EntitySpec:
		return m.syncSpecFile(ctx, path, data, doc)
	case types.EntityIssue:
		return m.syncIssueFile(ctx, path, data, doc)
	default:
		return ActionNone, fmt.Errorf("sync %s: not inside specs/ or issues/", path)
	}
}

func kindForPath(path string) types.EntityType {
	switch filepath.Base(filepath.Dir(path)) {
	case "specs":
		return types.EntitySpec
	case "issues":
		return types.EntityIssue
	}
	return ""
}

func (m *MarkdownSync) syncSpecFile(ctx context.Context, path string, data []byte, doc *markdown.Document) (Action, error) {
	sp, err := m.store.GetSpec(ctx, doc.Frontmatter.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return m.deleteOrphan(path, "unknown spec id")
	}
	if err != nil {
		return ActionNone, err
	}

	if specMatchesDoc(sp, doc) {
		m.RecordHash(path, data)
		return ActionNone, nil
	}
	if h, ok := m.cachedHash(path); ok && h == contentHash(data) {
		return ActionNone, nil
	}

	fileNewer, err := fileNewerThan(path, sp.UpdatedAt)
	if err != nil {
		return ActionNone, err
	}
	if !fileNewer {
		if _, err := m.WriteSpec(ctx, sp); err != nil {
			return ActionNone, err
		}
		return ActionWroteFile, nil
	}

	mtime, err := fileMtime(path)
	if err != nil {
		return ActionNone, err
	}
	patch := storage.Patch{
		"title":      doc.Frontmatter.Title,
		"content":    doc.Body,
		"updated_at": mtime,
	}
	if doc.Frontmatter.Priority != nil {
		patch["priority"] = *doc.Frontmatter.Priority
	}
	if _, err := m.store.UpdateSpec(ctx, sp.UUID, patch); err != nil {
		return ActionNone, fmt.Errorf("sync %s: %w", path, err)
	}
	m.RecordHash(path, data)
	m.log.Debug().Str("id", sp.ID).Str("path", path).Msg("spec updated from markdown")
	return ActionUpdatedStore, nil
}

func (m *MarkdownSync) syncIssueFile(ctx context.Context, path string, data []byte, doc *markdown.Document) (Action, error) {
	is, err := m.store.GetIssue(ctx, doc.Frontmatter.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return m.deleteOrphan(path, "unknown issue id")
	}
	if err != nil {
		return ActionNone, err
	}

	if issueMatchesDoc(is, doc) {
		m.RecordHash(path, data)
		return ActionNone, nil
	}
	if h, ok := m.cachedHash(path); ok && h == contentHash(data) {
		return ActionNone, nil
	}

	fileNewer, err := fileNewerThan(path, is.UpdatedAt)
	if err != nil {
		return ActionNone, err
	}
	if !fileNewer {
		if _, err := m.WriteIssue(ctx, is); err != nil {
			return ActionNone, err
		}
		return ActionWroteFile, nil
	}

	mtime, err := fileMtime(path)
	if err != nil {
		return ActionNone, err
	}
	patch := storage.Patch{
		"title":      doc.Frontmatter.Title,
		"content":    doc.Body,
		"updated_at": mtime,
	}
	if doc.Frontmatter.Status != "" {
		status := types.IssueStatus(doc.Frontmatter.Status)
		if !status.IsValid() {
			return ActionNone, fmt.Errorf("sync %s: invalid status %q", path, doc.Frontmatter.Status)
		}
		patch["status"] = doc.Frontmatter.Status
	}
	if doc.Frontmatter.Priority != nil {
		patch["priority"] = *doc.Frontmatter.Priority
	}
	if _, err := m.store.UpdateIssue(ctx, is.UUID, patch); err != nil {
		return ActionNone, fmt.Errorf("sync %s: %w", path, err)
	}
	m.RecordHash(path, data)
	m.log.Debug().Str("id", is.ID).Str("path", path).Msg("issue updated from markdown")
	return ActionUpdatedStore, nil
}

// WriteSpec projects a spec into its markdown file and refreshes the
// hash cache. Returns the absolute path written. The store's file_path
// is updated when the filename policy picked a different location.
func (m *MarkdownSync) WriteSpec(ctx context.Context, sp *types.Spec) (string, error) {
	tags, err := m.store.GetTags(ctx, sp.UUID)
	if err != nil {
		return "", err
	}
	dir := m.SpecsDir()
	name := markdown.FilenameFor(dir, sp.Title, sp.ID)
	path := filepath.Join(dir, name)

	data, err := markdown.Render(markdown.SpecDocument(sp, tags))
	if err != nil {
		return "", err
	}
	if err := writeFileStable(path, data); err != nil {
		return "", err
	}
	m.RecordHash(path, data)

	rel := filepath.Join("specs", name)
	if sp.FilePath != rel {
		patch := storage.Patch{"file_path": rel, "updated_at": sp.UpdatedAt}
		if _, err := m.store.UpdateSpec(ctx, sp.UUID, patch); err != nil {
			return "", fmt.Errorf("record file_path for %s: %w", sp.ID, err)
		}
	}
	return path, nil
}

// WriteIssue projects an issue into its markdown file and refreshes
// the hash cache.
func (m *MarkdownSync) WriteIssue(ctx context.Context, is *types.Issue) (string, error) {
	tags, err := m.store.GetTags(ctx, is.UUID)
	if err != nil {
		return "", err
	}
	dir := m.IssuesDir()
	name := markdown.FilenameFor(dir, is.Title, is.ID)
	path := filepath.Join(dir, name)

	data, err := markdown.Render(markdown.IssueDocument(is, tags))
	if err != nil {
		return "", err
	}
	if err := writeFileStable(path, data); err != nil {
		return "", err
	}
	m.RecordHash(path, data)
	return path, nil
}

// WriteAll projects every live entity into the markdown tree.
func (m *MarkdownSync) WriteAll(ctx context.Context) error {
	specs, err := m.store.ListSpecs(ctx, types.SpecFilter{})
	if err != nil {
		return err
	}
	for _, sp := range specs {
		if _, err := m.WriteSpec(ctx, sp); err != nil {
			return err
		}
	}
	issues, err := m.store.ListIssues(ctx, types.IssueFilter{})
	if err != nil {
		return err
	}
	for _, is := range issues {
		if _, err := m.WriteIssue(ctx, is); err != nil {
			return err
		}
	}
	return nil
}

// SweepOrphans deletes markdown files whose frontmatter id does not
// refer to a live store entity. Run at startup before watching begins.
func (m *MarkdownSync) SweepOrphans(ctx context.Context) (int, error) {
	deleted := 0
	for _, dir := range []string{m.SpecsDir(), m.IssuesDir()} {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return deleted, fmt.Errorf("sweep %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			orphan, err := m.isOrphan(ctx, path)
			if err != nil {
				return deleted, err
			}
			if orphan {
				if _, err := m.deleteOrphan(path, "startup sweep"); err != nil {
					return deleted, err
				}
				deleted++
			}
		}
	}
	return deleted, nil
}

func (m *MarkdownSync) isOrphan(ctx context.Context, path string) (bool, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path confined to the entity markdown tree
	if err != nil {
		return false, err
	}
	doc, err := markdown.Parse(data)
	if err != nil || doc.Frontmatter.ID == "" {
		return true, nil
	}
	switch kindForPath(path) {
	case types.EntitySpec:
		_, err = m.store.GetSpec(ctx, doc.Frontmatter.ID)
	case types.EntityIssue:
		_, err = m.store.GetIssue(ctx, doc.Frontmatter.ID)
	default:
		return false, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	return false, err
}

func (m *MarkdownSync) deleteOrphan(path, reason string) (Action, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return ActionNone, fmt.Errorf("delete orphan %s: %w", path, err)
	}
	m.mu.Lock()
	delete(m.hashes, path)
	m.mu.Unlock()
	m.log.Info().Str("path", path).Str("reason", reason).Msg("orphan markdown deleted")
	return ActionOrphanDeleted, nil
}

// specMatchesDoc applies the comparison rule: title, trimmed body,
// priority. Matching files need no sync in either direction.
func specMatchesDoc(sp *types.Spec, doc *markdown.Document) bool {
	if sp.Title != doc.Frontmatter.Title {
		return false
	}
	if strings.TrimSpace(sp.Content) != strings.TrimSpace(doc.Body) {
		return false
	}
	if doc.Frontmatter.Priority != nil && *doc.Frontmatter.Priority != sp.Priority {
		return false
	}
	return true
}

func issueMatchesDoc(is *types.Issue, doc *markdown.Document) bool {
	if is.Title != doc.Frontmatter.Title {
		return false
	}
	if strings.TrimSpace(is.Content) != strings.TrimSpace(doc.Body) {
		return false
	}
	if doc.Frontmatter.Status != "" && doc.Frontmatter.Status != string(is.Status) {
		return false
	}
	if doc.Frontmatter.Priority != nil && *doc.Frontmatter.Priority != is.Priority {
		return false
	}
	return true
}

func fileMtime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime().UTC(), nil
}

func fileNewerThan(path string, updatedAt time.Time) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.ModTime().UTC().After(updatedAt), nil
}

// writeFileStable writes via a .tmp sibling and rename so a watcher
// never observes a half-written file.
func writeFileStable(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
