package gitx

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// WorktreeInfo is one record from `git worktree list --porcelain`.
type WorktreeInfo struct {
	Path     string
	Branch   string // short name, empty when detached
	Commit   string
	IsMain   bool
	IsLocked bool
}

// WorktreeManager drives worktree and branch lifecycle for one
// repository. Execution worktrees live on their own branches so agent
// commits never touch the developer's checkout.
type WorktreeManager struct {
	repo string
	log  zerolog.Logger
}

// NewWorktreeManager creates a manager rooted at the repository path.
func NewWorktreeManager(repo string, log zerolog.Logger) *WorktreeManager {
	return &WorktreeManager{
		repo: repo,
		log:  log.With().Str("component", "worktree").Str("repo", repo).Logger(),
	}
}

// Repo returns the repository root the manager operates on.
func (m *WorktreeManager) Repo() string { return m.repo }

// Add creates a worktree at path on branch, creating the branch from
// HEAD when it does not exist yet. Force reuses a path git considers
// registered but missing.
func (m *WorktreeManager) Add(ctx context.Context, path, branch string, force bool) error {
	args := []string{"worktree", "add"}
	if force {
		args = append(args, "--force")
	}
	branches, err := ListBranches(ctx, m.repo)
	if err != nil {
		return err
	}
	exists := false
	for _, b := range branches {
		if b == branch {
			exists = true
			break
		}
	}
	if exists {
		args = append(args, path, branch)
	} else {
		args = append(args, "-b", branch, path)
	}
	if _, err := Run(ctx, m.repo, args...); err != nil {
		return fmt.Errorf("add worktree %s: %w", path, err)
	}
	m.log.Debug().Str("path", path).Str("branch", branch).Msg("worktree added")
	return nil
}

// Remove deletes a worktree checkout. Force discards uncommitted
// changes. The branch is left alone.
func (m *WorktreeManager) Remove(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	if _, err := Run(ctx, m.repo, args...); err != nil {
		return fmt.Errorf("remove worktree %s: %w", path, err)
	}
	m.log.Debug().Str("path", path).Msg("worktree removed")
	return nil
}

// Prune drops stale administrative records for worktrees whose
// directories are gone.
func (m *WorktreeManager) Prune(ctx context.Context) error {
	_, err := Run(ctx, m.repo, "worktree", "prune")
	return err
}

// List parses the porcelain worktree listing. The first record is the
// main checkout.
func (m *WorktreeManager) List(ctx context.Context) ([]WorktreeInfo, error) {
	out, err := Run(ctx, m.repo, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(out), nil
}

func parseWorktreeList(out string) []WorktreeInfo {
	var infos []WorktreeInfo
	var cur *WorktreeInfo
	flush := func() {
		if cur != nil {
			infos = append(infos, *cur)
			cur = nil
		}
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur = &WorktreeInfo{Path: strings.TrimPrefix(line, "worktree "), IsMain: len(infos) == 0}
		case cur == nil:
			// bare-repo preamble or malformed output, skip
		case strings.HasPrefix(line, "HEAD "):
			cur.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "locked" || strings.HasPrefix(line, "locked "):
			cur.IsLocked = true
		}
	}
	flush()
	return infos
}

// ConfigureSparseCheckout restricts a worktree to the given patterns.
// Non-cone mode: patterns are gitignore-style, so top-level files stay
// out unless listed. Used to materialize only the entity directory
// inside bookkeeping worktrees.
func (m *WorktreeManager) ConfigureSparseCheckout(ctx context.Context, worktree string, patterns []string) error {
	args := append([]string{"sparse-checkout", "set", "--no-cone"}, patterns...)
	if _, err := Run(ctx, worktree, args...); err != nil {
		return fmt.Errorf("sparse checkout %s: %w", worktree, err)
	}
	return nil
}

// CreateBranch creates a branch at startPoint (HEAD when empty).
func (m *WorktreeManager) CreateBranch(ctx context.Context, name, startPoint string) error {
	return CreateBranch(ctx, m.repo, name, startPoint)
}

// DeleteBranch removes a local branch.
func (m *WorktreeManager) DeleteBranch(ctx context.Context, name string, force bool) error {
	return DeleteBranch(ctx, m.repo, name, force)
}

// IsValidRepo reports whether the manager's root is a git work tree.
func (m *WorktreeManager) IsValidRepo(ctx context.Context) bool {
	return IsValidRepo(ctx, m.repo)
}

// ListBranches returns local branch short names.
func (m *WorktreeManager) ListBranches(ctx context.Context) ([]string, error) {
	return ListBranches(ctx, m.repo)
}

// CurrentCommit returns the HEAD commit of the main checkout.
func (m *WorktreeManager) CurrentCommit(ctx context.Context) (string, error) {
	return CurrentCommit(ctx, m.repo)
}

// CurrentBranch returns the branch checked out in the main checkout.
func (m *WorktreeManager) CurrentBranch(ctx context.Context) (string, error) {
	return CurrentBranch(ctx, m.repo)
}

// ExecutionWorktreePath is where a given execution's worktree is
// placed, under the platform state directory.
func ExecutionWorktreePath(baseDir, executionID string) string {
	return filepath.Join(baseDir, "worktrees", executionID)
}
