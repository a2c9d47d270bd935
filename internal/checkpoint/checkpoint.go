package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sudocode-ai/sudocode/internal/eventbus"
	"github.com/sudocode-ai/sudocode/internal/gitx"
	"github.com/sudocode-ai/sudocode/internal/storage"
	"github.com/sudocode-ai/sudocode/internal/types"
)

// Errors surfaced by checkpoint creation.
var (
	// ErrNoChanges rejects a checkpoint whose execution moved no
	// commits (before == after).
	ErrNoChanges = errors.New("checkpoint: execution produced no commits")
	// ErrCodeConflict means landing on the stream hit conflicts
	// outside platform JSONL and needs a human.
	ErrCodeConflict = errors.New("checkpoint: unresolvable code conflicts")
)

// CreateOptions configures one checkpoint.
type CreateOptions struct {
	ExecutionID string
	Message     string

	// Enqueue adds the checkpoint's stream to the merge queue for the
	// execution's target branch.
	Enqueue  bool
	Priority int
}

// Creator lands execution results on issue streams and persists
// checkpoint records.
type Creator struct {
	store storage.Storage
	wt    *gitx.WorktreeManager
	bus   *eventbus.Bus
	log   zerolog.Logger
}

// NewCreator builds a Creator over the store and repository.
func NewCreator(store storage.Storage, wt *gitx.WorktreeManager, bus *eventbus.Bus, log zerolog.Logger) *Creator {
	return &Creator{
		store: store,
		wt:    wt,
		bus:   bus,
		log:   log.With().Str("component", "checkpoint").Logger(),
	}
}

// Create produces a checkpoint for a finished execution: bring its
// commits onto the stream branch, snapshot the JSONL delta against the
// fork point, persist the record, and optionally enqueue a merge.
func (c *Creator) Create(ctx context.Context, opts CreateOptions) (*types.Checkpoint, error) {
	exec, err := c.store.GetExecution(ctx, opts.ExecutionID)
	if err != nil {
		return nil, err
	}
	if exec.AfterCommit == "" {
		return nil, fmt.Errorf("checkpoint: execution %s has no after_commit", exec.ID)
	}
	if exec.BeforeCommit == exec.AfterCommit {
		return nil, fmt.Errorf("%w: execution %s", ErrNoChanges, exec.ID)
	}

	stream, err := c.ensureStream(ctx, exec)
	if err != nil {
		return nil, err
	}

	commitSHA, err := c.landOnStream(ctx, exec, stream, opts.Message)
	if err != nil {
		return nil, err
	}

	var issueChanges, specChanges []types.EntityChange
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		issueChanges, err = diffIssueSnapshots(gctx, c.wt.Repo(), exec.BeforeCommit, exec.AfterCommit)
		return err
	})
	g.Go(func() error {
		var err error
		specChanges, err = diffSpecSnapshots(gctx, c.wt.Repo(), exec.BeforeCommit, exec.AfterCommit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	issueSnap, err := snapshotJSON(issueChanges)
	if err != nil {
		return nil, err
	}
	specSnap, err := snapshotJSON(specChanges)
	if err != nil {
		return nil, err
	}

	files, additions, deletions, err := gitx.DiffStats(ctx, c.wt.Repo(), exec.BeforeCommit, exec.AfterCommit)
	if err != nil {
		return nil, err
	}

	parent := exec.BeforeCommit
	cp := &types.Checkpoint{
		ID:            uuid.NewString(),
		IssueUUID:     exec.IssueUUID,
		ExecutionID:   exec.ID,
		StreamID:      stream.ID,
		CommitSHA:     commitSHA,
		ParentCommit:  &parent,
		ChangedFiles:  files,
		Additions:     additions,
		Deletions:     deletions,
		Message:       opts.Message,
		ReviewStatus:  types.ReviewPending,
		IssueSnapshot: issueSnap,
		SpecSnapshot:  specSnap,
	}
	if err := c.store.CreateCheckpoint(ctx, cp); err != nil {
		return nil, err
	}

	if opts.Enqueue {
		target := exec.TargetBranch
		if target == "" {
			target = "main"
		}
		entry := &types.MergeQueueEntry{
			ID:           uuid.NewString(),
			ExecutionID:  exec.ID,
			StreamID:     stream.ID,
			TargetBranch: target,
			Priority:     opts.Priority,
		}
		if err := c.store.EnqueueMerge(ctx, entry); err != nil {
			return nil, err
		}
	}

	c.emit(eventbus.EventCheckpointCreated, cp)
	c.log.Info().Str("checkpoint", cp.ID).Str("execution", exec.ID).
		Str("commit", commitSHA).Int("changed_files", files).Msg("checkpoint created")
	return cp, nil
}

// ensureStream resolves the issue stream an execution contributes to,
// creating one on first checkpoint.
func (c *Creator) ensureStream(ctx context.Context, exec *types.Execution) (*types.Stream, error) {
	if exec.StreamID != "" {
		return c.store.GetStream(ctx, exec.StreamID)
	}
	if stream, err := c.store.GetStreamForIssue(ctx, exec.IssueUUID); err == nil {
		return stream, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	stream := &types.Stream{
		ID:         uuid.NewString(),
		Scope:      types.StreamScopeIssue,
		IssueUUID:  exec.IssueUUID,
		BranchName: "sudocode/streams/" + exec.IssueUUID,
	}
	if err := c.store.CreateStream(ctx, stream); err != nil {
		return nil, err
	}
	return stream, nil
}

// landOnStream makes the stream branch contain the execution's work and
// returns the stream-side commit. Reuse when already present,
// fast-forward when linear, squashed merge otherwise.
func (c *Creator) landOnStream(ctx context.Context, exec *types.Execution, stream *types.Stream, message string) (string, error) {
	repo := c.wt.Repo()

	branches, err := c.wt.ListBranches(ctx)
	if err != nil {
		return "", err
	}
	exists := false
	for _, b := range branches {
		if b == stream.BranchName {
			exists = true
			break
		}
	}
	if !exists {
		if err := c.wt.CreateBranch(ctx, stream.BranchName, exec.AfterCommit); err != nil {
			return "", err
		}
		return exec.AfterCommit, nil
	}

	contains, err := gitx.BranchContains(ctx, repo, stream.BranchName, exec.AfterCommit)
	if err != nil {
		return "", err
	}
	if contains {
		return exec.AfterCommit, nil
	}

	streamHead, err := gitx.Run(ctx, repo, "rev-parse", "refs/heads/"+stream.BranchName)
	if err != nil {
		return "", err
	}
	linear, err := gitx.IsAncestor(ctx, repo, streamHead, exec.AfterCommit)
	if err != nil {
		return "", err
	}
	if linear {
		if _, err := gitx.Run(ctx, repo, "update-ref", "refs/heads/"+stream.BranchName, exec.AfterCommit, streamHead); err != nil {
			return "", err
		}
		return exec.AfterCommit, nil
	}

	return c.squashMerge(ctx, exec, stream, message)
}

// squashMerge lands before..after onto the stream branch as one commit,
// through a temporary worktree so the developer's checkout is never
// touched. JSONL conflicts inside .sudocode are auto-resolved; anything
// else aborts.
func (c *Creator) squashMerge(ctx context.Context, exec *types.Execution, stream *types.Stream, message string) (string, error) {
	wtPath := filepath.Join(os.TempDir(), "sudocode-ckpt-"+exec.ID)
	if err := c.wt.Add(ctx, wtPath, stream.BranchName, true); err != nil {
		return "", err
	}
	defer func() {
		if err := c.wt.Remove(ctx, wtPath, true); err != nil {
			c.log.Warn().Err(err).Str("path", wtPath).Msg("checkpoint worktree not removed")
		}
	}()

	if _, err := gitx.Run(ctx, wtPath, "merge", "--squash", exec.AfterCommit); err != nil {
		var ge *gitx.GitError
		if !errors.As(err, &ge) || ge.ExitCode() != 1 {
			return "", err
		}
		unresolved, err := autoResolveJSONL(ctx, wtPath, c.log)
		if err != nil {
			return "", err
		}
		if len(unresolved) > 0 {
			// Squash merges leave no MERGE_HEAD, so abort via reset.
			if _, err := gitx.Run(ctx, wtPath, "reset", "--merge"); err != nil {
				c.log.Warn().Err(err).Msg("merge abort failed")
			}
			return "", fmt.Errorf("%w: %s", ErrCodeConflict, strings.Join(unresolved, ", "))
		}
	}

	if message == "" {
		message = fmt.Sprintf("checkpoint: %s (%s..%s)", exec.ID,
			shortSHA(exec.BeforeCommit), shortSHA(exec.AfterCommit))
	}
	if _, err := gitx.Run(ctx, wtPath, "commit", "--no-verify", "-m", message); err != nil {
		return "", err
	}
	return gitx.CurrentCommit(ctx, wtPath)
}

// autoResolveJSONL rewrites conflicted platform JSONL files in the
// worktree by timestamp and stages them. Paths it cannot auto-resolve
// come back in unresolved; the caller decides how to abort.
func autoResolveJSONL(ctx context.Context, wtPath string, log zerolog.Logger) ([]string, error) {
	out, err := gitx.Run(ctx, wtPath, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var unresolved []string
	for _, path := range strings.Split(out, "\n") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if classifyConflict(path) != ConflictAutoResolvable {
			unresolved = append(unresolved, path)
			continue
		}
		full := filepath.Join(wtPath, path)
		data, err := os.ReadFile(full) // #nosec G304 -- path comes from git status
		if err != nil {
			return nil, err
		}
		resolved, n := ResolveJSONLConflicts(string(data))
		log.Debug().Str("path", path).Int("hunks", n).Msg("auto-resolved JSONL conflict")
		if err := os.WriteFile(full, []byte(resolved), 0o644); err != nil {
			return nil, err
		}
		if _, err := gitx.Run(ctx, wtPath, "add", path); err != nil {
			return nil, err
		}
	}
	return unresolved, nil
}

func (c *Creator) emit(name string, cp *types.Checkpoint) {
	if c.bus == nil {
		return
	}
	p := eventbus.NewPayload("checkpoint")
	p.ID = cp.ID
	p.Extra = map[string]any{
		"execution_id": cp.ExecutionID,
		"stream_id":    cp.StreamID,
		"commit_sha":   cp.CommitSHA,
	}
	c.bus.Publish(name, p)
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
