package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sudocode-ai/sudocode/internal/eventbus"
	"github.com/sudocode-ai/sudocode/internal/gitx"
	"github.com/sudocode-ai/sudocode/internal/storage"
	"github.com/sudocode-ai/sudocode/internal/types"
)

// ErrQueueEmpty signals that no entry is waiting for the target branch.
var ErrQueueEmpty = errors.New("merge queue: no pending entries")

// QueueProcessor drains the ordered merge queue for a target branch,
// one entry at a time in position order.
type QueueProcessor struct {
	store storage.Storage
	wt    *gitx.WorktreeManager
	bus   *eventbus.Bus
	log   zerolog.Logger
}

// NewQueueProcessor builds a processor over the store and repository.
func NewQueueProcessor(store storage.Storage, wt *gitx.WorktreeManager, bus *eventbus.Bus, log zerolog.Logger) *QueueProcessor {
	return &QueueProcessor{
		store: store,
		wt:    wt,
		bus:   bus,
		log:   log.With().Str("component", "mergequeue").Logger(),
	}
}

// ProcessNext takes the lowest-position pending entry for targetBranch
// and merges its stream. The entry ends up merged or failed; either way
// it is returned. ErrQueueEmpty when nothing is waiting.
func (q *QueueProcessor) ProcessNext(ctx context.Context, targetBranch string) (*types.MergeQueueEntry, error) {
	entries, err := q.store.ListMergeQueue(ctx, targetBranch)
	if err != nil {
		return nil, err
	}
	var entry *types.MergeQueueEntry
	for _, e := range entries {
		if e.Status == types.MergePending || e.Status == types.MergeReady {
			entry = e
			break
		}
	}
	if entry == nil {
		return nil, ErrQueueEmpty
	}

	entry, err = q.store.UpdateMergeEntry(ctx, entry.ID, storage.Patch{"status": string(types.MergeMerging)})
	if err != nil {
		return nil, err
	}

	mergeCommit, mergeErr := q.merge(ctx, entry, targetBranch)
	if mergeErr != nil {
		msg := mergeErr.Error()
		entry, err = q.store.UpdateMergeEntry(ctx, entry.ID, storage.Patch{
			"status": string(types.MergeFailed),
			"error":  msg,
		})
		if err != nil {
			return nil, err
		}
		q.emit(eventbus.EventMergeFailed, entry)
		q.log.Warn().Str("entry", entry.ID).Str("target", targetBranch).Err(mergeErr).Msg("merge failed")
		return entry, nil
	}

	entry, err = q.store.UpdateMergeEntry(ctx, entry.ID, storage.Patch{
		"status":       string(types.MergeMerged),
		"merge_commit": mergeCommit,
	})
	if err != nil {
		return nil, err
	}
	q.emit(eventbus.EventMergeCompleted, entry)
	q.log.Info().Str("entry", entry.ID).Str("target", targetBranch).
		Str("commit", mergeCommit).Msg("merged")
	return entry, nil
}

// ProcessAll drains the queue until empty or a failure stops progress.
// Returns the processed entries.
func (q *QueueProcessor) ProcessAll(ctx context.Context, targetBranch string) ([]*types.MergeQueueEntry, error) {
	var processed []*types.MergeQueueEntry
	for {
		entry, err := q.ProcessNext(ctx, targetBranch)
		if errors.Is(err, ErrQueueEmpty) {
			return processed, nil
		}
		if err != nil {
			return processed, err
		}
		processed = append(processed, entry)
		if entry.Status == types.MergeFailed {
			return processed, nil
		}
	}
}

// merge performs the actual branch merge through a temporary worktree.
// The dry run goes first so a code conflict never leaves the target
// branch mid-merge.
func (q *QueueProcessor) merge(ctx context.Context, entry *types.MergeQueueEntry, targetBranch string) (string, error) {
	stream, err := q.store.GetStream(ctx, entry.StreamID)
	if err != nil {
		return "", err
	}

	report, err := DetectConflicts(ctx, q.wt.Repo(), stream.BranchName, targetBranch)
	if err != nil {
		return "", err
	}
	if !report.AutoResolvable() {
		var paths []string
		for _, c := range report.Conflicts {
			if c.Kind == ConflictCode {
				paths = append(paths, c.Path)
			}
		}
		return "", fmt.Errorf("%w: %s", ErrCodeConflict, strings.Join(paths, ", "))
	}

	wtPath := filepath.Join(os.TempDir(), "sudocode-merge-"+entry.ID)
	if err := q.wt.Add(ctx, wtPath, targetBranch, true); err != nil {
		return "", err
	}
	defer func() {
		if err := q.wt.Remove(ctx, wtPath, true); err != nil {
			q.log.Warn().Err(err).Str("path", wtPath).Msg("merge worktree not removed")
		}
	}()

	msg := fmt.Sprintf("merge %s into %s", stream.BranchName, targetBranch)
	if _, err := gitx.Run(ctx, wtPath, "merge", "--no-ff", "-m", msg, stream.BranchName); err != nil {
		var ge *gitx.GitError
		if !errors.As(err, &ge) || ge.ExitCode() != 1 {
			return "", err
		}
		unresolved, rerr := autoResolveJSONL(ctx, wtPath, q.log)
		if rerr != nil {
			return "", rerr
		}
		if len(unresolved) > 0 {
			if _, err := gitx.Run(ctx, wtPath, "merge", "--abort"); err != nil {
				q.log.Warn().Err(err).Msg("merge abort failed")
			}
			return "", fmt.Errorf("%w: %s", ErrCodeConflict, strings.Join(unresolved, ", "))
		}
		if _, err := gitx.Run(ctx, wtPath, "commit", "--no-verify", "--no-edit"); err != nil {
			return "", err
		}
	}
	return gitx.CurrentCommit(ctx, wtPath)
}

func (q *QueueProcessor) emit(name string, entry *types.MergeQueueEntry) {
	if q.bus == nil {
		return
	}
	p := eventbus.NewPayload("merge_queue")
	p.ID = entry.ID
	p.Extra = map[string]any{
		"execution_id":  entry.ExecutionID,
		"stream_id":     entry.StreamID,
		"target_branch": entry.TargetBranch,
		"status":        string(entry.Status),
	}
	q.bus.Publish(name, p)
}
