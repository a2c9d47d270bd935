package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sudocode-ai/sudocode/internal/storage"
	"github.com/sudocode-ai/sudocode/internal/types"
)

const mqColumns = `id, execution_id, stream_id, target_branch, position, priority,
	status, added_at, merge_commit, error`

func scanMergeEntry(scan func(dest ...any) error) (*types.MergeQueueEntry, error) {
	var m types.MergeQueueEntry
	var mergeCommit, errText sql.NullString
	var addedAt string

	err := scan(&m.ID, &m.ExecutionID, &m.StreamID, &m.TargetBranch, &m.Position,
		&m.Priority, &m.Status, &addedAt, &mergeCommit, &errText)
	if err != nil {
		return nil, err
	}
	m.MergeCommit = strPtr(mergeCommit)
	m.Error = strPtr(errText)
	if m.AddedAt, err = parseTime(addedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// EnqueueMerge appends an entry at the tail of its target branch's
// queue. Positions stay a dense permutation {0..n-1}.
func (s *Store) EnqueueMerge(ctx context.Context, entry *types.MergeQueueEntry) error {
	if entry.AddedAt.IsZero() {
		entry.AddedAt = time.Now().UTC()
	}
	if entry.Status == "" {
		entry.Status = types.MergePending
	}

	var next int
	if err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM merge_queue WHERE target_branch = ?`, entry.TargetBranch).Scan(&next); err != nil {
		return fmt.Errorf("enqueue merge: %w", err)
	}
	entry.Position = next

	_, err := s.q.ExecContext(ctx, `INSERT INTO merge_queue (`+mqColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ExecutionID, entry.StreamID, entry.TargetBranch, entry.Position,
		entry.Priority, string(entry.Status), timeText(entry.AddedAt),
		ptrArg(entry.MergeCommit), ptrArg(entry.Error))
	if err != nil {
		return fmt.Errorf("enqueue merge %s: %w", entry.ID, err)
	}
	return nil
}

// ListMergeQueue returns the branch's queue in position order.
func (s *Store) ListMergeQueue(ctx context.Context, targetBranch string) ([]*types.MergeQueueEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+mqColumns+` FROM merge_queue WHERE target_branch = ? ORDER BY position ASC`,
		targetBranch)
	if err != nil {
		return nil, fmt.Errorf("list merge queue: %w", err)
	}
	defer rows.Close()

	var entries []*types.MergeQueueEntry
	for rows.Next() {
		entry, err := scanMergeEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan merge entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

var mqPatchColumns = map[string]string{
	"status":       "status",
	"priority":     "priority",
	"merge_commit": "merge_commit",
	"error":        "error",
}

// UpdateMergeEntry applies a partial update.
func (s *Store) UpdateMergeEntry(ctx context.Context, id string, patch storage.Patch) (*types.MergeQueueEntry, error) {
	existing, err := s.getMergeEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	sets, args, err := buildPatch(patch, mqPatchColumns)
	if err != nil {
		return nil, fmt.Errorf("update merge entry %s: %w", id, err)
	}
	if len(sets) == 0 {
		return existing, nil
	}
	args = append(args, id)
	if _, err := s.q.ExecContext(ctx,
		`UPDATE merge_queue SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return nil, fmt.Errorf("update merge entry %s: %w", id, err)
	}
	return s.getMergeEntry(ctx, id)
}

func (s *Store) getMergeEntry(ctx context.Context, id string) (*types.MergeQueueEntry, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+mqColumns+` FROM merge_queue WHERE id = ?`, id)
	entry, err := scanMergeEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("merge entry %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get merge entry %s: %w", id, err)
	}
	return entry, nil
}

// RemoveMergeEntry deletes an entry and renumbers the remaining
// entries so positions stay dense.
func (s *Store) RemoveMergeEntry(ctx context.Context, id string) error {
	entry, err := s.getMergeEntry(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM merge_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove merge entry %s: %w", id, err)
	}
	_, err = s.q.ExecContext(ctx, `UPDATE merge_queue SET position = position - 1
		WHERE target_branch = ? AND position > ?`, entry.TargetBranch, entry.Position)
	if err != nil {
		return fmt.Errorf("renumber merge queue for %s: %w", entry.TargetBranch, err)
	}
	return nil
}

// ReorderMergeEntry moves an entry to a new position, shifting the
// entries between atomically so the permutation stays dense.
func (s *Store) ReorderMergeEntry(ctx context.Context, id string, newPosition int) error {
	return s.InTransaction(ctx, func(tx storage.Storage) error {
		txs := tx.(*Store)
		entry, err := txs.getMergeEntry(ctx, id)
		if err != nil {
			return err
		}
		var count int
		if err := txs.q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM merge_queue WHERE target_branch = ?`, entry.TargetBranch).Scan(&count); err != nil {
			return err
		}
		if newPosition < 0 || newPosition >= count {
			return fmt.Errorf("reorder merge entry %s: position %d out of range [0,%d)", id, newPosition, count)
		}
		if newPosition == entry.Position {
			return nil
		}

		if newPosition < entry.Position {
			_, err = txs.q.ExecContext(ctx, `UPDATE merge_queue SET position = position + 1
				WHERE target_branch = ? AND position >= ? AND position < ?`,
				entry.TargetBranch, newPosition, entry.Position)
		} else {
			_, err = txs.q.ExecContext(ctx, `UPDATE merge_queue SET position = position - 1
				WHERE target_branch = ? AND position > ? AND position <= ?`,
				entry.TargetBranch, entry.Position, newPosition)
		}
		if err != nil {
			return fmt.Errorf("shift merge queue: %w", err)
		}
		if _, err := txs.q.ExecContext(ctx,
			`UPDATE merge_queue SET position = ? WHERE id = ?`, newPosition, id); err != nil {
			return fmt.Errorf("place merge entry: %w", err)
		}
		return nil
	})
}
