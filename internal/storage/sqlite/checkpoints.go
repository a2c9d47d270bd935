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

const ckptColumns = `id, issue_uuid, execution_id, stream_id, commit_sha, parent_commit,
	changed_files, additions, deletions, message, checkpointed_at, review_status,
	issue_snapshot, spec_snapshot`

func scanCheckpoint(scan func(dest ...any) error) (*types.Checkpoint, error) {
	var c types.Checkpoint
	var parentCommit, message, issueSnap, specSnap sql.NullString
	var checkpointedAt string

	err := scan(&c.ID, &c.IssueUUID, &c.ExecutionID, &c.StreamID, &c.CommitSHA,
		&parentCommit, &c.ChangedFiles, &c.Additions, &c.Deletions, &message,
		&checkpointedAt, &c.ReviewStatus, &issueSnap, &specSnap)
	if err != nil {
		return nil, err
	}

	c.ParentCommit = strPtr(parentCommit)
	c.Message = message.String
	c.IssueSnapshot = strPtr(issueSnap)
	c.SpecSnapshot = strPtr(specSnap)
	if c.CheckpointedAt, err = parseTime(checkpointedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCheckpoint persists a checkpoint record and bumps the stream's
// checkpoint bookkeeping.
func (s *Store) CreateCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	if cp.CheckpointedAt.IsZero() {
		cp.CheckpointedAt = time.Now().UTC()
	}
	if cp.ReviewStatus == "" {
		cp.ReviewStatus = types.ReviewPending
	}

	_, err := s.q.ExecContext(ctx, `INSERT INTO checkpoints (`+ckptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.IssueUUID, cp.ExecutionID, cp.StreamID, cp.CommitSHA,
		ptrArg(cp.ParentCommit), cp.ChangedFiles, cp.Additions, cp.Deletions,
		nullStr(cp.Message), timeText(cp.CheckpointedAt), string(cp.ReviewStatus),
		ptrArg(cp.IssueSnapshot), ptrArg(cp.SpecSnapshot))
	if err != nil {
		return fmt.Errorf("create checkpoint %s: %w", cp.ID, err)
	}

	_, err = s.q.ExecContext(ctx, `UPDATE streams SET
		checkpoint_count = checkpoint_count + 1,
		last_checkpoint_id = ?,
		updated_at = ?
		WHERE id = ?`, cp.ID, timeText(time.Now().UTC()), cp.StreamID)
	if err != nil {
		return fmt.Errorf("bump stream %s: %w", cp.StreamID, err)
	}
	return nil
}

// GetCheckpoint looks up a checkpoint by id.
func (s *Store) GetCheckpoint(ctx context.Context, id string) (*types.Checkpoint, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+ckptColumns+` FROM checkpoints WHERE id = ?`, id)
	cp, err := scanCheckpoint(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %s: %w", id, err)
	}
	return cp, nil
}

// ListCheckpoints returns a stream's checkpoints, oldest first.
func (s *Store) ListCheckpoints(ctx context.Context, streamID string) ([]*types.Checkpoint, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+ckptColumns+` FROM checkpoints WHERE stream_id = ? ORDER BY checkpointed_at ASC, id ASC`,
		streamID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []*types.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

var ckptPatchColumns = map[string]string{
	"review_status": "review_status",
	"message":       "message",
}

// UpdateCheckpoint applies a partial update (review status, message).
func (s *Store) UpdateCheckpoint(ctx context.Context, id string, patch storage.Patch) (*types.Checkpoint, error) {
	if _, err := s.GetCheckpoint(ctx, id); err != nil {
		return nil, err
	}
	sets, args, err := buildPatch(patch, ckptPatchColumns)
	if err != nil {
		return nil, fmt.Errorf("update checkpoint %s: %w", id, err)
	}
	if len(sets) == 0 {
		return s.GetCheckpoint(ctx, id)
	}
	args = append(args, id)
	if _, err := s.q.ExecContext(ctx,
		`UPDATE checkpoints SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return nil, fmt.Errorf("update checkpoint %s: %w", id, err)
	}
	return s.GetCheckpoint(ctx, id)
}
