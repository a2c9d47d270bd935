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

const streamColumns = `id, scope, issue_uuid, execution_id, branch_name,
	checkpoint_count, last_checkpoint_id, review_state, created_at, updated_at`

func scanStream(scan func(dest ...any) error) (*types.Stream, error) {
	var st types.Stream
	var issueUUID, executionID, lastCkpt, reviewState sql.NullString
	var createdAt, updatedAt string

	err := scan(&st.ID, &st.Scope, &issueUUID, &executionID, &st.BranchName,
		&st.CheckpointCount, &lastCkpt, &reviewState, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	st.IssueUUID = issueUUID.String
	st.ExecutionID = executionID.String
	st.LastCheckpointID = strPtr(lastCkpt)
	st.ReviewState = reviewState.String
	if st.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if st.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &st, nil
}

// CreateStream inserts a stream record.
func (s *Store) CreateStream(ctx context.Context, stream *types.Stream) error {
	now := time.Now().UTC()
	if stream.CreatedAt.IsZero() {
		stream.CreatedAt = now
	}
	if stream.UpdatedAt.IsZero() {
		stream.UpdatedAt = stream.CreatedAt
	}
	_, err := s.q.ExecContext(ctx, `INSERT INTO streams (`+streamColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stream.ID, string(stream.Scope), nullStr(stream.IssueUUID), nullStr(stream.ExecutionID),
		stream.BranchName, stream.CheckpointCount, ptrArg(stream.LastCheckpointID),
		nullStr(stream.ReviewState), timeText(stream.CreatedAt), timeText(stream.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create stream %s: %w", stream.ID, err)
	}
	return nil
}

// GetStream looks up a stream by id.
func (s *Store) GetStream(ctx context.Context, id string) (*types.Stream, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+streamColumns+` FROM streams WHERE id = ?`, id)
	st, err := scanStream(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stream %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", id, err)
	}
	return st, nil
}

// GetStreamForIssue returns the issue-scoped stream for the issue.
func (s *Store) GetStreamForIssue(ctx context.Context, issueUUID string) (*types.Stream, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+streamColumns+` FROM streams WHERE issue_uuid = ? AND scope = 'issue' LIMIT 1`,
		issueUUID)
	st, err := scanStream(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stream for issue %s: %w", issueUUID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get stream for issue %s: %w", issueUUID, err)
	}
	return st, nil
}

var streamPatchColumns = map[string]string{
	"branch_name":        "branch_name",
	"checkpoint_count":   "checkpoint_count",
	"last_checkpoint_id": "last_checkpoint_id",
	"review_state":       "review_state",
	"updated_at":         "updated_at",
}

// UpdateStream applies a partial update.
func (s *Store) UpdateStream(ctx context.Context, id string, patch storage.Patch) (*types.Stream, error) {
	if _, err := s.GetStream(ctx, id); err != nil {
		return nil, err
	}
	sets, args, err := buildPatch(patch, streamPatchColumns)
	if err != nil {
		return nil, fmt.Errorf("update stream %s: %w", id, err)
	}
	if len(sets) == 0 {
		return s.GetStream(ctx, id)
	}
	if _, ok := patch["updated_at"]; !ok {
		sets = append(sets, "updated_at = ?")
		args = append(args, timeText(time.Now().UTC()))
	}
	args = append(args, id)
	if _, err := s.q.ExecContext(ctx,
		`UPDATE streams SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return nil, fmt.Errorf("update stream %s: %w", id, err)
	}
	return s.GetStream(ctx, id)
}
