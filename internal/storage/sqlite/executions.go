package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sudocode-ai/sudocode/internal/eventbus"
	"github.com/sudocode-ai/sudocode/internal/storage"
	"github.com/sudocode-ai/sudocode/internal/types"
)

const execColumns = `id, issue_uuid, agent_type, status, target_branch, branch_name,
	worktree_path, before_commit, after_commit, stream_id, parent_execution_id,
	workflow_execution_id, created_at, updated_at, started_at, completed_at`

func scanExecution(scan func(dest ...any) error) (*types.Execution, error) {
	var e types.Execution
	var targetBranch, branchName, worktreePath, beforeCommit, afterCommit, streamID sql.NullString
	var parentExecID, workflowExecID, startedAt, completedAt sql.NullString
	var createdAt, updatedAt string

	err := scan(&e.ID, &e.IssueUUID, &e.AgentType, &e.Status, &targetBranch, &branchName,
		&worktreePath, &beforeCommit, &afterCommit, &streamID, &parentExecID,
		&workflowExecID, &createdAt, &updatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	e.TargetBranch = targetBranch.String
	e.BranchName = branchName.String
	e.WorktreePath = worktreePath.String
	e.BeforeCommit = beforeCommit.String
	e.AfterCommit = afterCommit.String
	e.StreamID = streamID.String
	e.ParentExecutionID = strPtr(parentExecID)
	e.WorkflowExecutionID = strPtr(workflowExecID)
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if e.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if e.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateExecution inserts an execution record. At most one non-terminal
// execution may exist per worktree path.
func (s *Store) CreateExecution(ctx context.Context, exec *types.Execution) error {
	if !exec.Status.IsValid() {
		return fmt.Errorf("invalid execution status %q", exec.Status)
	}
	now := time.Now().UTC()
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = now
	}
	if exec.UpdatedAt.IsZero() {
		exec.UpdatedAt = exec.CreatedAt
	}

	if exec.WorktreePath != "" {
		var n int
		err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions
			WHERE worktree_path = ? AND status NOT IN ('completed','failed','cancelled','stopped','conflicted')`,
			exec.WorktreePath).Scan(&n)
		if err != nil {
			return fmt.Errorf("check worktree %s: %w", exec.WorktreePath, err)
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", storage.ErrWorktreeBusy, exec.WorktreePath)
		}
	}

	_, err := s.q.ExecContext(ctx, `INSERT INTO executions (`+execColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.IssueUUID, exec.AgentType, string(exec.Status),
		nullStr(exec.TargetBranch), nullStr(exec.BranchName), nullStr(exec.WorktreePath),
		nullStr(exec.BeforeCommit), nullStr(exec.AfterCommit), nullStr(exec.StreamID),
		ptrArg(exec.ParentExecutionID), ptrArg(exec.WorkflowExecutionID),
		timeText(exec.CreatedAt), timeText(exec.UpdatedAt),
		timeTextPtr(exec.StartedAt), timeTextPtr(exec.CompletedAt))
	if err != nil {
		return fmt.Errorf("create execution %s: %w", exec.ID, err)
	}

	p := eventbus.NewPayload(eventbus.EventExecutionCreated)
	p.ID = exec.ID
	p.UUID = exec.IssueUUID
	s.emit(eventbus.EventExecutionCreated, p)
	return nil
}

// GetExecution looks up an execution by id.
func (s *Store) GetExecution(ctx context.Context, id string) (*types.Execution, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+execColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}
	return exec, nil
}

// ListExecutions returns executions for an issue, newest first. An
// empty issueUUID lists everything.
func (s *Store) ListExecutions(ctx context.Context, issueUUID string) ([]*types.Execution, error) {
	query := `SELECT ` + execColumns + ` FROM executions`
	var args []any
	if issueUUID != "" {
		query += ` WHERE issue_uuid = ?`
		args = append(args, issueUUID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var execs []*types.Execution
	for rows.Next() {
		exec, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

var execPatchColumns = map[string]string{
	"status":        "status",
	"target_branch": "target_branch",
	"branch_name":   "branch_name",
	"worktree_path": "worktree_path",
	"before_commit": "before_commit",
	"after_commit":  "after_commit",
	"stream_id":     "stream_id",
	"started_at":    "started_at",
	"completed_at":  "completed_at",
	"updated_at":    "updated_at",
}

// statusEventNames maps execution status transitions onto bus events.
var statusEventNames = map[types.ExecutionStatus]string{
	types.ExecRunning:   eventbus.EventExecutionStarted,
	types.ExecCompleted: eventbus.EventExecutionCompleted,
	types.ExecFailed:    eventbus.EventExecutionFailed,
	types.ExecPaused:    eventbus.EventExecutionPaused,
	types.ExecCancelled: eventbus.EventExecutionCancelled,
}

// UpdateExecution applies a partial update and emits lifecycle events
// for recognized status transitions.
func (s *Store) UpdateExecution(ctx context.Context, id string, patch storage.Patch) (*types.Execution, error) {
	existing, err := s.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}

	var newStatus *types.ExecutionStatus
	if raw, ok := patch["status"]; ok && raw != nil {
		st := types.ExecutionStatus(fmt.Sprintf("%v", raw))
		if !st.IsValid() {
			return nil, fmt.Errorf("update execution %s: invalid status %q", id, st)
		}
		if existing.Status.IsTerminal() && st != existing.Status {
			return nil, fmt.Errorf("update execution %s: terminal status %s is sticky", id, existing.Status)
		}
		newStatus = &st
		patch["status"] = string(st)
	}

	sets, args, err := buildPatch(patch, execPatchColumns)
	if err != nil {
		return nil, fmt.Errorf("update execution %s: %w", id, err)
	}
	if len(sets) == 0 {
		return existing, nil
	}
	if _, ok := patch["updated_at"]; !ok {
		sets = append(sets, "updated_at = ?")
		args = append(args, timeText(time.Now().UTC()))
	}
	args = append(args, id)

	if _, err := s.q.ExecContext(ctx,
		`UPDATE executions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return nil, fmt.Errorf("update execution %s: %w", id, err)
	}

	name := eventbus.EventExecutionUpdated
	if newStatus != nil && *newStatus != existing.Status {
		if mapped, ok := statusEventNames[*newStatus]; ok {
			name = mapped
		}
	}
	p := eventbus.NewPayload(name)
	p.ID = id
	p.UUID = existing.IssueUUID
	s.emit(name, p)

	return s.GetExecution(ctx, id)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
