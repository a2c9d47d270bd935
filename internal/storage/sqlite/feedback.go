package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sudocode-ai/sudocode/internal/eventbus"
	"github.com/sudocode-ai/sudocode/internal/types"
)

// CreateFeedback inserts a feedback record and emits feedback:created.
func (s *Store) CreateFeedback(ctx context.Context, fb *types.Feedback) error {
	if fb.ToUUID == "" {
		return fmt.Errorf("feedback requires to_uuid")
	}
	now := time.Now().UTC()
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = now
	}
	if fb.UpdatedAt.IsZero() {
		fb.UpdatedAt = fb.CreatedAt
	}

	var anchor any
	if fb.Anchor != nil {
		data, err := json.Marshal(fb.Anchor)
		if err != nil {
			return fmt.Errorf("marshal anchor: %w", err)
		}
		anchor = string(data)
	}

	_, err := s.q.ExecContext(ctx, `INSERT INTO feedback
		(id, from_uuid, to_uuid, feedback_type, content, anchor, dismissed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fb.ID, ptrArg(fb.FromUUID), fb.ToUUID, string(fb.FeedbackType), fb.Content,
		anchor, boolInt(fb.Dismissed), timeText(fb.CreatedAt), timeText(fb.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create feedback %s: %w", fb.ID, err)
	}

	p := eventbus.NewPayload(eventbus.EventFeedbackCreated)
	p.ID = fb.ID
	p.UUID = fb.ToUUID
	s.emit(eventbus.EventFeedbackCreated, p)
	return nil
}

// ListFeedback returns all feedback attached to the entity, oldest
// first.
func (s *Store) ListFeedback(ctx context.Context, toUUID string) ([]*types.Feedback, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, from_uuid, to_uuid, feedback_type,
		content, anchor, dismissed, created_at, updated_at
		FROM feedback WHERE to_uuid = ? ORDER BY created_at ASC, id ASC`, toUUID)
	if err != nil {
		return nil, fmt.Errorf("list feedback for %s: %w", toUUID, err)
	}
	defer rows.Close()

	var out []*types.Feedback
	for rows.Next() {
		var fb types.Feedback
		var fromUUID, anchor sql.NullString
		var dismissed int
		var createdAt, updatedAt string
		if err := rows.Scan(&fb.ID, &fromUUID, &fb.ToUUID, &fb.FeedbackType,
			&fb.Content, &anchor, &dismissed, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		fb.FromUUID = strPtr(fromUUID)
		fb.Dismissed = dismissed != 0
		if anchor.Valid {
			var a types.Anchor
			if err := json.Unmarshal([]byte(anchor.String), &a); err != nil {
				return nil, fmt.Errorf("unmarshal anchor: %w", err)
			}
			fb.Anchor = &a
		}
		if fb.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if fb.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, &fb)
	}
	return out, rows.Err()
}

// DeleteFeedbackFor removes all feedback attached to the entity. The
// import pipeline deletes and recreates feedback per affected issue.
func (s *Store) DeleteFeedbackFor(ctx context.Context, toUUID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM feedback WHERE to_uuid = ?`, toUUID)
	if err != nil {
		return fmt.Errorf("delete feedback for %s: %w", toUUID, err)
	}
	return nil
}
