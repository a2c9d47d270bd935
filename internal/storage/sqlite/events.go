package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sudocode-ai/sudocode/internal/types"
)

// appendAudit writes one audit log row for an entity mutation.
func (s *Store) appendAudit(ctx context.Context, entityUUID string, entityType types.EntityType,
	eventType types.EventType, oldValue, newValue *string) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO events
		(entity_uuid, entity_type, event_type, actor, old_value, new_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entityUUID, string(entityType), string(eventType), "",
		ptrArg(oldValue), ptrArg(newValue), timeText(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("append event for %s: %w", entityUUID, err)
	}
	return nil
}

// AppendEvent writes a caller-supplied audit entry.
func (s *Store) AppendEvent(ctx context.Context, event *types.Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `INSERT INTO events
		(entity_uuid, entity_type, event_type, actor, old_value, new_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.EntityUUID, string(event.EntityType), string(event.EventType), event.Actor,
		ptrArg(event.OldValue), ptrArg(event.NewValue), timeText(event.CreatedAt))
	if err != nil {
		return fmt.Errorf("append event for %s: %w", event.EntityUUID, err)
	}
	return nil
}

// ListEvents returns the audit trail for an entity, oldest first.
func (s *Store) ListEvents(ctx context.Context, entityUUID string) ([]*types.Event, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, entity_uuid, entity_type, event_type,
		actor, old_value, new_value, created_at
		FROM events WHERE entity_uuid = ? ORDER BY id ASC`, entityUUID)
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", entityUUID, err)
	}
	defer rows.Close()

	var events []*types.Event
	for rows.Next() {
		var e types.Event
		var actor sql.NullString
		var oldValue, newValue sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.EntityUUID, &e.EntityType, &e.EventType,
			&actor, &oldValue, &newValue, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Actor = actor.String
		e.OldValue = strPtr(oldValue)
		e.NewValue = strPtr(newValue)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
