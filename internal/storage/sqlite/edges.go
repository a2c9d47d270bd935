package sqlite

import (
	"context"
	"fmt"

	"github.com/sudocode-ai/sudocode/internal/eventbus"
	"github.com/sudocode-ai/sudocode/internal/storage"
	"github.com/sudocode-ai/sudocode/internal/types"
)

// entityExists checks for a live entity with the given uuid in either
// entity table.
func (s *Store) entityExists(ctx context.Context, uuid string) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM specs WHERE uuid = ?) +
		(SELECT COUNT(*) FROM issues WHERE uuid = ?)`, uuid, uuid).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check entity %s: %w", uuid, err)
	}
	return n > 0, nil
}

// AddRelationship persists a directed edge. A missing endpoint is
// demoted to a warning and the edge is not persisted, keeping the
// invariant that persisted edges always have both endpoints.
func (s *Store) AddRelationship(ctx context.Context, rel *types.Relationship) (*storage.Warning, error) {
	if !rel.Type.IsValid() {
		return nil, fmt.Errorf("invalid relationship type %q", rel.Type)
	}
	for _, endpoint := range []string{rel.FromUUID, rel.ToUUID} {
		ok, err := s.entityExists(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &storage.Warning{
				Code:    "missing_endpoint",
				Message: fmt.Sprintf("relationship %s -> %s (%s): endpoint %s not found", rel.FromUUID, rel.ToUUID, rel.Type, endpoint),
			}, nil
		}
	}

	_, err := s.q.ExecContext(ctx, `INSERT OR REPLACE INTO relationships
		(from_uuid, from_type, to_uuid, to_type, type) VALUES (?, ?, ?, ?, ?)`,
		rel.FromUUID, string(rel.FromType), rel.ToUUID, string(rel.ToType), string(rel.Type))
	if err != nil {
		return nil, fmt.Errorf("add relationship: %w", err)
	}

	p := eventbus.NewPayload(eventbus.EventRelationshipCreated)
	p.UUID = rel.FromUUID
	p.Extra = map[string]any{"to": rel.ToUUID, "relationship_type": string(rel.Type)}
	s.emit(eventbus.EventRelationshipCreated, p)
	return nil, nil
}

// RemoveRelationship deletes one edge.
func (s *Store) RemoveRelationship(ctx context.Context, fromUUID, toUUID string, relType types.RelationshipType) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM relationships WHERE from_uuid = ? AND to_uuid = ? AND type = ?`,
		fromUUID, toUUID, string(relType))
	if err != nil {
		return fmt.Errorf("remove relationship: %w", err)
	}
	return nil
}

// RemoveOutgoingRelationships deletes all edges owned by the source
// entity. Incoming edges are preserved (they belong to other sources).
func (s *Store) RemoveOutgoingRelationships(ctx context.Context, fromUUID string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM relationships WHERE from_uuid = ?`, fromUUID)
	if err != nil {
		return fmt.Errorf("remove outgoing relationships for %s: %w", fromUUID, err)
	}
	return nil
}

func (s *Store) queryRelationships(ctx context.Context, where string, arg string) ([]*types.Relationship, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT from_uuid, from_type, to_uuid, to_type, type FROM relationships WHERE `+where, arg)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	defer rows.Close()

	var rels []*types.Relationship
	for rows.Next() {
		var r types.Relationship
		if err := rows.Scan(&r.FromUUID, &r.FromType, &r.ToUUID, &r.ToType, &r.Type); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rels = append(rels, &r)
	}
	return rels, rows.Err()
}

// GetOutgoingRelationships returns edges owned by the entity.
func (s *Store) GetOutgoingRelationships(ctx context.Context, fromUUID string) ([]*types.Relationship, error) {
	return s.queryRelationships(ctx, `from_uuid = ? ORDER BY to_uuid, type`, fromUUID)
}

// GetIncomingRelationships returns edges pointing at the entity.
func (s *Store) GetIncomingRelationships(ctx context.Context, toUUID string) ([]*types.Relationship, error) {
	return s.queryRelationships(ctx, `to_uuid = ? ORDER BY from_uuid, type`, toUUID)
}

// AddTag attaches a tag. Duplicate adds are no-ops.
func (s *Store) AddTag(ctx context.Context, entityUUID string, entityType types.EntityType, tag string) error {
	if tag == "" {
		return fmt.Errorf("empty tag")
	}
	_, err := s.q.ExecContext(ctx, `INSERT OR IGNORE INTO tags (entity_uuid, entity_type, tag)
		VALUES (?, ?, ?)`, entityUUID, string(entityType), tag)
	if err != nil {
		return fmt.Errorf("add tag %s to %s: %w", tag, entityUUID, err)
	}
	return nil
}

// RemoveTag detaches a tag.
func (s *Store) RemoveTag(ctx context.Context, entityUUID string, tag string) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM tags WHERE entity_uuid = ? AND tag = ?`, entityUUID, tag)
	if err != nil {
		return fmt.Errorf("remove tag %s from %s: %w", tag, entityUUID, err)
	}
	return nil
}

// GetTags returns the entity's tags in lexicographic order.
func (s *Store) GetTags(ctx context.Context, entityUUID string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT tag FROM tags WHERE entity_uuid = ? ORDER BY tag`, entityUUID)
	if err != nil {
		return nil, fmt.Errorf("get tags for %s: %w", entityUUID, err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// GetEntitiesByTag returns the uuids carrying the tag.
func (s *Store) GetEntitiesByTag(ctx context.Context, tag string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT entity_uuid FROM tags WHERE tag = ? ORDER BY entity_uuid`, tag)
	if err != nil {
		return nil, fmt.Errorf("get entities by tag %s: %w", tag, err)
	}
	defer rows.Close()

	var uuids []string
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			return nil, err
		}
		uuids = append(uuids, uuid)
	}
	return uuids, rows.Err()
}
