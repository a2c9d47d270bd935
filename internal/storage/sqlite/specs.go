package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sudocode-ai/sudocode/internal/storage"
	"github.com/sudocode-ai/sudocode/internal/types"
)

// linksArg serializes the tri-state external_links field: nil pointer
// and pointer-to-nil both store NULL (no links), otherwise JSON.
func linksArg(links *[]string) (any, error) {
	if links == nil || *links == nil {
		return nil, nil
	}
	data, err := json.Marshal(*links)
	if err != nil {
		return nil, fmt.Errorf("marshal external_links: %w", err)
	}
	return string(data), nil
}

func linksFromNull(ns sql.NullString) (*[]string, error) {
	if !ns.Valid {
		return nil, nil
	}
	var links []string
	if err := json.Unmarshal([]byte(ns.String), &links); err != nil {
		return nil, fmt.Errorf("unmarshal external_links: %w", err)
	}
	return &links, nil
}

const specColumns = `uuid, id, title, file_path, content, priority, parent_uuid,
	archived, archived_at, created_at, updated_at, external_links`

func scanSpec(scan func(dest ...any) error) (*types.Spec, error) {
	var s types.Spec
	var filePath, parentUUID, archivedAt, extLinks sql.NullString
	var archived int
	var createdAt, updatedAt string

	err := scan(&s.UUID, &s.ID, &s.Title, &filePath, &s.Content, &s.Priority,
		&parentUUID, &archived, &archivedAt, &createdAt, &updatedAt, &extLinks)
	if err != nil {
		return nil, err
	}

	s.FilePath = filePath.String
	s.ParentUUID = strPtr(parentUUID)
	s.Archived = archived != 0
	if s.ArchivedAt, err = parseTimePtr(archivedAt); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if s.ExternalLinks, err = linksFromNull(extLinks); err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSpec inserts a spec and appends a created audit event.
func (s *Store) CreateSpec(ctx context.Context, spec *types.Spec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("invalid spec: %w", err)
	}
	now := time.Now().UTC()
	if spec.CreatedAt.IsZero() {
		spec.CreatedAt = now
	}
	if spec.UpdatedAt.IsZero() {
		spec.UpdatedAt = spec.CreatedAt
	}

	links, err := linksArg(spec.ExternalLinks)
	if err != nil {
		return err
	}
	var filePath any
	if spec.FilePath != "" {
		filePath = spec.FilePath
	}

	_, err = s.q.ExecContext(ctx, `INSERT INTO specs (`+specColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		spec.UUID, spec.ID, spec.Title, filePath, spec.Content, spec.Priority,
		ptrArg(spec.ParentUUID), boolInt(spec.Archived), timeTextPtr(spec.ArchivedAt),
		timeText(spec.CreatedAt), timeText(spec.UpdatedAt), links)
	if err != nil {
		if strings.Contains(err.Error(), "idx_specs_live_path") {
			return fmt.Errorf("%w: %s", storage.ErrDuplicateFilePath, spec.FilePath)
		}
		return fmt.Errorf("create spec %s: %w", spec.ID, err)
	}

	return s.appendAudit(ctx, spec.UUID, types.EntitySpec, types.EventCreated, nil, nil)
}

// GetSpec looks up a spec by human id or uuid.
func (s *Store) GetSpec(ctx context.Context, idOrUUID string) (*types.Spec, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+specColumns+` FROM specs
		WHERE uuid = ? OR id = ? ORDER BY archived ASC LIMIT 1`, idOrUUID, idOrUUID)
	spec, err := scanSpec(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("spec %s: %w", idOrUUID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get spec %s: %w", idOrUUID, err)
	}
	return spec, nil
}

// ListSpecs returns specs matching the filter, in created_at order.
func (s *Store) ListSpecs(ctx context.Context, filter types.SpecFilter) ([]*types.Spec, error) {
	query := `SELECT ` + specColumns + ` FROM specs WHERE 1=1`
	var args []any
	if !filter.IncludeArchived {
		query += ` AND archived = 0`
	}
	if filter.ParentUUID != nil {
		query += ` AND parent_uuid = ?`
		args = append(args, *filter.ParentUUID)
	}
	if filter.Priority != nil {
		query += ` AND priority = ?`
		args = append(args, *filter.Priority)
	}
	if filter.TitleSearch != "" {
		query += ` AND title LIKE ?`
		args = append(args, "%"+filter.TitleSearch+"%")
	}
	for _, tag := range filter.Tags {
		query += ` AND uuid IN (SELECT entity_uuid FROM tags WHERE tag = ?)`
		args = append(args, tag)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list specs: %w", err)
	}
	defer rows.Close()

	var specs []*types.Spec
	for rows.Next() {
		spec, err := scanSpec(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan spec: %w", err)
		}
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

// specPatchColumns maps patch keys to columns for UpdateSpec.
var specPatchColumns = map[string]string{
	"title":          "title",
	"file_path":      "file_path",
	"content":        "content",
	"priority":       "priority",
	"parent_uuid":    "parent_uuid",
	"archived":       "archived",
	"archived_at":    "archived_at",
	"external_links": "external_links",
	"updated_at":     "updated_at",
	"id":             "id",
}

// UpdateSpec applies a partial update: absent keys are skipped, keys
// present with nil clear the column.
func (s *Store) UpdateSpec(ctx context.Context, idOrUUID string, patch storage.Patch) (*types.Spec, error) {
	existing, err := s.GetSpec(ctx, idOrUUID)
	if err != nil {
		return nil, err
	}

	sets, args, err := buildPatch(patch, specPatchColumns)
	if err != nil {
		return nil, fmt.Errorf("update spec %s: %w", idOrUUID, err)
	}
	if len(sets) == 0 {
		return existing, nil
	}
	if _, ok := patch["updated_at"]; !ok {
		sets = append(sets, "updated_at = ?")
		args = append(args, timeText(time.Now().UTC()))
	}
	args = append(args, existing.UUID)

	_, err = s.q.ExecContext(ctx, `UPDATE specs SET `+strings.Join(sets, ", ")+` WHERE uuid = ?`, args...)
	if err != nil {
		if strings.Contains(err.Error(), "idx_specs_live_path") {
			return nil, fmt.Errorf("%w: %v", storage.ErrDuplicateFilePath, patch["file_path"])
		}
		return nil, fmt.Errorf("update spec %s: %w", idOrUUID, err)
	}

	if err := s.appendAudit(ctx, existing.UUID, types.EntitySpec, types.EventUpdated, nil, nil); err != nil {
		return nil, err
	}
	return s.GetSpec(ctx, existing.UUID)
}

// DeleteSpec soft-deletes (archives) the spec and hard-deletes its
// edges and tags.
func (s *Store) DeleteSpec(ctx context.Context, idOrUUID string) error {
	existing, err := s.GetSpec(ctx, idOrUUID)
	if err != nil {
		return err
	}
	now := timeText(time.Now().UTC())
	if _, err := s.q.ExecContext(ctx,
		`UPDATE specs SET archived = 1, archived_at = ?, updated_at = ? WHERE uuid = ?`,
		now, now, existing.UUID); err != nil {
		return fmt.Errorf("archive spec %s: %w", idOrUUID, err)
	}
	if err := s.cascadeEdges(ctx, existing.UUID); err != nil {
		return err
	}
	return s.appendAudit(ctx, existing.UUID, types.EntitySpec, types.EventArchived, nil, nil)
}

// cascadeEdges removes all edges and tags touching the entity.
func (s *Store) cascadeEdges(ctx context.Context, uuid string) error {
	if _, err := s.q.ExecContext(ctx,
		`DELETE FROM relationships WHERE from_uuid = ? OR to_uuid = ?`, uuid, uuid); err != nil {
		return fmt.Errorf("cascade relationships for %s: %w", uuid, err)
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM tags WHERE entity_uuid = ?`, uuid); err != nil {
		return fmt.Errorf("cascade tags for %s: %w", uuid, err)
	}
	return nil
}

// buildPatch converts a Patch into SET clauses. Unknown keys error so
// callers notice typos instead of silently dropping fields.
func buildPatch(patch storage.Patch, columns map[string]string) ([]string, []any, error) {
	var sets []string
	var args []any
	for key, value := range patch {
		col, ok := columns[key]
		if !ok {
			return nil, nil, fmt.Errorf("unknown patch field %q", key)
		}
		sets = append(sets, col+" = ?")
		if value == nil {
			args = append(args, nil)
			continue
		}
		switch v := value.(type) {
		case time.Time:
			args = append(args, timeText(v))
		case *time.Time:
			args = append(args, timeTextPtr(v))
		case bool:
			args = append(args, boolInt(v))
		case []string:
			data, err := json.Marshal(v)
			if err != nil {
				return nil, nil, err
			}
			args = append(args, string(data))
		default:
			args = append(args, v)
		}
	}
	return sets, args, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
