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

const issueColumns = `uuid, id, title, status, content, priority, assignee, parent_uuid,
	archived, archived_at, created_at, updated_at, closed_at, external_links`

func scanIssue(scan func(dest ...any) error) (*types.Issue, error) {
	var i types.Issue
	var assignee, parentUUID, archivedAt, closedAt, extLinks sql.NullString
	var archived int
	var createdAt, updatedAt string

	err := scan(&i.UUID, &i.ID, &i.Title, &i.Status, &i.Content, &i.Priority,
		&assignee, &parentUUID, &archived, &archivedAt, &createdAt, &updatedAt,
		&closedAt, &extLinks)
	if err != nil {
		return nil, err
	}

	i.Assignee = strPtr(assignee)
	i.ParentUUID = strPtr(parentUUID)
	i.Archived = archived != 0
	if i.ArchivedAt, err = parseTimePtr(archivedAt); err != nil {
		return nil, err
	}
	if i.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if i.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if i.ClosedAt, err = parseTimePtr(closedAt); err != nil {
		return nil, err
	}
	if i.ExternalLinks, err = linksFromNull(extLinks); err != nil {
		return nil, err
	}
	return &i, nil
}

// CreateIssue inserts an issue and appends a created audit event.
func (s *Store) CreateIssue(ctx context.Context, issue *types.Issue) error {
	issue.SetDefaults()
	if err := issue.Validate(); err != nil {
		return fmt.Errorf("invalid issue: %w", err)
	}
	now := time.Now().UTC()
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = now
	}
	if issue.UpdatedAt.IsZero() {
		issue.UpdatedAt = issue.CreatedAt
	}

	links, err := linksArg(issue.ExternalLinks)
	if err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx, `INSERT INTO issues (`+issueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.UUID, issue.ID, issue.Title, string(issue.Status), issue.Content, issue.Priority,
		ptrArg(issue.Assignee), ptrArg(issue.ParentUUID), boolInt(issue.Archived),
		timeTextPtr(issue.ArchivedAt), timeText(issue.CreatedAt), timeText(issue.UpdatedAt),
		timeTextPtr(issue.ClosedAt), links)
	if err != nil {
		return fmt.Errorf("create issue %s: %w", issue.ID, err)
	}

	return s.appendAudit(ctx, issue.UUID, types.EntityIssue, types.EventCreated, nil, nil)
}

// GetIssue looks up an issue by human id or uuid.
func (s *Store) GetIssue(ctx context.Context, idOrUUID string) (*types.Issue, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues
		WHERE uuid = ? OR id = ? ORDER BY archived ASC LIMIT 1`, idOrUUID, idOrUUID)
	issue, err := scanIssue(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("issue %s: %w", idOrUUID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", idOrUUID, err)
	}
	return issue, nil
}

// ListIssues returns issues matching the filter, in created_at order.
func (s *Store) ListIssues(ctx context.Context, filter types.IssueFilter) ([]*types.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues WHERE 1=1`
	var args []any
	if !filter.IncludeArchived {
		query += ` AND archived = 0`
	}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	if filter.Priority != nil {
		query += ` AND priority = ?`
		args = append(args, *filter.Priority)
	}
	if filter.Assignee != nil {
		query += ` AND assignee = ?`
		args = append(args, *filter.Assignee)
	}
	if filter.ParentUUID != nil {
		query += ` AND parent_uuid = ?`
		args = append(args, *filter.ParentUUID)
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
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	var issues []*types.Issue
	for rows.Next() {
		issue, err := scanIssue(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

var issuePatchColumns = map[string]string{
	"title":          "title",
	"status":         "status",
	"content":        "content",
	"priority":       "priority",
	"assignee":       "assignee",
	"parent_uuid":    "parent_uuid",
	"archived":       "archived",
	"archived_at":    "archived_at",
	"closed_at":      "closed_at",
	"external_links": "external_links",
	"updated_at":     "updated_at",
	"id":             "id",
}

// UpdateIssue applies a partial update with skip/clear patch semantics.
// A status change emits issue:status_changed and maintains closed_at.
func (s *Store) UpdateIssue(ctx context.Context, idOrUUID string, patch storage.Patch) (*types.Issue, error) {
	existing, err := s.GetIssue(ctx, idOrUUID)
	if err != nil {
		return nil, err
	}

	var newStatus *types.IssueStatus
	if raw, ok := patch["status"]; ok && raw != nil {
		st := types.IssueStatus(fmt.Sprintf("%v", raw))
		if !st.IsValid() {
			return nil, fmt.Errorf("update issue %s: invalid status %q", idOrUUID, st)
		}
		newStatus = &st
		patch["status"] = string(st)
		// closed_at tracks the closed status unless the caller set it.
		if _, has := patch["closed_at"]; !has {
			if st == types.StatusClosed {
				patch["closed_at"] = time.Now().UTC()
			} else {
				patch["closed_at"] = nil
			}
		}
	}

	sets, args, err := buildPatch(patch, issuePatchColumns)
	if err != nil {
		return nil, fmt.Errorf("update issue %s: %w", idOrUUID, err)
	}
	if len(sets) == 0 {
		return existing, nil
	}
	if _, ok := patch["updated_at"]; !ok {
		sets = append(sets, "updated_at = ?")
		args = append(args, timeText(time.Now().UTC()))
	}
	args = append(args, existing.UUID)

	if _, err := s.q.ExecContext(ctx,
		`UPDATE issues SET `+strings.Join(sets, ", ")+` WHERE uuid = ?`, args...); err != nil {
		return nil, fmt.Errorf("update issue %s: %w", idOrUUID, err)
	}

	if newStatus != nil && *newStatus != existing.Status {
		old := string(existing.Status)
		now := string(*newStatus)
		if err := s.appendAudit(ctx, existing.UUID, types.EntityIssue, types.EventStatusChanged, &old, &now); err != nil {
			return nil, err
		}
		p := eventbus.NewPayload(eventbus.EventIssueStatusChanged)
		p.Kind = types.EntityIssue
		p.ID = existing.ID
		p.UUID = existing.UUID
		p.Extra = map[string]any{"old_status": old, "new_status": now}
		s.emit(eventbus.EventIssueStatusChanged, p)
	} else {
		if err := s.appendAudit(ctx, existing.UUID, types.EntityIssue, types.EventUpdated, nil, nil); err != nil {
			return nil, err
		}
	}
	return s.GetIssue(ctx, existing.UUID)
}

// DeleteIssue soft-deletes (archives) the issue and hard-deletes its
// edges and tags.
func (s *Store) DeleteIssue(ctx context.Context, idOrUUID string) error {
	existing, err := s.GetIssue(ctx, idOrUUID)
	if err != nil {
		return err
	}
	now := timeText(time.Now().UTC())
	if _, err := s.q.ExecContext(ctx,
		`UPDATE issues SET archived = 1, archived_at = ?, updated_at = ? WHERE uuid = ?`,
		now, now, existing.UUID); err != nil {
		return fmt.Errorf("archive issue %s: %w", idOrUUID, err)
	}
	if err := s.cascadeEdges(ctx, existing.UUID); err != nil {
		return err
	}
	return s.appendAudit(ctx, existing.UUID, types.EntityIssue, types.EventArchived, nil, nil)
}
