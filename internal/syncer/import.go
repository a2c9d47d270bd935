package syncer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sudocode-ai/sudocode/internal/storage"
	"github.com/sudocode-ai/sudocode/internal/types"
)

// ImportResult summarizes one import pass.
type ImportResult struct {
	SpecsCreated  int
	SpecsUpdated  int
	IssuesCreated int
	IssuesUpdated int

	Collisions []Collision
	Warnings   []storage.Warning

	// Renames maps old id → new id for entities renumbered this pass.
	// Inbound text references are not rewritten here; that is a separate
	// migration step run after import.
	Renames map[string]string
}

// Importer applies JSONL snapshots to the store. All mutations for one
// call happen in a single transaction; bus events fire only on commit.
type Importer struct {
	store storage.Storage
	log   zerolog.Logger
}

// NewImporter creates an importer over the store.
func NewImporter(store storage.Storage, log zerolog.Logger) *Importer {
	return &Importer{store: store, log: log.With().Str("component", "importer").Logger()}
}

// Import reconciles incoming specs and issues against the store.
// Either slice may be nil. Entities whose id is in forceUpdate are
// treated as updated even when timestamps match. Incoming records are
// mutated in place by collision renumbering.
func (im *Importer) Import(ctx context.Context, specs []*types.Spec, issues []*types.Issue, forceUpdate map[string]bool) (*ImportResult, error) {
	result := &ImportResult{Renames: make(map[string]string)}

	existingSpecs, err := im.store.ListSpecs(ctx, types.SpecFilter{IncludeArchived: true})
	if err != nil {
		return nil, fmt.Errorf("import: list specs: %w", err)
	}
	existingIssues, err := im.store.ListIssues(ctx, types.IssueFilter{IncludeArchived: true})
	if err != nil {
		return nil, fmt.Errorf("import: list issues: %w", err)
	}

	im.resolve(existingSpecs, existingIssues, specs, issues, result)

	specChanges := DetectChanges(specEntities(existingSpecs), specEntities(specs), forceUpdate)
	issueChanges := DetectChanges(issueEntities(existingIssues), issueEntities(issues), forceUpdate)

	err = im.store.InTransaction(ctx, func(tx storage.Storage) error {
		return im.apply(ctx, tx, specChanges, issueChanges, result)
	})
	if err != nil {
		return nil, err
	}

	im.log.Info().
		Int("specs_created", result.SpecsCreated).
		Int("specs_updated", result.SpecsUpdated).
		Int("issues_created", result.IssuesCreated).
		Int("issues_updated", result.IssuesUpdated).
		Int("collisions", len(result.Collisions)).
		Int("warnings", len(result.Warnings)).
		Msg("import complete")
	return result, nil
}

// resolve renumbers colliding incoming ids per entity type. Feedback
// rows that reference an issue by its legacy human id are rewritten to
// the renumbered id so they still land on the right entity.
func (im *Importer) resolve(existingSpecs []*types.Spec, existingIssues []*types.Issue, specs []*types.Spec, issues []*types.Issue, result *ImportResult) {
	record := func(c Collision) {
		result.Collisions = append(result.Collisions, c)
		im.log.Warn().Str("id", c.ID).Str("uuid", c.UUID).Str("new_id", c.NewID).
			Msg("id collision renumbered")
	}

	liveSpecIDs := make(map[string]string)
	var usedSpecIDs []string
	for _, s := range existingSpecs {
		usedSpecIDs = append(usedSpecIDs, s.ID)
		if !s.Archived {
			liveSpecIDs[s.ID] = s.UUID
		}
	}
	specAlloc := newIDAllocator(usedSpecIDs)
	for old, newID := range resolveCollisions(liveSpecIDs, specEntities(specs), specAlloc, record) {
		result.Renames[old] = newID
	}

	liveIssueIDs := make(map[string]string)
	var usedIssueIDs []string
	for _, i := range existingIssues {
		usedIssueIDs = append(usedIssueIDs, i.ID)
		if !i.Archived {
			liveIssueIDs[i.ID] = i.UUID
		}
	}
	issueOldIDs := make(map[*types.Issue]string, len(issues))
	for _, i := range issues {
		issueOldIDs[i] = i.ID
	}
	issueAlloc := newIDAllocator(usedIssueIDs)
	for old, newID := range resolveCollisions(liveIssueIDs, issueEntities(issues), issueAlloc, record) {
		result.Renames[old] = newID
	}

	for _, i := range issues {
		oldID := issueOldIDs[i]
		if i.ID == oldID {
			continue
		}
		for _, fb := range i.Feedback {
			// Legacy exporters keyed feedback by human id; keep it
			// attached through the rename.
			if fb.ToUUID == oldID {
				fb.ToUUID = i.ID
			}
		}
	}
}

// apply runs the two-pass write inside the transaction: creates without
// parents, tags, then parent linking preserving updated_at, then
// updates with outgoing-edge and feedback replacement.
func (im *Importer) apply(ctx context.Context, tx storage.Storage, specChanges, issueChanges Changes, result *ImportResult) error {
	// Pass 1: create added entities without parent links so forward
	// parent references within the batch cannot fail.
	for _, e := range specChanges.Added {
		sp := e.(*types.Spec)
		clone := *sp
		clone.ParentUUID = nil
		clone.Relationships = nil
		clone.Tags = nil
		if err := tx.CreateSpec(ctx, &clone); err != nil {
			return fmt.Errorf("import spec %s: %w", sp.ID, err)
		}
		for _, tag := range sp.Tags {
			if err := tx.AddTag(ctx, sp.UUID, types.EntitySpec, tag); err != nil {
				return fmt.Errorf("import spec %s tag %q: %w", sp.ID, tag, err)
			}
		}
		result.SpecsCreated++
	}
	for _, e := range issueChanges.Added {
		is := e.(*types.Issue)
		clone := *is
		clone.ParentUUID = nil
		clone.Relationships = nil
		clone.Tags = nil
		clone.Feedback = nil
		if err := tx.CreateIssue(ctx, &clone); err != nil {
			return fmt.Errorf("import issue %s: %w", is.ID, err)
		}
		for _, tag := range is.Tags {
			if err := tx.AddTag(ctx, is.UUID, types.EntityIssue, tag); err != nil {
				return fmt.Errorf("import issue %s tag %q: %w", is.ID, tag, err)
			}
		}
		result.IssuesCreated++
	}

	// Pass 2: parent links, preserving the incoming updated_at so the
	// linking write is invisible to change detection.
	for _, e := range specChanges.Added {
		sp := e.(*types.Spec)
		if sp.ParentUUID == nil {
			continue
		}
		patch := storage.Patch{"parent_uuid": *sp.ParentUUID, "updated_at": sp.UpdatedAt}
		if _, err := tx.UpdateSpec(ctx, sp.UUID, patch); err != nil {
			return fmt.Errorf("import spec %s parent: %w", sp.ID, err)
		}
	}
	for _, e := range issueChanges.Added {
		is := e.(*types.Issue)
		if is.ParentUUID == nil {
			continue
		}
		patch := storage.Patch{"parent_uuid": *is.ParentUUID, "updated_at": is.UpdatedAt}
		if _, err := tx.UpdateIssue(ctx, is.UUID, patch); err != nil {
			return fmt.Errorf("import issue %s parent: %w", is.ID, err)
		}
	}

	// Relationships and feedback for added entities.
	for _, e := range specChanges.Added {
		sp := e.(*types.Spec)
		if err := im.addRelationships(ctx, tx, sp.ID, sp.Relationships, result); err != nil {
			return err
		}
	}
	for _, e := range issueChanges.Added {
		is := e.(*types.Issue)
		if err := im.addRelationships(ctx, tx, is.ID, is.Relationships, result); err != nil {
			return err
		}
		if err := im.replaceFeedback(ctx, tx, is); err != nil {
			return err
		}
	}

	// Updates: field patch, outgoing-edge replacement (incoming edges
	// belong to other entities and are preserved), tag sync, feedback
	// replacement for issues.
	for _, e := range specChanges.Updated {
		sp := e.(*types.Spec)
		if err := im.updateSpec(ctx, tx, sp, result); err != nil {
			return err
		}
	}
	for _, e := range issueChanges.Updated {
		is := e.(*types.Issue)
		if err := im.updateIssue(ctx, tx, is, result); err != nil {
			return err
		}
	}
	return nil
}

func (im *Importer) updateSpec(ctx context.Context, tx storage.Storage, sp *types.Spec, result *ImportResult) error {
	patch := storage.Patch{
		"id":         sp.ID,
		"title":      sp.Title,
		"content":    sp.Content,
		"priority":   sp.Priority,
		"archived":   sp.Archived,
		"updated_at": sp.UpdatedAt,
	}
	if sp.FilePath != "" {
		patch["file_path"] = sp.FilePath
	}
	if sp.ParentUUID != nil {
		patch["parent_uuid"] = *sp.ParentUUID
	} else {
		patch["parent_uuid"] = nil
	}
	addLinksPatch(patch, sp.ExternalLinks)
	addArchivedAtPatch(patch, sp.Archived, sp.ArchivedAt)

	if _, err := tx.UpdateSpec(ctx, sp.UUID, patch); err != nil {
		return fmt.Errorf("import update spec %s: %w", sp.ID, err)
	}
	if err := im.replaceEdges(ctx, tx, sp.UUID, sp.ID, sp.Relationships, result); err != nil {
		return err
	}
	if err := syncTags(ctx, tx, sp.UUID, types.EntitySpec, sp.Tags); err != nil {
		return fmt.Errorf("import update spec %s tags: %w", sp.ID, err)
	}
	result.SpecsUpdated++
	return nil
}

func (im *Importer) updateIssue(ctx context.Context, tx storage.Storage, is *types.Issue, result *ImportResult) error {
	patch := storage.Patch{
		"id":         is.ID,
		"title":      is.Title,
		"status":     string(is.Status),
		"content":    is.Content,
		"priority":   is.Priority,
		"archived":   is.Archived,
		"updated_at": is.UpdatedAt,
	}
	if is.Assignee != nil {
		patch["assignee"] = *is.Assignee
	} else {
		patch["assignee"] = nil
	}
	if is.ParentUUID != nil {
		patch["parent_uuid"] = *is.ParentUUID
	} else {
		patch["parent_uuid"] = nil
	}
	if is.ClosedAt != nil {
		patch["closed_at"] = *is.ClosedAt
	}
	addLinksPatch(patch, is.ExternalLinks)
	addArchivedAtPatch(patch, is.Archived, is.ArchivedAt)

	if _, err := tx.UpdateIssue(ctx, is.UUID, patch); err != nil {
		return fmt.Errorf("import update issue %s: %w", is.ID, err)
	}
	if err := im.replaceEdges(ctx, tx, is.UUID, is.ID, is.Relationships, result); err != nil {
		return err
	}
	if err := syncTags(ctx, tx, is.UUID, types.EntityIssue, is.Tags); err != nil {
		return fmt.Errorf("import update issue %s tags: %w", is.ID, err)
	}
	if err := im.replaceFeedback(ctx, tx, is); err != nil {
		return err
	}
	result.IssuesUpdated++
	return nil
}

// addLinksPatch encodes the tri-state external_links semantics: absent
// on the wire means skip, explicit null clears, an array replaces.
func addLinksPatch(patch storage.Patch, links *[]string) {
	if links == nil {
		return
	}
	if *links == nil {
		patch["external_links"] = nil
		return
	}
	patch["external_links"] = *links
}

func addArchivedAtPatch(patch storage.Patch, archived bool, at any) {
	if archived {
		patch["archived_at"] = at
	} else {
		patch["archived_at"] = nil
	}
}

func (im *Importer) addRelationships(ctx context.Context, tx storage.Storage, id string, rels []*types.Relationship, result *ImportResult) error {
	for _, rel := range rels {
		warn, err := tx.AddRelationship(ctx, rel)
		if err != nil {
			return fmt.Errorf("import %s relationship: %w", id, err)
		}
		if warn != nil {
			result.Warnings = append(result.Warnings, *warn)
			im.log.Warn().Str("id", id).Str("to", rel.ToUUID).Str("code", warn.Code).
				Msg("relationship endpoint missing")
		}
	}
	return nil
}

func (im *Importer) replaceEdges(ctx context.Context, tx storage.Storage, uuid, id string, rels []*types.Relationship, result *ImportResult) error {
	if err := tx.RemoveOutgoingRelationships(ctx, uuid); err != nil {
		return fmt.Errorf("import %s clear edges: %w", id, err)
	}
	return im.addRelationships(ctx, tx, id, rels, result)
}

func (im *Importer) replaceFeedback(ctx context.Context, tx storage.Storage, is *types.Issue) error {
	if err := tx.DeleteFeedbackFor(ctx, is.UUID); err != nil {
		return fmt.Errorf("import issue %s clear feedback: %w", is.ID, err)
	}
	for _, fb := range is.Feedback {
		clone := *fb
		if clone.ToUUID == is.ID || clone.ToUUID == "" {
			clone.ToUUID = is.UUID
		}
		if err := tx.CreateFeedback(ctx, &clone); err != nil {
			return fmt.Errorf("import issue %s feedback: %w", is.ID, err)
		}
	}
	return nil
}

// syncTags makes the stored tag set equal the incoming one.
func syncTags(ctx context.Context, tx storage.Storage, uuid string, kind types.EntityType, tags []string) error {
	current, err := tx.GetTags(ctx, uuid)
	if err != nil {
		return err
	}
	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[t] = true
	}
	for _, t := range current {
		if !want[t] {
			if err := tx.RemoveTag(ctx, uuid, t); err != nil {
				return err
			}
		}
	}
	for _, t := range tags {
		if err := tx.AddTag(ctx, uuid, kind, t); err != nil {
			return err
		}
	}
	return nil
}

func specEntities(specs []*types.Spec) []types.Entity {
	out := make([]types.Entity, len(specs))
	for i, s := range specs {
		out[i] = s
	}
	return out
}

func issueEntities(issues []*types.Issue) []types.Entity {
	out := make([]types.Entity, len(issues))
	for i, is := range issues {
		out[i] = is
	}
	return out
}
