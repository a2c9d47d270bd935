// Package checkpoint turns completed executions into reviewable
// checkpoints on issue streams: it lands the execution's commits on the
// stream branch, captures JSONL-level diffs against the baseline, and
// feeds the ordered merge queue toward the target branch.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/sudocode-ai/sudocode/internal/gitx"
	"github.com/sudocode-ai/sudocode/internal/jsonl"
	"github.com/sudocode-ai/sudocode/internal/types"
)

// JSONL snapshot locations relative to the repository root.
const (
	issuesJSONLPath = ".sudocode/issues.jsonl"
	specsJSONLPath  = ".sudocode/specs.jsonl"
)

// snapshotJSON serializes entity changes for a checkpoint column.
// Returns nil for an empty set: snapshots are null, never [].
func snapshotJSON(changes []types.EntityChange) (*string, error) {
	if len(changes) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	s := string(data)
	return &s, nil
}

// diffIssueSnapshots compares issues.jsonl between two revs.
func diffIssueSnapshots(ctx context.Context, repo, baseRev, afterRev string) ([]types.EntityChange, error) {
	base, err := issuesAtRev(ctx, repo, baseRev)
	if err != nil {
		return nil, err
	}
	after, err := issuesAtRev(ctx, repo, afterRev)
	if err != nil {
		return nil, err
	}
	return diffDocs(base, after), nil
}

// diffSpecSnapshots compares specs.jsonl between two revs.
func diffSpecSnapshots(ctx context.Context, repo, baseRev, afterRev string) ([]types.EntityChange, error) {
	base, err := specsAtRev(ctx, repo, baseRev)
	if err != nil {
		return nil, err
	}
	after, err := specsAtRev(ctx, repo, afterRev)
	if err != nil {
		return nil, err
	}
	return diffDocs(base, after), nil
}

func issuesAtRev(ctx context.Context, repo, rev string) (map[string]map[string]any, error) {
	content, found, err := gitx.ShowFile(ctx, repo, rev, issuesJSONLPath)
	if err != nil || !found {
		return nil, err
	}
	issues, _, err := jsonl.ParseIssues([]byte(content), true)
	if err != nil {
		return nil, fmt.Errorf("parse issues at %s: %w", rev, err)
	}
	docs := make(map[string]map[string]any, len(issues))
	for _, is := range issues {
		doc, err := toDoc(is)
		if err != nil {
			return nil, err
		}
		docs[is.ID] = doc
	}
	return docs, nil
}

func specsAtRev(ctx context.Context, repo, rev string) (map[string]map[string]any, error) {
	content, found, err := gitx.ShowFile(ctx, repo, rev, specsJSONLPath)
	if err != nil || !found {
		return nil, err
	}
	specs, _, err := jsonl.ParseSpecs([]byte(content), true)
	if err != nil {
		return nil, fmt.Errorf("parse specs at %s: %w", rev, err)
	}
	docs := make(map[string]map[string]any, len(specs))
	for _, sp := range specs {
		doc, err := toDoc(sp)
		if err != nil {
			return nil, err
		}
		docs[sp.ID] = doc
	}
	return docs, nil
}

// toDoc flattens an entity through its JSON form so field comparison
// sees exactly what the snapshot file carries.
func toDoc(entity any) (map[string]any, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("marshal entity: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal entity doc: %w", err)
	}
	return doc, nil
}

// diffDocs classifies each entity as created, modified, or deleted.
// updated_at is excluded from changedFields: it moves on every write
// and would drown out the real delta.
func diffDocs(base, after map[string]map[string]any) []types.EntityChange {
	var changes []types.EntityChange
	for id, afterDoc := range after {
		baseDoc, ok := base[id]
		if !ok {
			changes = append(changes, types.EntityChange{ID: id, ChangeType: types.ChangeCreated})
			continue
		}
		if fields := changedFields(baseDoc, afterDoc); len(fields) > 0 {
			changes = append(changes, types.EntityChange{
				ID:            id,
				ChangeType:    types.ChangeModified,
				ChangedFields: fields,
			})
		}
	}
	for id := range base {
		if _, ok := after[id]; !ok {
			changes = append(changes, types.EntityChange{ID: id, ChangeType: types.ChangeDeleted})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].ID < changes[j].ID })
	return changes
}

func changedFields(base, after map[string]any) []string {
	var fields []string
	for key, afterVal := range after {
		if key == "updated_at" {
			continue
		}
		baseVal, ok := base[key]
		if !ok || !reflect.DeepEqual(baseVal, afterVal) {
			fields = append(fields, key)
		}
	}
	for key := range base {
		if key == "updated_at" {
			continue
		}
		if _, ok := after[key]; !ok {
			fields = append(fields, key)
		}
	}
	sort.Strings(fields)
	return fields
}
