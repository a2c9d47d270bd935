package syncer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sudocode-ai/sudocode/internal/jsonl"
	"github.com/sudocode-ai/sudocode/internal/storage"
	"github.com/sudocode-ai/sudocode/internal/types"
)

// Exporter projects store state into the JSONL snapshots. Writes are
// atomic and idempotent: unchanged content touches neither the file nor
// its mtime, which is what keeps the watcher from looping.
type Exporter struct {
	store storage.Storage
	log   zerolog.Logger
}

// NewExporter creates an exporter over the store.
func NewExporter(store storage.Storage, log zerolog.Logger) *Exporter {
	return &Exporter{store: store, log: log.With().Str("component", "exporter").Logger()}
}

// ExportSpecs writes all specs, including archived ones, to path.
// Reports whether the file changed.
func (e *Exporter) ExportSpecs(ctx context.Context, path string) (bool, error) {
	specs, err := e.store.ListSpecs(ctx, types.SpecFilter{IncludeArchived: true})
	if err != nil {
		return false, fmt.Errorf("export specs: %w", err)
	}
	for _, sp := range specs {
		if sp.Relationships, err = e.store.GetOutgoingRelationships(ctx, sp.UUID); err != nil {
			return false, fmt.Errorf("export spec %s edges: %w", sp.ID, err)
		}
		if sp.Tags, err = e.store.GetTags(ctx, sp.UUID); err != nil {
			return false, fmt.Errorf("export spec %s tags: %w", sp.ID, err)
		}
	}
	written, err := jsonl.WriteSpecs(path, specs)
	if err != nil {
		return false, err
	}
	if written {
		e.log.Debug().Str("path", path).Int("count", len(specs)).Msg("specs exported")
	}
	return written, nil
}

// ExportIssues writes all issues, including archived ones, to path.
func (e *Exporter) ExportIssues(ctx context.Context, path string) (bool, error) {
	issues, err := e.store.ListIssues(ctx, types.IssueFilter{IncludeArchived: true})
	if err != nil {
		return false, fmt.Errorf("export issues: %w", err)
	}
	for _, is := range issues {
		if is.Relationships, err = e.store.GetOutgoingRelationships(ctx, is.UUID); err != nil {
			return false, fmt.Errorf("export issue %s edges: %w", is.ID, err)
		}
		if is.Tags, err = e.store.GetTags(ctx, is.UUID); err != nil {
			return false, fmt.Errorf("export issue %s tags: %w", is.ID, err)
		}
		if is.Feedback, err = e.store.ListFeedback(ctx, is.UUID); err != nil {
			return false, fmt.Errorf("export issue %s feedback: %w", is.ID, err)
		}
	}
	written, err := jsonl.WriteIssues(path, issues)
	if err != nil {
		return false, err
	}
	if written {
		e.log.Debug().Str("path", path).Int("count", len(issues)).Msg("issues exported")
	}
	return written, nil
}
