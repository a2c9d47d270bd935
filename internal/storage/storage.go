// Package storage defines the interface satisfied by the embedded
// SQLite store, plus the sentinel errors and patch semantics shared by
// its consumers. Callers depend on this interface rather than the
// concrete type so that tests can substitute fakes.
package storage

import (
	"context"
	"errors"

	"github.com/sudocode-ai/sudocode/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotInitialized is returned when the base directory has no store.
var ErrNotInitialized = errors.New("store not initialized")

// ErrDuplicateFilePath is returned when a live spec would share a
// file_path with another live spec.
var ErrDuplicateFilePath = errors.New("duplicate file_path")

// ErrWorktreeBusy is returned when an execution is created against a
// worktree path that already has a non-terminal execution.
var ErrWorktreeBusy = errors.New("worktree already has an active execution")

// Patch is a partial update. A key that is absent is skipped; a key
// present with a nil value clears the field. This distinction is
// load-bearing for round-trip stability between the codecs and the
// store.
type Patch map[string]any

// Warning is a recoverable problem attached to an operation result
// (e.g. a relationship endpoint that does not exist yet).
type Warning struct {
	Code    string
	Message string
}

// Storage is the full store surface. All multi-row operations compose
// inside InTransaction; a rolled-back transaction emits no events.
type Storage interface {
	// Specs
	CreateSpec(ctx context.Context, spec *types.Spec) error
	GetSpec(ctx context.Context, idOrUUID string) (*types.Spec, error)
	ListSpecs(ctx context.Context, filter types.SpecFilter) ([]*types.Spec, error)
	UpdateSpec(ctx context.Context, idOrUUID string, patch Patch) (*types.Spec, error)
	DeleteSpec(ctx context.Context, idOrUUID string) error

	// Issues
	CreateIssue(ctx context.Context, issue *types.Issue) error
	GetIssue(ctx context.Context, idOrUUID string) (*types.Issue, error)
	ListIssues(ctx context.Context, filter types.IssueFilter) ([]*types.Issue, error)
	UpdateIssue(ctx context.Context, idOrUUID string, patch Patch) (*types.Issue, error)
	DeleteIssue(ctx context.Context, idOrUUID string) error

	// Relationships. Adding an edge whose endpoint is missing returns a
	// Warning, not an error; the containing transaction still commits.
	AddRelationship(ctx context.Context, rel *types.Relationship) (*Warning, error)
	RemoveRelationship(ctx context.Context, fromUUID, toUUID string, relType types.RelationshipType) error
	RemoveOutgoingRelationships(ctx context.Context, fromUUID string) error
	GetOutgoingRelationships(ctx context.Context, fromUUID string) ([]*types.Relationship, error)
	GetIncomingRelationships(ctx context.Context, toUUID string) ([]*types.Relationship, error)

	// Tags
	AddTag(ctx context.Context, entityUUID string, entityType types.EntityType, tag string) error
	RemoveTag(ctx context.Context, entityUUID string, tag string) error
	GetTags(ctx context.Context, entityUUID string) ([]string, error)
	GetEntitiesByTag(ctx context.Context, tag string) ([]string, error)

	// Feedback
	CreateFeedback(ctx context.Context, fb *types.Feedback) error
	ListFeedback(ctx context.Context, toUUID string) ([]*types.Feedback, error)
	DeleteFeedbackFor(ctx context.Context, toUUID string) error

	// Events (append-only audit log)
	AppendEvent(ctx context.Context, event *types.Event) error
	ListEvents(ctx context.Context, entityUUID string) ([]*types.Event, error)

	// Executions
	CreateExecution(ctx context.Context, exec *types.Execution) error
	GetExecution(ctx context.Context, id string) (*types.Execution, error)
	ListExecutions(ctx context.Context, issueUUID string) ([]*types.Execution, error)
	UpdateExecution(ctx context.Context, id string, patch Patch) (*types.Execution, error)

	// Checkpoints
	CreateCheckpoint(ctx context.Context, cp *types.Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (*types.Checkpoint, error)
	ListCheckpoints(ctx context.Context, streamID string) ([]*types.Checkpoint, error)
	UpdateCheckpoint(ctx context.Context, id string, patch Patch) (*types.Checkpoint, error)

	// Streams
	CreateStream(ctx context.Context, stream *types.Stream) error
	GetStream(ctx context.Context, id string) (*types.Stream, error)
	GetStreamForIssue(ctx context.Context, issueUUID string) (*types.Stream, error)
	UpdateStream(ctx context.Context, id string, patch Patch) (*types.Stream, error)

	// Merge queue. Positions within a target branch are kept a dense
	// permutation by the store.
	EnqueueMerge(ctx context.Context, entry *types.MergeQueueEntry) error
	ListMergeQueue(ctx context.Context, targetBranch string) ([]*types.MergeQueueEntry, error)
	UpdateMergeEntry(ctx context.Context, id string, patch Patch) (*types.MergeQueueEntry, error)
	RemoveMergeEntry(ctx context.Context, id string) error
	ReorderMergeEntry(ctx context.Context, id string, newPosition int) error

	// Statistics for status reporting.
	Statistics(ctx context.Context) (*types.Statistics, error)

	// InTransaction runs fn against a transactional view of the store.
	// Events produced inside are emitted only after commit.
	InTransaction(ctx context.Context, fn func(tx Storage) error) error

	Close() error
}
