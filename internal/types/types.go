// Package types defines the core entity model shared by the store,
// the serialization codecs, and the sync engine.
package types

import (
	"fmt"
	"time"
)

// EntityType discriminates the two first-class entity kinds.
type EntityType string

// Entity type constants
const (
	EntitySpec  EntityType = "spec"
	EntityIssue EntityType = "issue"
)

// IsValid checks if the entity type value is valid
func (t EntityType) IsValid() bool {
	return t == EntitySpec || t == EntityIssue
}

// Entity is the common surface the sync engine needs from specs and
// issues. The UUID is the identity of record; the ID is a label that
// may be renumbered on import collisions.
type Entity interface {
	EntityID() string
	EntityUUID() string
	EntityKind() EntityType
	Created() time.Time
	Updated() time.Time
}

// Spec represents a design document tracked by the store.
type Spec struct {
	ID         string     `json:"id"`
	UUID       string     `json:"uuid"`
	Title      string     `json:"title"`
	FilePath   string     `json:"file_path,omitempty"` // relative markdown location, unique among live specs
	Content    string     `json:"content,omitempty"`
	Priority   int        `json:"priority"` // no omitempty: 0 is a valid priority
	ParentUUID *string    `json:"parent_uuid,omitempty"`
	Archived   bool       `json:"archived,omitempty"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	// ExternalLinks is tri-state on the wire: nil pointer = absent,
	// pointer to nil slice = explicit null (clears), else an array.
	ExternalLinks *[]string `json:"external_links,omitempty"`

	// Populated only for export/import
	Relationships []*Relationship `json:"relationships,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
}

// EntityID implements Entity.
func (s *Spec) EntityID() string { return s.ID }

// EntityUUID implements Entity.
func (s *Spec) EntityUUID() string { return s.UUID }

// EntityKind implements Entity.
func (s *Spec) EntityKind() EntityType { return EntitySpec }

// Created implements Entity.
func (s *Spec) Created() time.Time { return s.CreatedAt }

// Updated implements Entity.
func (s *Spec) Updated() time.Time { return s.UpdatedAt }

// Validate checks field values before the spec is persisted.
func (s *Spec) Validate() error {
	if s.Title == "" {
		return fmt.Errorf("title is required")
	}
	if s.UUID == "" {
		return fmt.Errorf("uuid is required")
	}
	if s.Priority < 0 || s.Priority > 4 {
		return fmt.Errorf("priority must be between 0 and 4 (got %d)", s.Priority)
	}
	return nil
}

// IssueStatus represents the current state of an issue
type IssueStatus string

// Issue status constants
const (
	StatusOpen        IssueStatus = "open"
	StatusInProgress  IssueStatus = "in_progress"
	StatusBlocked     IssueStatus = "blocked"
	StatusNeedsReview IssueStatus = "needs_review"
	StatusClosed      IssueStatus = "closed"
)

// IsValid checks if the status value is valid
func (s IssueStatus) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusNeedsReview, StatusClosed:
		return true
	}
	return false
}

// Issue represents a trackable work item.
type Issue struct {
	ID         string      `json:"id"`
	UUID       string      `json:"uuid"`
	Title      string      `json:"title"`
	Status     IssueStatus `json:"status,omitempty"`
	Content    string      `json:"content,omitempty"`
	Priority   int         `json:"priority"`
	Assignee   *string     `json:"assignee,omitempty"`
	ParentUUID *string     `json:"parent_uuid,omitempty"`
	Archived   bool        `json:"archived,omitempty"`
	ArchivedAt *time.Time  `json:"archived_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	ClosedAt   *time.Time  `json:"closed_at,omitempty"`

	ExternalLinks *[]string `json:"external_links,omitempty"`

	// Populated only for export/import
	Relationships []*Relationship `json:"relationships,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	Feedback      []*Feedback     `json:"feedback,omitempty"`
}

// EntityID implements Entity.
func (i *Issue) EntityID() string { return i.ID }

// EntityUUID implements Entity.
func (i *Issue) EntityUUID() string { return i.UUID }

// EntityKind implements Entity.
func (i *Issue) EntityKind() EntityType { return EntityIssue }

// Created implements Entity.
func (i *Issue) Created() time.Time { return i.CreatedAt }

// Updated implements Entity.
func (i *Issue) Updated() time.Time { return i.UpdatedAt }

// SetDefaults applies defaults for fields omitted during JSONL import.
func (i *Issue) SetDefaults() {
	if i.Status == "" {
		i.Status = StatusOpen
	}
}

// Validate checks field values before the issue is persisted.
func (i *Issue) Validate() error {
	if i.Title == "" {
		return fmt.Errorf("title is required")
	}
	if i.UUID == "" {
		return fmt.Errorf("uuid is required")
	}
	if i.Priority < 0 || i.Priority > 4 {
		return fmt.Errorf("priority must be between 0 and 4 (got %d)", i.Priority)
	}
	if !i.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", i.Status)
	}
	if i.Status == StatusClosed && i.ClosedAt == nil {
		return fmt.Errorf("closed issues must have closed_at timestamp")
	}
	return nil
}

// RelationshipType categorizes a directed edge between entities
type RelationshipType string

// Relationship type constants
const (
	RelBlocks         RelationshipType = "blocks"
	RelRelated        RelationshipType = "related"
	RelDiscoveredFrom RelationshipType = "discovered-from"
	RelImplements     RelationshipType = "implements"
	RelReferences     RelationshipType = "references"
	RelDependsOn      RelationshipType = "depends-on"
)

// IsValid checks if the relationship type value is valid
func (r RelationshipType) IsValid() bool {
	switch r {
	case RelBlocks, RelRelated, RelDiscoveredFrom, RelImplements, RelReferences, RelDependsOn:
		return true
	}
	return false
}

// Relationship is a directed edge between two entities. Outgoing edges
// are owned by the source entity; incoming edges are index lookups.
type Relationship struct {
	FromUUID string           `json:"from"`
	FromType EntityType       `json:"from_type"`
	ToUUID   string           `json:"to"`
	ToType   EntityType       `json:"to_type"`
	Type     RelationshipType `json:"type"`
}

// Tag attaches a label string to an entity. Membership only.
type Tag struct {
	EntityUUID string     `json:"entity_uuid"`
	EntityType EntityType `json:"entity_type"`
	Tag        string     `json:"tag"`
}

// FeedbackType categorizes feedback attached to an entity
type FeedbackType string

// Feedback type constants
const (
	FeedbackComment    FeedbackType = "comment"
	FeedbackSuggestion FeedbackType = "suggestion"
	FeedbackRequest    FeedbackType = "request"
)

// Anchor locates feedback within an entity body, with fuzzy relocation
// context so the anchor survives nearby edits.
type Anchor struct {
	Line       int    `json:"line,omitempty"`
	Heading    string `json:"heading,omitempty"`
	TextBefore string `json:"text_before,omitempty"`
	TextAfter  string `json:"text_after,omitempty"`
}

// Feedback is a comment, suggestion, or request attached to an entity.
// FromUUID may be absent for external or anonymous feedback.
type Feedback struct {
	ID           string       `json:"id"`
	FromUUID     *string      `json:"from_uuid,omitempty"`
	ToUUID       string       `json:"to_uuid"`
	FeedbackType FeedbackType `json:"feedback_type"`
	Content      string       `json:"content"`
	Anchor       *Anchor      `json:"anchor,omitempty"`
	Dismissed    bool         `json:"dismissed,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// feedbackAlias accepts legacy field names alongside canonical ones.
// Older exporters wrote from_id / issue_id; we accept either and write
// only the canonical form.
type feedbackAlias struct {
	ID           string       `json:"id"`
	FromUUID     *string      `json:"from_uuid"`
	FromID       *string      `json:"from_id"`
	ToUUID       string       `json:"to_uuid"`
	IssueID      string       `json:"issue_id"`
	FeedbackType FeedbackType `json:"feedback_type"`
	Content      string       `json:"content"`
	Anchor       *Anchor      `json:"anchor"`
	Dismissed    bool         `json:"dismissed"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Normalize maps legacy alias fields onto their canonical names.
func (f *Feedback) normalizeFrom(a feedbackAlias) {
	f.ID = a.ID
	f.FromUUID = a.FromUUID
	if f.FromUUID == nil && a.FromID != nil {
		f.FromUUID = a.FromID
	}
	f.ToUUID = a.ToUUID
	if f.ToUUID == "" {
		f.ToUUID = a.IssueID
	}
	f.FeedbackType = a.FeedbackType
	f.Content = a.Content
	f.Anchor = a.Anchor
	f.Dismissed = a.Dismissed
	f.CreatedAt = a.CreatedAt
	f.UpdatedAt = a.UpdatedAt
}

// EventType categorizes audit trail events
type EventType string

// Event type constants for the audit trail
const (
	EventCreated           EventType = "created"
	EventUpdated           EventType = "updated"
	EventStatusChanged     EventType = "status_changed"
	EventArchived          EventType = "archived"
	EventRelationshipAdded EventType = "relationship_added"
	EventTagAdded          EventType = "tag_added"
	EventTagRemoved        EventType = "tag_removed"
	EventFeedbackAdded     EventType = "feedback_added"
)

// Event is an append-only audit trail entry keyed by entity UUID.
type Event struct {
	ID         int64      `json:"id"`
	EntityUUID string     `json:"entity_uuid"`
	EntityType EntityType `json:"entity_type"`
	EventType  EventType  `json:"event_type"`
	Actor      string     `json:"actor,omitempty"`
	OldValue   *string    `json:"old_value,omitempty"`
	NewValue   *string    `json:"new_value,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ExecutionStatus represents the state of an agent execution
type ExecutionStatus string

// Execution status constants
const (
	ExecPreparing  ExecutionStatus = "preparing"
	ExecPending    ExecutionStatus = "pending"
	ExecRunning    ExecutionStatus = "running"
	ExecPaused     ExecutionStatus = "paused"
	ExecWaiting    ExecutionStatus = "waiting"
	ExecCompleted  ExecutionStatus = "completed"
	ExecFailed     ExecutionStatus = "failed"
	ExecCancelled  ExecutionStatus = "cancelled"
	ExecStopped    ExecutionStatus = "stopped"
	ExecConflicted ExecutionStatus = "conflicted"
)

// IsValid checks if the execution status value is valid
func (s ExecutionStatus) IsValid() bool {
	switch s {
	case ExecPreparing, ExecPending, ExecRunning, ExecPaused, ExecWaiting,
		ExecCompleted, ExecFailed, ExecCancelled, ExecStopped, ExecConflicted:
		return true
	}
	return false
}

// IsTerminal reports whether the status is a terminal state.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecCompleted, ExecFailed, ExecCancelled, ExecStopped, ExecConflicted:
		return true
	}
	return false
}

// Execution is one run of a coding agent on an issue within a worktree.
type Execution struct {
	ID                  string          `json:"id"`
	IssueUUID           string          `json:"issue_uuid"`
	AgentType           string          `json:"agent_type"`
	Status              ExecutionStatus `json:"status"`
	TargetBranch        string          `json:"target_branch,omitempty"`
	BranchName          string          `json:"branch_name,omitempty"`
	WorktreePath        string          `json:"worktree_path,omitempty"`
	BeforeCommit        string          `json:"before_commit,omitempty"`
	AfterCommit         string          `json:"after_commit,omitempty"`
	StreamID            string          `json:"stream_id,omitempty"`
	ParentExecutionID   *string         `json:"parent_execution_id,omitempty"`
	WorkflowExecutionID *string         `json:"workflow_execution_id,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	StartedAt           *time.Time      `json:"started_at,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

// ReviewStatus tracks human review of a checkpoint
type ReviewStatus string

// Review status constants
const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// ChangeType classifies how an entity changed between two baselines
type ChangeType string

// Change type constants
const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// EntityChange records one entity's delta inside a checkpoint snapshot.
type EntityChange struct {
	ID            string     `json:"id"`
	ChangeType    ChangeType `json:"changeType"`
	ChangedFields []string   `json:"changedFields,omitempty"`
}

// Checkpoint is a persisted, reviewable commit on an issue stream
// carrying a JSONL-diff snapshot.
type Checkpoint struct {
	ID             string       `json:"id"`
	IssueUUID      string       `json:"issue_uuid"`
	ExecutionID    string       `json:"execution_id"`
	StreamID       string       `json:"stream_id"`
	CommitSHA      string       `json:"commit_sha"`
	ParentCommit   *string      `json:"parent_commit,omitempty"`
	ChangedFiles   int          `json:"changed_files"`
	Additions      int          `json:"additions"`
	Deletions      int          `json:"deletions"`
	Message        string       `json:"message,omitempty"`
	CheckpointedAt time.Time    `json:"checkpointed_at"`
	ReviewStatus   ReviewStatus `json:"review_status"`

	// Serialized []EntityChange, or nil when the checkpoint touched no
	// JSONL entities (null, never an empty list).
	IssueSnapshot *string `json:"issue_snapshot,omitempty"`
	SpecSnapshot  *string `json:"spec_snapshot,omitempty"`
}

// StreamScope discriminates issue streams from execution streams
type StreamScope string

// Stream scope constants
const (
	StreamScopeIssue     StreamScope = "issue"
	StreamScopeExecution StreamScope = "execution"
)

// Stream is a persistent git-branch identity tied to an issue or an
// execution, with metadata tracking checkpoints and review state.
type Stream struct {
	ID               string      `json:"id"`
	Scope            StreamScope `json:"scope"`
	IssueUUID        string      `json:"issue_uuid,omitempty"`
	ExecutionID      string      `json:"execution_id,omitempty"`
	BranchName       string      `json:"branch_name"`
	CheckpointCount  int         `json:"checkpoint_count"`
	LastCheckpointID *string     `json:"last_checkpoint_id,omitempty"`
	ReviewState      string      `json:"review_state,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// MergeStatus represents the state of a merge queue entry
type MergeStatus string

// Merge queue status constants
const (
	MergePending   MergeStatus = "pending"
	MergeReady     MergeStatus = "ready"
	MergeMerging   MergeStatus = "merging"
	MergeMerged    MergeStatus = "merged"
	MergeFailed    MergeStatus = "failed"
	MergeCancelled MergeStatus = "cancelled"
)

// MergeQueueEntry is one slot in the ordered merge queue for a target
// branch. Positions within a target branch are a dense permutation
// {0,1,...,n-1}.
type MergeQueueEntry struct {
	ID           string      `json:"id"`
	ExecutionID  string      `json:"execution_id"`
	StreamID     string      `json:"stream_id"`
	TargetBranch string      `json:"target_branch"`
	Position     int         `json:"position"`
	Priority     int         `json:"priority"`
	Status       MergeStatus `json:"status"`
	AddedAt      time.Time   `json:"added_at"`
	MergeCommit  *string     `json:"merge_commit,omitempty"`
	Error        *string     `json:"error,omitempty"`
}

// Statistics provides aggregate store metrics for status reporting.
type Statistics struct {
	TotalSpecs       int `json:"total_specs"`
	TotalIssues      int `json:"total_issues"`
	OpenIssues       int `json:"open_issues"`
	InProgressIssues int `json:"in_progress_issues"`
	BlockedIssues    int `json:"blocked_issues"`
	NeedsReview      int `json:"needs_review_issues"`
	ClosedIssues     int `json:"closed_issues"`
	ArchivedSpecs    int `json:"archived_specs"`
	ArchivedIssues   int `json:"archived_issues"`
}

// SpecFilter is used to filter spec queries
type SpecFilter struct {
	ParentUUID      *string
	Priority        *int
	Tags            []string
	TitleSearch     string
	IncludeArchived bool
	Limit           int
}

// IssueFilter is used to filter issue queries
type IssueFilter struct {
	Status          *IssueStatus
	Priority        *int
	Assignee        *string
	ParentUUID      *string
	Tags            []string
	TitleSearch     string
	IncludeArchived bool
	Limit           int
}
