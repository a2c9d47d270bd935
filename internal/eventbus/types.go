package eventbus

import (
	"time"

	"github.com/sudocode-ai/sudocode/internal/types"
)

// Event name constants. Names follow the "<domain>:<action>" scheme so
// wildcard subscribers can route on prefix.
const (
	EventFilesystemSpecCreated  = "filesystem:spec_created"
	EventFilesystemSpecUpdated  = "filesystem:spec_updated"
	EventFilesystemIssueCreated = "filesystem:issue_created"
	EventFilesystemIssueUpdated = "filesystem:issue_updated"

	EventExecutionCreated   = "execution:created"
	EventExecutionStarted   = "execution:started"
	EventExecutionUpdated   = "execution:updated"
	EventExecutionCompleted = "execution:completed"
	EventExecutionFailed    = "execution:failed"
	EventExecutionPaused    = "execution:paused"
	EventExecutionCancelled = "execution:cancelled"

	EventIssueStatusChanged  = "issue:status_changed"
	EventRelationshipCreated = "relationship:created"
	EventFeedbackCreated     = "feedback:created"

	EventCheckpointCreated = "checkpoint:created"
	EventMergeCompleted    = "merge:completed"
	EventMergeFailed       = "merge:failed"
)

// SyncSource identifies which representation originated a sync event.
type SyncSource string

// Sync source constants
const (
	SourceMarkdown SyncSource = "markdown"
	SourceJSONL    SyncSource = "jsonl"
	SourceDatabase SyncSource = "database"
)

// Payload is the event body. Type discriminates the payload shape and
// Timestamp is ISO 8601.
type Payload struct {
	Type      string           `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Kind      types.EntityType `json:"kind,omitempty"`
	ID        string           `json:"id,omitempty"`
	UUID      string           `json:"uuid,omitempty"`
	Action    string           `json:"action,omitempty"`
	Source    SyncSource       `json:"source,omitempty"`

	// Snapshot optionally carries the entity state at event time.
	Snapshot any `json:"entity_snapshot,omitempty"`

	// Extra carries event-specific fields (old/new status, error text).
	Extra map[string]any `json:"extra,omitempty"`
}

// Envelope pairs an event name with its payload for wildcard delivery.
type Envelope struct {
	Name    string
	Payload Payload
}

// NewPayload builds a payload with the type discriminator and a UTC
// timestamp filled in.
func NewPayload(eventType string) Payload {
	return Payload{Type: eventType, Timestamp: time.Now().UTC()}
}
