// Package coalescer turns the streaming session updates of an agent
// subprocess into complete records suitable for durable storage.
// Storage and transport consume the same coalesced output; the raw
// stream survives only in debug logs.
package coalescer

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Update kinds on the incoming stream. Chunked message kinds arrive
// with a _chunk suffix on the wire; the bare names are accepted too.
const (
	KindAgentMessage   = "agent_message"
	KindAgentThought   = "agent_thought"
	KindUserMessage    = "user_message"
	KindToolCall       = "tool_call"
	KindToolCallUpdate = "tool_call_update"
	KindPlan           = "plan"
	KindNotification   = "notification"
)

// chunkKinds maps incoming message kinds to the accumulated kind.
var chunkKinds = map[string]string{
	"agent_message_chunk": KindAgentMessage,
	"agent_thought_chunk": KindAgentThought,
	"user_message_chunk":  KindUserMessage,
	KindAgentMessage:      KindAgentMessage,
	KindAgentThought:      KindAgentThought,
	KindUserMessage:       KindUserMessage,
}

// notificationKinds are session-level events that coalesce into a
// generic session_notification record.
var notificationKinds = map[string]bool{
	KindNotification:            true,
	"available_commands_update": true,
	"current_mode_update":       true,
	"compaction_started":        true,
	"compaction_completed":      true,
}

// Record types on the coalesced output.
const (
	RecordMessage             = "message"
	RecordToolCallComplete    = "tool_call_complete"
	RecordPlan                = "plan"
	RecordSessionNotification = "session_notification"
)

// Terminal tool-call statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// metadataKeys are stripped from notification payloads before the
// session_notification record is emitted.
var metadataKeys = map[string]bool{
	"session_id": true,
	"sessionId":  true,
	"timestamp":  true,
	"seq":        true,
}

// PlanEntry is one step of an agent plan.
type PlanEntry struct {
	Content  string `json:"content"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

// Update is one streaming event from the agent.
type Update struct {
	Kind       string         `json:"kind"`
	Text       string         `json:"text,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Title      string         `json:"title,omitempty"`
	Status     string         `json:"status,omitempty"`
	RawInput   map[string]any `json:"raw_input,omitempty"`
	RawOutput  map[string]any `json:"raw_output,omitempty"`
	Content    string         `json:"content,omitempty"`
	Entries    []PlanEntry    `json:"entries,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Record is a complete, storable event.
type Record struct {
	Type       string         `json:"type"`
	Kind       string         `json:"kind,omitempty"`
	Text       string         `json:"text,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Title      string         `json:"title,omitempty"`
	Status     string         `json:"status,omitempty"`
	RawInput   map[string]any `json:"raw_input,omitempty"`
	RawOutput  map[string]any `json:"raw_output,omitempty"`
	Content    string         `json:"content,omitempty"`
	Entries    []PlanEntry    `json:"entries,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	StartedAt  time.Time      `json:"started_at,omitempty"`
	EmittedAt  time.Time      `json:"emitted_at"`
}

type textAccum struct {
	kind      string
	chunks    []string
	startedAt time.Time
}

type toolCall struct {
	title     string
	status    string
	rawInput  map[string]any
	rawOutput map[string]any
	content   string
	startedAt time.Time
}

// Coalescer merges chunked updates into complete records. Not safe for
// concurrent use; each agent session owns one coalescer.
type Coalescer struct {
	emit func(Record)
	log  zerolog.Logger
	now  func() time.Time

	text  *textAccum
	tools map[string]*toolCall
}

// New creates a coalescer delivering complete records to emit.
func New(emit func(Record), log zerolog.Logger) *Coalescer {
	return &Coalescer{
		emit:  emit,
		log:   log.With().Str("component", "coalescer").Logger(),
		now:   time.Now,
		tools: make(map[string]*toolCall),
	}
}

// Push processes one streaming update.
func (c *Coalescer) Push(u Update) {
	switch {
	case chunkKinds[u.Kind] != "":
		c.pushChunk(u)
	case u.Kind == KindToolCall:
		c.flushText()
		c.tools[u.ToolCallID] = &toolCall{
			title:     u.Title,
			status:    u.Status,
			rawInput:  u.RawInput,
			startedAt: c.now(),
		}
	case u.Kind == KindToolCallUpdate:
		c.updateToolCall(u)
	case u.Kind == KindPlan:
		c.flushText()
		c.emit(Record{Type: RecordPlan, Entries: u.Entries, EmittedAt: c.now()})
	case notificationKinds[u.Kind]:
		c.flushText()
		c.emit(Record{
			Type:      RecordSessionNotification,
			Kind:      u.Kind,
			Payload:   stripMetadata(u.Payload),
			EmittedAt: c.now(),
		})
	default:
		c.log.Debug().Str("kind", u.Kind).Msg("unknown update kind ignored")
	}
}

// pushChunk appends to the in-flight accumulation of the same kind, or
// flushes and starts a new one on a kind switch.
func (c *Coalescer) pushChunk(u Update) {
	kind := chunkKinds[u.Kind]
	if c.text != nil && c.text.kind != kind {
		c.flushText()
	}
	if c.text == nil {
		c.text = &textAccum{kind: kind, startedAt: c.now()}
	}
	c.text.chunks = append(c.text.chunks, u.Text)
}

// updateToolCall merges fields into the open entry and emits a
// complete record when the status turns terminal. Updates for unknown
// ids open an entry so out-of-order streams degrade gracefully.
func (c *Coalescer) updateToolCall(u Update) {
	tc, ok := c.tools[u.ToolCallID]
	if !ok {
		tc = &toolCall{startedAt: c.now()}
		c.tools[u.ToolCallID] = tc
	}
	if u.Title != "" {
		tc.title = u.Title
	}
	if u.Status != "" {
		tc.status = u.Status
	}
	if u.RawInput != nil {
		tc.rawInput = u.RawInput
	}
	if u.RawOutput != nil {
		tc.rawOutput = u.RawOutput
	}
	if u.Content != "" {
		tc.content = u.Content
	}

	if tc.status == StatusCompleted || tc.status == StatusFailed {
		c.emitToolCall(u.ToolCallID, tc)
		delete(c.tools, u.ToolCallID)
	}
}

func (c *Coalescer) emitToolCall(id string, tc *toolCall) {
	c.emit(Record{
		Type:       RecordToolCallComplete,
		ToolCallID: id,
		Title:      tc.title,
		Status:     tc.status,
		RawInput:   tc.rawInput,
		RawOutput:  tc.rawOutput,
		Content:    tc.content,
		StartedAt:  tc.startedAt,
		EmittedAt:  c.now(),
	})
}

func (c *Coalescer) flushText() {
	if c.text == nil {
		return
	}
	c.emit(Record{
		Type:      RecordMessage,
		Kind:      c.text.kind,
		Text:      strings.Join(c.text.chunks, ""),
		StartedAt: c.text.startedAt,
		EmittedAt: c.now(),
	})
	c.text = nil
}

// Flush drains pending text and any still-open tool calls. Open tool
// calls at end of prompt are abnormal but not fatal; they are emitted
// with their last known status.
func (c *Coalescer) Flush() {
	c.flushText()
	for id, tc := range c.tools {
		c.log.Warn().Str("tool_call_id", id).Msg("tool call still open at flush")
		c.emitToolCall(id, tc)
		delete(c.tools, id)
	}
}

// Reset discards all in-flight state without emitting.
func (c *Coalescer) Reset() {
	c.text = nil
	c.tools = make(map[string]*toolCall)
}

func stripMetadata(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if !metadataKeys[k] {
			out[k] = v
		}
	}
	return out
}
