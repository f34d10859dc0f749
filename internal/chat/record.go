// Package chat implements the session state synchronization engine: a keyed,
// bounded store of conversation records kept consistent against a remote
// agent backend's interleaved event streams and its persisted history.
package chat

import (
	"encoding/json"
	"time"

	"github.com/agusx1211/parley/pkg/protocol"
)

// Status is a session's lifecycle status.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStreaming Status = "streaming"
	StatusSubmitted Status = "submitted"
	StatusError     Status = "error"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType tags a message part.
type PartType string

const (
	PartText       PartType = "text"
	PartReasoning  PartType = "reasoning"
	PartToolCall   PartType = "tool-call"
	PartToolResult PartType = "tool-result"
	PartSubagent   PartType = "subagent"
)

// Part is one ordered element of a message's structured content.
// A tool-call and its matching tool-result share ToolID.
type Part struct {
	Type PartType `json:"type"`

	Text string `json:"text,omitempty"` // text and reasoning parts

	ToolID   string          `json:"tool_id,omitempty"`
	ToolName string          `json:"tool_name,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Result   string          `json:"result,omitempty"`
	IsError  bool            `json:"is_error,omitempty"`

	Subagent *SubagentPart `json:"subagent,omitempty"`
}

// SubagentPart is the persisted form of a terminal subagent.
type SubagentPart struct {
	ID            string `json:"id"`
	Task          string `json:"task,omitempty"`
	Label         string `json:"label,omitempty"`
	Model         string `json:"model,omitempty"`
	Status        string `json:"status"` // completed|error|timeout
	DurationMS    int64  `json:"duration_ms,omitempty"`
	ResultSummary string `json:"result_summary,omitempty"`
	ChildKey      string `json:"child_key,omitempty"`
}

// Message is one conversation entry. ID is reassigned exactly once, when a
// streaming placeholder is finalized with a permanent id. Text is always
// kept in sync with the structured parts.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Parts     []Part    `json:"parts,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ToolPhase is the live execution phase of a tool call.
type ToolPhase string

const (
	ToolExecuting ToolPhase = "executing"
	ToolDone      ToolPhase = "result"
	ToolFailed    ToolPhase = "error"
)

// ToolExecution is ephemeral live state for one tool invocation. It is never
// persisted; it is retired the moment a persisted part with the same id
// appears in the message list.
type ToolExecution struct {
	ID        string
	Name      string
	Phase     ToolPhase
	Args      json.RawMessage
	Result    string
	IsError   bool
	StartedAt time.Time
}

// SubagentStatus is a subagent's lifecycle status.
type SubagentStatus string

const (
	SubagentSpawning  SubagentStatus = "spawning"
	SubagentRunning   SubagentStatus = "running"
	SubagentCompleted SubagentStatus = "completed"
	SubagentError     SubagentStatus = "error"
	SubagentTimeout   SubagentStatus = "timeout"
)

// Terminal reports whether the status is a final one.
func (s SubagentStatus) Terminal() bool {
	switch s {
	case SubagentCompleted, SubagentError, SubagentTimeout:
		return true
	default:
		return false
	}
}

// SubagentRecord is ephemeral live state for one spawned child session,
// folded into a subagent Part exactly once when it reaches a terminal status.
type SubagentRecord struct {
	ID            string
	Task          string
	Label         string
	Model         string
	Status        SubagentStatus
	ParentKey     string
	ChildKey      string
	StartedAt     time.Time
	CompletedAt   time.Time
	CurrentTool   string
	ToolCount     int
	Error         string
	ResultSummary string
}

// ScrollState is opaque scroll-restoration state carried on the record for
// the UI; the engine only preserves it across updates.
type ScrollState struct {
	Offset   int
	AtBottom bool
}

// BufferedEvent is a live event captured while a session's history load is
// in flight, replayed in arrival order once the load settles. Exactly one
// field is set.
type BufferedEvent struct {
	Chat *protocol.ChatEvent
	Tool *protocol.ToolEvent
}

// SessionRecord is the complete mutable state of one conversation, keyed by
// its opaque session key. All mutation goes through Store.Update.
//
// Invariant: StreamingID is either empty or names a message present in
// Messages; there is never an orphaned streaming marker.
type SessionRecord struct {
	Key           string
	Messages      []Message
	Status        Status
	StreamingID   string // placeholder message id, "" when not streaming
	CorrelationID string // current remote operation, "" when none
	LastError     string

	HistoryLoaded  bool
	HistoryLoading bool

	ToolExecutions  map[string]ToolExecution
	Subagents       map[string]SubagentRecord
	PendingSends    []string
	EventBuffer     []BufferedEvent
	FoldedSubagents map[string]struct{}

	LastAccess time.Time
	Scroll     ScrollState
}

// newSessionRecord returns a record with every field at its empty default.
func newSessionRecord(key string, now time.Time) *SessionRecord {
	return &SessionRecord{
		Key:             key,
		Status:          StatusIdle,
		ToolExecutions:  make(map[string]ToolExecution),
		Subagents:       make(map[string]SubagentRecord),
		FoldedSubagents: make(map[string]struct{}),
		LastAccess:      now,
	}
}

// clone returns a deep copy safe to mutate while readers hold the original.
func (r *SessionRecord) clone() *SessionRecord {
	c := *r

	c.Messages = make([]Message, len(r.Messages))
	for i, m := range r.Messages {
		c.Messages[i] = m
		if len(m.Parts) > 0 {
			c.Messages[i].Parts = append([]Part(nil), m.Parts...)
		}
	}

	c.ToolExecutions = make(map[string]ToolExecution, len(r.ToolExecutions))
	for k, v := range r.ToolExecutions {
		c.ToolExecutions[k] = v
	}
	c.Subagents = make(map[string]SubagentRecord, len(r.Subagents))
	for k, v := range r.Subagents {
		c.Subagents[k] = v
	}
	c.FoldedSubagents = make(map[string]struct{}, len(r.FoldedSubagents))
	for k := range r.FoldedSubagents {
		c.FoldedSubagents[k] = struct{}{}
	}
	c.PendingSends = append([]string(nil), r.PendingSends...)
	c.EventBuffer = append([]BufferedEvent(nil), r.EventBuffer...)
	return &c
}

// messageIndex returns the position of the message with the given id, or -1.
func messageIndex(msgs []Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// lastIndexByRole returns the position of the last message with the given
// role, or -1.
func lastIndexByRole(msgs []Message, role Role) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == role {
			return i
		}
	}
	return -1
}

// persistedToolIDs collects the ids of all tool-call/tool-result parts in
// the message list.
func persistedToolIDs(msgs []Message) map[string]struct{} {
	ids := make(map[string]struct{})
	for i := range msgs {
		for _, p := range msgs[i].Parts {
			if (p.Type == PartToolCall || p.Type == PartToolResult) && p.ToolID != "" {
				ids[p.ToolID] = struct{}{}
			}
		}
	}
	return ids
}
