// Package protocol defines the wire contract between parley and an agent
// backend. Every frame on the websocket is a WireMsg envelope carrying one
// of: a chat-topic event, a tool-topic event, a request, or a response.
//
// The two event topics are logically independent streams and may interleave
// arbitrarily; correlation is by session key (events) and request ID
// (request/response).
package protocol

import "encoding/json"

// Frame types carried in the WireMsg envelope.
const (
	MsgChat     = "chat"     // chat-topic event (text deltas and terminals)
	MsgTool     = "tool"     // tool-topic event (structured tool phases)
	MsgRequest  = "request"  // client -> backend request
	MsgResponse = "response" // backend -> client response
)

// Request methods.
const (
	MethodHistoryLoad  = "history.load"
	MethodChatSend     = "chat.send"
	MethodChatAbort    = "chat.abort"
	MethodVerboseSet   = "verbose.set"
	MethodSessionsList = "sessions.list"
	MethodSessionStats = "sessions.stats"
)

// WireMsg is the envelope for all frames on the backend connection.
type WireMsg struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ChatState is the lifecycle state carried by a chat-topic event.
type ChatState string

const (
	ChatDelta   ChatState = "delta"
	ChatFinal   ChatState = "final"
	ChatAborted ChatState = "aborted"
	ChatError   ChatState = "error"
)

// ChatEvent is one event on the chat topic. Delta events carry Text;
// final/aborted events carry the authoritative Message payload (which may
// omit its own text field); error events carry ErrorMessage.
type ChatEvent struct {
	SessionKey   string       `json:"session_key"`
	State        ChatState    `json:"state"`
	Text         string       `json:"text,omitempty"`
	Message      *WireMessage `json:"message,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// ToolPhase is the phase reported by a tool-topic event.
type ToolPhase string

const (
	ToolStart  ToolPhase = "start"
	ToolResult ToolPhase = "result"
)

// ToolEvent is one event on the tool topic.
type ToolEvent struct {
	SessionKey string   `json:"session_key"`
	Stream     string   `json:"stream"` // always "tool"
	Data       ToolCall `json:"data"`
}

// ToolCall reports the start or result of a single tool invocation,
// correlated by ToolCallID.
type ToolCall struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Phase      ToolPhase       `json:"phase"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     string          `json:"result,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	Meta       *ToolMeta       `json:"meta,omitempty"`
}

// ToolMeta carries out-of-band lifecycle information on a tool event.
// A Lifecycle of "session_end" on a child session is the structured
// completion signal for the subagent that spawned it.
type ToolMeta struct {
	Lifecycle  string `json:"lifecycle,omitempty"`
	Status     string `json:"status,omitempty"` // completed|error|timeout
	DurationMS int64  `json:"duration_ms,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

// LifecycleSessionEnd marks a tool event whose meta reports the end of the
// session it arrived on.
const LifecycleSessionEnd = "session_end"

// WireRequest is a client -> backend request frame.
type WireRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// WireResponse is the backend's reply to a WireRequest, matched by ID.
type WireResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// HistoryLoadParams requests the persisted message history for a session.
type HistoryLoadParams struct {
	SessionKey string `json:"session_key"`
	Limit      int    `json:"limit,omitempty"`
}

// HistoryLoadResult carries the persisted history, oldest first.
type HistoryLoadResult struct {
	Messages []WireMessage `json:"messages"`
}

// ChatSendParams submits user text to a session under a correlation ID.
type ChatSendParams struct {
	SessionKey    string `json:"session_key"`
	Text          string `json:"text"`
	CorrelationID string `json:"correlation_id"`
}

// ChatAbortParams aborts the generation identified by CorrelationID, or the
// session's current generation when CorrelationID is empty.
type ChatAbortParams struct {
	SessionKey    string `json:"session_key"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// VerboseSetParams toggles server-side tool-phase event emission for a
// session. Level is "on" or "off".
type VerboseSetParams struct {
	SessionKey string `json:"session_key"`
	Level      string `json:"level"`
}

// SessionsListParams filters the backend session listing.
type SessionsListParams struct {
	Filter string `json:"filter,omitempty"`
}

// SessionInfo describes one backend session in a listing.
type SessionInfo struct {
	Key       string `json:"key"`
	Title     string `json:"title,omitempty"`
	Model     string `json:"model,omitempty"`
	Active    bool   `json:"active,omitempty"`
	UpdatedAt int64  `json:"updated_at,omitempty"` // unix ms
}

// SessionStatsParams identifies the session to report usage for.
type SessionStatsParams struct {
	SessionKey string `json:"session_key"`
}

// Usage is accumulated token and cost usage for a session.
type Usage struct {
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
	NumTurns     int     `json:"num_turns,omitempty"`
}

// EncodeMsg wraps a payload in a WireMsg envelope and marshals it.
func EncodeMsg(msgType string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(WireMsg{Type: msgType, Data: data})
}

// DecodeMsg parses a frame into a WireMsg.
func DecodeMsg(frame []byte) (*WireMsg, error) {
	var msg WireMsg
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DecodeData unmarshals the Data field of a WireMsg into the target type.
func DecodeData[T any](msg *WireMsg) (*T, error) {
	var v T
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
