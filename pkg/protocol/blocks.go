package protocol

import (
	"encoding/json"
	"strings"
)

// Content block kinds emitted by the backend. Unknown kinds are preserved by
// Blocks so callers can skip them without failing the whole message.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockThinking   = "thinking"
)

// WireMessage is one persisted message in the backend's structured form.
// Content is kept raw so that a single malformed block cannot fail the
// decode of the whole message.
type WireMessage struct {
	ID        string            `json:"id,omitempty"`
	Role      string            `json:"role,omitempty"`
	Content   []json.RawMessage `json:"content,omitempty"`
	CreatedAt int64             `json:"created_at,omitempty"` // unix ms
}

// ContentBlock is one decoded block of a WireMessage.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`
}

// Blocks decodes the message content, skipping entries that are not JSON
// objects or that carry no type tag. The protocol allows unknown block
// kinds, so decoding never fails outright.
func (m *WireMessage) Blocks() []ContentBlock {
	if m == nil || len(m.Content) == 0 {
		return nil
	}
	out := make([]ContentBlock, 0, len(m.Content))
	for _, raw := range m.Content {
		var b ContentBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			continue
		}
		if strings.TrimSpace(b.Type) == "" {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Plain returns the concatenated text of the message's text blocks.
func (m *WireMessage) Plain() string {
	var sb strings.Builder
	for _, b := range m.Blocks() {
		if b.Type == BlockText && b.Text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ResultText extracts readable text from a tool_result content payload,
// which may be a bare string or a list of text blocks.
func (b ContentBlock) ResultText() string {
	if len(b.Content) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}

	var nested []json.RawMessage
	if err := json.Unmarshal(b.Content, &nested); err != nil {
		return ""
	}
	var parts []string
	for _, raw := range nested {
		var inner struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &inner); err != nil {
			continue
		}
		if inner.Type == BlockText && inner.Text != "" {
			parts = append(parts, inner.Text)
		}
	}
	return strings.Join(parts, "\n")
}
