package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/agusx1211/parley/internal/debug"
	"github.com/agusx1211/parley/internal/hexid"
	"github.com/agusx1211/parley/pkg/protocol"
)

// abortNotice is appended to a message finalized by an abort.
const abortNotice = "[aborted]"

// applyChat routes one chat-topic event through the streaming state machine.
// Caller holds evMu.
func (e *Engine) applyChat(sessionKey string, ev *protocol.ChatEvent) {
	switch ev.State {
	case protocol.ChatDelta:
		e.applyDelta(sessionKey, ev)
	case protocol.ChatFinal:
		e.finalizeStreaming(sessionKey, ev, false)
	case protocol.ChatAborted:
		e.finalizeStreaming(sessionKey, ev, true)
	case protocol.ChatError:
		e.applyChatError(sessionKey, ev)
	}
}

// applyDelta opens a streaming placeholder on the first delta and replaces
// its text in place on every subsequent one. Delta text is cumulative, so
// replacement (not concatenation) is the correct merge.
func (e *Engine) applyDelta(sessionKey string, ev *protocol.ChatEvent) {
	e.store.Update(sessionKey, func(r *SessionRecord) {
		i := -1
		if r.StreamingID != "" {
			i = messageIndex(r.Messages, r.StreamingID)
		}
		if i < 0 {
			id := hexid.Pending()
			r.Messages = append(r.Messages, Message{
				ID:        id,
				Role:      RoleAssistant,
				Text:      ev.Text,
				CreatedAt: e.now(),
			})
			r.StreamingID = id
		} else {
			r.Messages[i].Text = ev.Text
		}
		r.Status = StatusStreaming
		r.LastError = ""
	})
}

// finalizeStreaming turns the placeholder into a permanent message in place:
// same list position, new permanent id. A terminal event with no active
// placeholder is appended as a new message rather than dropped.
func (e *Engine) finalizeStreaming(sessionKey string, ev *protocol.ChatEvent, aborted bool) {
	var done Message
	var finalized bool

	e.store.Update(sessionKey, func(r *SessionRecord) {
		text := streamedText(r, ev)
		if aborted {
			if text == "" {
				text = abortNotice
			} else {
				text += "\n\n" + abortNotice
			}
		}
		parts := partsFromWire(ev.Message)
		if len(parts) == 0 && text != "" {
			parts = []Part{{Type: PartText, Text: text}}
		}

		msg := Message{
			ID:        permanentID(ev.Message),
			Role:      RoleAssistant,
			Text:      text,
			Parts:     parts,
			CreatedAt: e.now(),
		}
		if ev.Message != nil && ev.Message.CreatedAt > 0 {
			msg.CreatedAt = time.UnixMilli(ev.Message.CreatedAt)
		}

		i := -1
		if r.StreamingID != "" {
			i = messageIndex(r.Messages, r.StreamingID)
		}
		if i >= 0 {
			msg.CreatedAt = r.Messages[i].CreatedAt
			r.Messages[i] = msg
		} else {
			r.Messages = append(r.Messages, msg)
		}

		r.StreamingID = ""
		r.Status = StatusIdle
		r.CorrelationID = ""
		if !aborted {
			r.LastError = ""
		}

		retireTools(r)
		e.detectSubagentFromText(r, text)
		e.foldTerminalSubagents(r)

		done = msg
		finalized = true
	})

	if !finalized {
		return
	}
	if e.cache != nil {
		if err := e.cache.Append(sessionKey, done); err != nil {
			debug.Logf("chat", "cache append failed for %s: %v", sessionKey, err)
		}
	}
	e.drainQueue(sessionKey)
}

// applyChatError discards the partial placeholder entirely; partial streamed
// content must never survive as if it were complete.
func (e *Engine) applyChatError(sessionKey string, ev *protocol.ChatEvent) {
	e.store.Update(sessionKey, func(r *SessionRecord) {
		if r.StreamingID != "" {
			if i := messageIndex(r.Messages, r.StreamingID); i >= 0 {
				r.Messages = append(r.Messages[:i], r.Messages[i+1:]...)
			}
			r.StreamingID = ""
		}
		for id, exec := range r.ToolExecutions {
			if exec.Phase == ToolExecuting {
				exec.Phase = ToolFailed
				r.ToolExecutions[id] = exec
			}
		}
		r.Status = StatusError
		r.LastError = ev.ErrorMessage
		r.CorrelationID = ""
	})
}

// streamedText picks the finalized flat text, preferring the locally
// accumulated delta text since the payload may omit its own.
func streamedText(r *SessionRecord, ev *protocol.ChatEvent) string {
	if r.StreamingID != "" {
		if i := messageIndex(r.Messages, r.StreamingID); i >= 0 && r.Messages[i].Text != "" {
			return r.Messages[i].Text
		}
	}
	if ev.Message != nil {
		if plain := ev.Message.Plain(); plain != "" {
			return plain
		}
	}
	return ev.Text
}

// permanentID returns the backend's id for the finalized message, or a fresh
// one when the payload carries none.
func permanentID(m *protocol.WireMessage) string {
	if m != nil && m.ID != "" {
		return m.ID
	}
	return uuid.NewString()
}

// partsFromWire converts the backend's structured block list into ordered
// message parts, skipping unknown block kinds.
func partsFromWire(m *protocol.WireMessage) []Part {
	if m == nil {
		return nil
	}
	var parts []Part
	for _, b := range m.Blocks() {
		switch b.Type {
		case protocol.BlockText:
			if b.Text != "" {
				parts = append(parts, Part{Type: PartText, Text: b.Text})
			}
		case protocol.BlockThinking:
			if b.Thinking != "" {
				parts = append(parts, Part{Type: PartReasoning, Text: b.Thinking})
			}
		case protocol.BlockToolUse:
			parts = append(parts, Part{
				Type:     PartToolCall,
				ToolID:   b.ID,
				ToolName: b.Name,
				Args:     b.Input,
			})
		case protocol.BlockToolResult:
			parts = append(parts, Part{
				Type:    PartToolResult,
				ToolID:  b.ToolUseID,
				Result:  b.ResultText(),
				IsError: b.IsError,
			})
		}
	}
	return parts
}
