package chat

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/agusx1211/parley/internal/debug"
)

// Send submits user text to a session. While the session is busy the text is
// queued FIFO and dispatched automatically on the next transition to idle.
// The user message is appended optimistically, before any network
// confirmation; a backend rejection moves the session to the error status.
func (e *Engine) Send(ctx context.Context, sessionKey, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	e.evMu.Lock()
	defer e.evMu.Unlock()

	rec := e.store.GetOrCreate(sessionKey)
	if rec.Status != StatusIdle && rec.Status != StatusError {
		e.store.Update(sessionKey, func(r *SessionRecord) {
			r.PendingSends = append(r.PendingSends, text)
		})
		e.notify(sessionKey)
		return
	}
	e.sendLocked(ctx, sessionKey, text)
}

// sendLocked performs the actual optimistic append and remote send. Caller
// holds evMu.
func (e *Engine) sendLocked(ctx context.Context, sessionKey, text string) {
	corr := uuid.NewString()
	msg := Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Text:      text,
		Parts:     []Part{{Type: PartText, Text: text}},
		CreatedAt: e.now(),
	}
	e.store.Update(sessionKey, func(r *SessionRecord) {
		r.Messages = append(r.Messages, msg)
		r.Status = StatusSubmitted
		r.CorrelationID = corr
		r.LastError = ""
	})
	if e.cache != nil {
		if err := e.cache.Append(sessionKey, msg); err != nil {
			debug.Logf("chat", "cache append failed for %s: %v", sessionKey, err)
		}
	}
	e.saveSessionMeta(sessionKey)
	e.notify(sessionKey)

	go func() {
		if err := e.client.SendChat(ctx, sessionKey, text, corr); err != nil {
			e.evMu.Lock()
			e.store.Update(sessionKey, func(r *SessionRecord) {
				if r.CorrelationID == corr {
					r.Status = StatusError
					r.LastError = err.Error()
					r.CorrelationID = ""
				}
			})
			e.evMu.Unlock()
			e.notify(sessionKey)
		}
	}()
}

// drainQueue dispatches the head of the pending queue when the session has
// come back to idle. Caller holds evMu.
func (e *Engine) drainQueue(sessionKey string) {
	rec, ok := e.store.Peek(sessionKey)
	if !ok || rec.Status != StatusIdle || len(rec.PendingSends) == 0 {
		return
	}
	head := rec.PendingSends[0]
	e.store.Update(sessionKey, func(r *SessionRecord) {
		r.PendingSends = r.PendingSends[1:]
	})
	e.sendLocked(context.Background(), sessionKey, head)
}

// Abort requests cancellation of the session's current generation and resets
// the local status immediately; the remote call is best-effort. The
// streaming placeholder is kept so a late aborted event still finalizes it
// in place. Queued sends are not dispatched until the backend acknowledges
// the abort: the aborted turn's terminal event may still be in flight, and
// dispatching before the old correlation is dead would let it land on the
// new turn.
func (e *Engine) Abort(ctx context.Context, sessionKey string) {
	e.evMu.Lock()
	rec, ok := e.store.Peek(sessionKey)
	if !ok {
		e.evMu.Unlock()
		return
	}
	corr := rec.CorrelationID
	e.store.Update(sessionKey, func(r *SessionRecord) {
		r.Status = StatusIdle
		r.CorrelationID = ""
	})
	e.evMu.Unlock()
	e.notify(sessionKey)

	go func() {
		if err := e.client.AbortChat(ctx, sessionKey, corr); err != nil {
			debug.Logf("chat", "abort failed for %s: %v", sessionKey, err)
			return
		}
		e.evMu.Lock()
		e.drainQueue(sessionKey)
		e.evMu.Unlock()
	}()
}

// Regenerate rewinds the conversation to just before its last user message
// and re-sends that message's text under a fresh correlation id. Everything
// after the rewind point, including live tool state, is discarded.
func (e *Engine) Regenerate(ctx context.Context, sessionKey string) {
	e.evMu.Lock()
	defer e.evMu.Unlock()

	rec, ok := e.store.Peek(sessionKey)
	if !ok {
		return
	}
	i := lastIndexByRole(rec.Messages, RoleUser)
	if i < 0 {
		return
	}
	text := rec.Messages[i].Text

	var kept []Message
	e.store.Update(sessionKey, func(r *SessionRecord) {
		r.Messages = append([]Message(nil), r.Messages[:i]...)
		r.StreamingID = ""
		r.Status = StatusIdle
		r.LastError = ""
		r.ToolExecutions = make(map[string]ToolExecution)
		kept = r.Messages
	})
	if e.cache != nil {
		if err := e.cache.Replace(sessionKey, kept); err != nil {
			debug.Logf("chat", "cache rewind failed for %s: %v", sessionKey, err)
		}
	}
	e.sendLocked(ctx, sessionKey, text)
}

// ClearHistory resets a session to empty defaults, locally and in the cache.
// The record stays resident.
func (e *Engine) ClearHistory(sessionKey string) {
	e.evMu.Lock()
	e.store.Clear(sessionKey)
	if e.cache != nil {
		if err := e.cache.Clear(sessionKey); err != nil {
			debug.Logf("chat", "cache clear failed for %s: %v", sessionKey, err)
		}
	}
	e.evMu.Unlock()
	e.notify(sessionKey)
}
