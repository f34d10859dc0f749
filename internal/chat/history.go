package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agusx1211/parley/internal/debug"
	"github.com/agusx1211/parley/pkg/protocol"
)

// maxTitleLen bounds the session title derived from the first user message.
const maxTitleLen = 64

// LoadHistory hydrates a session's message list: local cache first for a
// perceived-instant view, then the backend, whose result replaces the local
// one only when it has caught up (a shorter remote list does not regress the
// view). Live events arriving mid-load are buffered and replayed in arrival
// order once the load settles. Network failure falls back to the cached
// messages and is never returned as an error.
//
// Loading an already-loaded session is a cheap no-op that only bumps the
// record's last access.
func (e *Engine) LoadHistory(ctx context.Context, sessionKey string) {
	e.evMu.Lock()
	rec := e.store.GetOrCreate(sessionKey)
	if rec.HistoryLoaded || rec.HistoryLoading {
		e.evMu.Unlock()
		return
	}
	e.store.Update(sessionKey, func(r *SessionRecord) {
		r.HistoryLoading = true
		r.EventBuffer = nil
	})

	var local []Message
	if e.cache != nil {
		cached, err := e.cache.Messages(sessionKey)
		if err != nil {
			debug.Logf("chat", "cache read failed for %s: %v", sessionKey, err)
		} else if len(cached) > 0 {
			local = cached
			e.store.Update(sessionKey, func(r *SessionRecord) {
				r.Messages = carryStreamingPlaceholder(r, append([]Message(nil), cached...))
				retireTools(r)
			})
			e.notify(sessionKey)
		}
	}
	e.evMu.Unlock()

	// The fetch runs without evMu; events landing meanwhile are buffered
	// behind the HistoryLoading flag.
	var remote []Message
	wire, err := e.client.LoadHistory(ctx, sessionKey, e.histLimit)
	if err != nil {
		debug.Logf("chat", "remote history failed for %s: %v", sessionKey, err)
	} else {
		remote = parseHistory(wire)
	}

	if err := e.client.SetVerbose(ctx, sessionKey, true); err != nil {
		debug.Logf("chat", "verbose toggle failed for %s: %v", sessionKey, err)
	}

	e.evMu.Lock()
	if remote != nil && len(remote) >= len(local) {
		e.store.Update(sessionKey, func(r *SessionRecord) {
			r.Messages = carryStreamingPlaceholder(r, remote)
			retireTools(r)
		})
		if e.cache != nil {
			if err := e.cache.Replace(sessionKey, remote); err != nil {
				debug.Logf("chat", "cache write failed for %s: %v", sessionKey, err)
			}
		}
	}
	e.store.Update(sessionKey, func(r *SessionRecord) {
		r.HistoryLoaded = true
		r.HistoryLoading = false
	})
	e.replayBuffered(sessionKey)
	e.saveSessionMeta(sessionKey)
	evicted := e.store.EvictLRU()
	e.evMu.Unlock()

	e.notify(sessionKey)
	for _, k := range evicted {
		e.notify(k)
	}
}

// carryStreamingPlaceholder re-appends an active streaming placeholder to a
// replacement message list, so the swap never orphans the streaming marker
// and accumulated delta text survives until the terminal event. When the
// placeholder cannot be found the marker is cleared instead.
func carryStreamingPlaceholder(r *SessionRecord, msgs []Message) []Message {
	if r.StreamingID == "" {
		return msgs
	}
	if i := messageIndex(r.Messages, r.StreamingID); i >= 0 {
		return append(msgs, r.Messages[i])
	}
	r.StreamingID = ""
	if r.Status == StatusStreaming {
		r.Status = StatusIdle
	}
	return msgs
}

// parseHistory converts the backend's structured history, oldest first, into
// the engine's message form.
func parseHistory(wire []protocol.WireMessage) []Message {
	msgs := make([]Message, 0, len(wire))
	for i := range wire {
		m := &wire[i]
		role := RoleAssistant
		if m.Role == "user" {
			role = RoleUser
		}
		id := m.ID
		if id == "" {
			id = uuid.NewString()
		}
		msg := Message{
			ID:    id,
			Role:  role,
			Text:  m.Plain(),
			Parts: partsFromWire(m),
		}
		if m.CreatedAt > 0 {
			msg.CreatedAt = time.UnixMilli(m.CreatedAt)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// saveSessionMeta refreshes the cached session listing entry. The title is
// the first user message, truncated. Caller holds evMu.
func (e *Engine) saveSessionMeta(sessionKey string) {
	if e.cache == nil {
		return
	}
	rec, ok := e.store.Peek(sessionKey)
	if !ok {
		return
	}
	title := ""
	for i := range rec.Messages {
		if rec.Messages[i].Role == RoleUser && strings.TrimSpace(rec.Messages[i].Text) != "" {
			title = strings.TrimSpace(rec.Messages[i].Text)
			break
		}
	}
	if line := strings.IndexByte(title, '\n'); line >= 0 {
		title = title[:line]
	}
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}
	meta := SessionMeta{Key: sessionKey, Title: title, UpdatedAt: e.now()}
	if err := e.cache.SaveSession(meta); err != nil {
		debug.Logf("chat", "session meta save failed for %s: %v", sessionKey, err)
	}
}
