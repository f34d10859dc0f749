package chat

import (
	"time"

	"github.com/agusx1211/parley/internal/debug"
	"github.com/agusx1211/parley/pkg/protocol"
)

// applyTool routes one tool-topic event for the session it arrived on.
// Caller holds evMu.
func (e *Engine) applyTool(sessionKey string, ev *protocol.ToolEvent) {
	call := ev.Data

	if call.Meta != nil && call.Meta.Lifecycle == protocol.LifecycleSessionEnd {
		e.scheduleSweep(sessionKey)
		return
	}
	if call.ToolCallID == "" {
		debug.Logf("chat", "drop tool event without call id on %s", sessionKey)
		return
	}

	if call.Name == e.spawnTool {
		e.applySpawn(sessionKey, call)
		return
	}

	switch call.Phase {
	case protocol.ToolStart:
		e.store.Update(sessionKey, func(r *SessionRecord) {
			r.ToolExecutions[call.ToolCallID] = ToolExecution{
				ID:        call.ToolCallID,
				Name:      call.Name,
				Phase:     ToolExecuting,
				Args:      call.Args,
				StartedAt: e.now(),
			}
		})
	case protocol.ToolResult:
		e.store.Update(sessionKey, func(r *SessionRecord) {
			exec, ok := r.ToolExecutions[call.ToolCallID]
			if !ok {
				exec = ToolExecution{
					ID:        call.ToolCallID,
					Name:      call.Name,
					Args:      call.Args,
					StartedAt: e.now(),
				}
			}
			if call.IsError {
				exec.Phase = ToolFailed
			} else {
				exec.Phase = ToolDone
			}
			exec.Result = call.Result
			exec.IsError = call.IsError
			r.ToolExecutions[call.ToolCallID] = exec
		})
		e.scheduleSweep(sessionKey)
	}
}

// retireTools deletes live tool entries whose persisted counterpart now
// exists in the message list. This is the only deletion driven by message
// state; a timer alone is unsafe because persistence can lag the result
// event by an unbounded amount.
func retireTools(r *SessionRecord) {
	if len(r.ToolExecutions) == 0 {
		return
	}
	persisted := persistedToolIDs(r.Messages)
	for id := range r.ToolExecutions {
		if _, ok := persisted[id]; ok {
			delete(r.ToolExecutions, id)
		}
	}
}

// scheduleSweep arms the fallback cleanup for sessions that end without
// ever persisting structured parts. It fires after the grace period and
// never while any entry is still executing.
func (e *Engine) scheduleSweep(sessionKey string) {
	time.AfterFunc(e.sweepGrace, func() {
		e.sweepStaleTools(sessionKey)
	})
}

func (e *Engine) sweepStaleTools(sessionKey string) {
	e.evMu.Lock()
	defer e.evMu.Unlock()

	changed := false
	e.store.Update(sessionKey, func(r *SessionRecord) {
		for _, exec := range r.ToolExecutions {
			if exec.Phase == ToolExecuting {
				return
			}
		}
		cutoff := e.now().Add(-e.sweepGrace)
		for id, exec := range r.ToolExecutions {
			if exec.StartedAt.Before(cutoff) {
				delete(r.ToolExecutions, id)
				changed = true
			}
		}
	})
	if changed {
		e.notify(sessionKey)
	}
}
