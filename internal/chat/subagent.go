package chat

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agusx1211/parley/internal/debug"
	"github.com/agusx1211/parley/pkg/protocol"
)

// spawnArgs is the argument payload of the spawn tool.
type spawnArgs struct {
	Task        string `json:"task"`
	Description string `json:"description"`
	Label       string `json:"label"`
	Model       string `json:"model"`
}

// spawnOutcome is the result payload of the spawn tool.
type spawnOutcome struct {
	Status          string `json:"status"`
	ChildSessionKey string `json:"child_session_key"`
	Error           string `json:"error"`
}

// applySpawn handles start/result events of the spawn tool on the parent
// session. Caller holds evMu.
func (e *Engine) applySpawn(sessionKey string, call protocol.ToolCall) {
	switch call.Phase {
	case protocol.ToolStart:
		var args spawnArgs
		if len(call.Args) > 0 {
			if err := json.Unmarshal(call.Args, &args); err != nil {
				debug.Logf("chat", "bad spawn args on %s: %v", sessionKey, err)
			}
		}
		task := args.Task
		if task == "" {
			task = args.Description
		}
		e.store.Update(sessionKey, func(r *SessionRecord) {
			r.Subagents[call.ToolCallID] = SubagentRecord{
				ID:        call.ToolCallID,
				Task:      task,
				Label:     args.Label,
				Model:     args.Model,
				Status:    SubagentSpawning,
				ParentKey: sessionKey,
				StartedAt: e.now(),
			}
		})

	case protocol.ToolResult:
		var out spawnOutcome
		if call.Result != "" {
			if err := json.Unmarshal([]byte(call.Result), &out); err != nil {
				debug.Logf("chat", "bad spawn result on %s: %v", sessionKey, err)
			}
		}
		e.store.Update(sessionKey, func(r *SessionRecord) {
			sub, ok := r.Subagents[call.ToolCallID]
			if !ok {
				return
			}
			if !call.IsError && out.Status == "accepted" && out.ChildSessionKey != "" {
				sub.Status = SubagentRunning
				sub.ChildKey = out.ChildSessionKey
			} else {
				sub.Status = SubagentError
				sub.Error = out.Error
				if sub.Error == "" {
					sub.Error = call.Result
				}
				sub.CompletedAt = e.now()
			}
			r.Subagents[call.ToolCallID] = sub
			e.foldTerminalSubagents(r)
		})
	}
}

// mirrorChildTool reflects a tool event observed on a child session onto the
// parent's subagent record: live activity while running, terminal transition
// on the structured session-end signal. Caller holds evMu.
func (e *Engine) mirrorChildTool(ref ChildRef, ev *protocol.ToolEvent) {
	call := ev.Data

	e.store.Update(ref.ParentKey, func(r *SessionRecord) {
		sub, ok := r.Subagents[ref.SubagentID]
		if !ok || sub.Status.Terminal() {
			return
		}

		if call.Meta != nil && call.Meta.Lifecycle == protocol.LifecycleSessionEnd {
			sub.Status = subagentStatusFromToken(call.Meta.Status)
			sub.CompletedAt = e.now()
			sub.CurrentTool = ""
			sub.ResultSummary = call.Meta.Summary
			if call.Meta.DurationMS > 0 {
				sub.CompletedAt = sub.StartedAt.Add(time.Duration(call.Meta.DurationMS) * time.Millisecond)
			}
			if sub.Status == SubagentError && sub.Error == "" {
				sub.Error = call.Meta.Summary
			}
			r.Subagents[ref.SubagentID] = sub
			e.foldTerminalSubagents(r)
			return
		}

		switch call.Phase {
		case protocol.ToolStart:
			sub.CurrentTool = call.Name
			sub.ToolCount++
		case protocol.ToolResult:
			sub.CurrentTool = ""
		}
		r.Subagents[ref.SubagentID] = sub
	})
}

// detectSubagentFromText is the last-resort terminal detection: it matches
// the child session key inside the parent's finalized assistant text and
// reads a nearby status token. It depends on the model's narration carrying
// a machine-parsable substring, so every trigger is logged. The structured
// session-end signal is the primary path.
func (e *Engine) detectSubagentFromText(r *SessionRecord, text string) {
	if text == "" {
		return
	}
	for id, sub := range r.Subagents {
		if sub.Status != SubagentRunning || sub.ChildKey == "" {
			continue
		}
		at := strings.Index(text, sub.ChildKey)
		if at < 0 {
			continue
		}
		tail := text[at+len(sub.ChildKey):]
		status, ok := statusTokenIn(tail)
		if !ok {
			continue
		}
		debug.Logf("chat", "text fallback resolved subagent %s on %s as %s", id, r.Key, status)
		sub.Status = status
		sub.CompletedAt = e.now()
		sub.CurrentTool = ""
		r.Subagents[id] = sub
	}
}

// subagentStatusFromToken maps a session-end status token onto a terminal
// subagent status. Anything unrecognized counts as an error.
func subagentStatusFromToken(token string) SubagentStatus {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "completed":
		return SubagentCompleted
	case "timeout":
		return SubagentTimeout
	default:
		return SubagentError
	}
}

// statusTokenIn finds the first recognized status token in s.
func statusTokenIn(s string) (SubagentStatus, bool) {
	lower := strings.ToLower(s)
	best := -1
	var found SubagentStatus
	for token, status := range map[string]SubagentStatus{
		"completed": SubagentCompleted,
		"error":     SubagentError,
		"failed":    SubagentError,
		"timeout":   SubagentTimeout,
	} {
		if i := strings.Index(lower, token); i >= 0 && (best < 0 || i < best) {
			best = i
			found = status
		}
	}
	return found, best >= 0
}

// foldTerminalSubagents writes every terminal, not-yet-folded subagent into
// the most recent assistant message as a subagent part (creating an empty
// assistant message when none exists). FoldedSubagents makes the operation
// idempotent. Caller is inside a store update.
func (e *Engine) foldTerminalSubagents(r *SessionRecord) {
	for id, sub := range r.Subagents {
		if !sub.Status.Terminal() {
			continue
		}
		if _, done := r.FoldedSubagents[id]; done {
			continue
		}

		part := Part{Type: PartSubagent, Subagent: &SubagentPart{
			ID:            id,
			Task:          sub.Task,
			Label:         sub.Label,
			Model:         sub.Model,
			Status:        string(sub.Status),
			ResultSummary: sub.ResultSummary,
			ChildKey:      sub.ChildKey,
		}}
		if !sub.CompletedAt.IsZero() && sub.CompletedAt.After(sub.StartedAt) {
			part.Subagent.DurationMS = sub.CompletedAt.Sub(sub.StartedAt).Milliseconds()
		}

		i := lastIndexByRole(r.Messages, RoleAssistant)
		if i < 0 {
			r.Messages = append(r.Messages, Message{
				ID:        uuid.NewString(),
				Role:      RoleAssistant,
				CreatedAt: e.now(),
			})
			i = len(r.Messages) - 1
		}
		r.Messages[i].Parts = append(r.Messages[i].Parts, part)
		r.FoldedSubagents[id] = struct{}{}
	}
}
