package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/agusx1211/parley/pkg/protocol"
)

func spawnStart(key, id, task string) *protocol.ToolEvent {
	args, _ := json.Marshal(map[string]string{"task": task, "label": "worker"})
	return &protocol.ToolEvent{
		SessionKey: key,
		Stream:     "tool",
		Data: protocol.ToolCall{
			ToolCallID: id,
			Name:       "Task",
			Phase:      protocol.ToolStart,
			Args:       args,
		},
	}
}

func spawnAccepted(key, id, childKey string) *protocol.ToolEvent {
	result, _ := json.Marshal(map[string]string{"status": "accepted", "child_session_key": childKey})
	return &protocol.ToolEvent{
		SessionKey: key,
		Stream:     "tool",
		Data: protocol.ToolCall{
			ToolCallID: id,
			Name:       "Task",
			Phase:      protocol.ToolResult,
			Result:     string(result),
		},
	}
}

func sessionEnd(childKey, status, summary string) *protocol.ToolEvent {
	return &protocol.ToolEvent{
		SessionKey: childKey,
		Stream:     "tool",
		Data: protocol.ToolCall{
			Phase: protocol.ToolResult,
			Meta: &protocol.ToolMeta{
				Lifecycle: protocol.LifecycleSessionEnd,
				Status:    status,
				Summary:   summary,
			},
		},
	}
}

func TestSpawnStartCreatesSpawningRecord(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.Open("p1")

	eng.HandleToolEvent(spawnStart("p1", "sub1", "summarize the repo"))

	rec, _ := eng.Snapshot("p1")
	sub, ok := rec.Subagents["sub1"]
	if !ok {
		t.Fatal("no subagent record for sub1")
	}
	if sub.Status != SubagentSpawning {
		t.Fatalf("Status = %q, want %q", sub.Status, SubagentSpawning)
	}
	if sub.Task != "summarize the repo" {
		t.Fatalf("Task = %q, want %q", sub.Task, "summarize the repo")
	}
	if sub.Label != "worker" {
		t.Fatalf("Label = %q, want %q", sub.Label, "worker")
	}
}

func TestSpawnAcceptedTransitionsToRunning(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.Open("p1")

	eng.HandleToolEvent(spawnStart("p1", "sub1", "task"))
	eng.HandleToolEvent(spawnAccepted("p1", "sub1", "c1"))

	rec, _ := eng.Snapshot("p1")
	sub := rec.Subagents["sub1"]
	if sub.Status != SubagentRunning {
		t.Fatalf("Status = %q, want %q", sub.Status, SubagentRunning)
	}
	if sub.ChildKey != "c1" {
		t.Fatalf("ChildKey = %q, want %q", sub.ChildKey, "c1")
	}
}

func TestSpawnRejectedTransitionsToError(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.Open("p1")

	eng.HandleToolEvent(spawnStart("p1", "sub1", "task"))
	result, _ := json.Marshal(map[string]string{"status": "rejected", "error": "quota exceeded"})
	eng.HandleToolEvent(&protocol.ToolEvent{
		SessionKey: "p1",
		Stream:     "tool",
		Data: protocol.ToolCall{
			ToolCallID: "sub1",
			Name:       "Task",
			Phase:      protocol.ToolResult,
			Result:     string(result),
		},
	})

	rec, _ := eng.Snapshot("p1")
	sub := rec.Subagents["sub1"]
	if sub.Status != SubagentError {
		t.Fatalf("Status = %q, want %q", sub.Status, SubagentError)
	}
	if sub.Error != "quota exceeded" {
		t.Fatalf("Error = %q, want %q", sub.Error, "quota exceeded")
	}
}

func TestChildToolEventsMirrorOntoParent(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.Open("p1")

	eng.HandleToolEvent(spawnStart("p1", "sub1", "task"))
	eng.HandleToolEvent(spawnAccepted("p1", "sub1", "c1"))

	eng.HandleToolEvent(toolStart("c1", "ct1", "Grep"))

	rec, _ := eng.Snapshot("p1")
	sub := rec.Subagents["sub1"]
	if sub.ToolCount != 1 {
		t.Fatalf("ToolCount = %d, want 1", sub.ToolCount)
	}
	if sub.CurrentTool != "Grep" {
		t.Fatalf("CurrentTool = %q, want %q", sub.CurrentTool, "Grep")
	}

	eng.HandleToolEvent(toolResult("c1", "ct1", "Grep", "ok", false))

	rec, _ = eng.Snapshot("p1")
	if rec.Subagents["sub1"].CurrentTool != "" {
		t.Fatalf("CurrentTool = %q, want empty after result", rec.Subagents["sub1"].CurrentTool)
	}
	if rec.Subagents["sub1"].ToolCount != 1 {
		t.Fatalf("ToolCount = %d, want 1", rec.Subagents["sub1"].ToolCount)
	}
}

func TestSessionEndFoldsSubagentIntoParts(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.Open("p1")

	eng.HandleChatEvent(final("p1", wireText("m1", "spawning a worker")))
	eng.HandleToolEvent(spawnStart("p1", "sub1", "task"))
	eng.HandleToolEvent(spawnAccepted("p1", "sub1", "c1"))

	eng.HandleToolEvent(sessionEnd("c1", "completed", "all done"))

	rec, _ := eng.Snapshot("p1")
	sub := rec.Subagents["sub1"]
	if sub.Status != SubagentCompleted {
		t.Fatalf("Status = %q, want %q", sub.Status, SubagentCompleted)
	}
	if sub.ResultSummary != "all done" {
		t.Fatalf("ResultSummary = %q, want %q", sub.ResultSummary, "all done")
	}

	var folded []Part
	for _, m := range rec.Messages {
		for _, p := range m.Parts {
			if p.Type == PartSubagent {
				folded = append(folded, p)
			}
		}
	}
	if len(folded) != 1 {
		t.Fatalf("folded parts = %d, want 1", len(folded))
	}
	if folded[0].Subagent.ID != "sub1" || folded[0].Subagent.Status != string(SubagentCompleted) {
		t.Fatalf("folded part = %+v, want sub1 completed", folded[0].Subagent)
	}
	if _, ok := rec.FoldedSubagents["sub1"]; !ok {
		t.Fatal("sub1 missing from folded set")
	}
}

func TestFoldIsIdempotent(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.Open("p1")

	eng.HandleChatEvent(final("p1", wireText("m1", "hello")))
	eng.HandleToolEvent(spawnStart("p1", "sub1", "task"))
	eng.HandleToolEvent(spawnAccepted("p1", "sub1", "c1"))
	eng.HandleToolEvent(sessionEnd("c1", "completed", ""))

	// A second terminal signal for the same child must not duplicate the part.
	eng.HandleToolEvent(sessionEnd("c1", "completed", ""))
	eng.Store().Update("p1", func(r *SessionRecord) {
		eng.foldTerminalSubagents(r)
	})

	rec, _ := eng.Snapshot("p1")
	count := 0
	for _, m := range rec.Messages {
		for _, p := range m.Parts {
			if p.Type == PartSubagent && p.Subagent.ID == "sub1" {
				count++
			}
		}
	}
	if count != 1 {
		t.Fatalf("subagent parts = %d, want exactly 1", count)
	}
}

func TestFoldWithoutAssistantMessageCreatesOne(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.Open("p1")

	eng.HandleToolEvent(spawnStart("p1", "sub1", "task"))
	eng.HandleToolEvent(spawnAccepted("p1", "sub1", "c1"))
	eng.HandleToolEvent(sessionEnd("c1", "timeout", ""))

	rec, _ := eng.Snapshot("p1")
	if len(rec.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want 1 synthesized assistant message", len(rec.Messages))
	}
	if rec.Messages[0].Role != RoleAssistant {
		t.Fatalf("Role = %q, want %q", rec.Messages[0].Role, RoleAssistant)
	}
	if rec.Messages[0].Parts[0].Subagent.Status != string(SubagentTimeout) {
		t.Fatalf("Status = %q, want %q", rec.Messages[0].Parts[0].Subagent.Status, SubagentTimeout)
	}
}

func TestTextFallbackResolvesRunningSubagent(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.Open("p1")

	eng.HandleToolEvent(spawnStart("p1", "sub1", "task"))
	eng.HandleToolEvent(spawnAccepted("p1", "sub1", "c1-abc"))

	eng.HandleChatEvent(delta("p1", "The worker session c1-abc completed its task."))
	eng.HandleChatEvent(final("p1", &protocol.WireMessage{ID: "m1"}))

	rec, _ := eng.Snapshot("p1")
	sub := rec.Subagents["sub1"]
	if sub.Status != SubagentCompleted {
		t.Fatalf("Status = %q, want %q via text fallback", sub.Status, SubagentCompleted)
	}
	if _, ok := rec.FoldedSubagents["sub1"]; !ok {
		t.Fatal("fallback-resolved subagent not folded")
	}
}

func TestTextFallbackIgnoresUnrelatedText(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.Open("p1")

	eng.HandleToolEvent(spawnStart("p1", "sub1", "task"))
	eng.HandleToolEvent(spawnAccepted("p1", "sub1", "c1-abc"))

	eng.HandleChatEvent(delta("p1", "Still waiting on the worker."))
	eng.HandleChatEvent(final("p1", &protocol.WireMessage{ID: "m1"}))

	rec, _ := eng.Snapshot("p1")
	if rec.Subagents["sub1"].Status != SubagentRunning {
		t.Fatalf("Status = %q, want still %q", rec.Subagents["sub1"].Status, SubagentRunning)
	}
}

func TestSessionEndStatusTokens(t *testing.T) {
	tests := []struct {
		token string
		want  SubagentStatus
	}{
		{"completed", SubagentCompleted},
		{"timeout", SubagentTimeout},
		{"error", SubagentError},
		{"exploded", SubagentError},
	}
	for _, tt := range tests {
		eng, _, _ := newTestEngine(t)
		eng.Open("p1")
		eng.HandleToolEvent(spawnStart("p1", "sub1", "summarize"))
		eng.HandleToolEvent(spawnAccepted("p1", "sub1", "c1"))
		eng.HandleToolEvent(sessionEnd("c1", tt.token, "done"))

		rec, _ := eng.Snapshot("p1")
		if got := rec.Subagents["sub1"].Status; got != tt.want {
			t.Errorf("status for token %q = %q, want %q", tt.token, got, tt.want)
		}
	}
}

func TestChildToolEventDuringChildLoadMirrorsOnce(t *testing.T) {
	eng, client, _ := newTestEngine(t)
	eng.Open("p1")
	eng.HandleToolEvent(spawnStart("p1", "sub1", "summarize"))
	eng.HandleToolEvent(spawnAccepted("p1", "sub1", "c1"))

	gate := make(chan struct{})
	client.mu.Lock()
	client.gate = gate
	client.mu.Unlock()

	done := make(chan struct{})
	go func() {
		eng.LoadHistory(context.Background(), "c1")
		close(done)
	}()
	for {
		rec, ok := eng.Snapshot("c1")
		if ok && rec.HistoryLoading {
			break
		}
		time.Sleep(time.Millisecond)
	}

	eng.HandleToolEvent(toolStart("c1", "t1", "Read"))

	close(gate)
	<-done

	rec, _ := eng.Snapshot("p1")
	if got := rec.Subagents["sub1"].ToolCount; got != 1 {
		t.Fatalf("ToolCount = %d, want 1 (mirrored exactly once)", got)
	}
	if got := rec.Subagents["sub1"].CurrentTool; got != "Read" {
		t.Fatalf("CurrentTool = %q, want %q", got, "Read")
	}
	child, _ := eng.Snapshot("c1")
	if _, ok := child.ToolExecutions["t1"]; !ok {
		t.Fatal("buffered tool event not applied to the child after load settled")
	}
}
