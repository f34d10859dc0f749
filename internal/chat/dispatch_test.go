package chat

import (
	"context"
	"testing"
	"time"

	"github.com/agusx1211/parley/pkg/protocol"
)

func TestSendAppendsOptimisticallyAndSubmits(t *testing.T) {
	eng, client, cache := newTestEngine(t)
	eng.Open("s1")

	eng.Send(context.Background(), "s1", "hello there")

	rec, _ := eng.Snapshot("s1")
	if len(rec.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want optimistic user message", len(rec.Messages))
	}
	if rec.Messages[0].Role != RoleUser || rec.Messages[0].Text != "hello there" {
		t.Fatalf("message = %+v, want user/hello there", rec.Messages[0])
	}
	if rec.Status != StatusSubmitted {
		t.Fatalf("Status = %q, want %q", rec.Status, StatusSubmitted)
	}
	if rec.CorrelationID == "" {
		t.Fatal("no correlation id assigned")
	}

	call := <-client.sent
	if call.SessionKey != "s1" || call.Text != "hello there" {
		t.Fatalf("sent = %+v, want s1/hello there", call)
	}
	if call.Corr != rec.CorrelationID {
		t.Fatalf("wire corr = %q, want %q", call.Corr, rec.CorrelationID)
	}

	cache.mu.Lock()
	defer cache.mu.Unlock()
	if len(cache.messages["s1"]) != 1 {
		t.Fatal("optimistic message not persisted")
	}
}

func TestSendWhileBusyQueuesAndDrainsOnIdle(t *testing.T) {
	eng, client, _ := newTestEngine(t)
	eng.Open("s1")

	eng.HandleChatEvent(delta("s1", "working..."))
	eng.Send(context.Background(), "s1", "hi")

	rec, _ := eng.Snapshot("s1")
	if len(rec.PendingSends) != 1 || rec.PendingSends[0] != "hi" {
		t.Fatalf("PendingSends = %v, want [hi]", rec.PendingSends)
	}
	select {
	case call := <-client.sent:
		t.Fatalf("sent %+v while busy, want queued", call)
	default:
	}

	eng.HandleChatEvent(final("s1", &protocol.WireMessage{ID: "m1"}))

	select {
	case call := <-client.sent:
		if call.Text != "hi" {
			t.Fatalf("drained text = %q, want %q", call.Text, "hi")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued send not dispatched on idle")
	}
	rec, _ = eng.Snapshot("s1")
	if len(rec.PendingSends) != 0 {
		t.Fatalf("PendingSends = %v, want drained", rec.PendingSends)
	}
	if rec.Status != StatusSubmitted {
		t.Fatalf("Status = %q, want %q", rec.Status, StatusSubmitted)
	}
}

func TestSendBlankTextIsIgnored(t *testing.T) {
	eng, client, _ := newTestEngine(t)
	eng.Open("s1")

	eng.Send(context.Background(), "s1", "   \n")

	rec, _ := eng.Snapshot("s1")
	if len(rec.Messages) != 0 {
		t.Fatalf("len(Messages) = %d, want 0", len(rec.Messages))
	}
	select {
	case <-client.sent:
		t.Fatal("blank text reached the wire")
	default:
	}
}

func TestAbortResetsLocalStateAndKeepsPlaceholder(t *testing.T) {
	eng, client, _ := newTestEngine(t)
	eng.Open("s1")

	eng.Send(context.Background(), "s1", "go")
	<-client.sent
	eng.HandleChatEvent(delta("s1", "thinking"))

	eng.Abort(context.Background(), "s1")

	rec, _ := eng.Snapshot("s1")
	if rec.Status != StatusIdle {
		t.Fatalf("Status = %q, want %q", rec.Status, StatusIdle)
	}
	if rec.CorrelationID != "" {
		t.Fatalf("CorrelationID = %q, want cleared", rec.CorrelationID)
	}
	if rec.StreamingID == "" {
		t.Fatal("placeholder dropped on abort; late aborted event has nowhere to land")
	}

	// The late aborted event still finalizes the placeholder in place.
	eng.HandleChatEvent(&protocol.ChatEvent{SessionKey: "s1", State: protocol.ChatAborted})
	rec, _ = eng.Snapshot("s1")
	if rec.StreamingID != "" {
		t.Fatalf("StreamingID = %q, want finalized", rec.StreamingID)
	}
}

func TestRegenerateRewindsAndResends(t *testing.T) {
	eng, client, cache := newTestEngine(t)
	eng.Open("s1")

	eng.Send(context.Background(), "s1", "first question")
	<-client.sent
	eng.HandleChatEvent(delta("s1", "answer"))
	eng.HandleChatEvent(final("s1", &protocol.WireMessage{ID: "m1"}))

	eng.Regenerate(context.Background(), "s1")

	rec, _ := eng.Snapshot("s1")
	if len(rec.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want just the re-sent user message", len(rec.Messages))
	}
	if rec.Messages[0].Role != RoleUser || rec.Messages[0].Text != "first question" {
		t.Fatalf("message = %+v, want re-sent user message", rec.Messages[0])
	}
	if rec.Status != StatusSubmitted {
		t.Fatalf("Status = %q, want %q", rec.Status, StatusSubmitted)
	}

	first := <-client.sent
	if first.Text != "first question" {
		t.Fatalf("resent text = %q, want %q", first.Text, "first question")
	}

	cache.mu.Lock()
	defer cache.mu.Unlock()
	if len(cache.messages["s1"]) != 1 {
		t.Fatalf("cache = %d messages, want rewound to 1", len(cache.messages["s1"]))
	}
}

func TestRegenerateWithoutUserMessageIsNoOp(t *testing.T) {
	eng, client, _ := newTestEngine(t)
	eng.Open("s1")
	eng.HandleChatEvent(final("s1", wireText("m1", "unsolicited")))

	eng.Regenerate(context.Background(), "s1")

	rec, _ := eng.Snapshot("s1")
	if len(rec.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want untouched", len(rec.Messages))
	}
	select {
	case <-client.sent:
		t.Fatal("regenerate sent without a user message")
	default:
	}
}

func TestClearHistoryResetsRecordAndCache(t *testing.T) {
	eng, client, cache := newTestEngine(t)
	eng.Open("s1")
	eng.Send(context.Background(), "s1", "hello")
	<-client.sent

	eng.ClearHistory("s1")

	rec, ok := eng.Snapshot("s1")
	if !ok {
		t.Fatal("cleared session no longer resident")
	}
	if len(rec.Messages) != 0 || rec.Status != StatusIdle {
		t.Fatalf("record not reset: %d messages, status %q", len(rec.Messages), rec.Status)
	}
	cache.mu.Lock()
	defer cache.mu.Unlock()
	if len(cache.messages["s1"]) != 0 {
		t.Fatalf("cache = %d messages, want cleared", len(cache.messages["s1"]))
	}
}

func TestAbortAckDispatchesQueuedSend(t *testing.T) {
	eng, client, _ := newTestEngine(t)
	eng.Open("s1")

	eng.Send(context.Background(), "s1", "first")
	<-client.sent
	eng.Send(context.Background(), "s1", "second")

	rec, _ := eng.Snapshot("s1")
	if len(rec.PendingSends) != 1 {
		t.Fatalf("len(PendingSends) = %d, want 1 queued while submitted", len(rec.PendingSends))
	}

	eng.Abort(context.Background(), "s1")

	select {
	case call := <-client.sent:
		if call.Text != "second" {
			t.Fatalf("dispatched text = %q, want %q", call.Text, "second")
		}
	case <-time.After(time.Second):
		t.Fatal("queued send not dispatched after the abort was acknowledged")
	}

	rec, _ = eng.Snapshot("s1")
	if len(rec.PendingSends) != 0 {
		t.Fatalf("len(PendingSends) = %d, want drained", len(rec.PendingSends))
	}
}
