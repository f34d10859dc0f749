package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agusx1211/parley/internal/hexid"
	"github.com/agusx1211/parley/pkg/protocol"
)

type sendCall struct {
	SessionKey string
	Text       string
	Corr       string
}

// fakeClient is an in-memory backend double. LoadHistory can be gated to
// hold the fetch open while live events arrive.
type fakeClient struct {
	mu      sync.Mutex
	history map[string][]protocol.WireMessage
	histErr error
	sendErr error
	verbose map[string]bool
	aborts  []string

	gate chan struct{} // when non-nil, LoadHistory blocks until closed
	sent chan sendCall
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		history: make(map[string][]protocol.WireMessage),
		verbose: make(map[string]bool),
		sent:    make(chan sendCall, 16),
	}
}

func (c *fakeClient) SendChat(ctx context.Context, sessionKey, text, corr string) error {
	c.mu.Lock()
	err := c.sendErr
	c.mu.Unlock()
	c.sent <- sendCall{SessionKey: sessionKey, Text: text, Corr: corr}
	return err
}

func (c *fakeClient) AbortChat(ctx context.Context, sessionKey, corr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborts = append(c.aborts, sessionKey+"/"+corr)
	return nil
}

func (c *fakeClient) LoadHistory(ctx context.Context, sessionKey string, limit int) ([]protocol.WireMessage, error) {
	c.mu.Lock()
	gate := c.gate
	msgs := c.history[sessionKey]
	err := c.histErr
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return msgs, err
}

func (c *fakeClient) SetVerbose(ctx context.Context, sessionKey string, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verbose[sessionKey] = on
	return nil
}

// fakeCache is an in-memory Cache double.
type fakeCache struct {
	mu       sync.Mutex
	messages map[string][]Message
	sessions map[string]SessionMeta
	appends  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		messages: make(map[string][]Message),
		sessions: make(map[string]SessionMeta),
	}
}

func (c *fakeCache) Messages(key string) ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages[key]...), nil
}

func (c *fakeCache) Replace(key string, msgs []Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[key] = append([]Message(nil), msgs...)
	return nil
}

func (c *fakeCache) Append(key string, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[key] = append(c.messages[key], msg)
	c.appends++
	return nil
}

func (c *fakeCache) Clear(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.messages, key)
	return nil
}

func (c *fakeCache) SaveSession(meta SessionMeta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[meta.Key] = meta
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeClient, *fakeCache) {
	t.Helper()
	client := newFakeClient()
	cache := newFakeCache()
	eng := NewEngine(Options{Client: client, Cache: cache})
	return eng, client, cache
}

func delta(key, text string) *protocol.ChatEvent {
	return &protocol.ChatEvent{SessionKey: key, State: protocol.ChatDelta, Text: text}
}

func final(key string, msg *protocol.WireMessage) *protocol.ChatEvent {
	return &protocol.ChatEvent{SessionKey: key, State: protocol.ChatFinal, Message: msg}
}

func TestStreamingDeltasCollapseToOneMessage(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.Open("s1")

	eng.HandleChatEvent(delta("s1", "Hel"))
	eng.HandleChatEvent(delta("s1", "Hello"))

	rec, _ := eng.Snapshot("s1")
	if len(rec.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want 1", len(rec.Messages))
	}
	if rec.Messages[0].Text != "Hello" {
		t.Fatalf("Text = %q, want %q", rec.Messages[0].Text, "Hello")
	}
	if rec.Status != StatusStreaming {
		t.Fatalf("Status = %q, want %q", rec.Status, StatusStreaming)
	}
	if !hexid.IsPending(rec.Messages[0].ID) {
		t.Fatalf("streaming id %q is not a placeholder", rec.Messages[0].ID)
	}
	if rec.StreamingID != rec.Messages[0].ID {
		t.Fatalf("StreamingID = %q, want %q", rec.StreamingID, rec.Messages[0].ID)
	}

	eng.HandleChatEvent(final("s1", &protocol.WireMessage{ID: "m-perm"}))

	rec, _ = eng.Snapshot("s1")
	if len(rec.Messages) != 1 {
		t.Fatalf("len(Messages) after final = %d, want 1", len(rec.Messages))
	}
	if rec.Messages[0].ID != "m-perm" {
		t.Fatalf("final id = %q, want %q", rec.Messages[0].ID, "m-perm")
	}
	if rec.Messages[0].Text != "Hello" {
		t.Fatalf("final text = %q, want %q", rec.Messages[0].Text, "Hello")
	}
	if rec.Status != StatusIdle {
		t.Fatalf("Status = %q, want %q", rec.Status, StatusIdle)
	}
	if rec.StreamingID != "" {
		t.Fatalf("StreamingID = %q, want empty", rec.StreamingID)
	}
}

func TestFinalWithoutPlaceholderIsAppended(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.Open("s1")

	eng.HandleChatEvent(final("s1", wireText("m9", "late answer")))

	rec, _ := eng.Snapshot("s1")
	if len(rec.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want 1", len(rec.Messages))
	}
	if rec.Messages[0].Text != "late answer" {
		t.Fatalf("Text = %q, want %q", rec.Messages[0].Text, "late answer")
	}
}

func TestAbortedAppendsNotice(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.Open("s1")

	eng.HandleChatEvent(delta("s1", "partial"))
	eng.HandleChatEvent(&protocol.ChatEvent{SessionKey: "s1", State: protocol.ChatAborted})

	rec, _ := eng.Snapshot("s1")
	if len(rec.Messages) != 1 {
		t.Fatalf("len(Messages) = %d, want 1", len(rec.Messages))
	}
	if !strings.HasPrefix(rec.Messages[0].Text, "partial") || !strings.HasSuffix(rec.Messages[0].Text, abortNotice) {
		t.Fatalf("aborted text = %q, want partial content plus notice", rec.Messages[0].Text)
	}
	if rec.Status != StatusIdle {
		t.Fatalf("Status = %q, want %q", rec.Status, StatusIdle)
	}
}

func TestAbortedWithNoContentIsNoticeAlone(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.Open("s1")

	eng.HandleChatEvent(delta("s1", ""))
	eng.HandleChatEvent(&protocol.ChatEvent{SessionKey: "s1", State: protocol.ChatAborted})

	rec, _ := eng.Snapshot("s1")
	if rec.Messages[len(rec.Messages)-1].Text != abortNotice {
		t.Fatalf("aborted text = %q, want %q", rec.Messages[len(rec.Messages)-1].Text, abortNotice)
	}
}

func TestGenerationErrorDiscardsPartialContent(t *testing.T) {
	eng, _, cache := newTestEngine(t)
	eng.Open("s1")

	eng.HandleChatEvent(delta("s1", "half a tho"))
	eng.HandleChatEvent(&protocol.ChatEvent{
		SessionKey:   "s1",
		State:        protocol.ChatError,
		ErrorMessage: "backend overloaded",
	})

	rec, _ := eng.Snapshot("s1")
	if len(rec.Messages) != 0 {
		t.Fatalf("len(Messages) = %d, want 0 after error", len(rec.Messages))
	}
	if rec.Status != StatusError {
		t.Fatalf("Status = %q, want %q", rec.Status, StatusError)
	}
	if rec.LastError != "backend overloaded" {
		t.Fatalf("LastError = %q, want %q", rec.LastError, "backend overloaded")
	}
	if rec.StreamingID != "" {
		t.Fatalf("StreamingID = %q, want empty", rec.StreamingID)
	}
	cache.mu.Lock()
	defer cache.mu.Unlock()
	if len(cache.messages["s1"]) != 0 {
		t.Fatalf("cache holds %d messages, want 0", len(cache.messages["s1"]))
	}
}

func TestEventsForNonResidentSessionsAreDropped(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	eng.HandleChatEvent(delta("ghost", "hi"))

	if _, ok := eng.Snapshot("ghost"); ok {
		t.Fatal("event for non-resident session created a record")
	}
}

func TestFinalPersistsToCache(t *testing.T) {
	eng, _, cache := newTestEngine(t)
	eng.Open("s1")

	eng.HandleChatEvent(delta("s1", "Hello"))
	eng.HandleChatEvent(final("s1", &protocol.WireMessage{ID: "m1"}))

	cache.mu.Lock()
	defer cache.mu.Unlock()
	got := cache.messages["s1"]
	if len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("cached = %+v, want one message with id m1", got)
	}
}

func TestSendFailureSurfacesSessionError(t *testing.T) {
	eng, client, _ := newTestEngine(t)
	client.sendErr = errors.New("rejected")
	eng.Open("s1")

	eng.Send(context.Background(), "s1", "hi")
	<-client.sent

	deadline := time.After(2 * time.Second)
	for {
		rec, _ := eng.Snapshot("s1")
		if rec.Status == StatusError {
			if rec.LastError != "rejected" {
				t.Fatalf("LastError = %q, want %q", rec.LastError, "rejected")
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("Status = %q, want %q", rec.Status, StatusError)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func wireText(id, text string) *protocol.WireMessage {
	block, _ := json.Marshal(map[string]string{"type": "text", "text": text})
	return &protocol.WireMessage{
		ID:      id,
		Role:    "assistant",
		Content: []json.RawMessage{block},
	}
}
