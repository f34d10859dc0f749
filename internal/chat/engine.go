package chat

import (
	"context"
	"sync"
	"time"

	"github.com/agusx1211/parley/internal/debug"
	"github.com/agusx1211/parley/internal/eventq"
	"github.com/agusx1211/parley/pkg/protocol"
)

// Client is the remote backend surface the engine depends on. The concrete
// implementation lives in internal/remote; tests substitute a fake.
type Client interface {
	SendChat(ctx context.Context, sessionKey, text, correlationID string) error
	AbortChat(ctx context.Context, sessionKey, correlationID string) error
	LoadHistory(ctx context.Context, sessionKey string, limit int) ([]protocol.WireMessage, error)
	SetVerbose(ctx context.Context, sessionKey string, on bool) error
}

// Cache is the local persisted copy of conversations, read before the
// backend is asked and written behind every finalized message. The concrete
// implementation lives in internal/cache; a nil Cache disables caching.
type Cache interface {
	Messages(sessionKey string) ([]Message, error)
	Replace(sessionKey string, msgs []Message) error
	Append(sessionKey string, msg Message) error
	Clear(sessionKey string) error
	SaveSession(meta SessionMeta) error
}

// SessionMeta is the cached descriptive state of a session.
type SessionMeta struct {
	Key       string
	Title     string
	UpdatedAt time.Time
}

// Options configures an Engine. Zero fields take defaults; Client is the
// only required field.
type Options struct {
	Client       Client
	Cache        Cache
	Store        *Store // injectable for tests; built from SessionBound when nil
	SessionBound int
	HistoryLimit int
	SpawnTool    string        // tool name that spawns subagents
	SweepGrace   time.Duration // quiet period before stale live tools are swept
}

const (
	defaultSessionBound = 16
	defaultHistoryLimit = 200
	defaultSpawnTool    = "Task"
	defaultSweepGrace   = 30 * time.Second
)

// Engine applies the backend's interleaved chat and tool event streams to
// the session store, keeping each record's message list, live tool state and
// subagent hierarchy consistent.
//
// All event application is serialized on evMu so that two events for the
// same session can never race their read-modify-write cycles; the store's
// own mutex only protects the record swap.
type Engine struct {
	store      *Store
	client     Client
	cache      Cache
	spawnTool  string
	histLimit  int
	sweepGrace time.Duration

	evMu    sync.Mutex
	updates chan string
	now     func() time.Time
}

// NewEngine builds an engine from opts, filling unset options with defaults.
func NewEngine(opts Options) *Engine {
	bound := opts.SessionBound
	if bound <= 0 {
		bound = defaultSessionBound
	}
	store := opts.Store
	if store == nil {
		store = NewStore(bound)
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	spawn := opts.SpawnTool
	if spawn == "" {
		spawn = defaultSpawnTool
	}
	grace := opts.SweepGrace
	if grace <= 0 {
		grace = defaultSweepGrace
	}
	return &Engine{
		store:      store,
		client:     opts.Client,
		cache:      opts.Cache,
		spawnTool:  spawn,
		histLimit:  limit,
		sweepGrace: grace,
		updates:    make(chan string, 256),
		now:        time.Now,
	}
}

// Store exposes the underlying session store for read access.
func (e *Engine) Store() *Store { return e.store }

// Updates delivers the key of every session whose record changed. The
// channel is buffered and lossy per eventq semantics; consumers re-read the
// store, so a dropped notification only delays a repaint.
func (e *Engine) Updates() <-chan string { return e.updates }

// Snapshot returns the current record for a resident session.
func (e *Engine) Snapshot(sessionKey string) (*SessionRecord, bool) {
	return e.store.Peek(sessionKey)
}

// Open makes a session resident (creating an empty record on first access)
// and returns its current snapshot. History is not loaded here; call
// LoadHistory for that.
func (e *Engine) Open(sessionKey string) *SessionRecord {
	rec := e.store.GetOrCreate(sessionKey)
	e.notify(sessionKey)
	return rec
}

// HandleChatEvent applies one chat-topic event. Events for sessions that are
// not resident are dropped; events arriving while the session's history load
// is in flight are buffered and replayed in order once the load settles.
func (e *Engine) HandleChatEvent(ev *protocol.ChatEvent) {
	if ev == nil || ev.SessionKey == "" {
		return
	}
	e.evMu.Lock()
	defer e.evMu.Unlock()

	rec, ok := e.store.Peek(ev.SessionKey)
	if !ok {
		debug.Logf("chat", "drop %s event for non-resident session %s", ev.State, ev.SessionKey)
		return
	}
	if rec.HistoryLoading {
		e.store.Update(ev.SessionKey, func(r *SessionRecord) {
			r.EventBuffer = append(r.EventBuffer, BufferedEvent{Chat: ev})
		})
		return
	}
	e.applyChat(ev.SessionKey, ev)
	e.notify(ev.SessionKey)
}

// HandleToolEvent applies one tool-topic event. A tool event on a child
// session is mirrored onto the parent's subagent record exactly once,
// whether or not the child itself is resident; events buffered behind a
// child's history load are mirrored at replay time instead.
func (e *Engine) HandleToolEvent(ev *protocol.ToolEvent) {
	if ev == nil || ev.SessionKey == "" {
		return
	}
	e.evMu.Lock()
	defer e.evMu.Unlock()

	rec, resident := e.store.Peek(ev.SessionKey)
	if resident && rec.HistoryLoading {
		// Replay mirrors buffered events onto the parent; mirroring here
		// too would apply them twice.
		e.store.Update(ev.SessionKey, func(r *SessionRecord) {
			r.EventBuffer = append(r.EventBuffer, BufferedEvent{Tool: ev})
		})
		return
	}

	if ref, ok := e.store.ChildRef(ev.SessionKey); ok {
		e.mirrorChildTool(ref, ev)
		e.notify(ref.ParentKey)
	}

	if !resident {
		return
	}
	e.applyTool(ev.SessionKey, ev)
	e.notify(ev.SessionKey)
}

// replayBuffered drains a session's event buffer in arrival order. Caller
// holds evMu.
func (e *Engine) replayBuffered(sessionKey string) {
	rec, ok := e.store.Peek(sessionKey)
	if !ok || len(rec.EventBuffer) == 0 {
		return
	}
	buffered := rec.EventBuffer
	e.store.Update(sessionKey, func(r *SessionRecord) {
		r.EventBuffer = nil
	})
	debug.Logf("chat", "replaying %d buffered events for %s", len(buffered), sessionKey)
	for _, ev := range buffered {
		switch {
		case ev.Chat != nil:
			e.applyChat(sessionKey, ev.Chat)
		case ev.Tool != nil:
			if ref, ok := e.store.ChildRef(ev.Tool.SessionKey); ok {
				e.mirrorChildTool(ref, ev.Tool)
			}
			e.applyTool(sessionKey, ev.Tool)
		}
	}
}

// notify pushes a session key onto the updates channel without blocking.
func (e *Engine) notify(sessionKey string) {
	eventq.Offer(e.updates, sessionKey)
}
