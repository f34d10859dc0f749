// Package remote implements the websocket client for an agent backend. It
// owns the single persistent connection, correlates request/response frames
// by id, and fans incoming chat and tool events out to buffered channels.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/agusx1211/parley/internal/debug"
	"github.com/agusx1211/parley/internal/eventq"
	"github.com/agusx1211/parley/pkg/protocol"
)

const (
	readLimit      = 4 * 1024 * 1024
	writeTimeout   = 15 * time.Second
	eventBuffer    = 256
	requestTimeout = 30 * time.Second
)

// ErrClosed is returned by requests issued after the connection is gone.
var ErrClosed = errors.New("remote: connection closed")

// Client is a connected agent backend. It satisfies the engine's client
// surface; events are consumed from Chat and Tool.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	pendMu  sync.Mutex
	pending map[string]chan protocol.WireResponse

	chatCh chan *protocol.ChatEvent
	toolCh chan *protocol.ToolEvent

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// Dial connects to the backend at url. An empty token skips authentication.
// The read loop runs until the connection drops; Err reports why.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	opts := &websocket.DialOptions{}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + token}}
	}
	conn, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("dialing backend: %w", err)
	}
	conn.SetReadLimit(readLimit)

	c := &Client{
		conn:    conn,
		pending: make(map[string]chan protocol.WireResponse),
		chatCh:  make(chan *protocol.ChatEvent, eventBuffer),
		toolCh:  make(chan *protocol.ToolEvent, eventBuffer),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Chat delivers chat-topic events in arrival order. Closed when the
// connection drops.
func (c *Client) Chat() <-chan *protocol.ChatEvent { return c.chatCh }

// Tool delivers tool-topic events in arrival order. Closed when the
// connection drops.
func (c *Client) Tool() <-chan *protocol.ToolEvent { return c.toolCh }

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.closed }

// Err reports why the connection closed, nil for a clean local Close.
func (c *Client) Err() error {
	select {
	case <-c.closed:
		return c.closeErr
	default:
		return nil
	}
}

// Close tears the connection down and fails all in-flight requests.
func (c *Client) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closed)
		_ = c.conn.CloseNow()

		c.pendMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendMu.Unlock()

		close(c.chatCh)
		close(c.toolCh)
	})
}

func (c *Client) readLoop() {
	for {
		_, frame, err := c.conn.Read(context.Background())
		if err != nil {
			c.shutdown(err)
			return
		}
		msg, err := protocol.DecodeMsg(frame)
		if err != nil {
			debug.Logf("remote", "dropping undecodable frame: %v", err)
			continue
		}
		switch msg.Type {
		case protocol.MsgChat:
			ev, err := protocol.DecodeData[protocol.ChatEvent](msg)
			if err != nil {
				debug.Logf("remote", "bad chat event: %v", err)
				continue
			}
			if !eventq.Offer(c.chatCh, ev) {
				debug.Logf("remote", "chat channel full, dropping %s event for %s", ev.State, ev.SessionKey)
			}
		case protocol.MsgTool:
			ev, err := protocol.DecodeData[protocol.ToolEvent](msg)
			if err != nil {
				debug.Logf("remote", "bad tool event: %v", err)
				continue
			}
			if !eventq.Offer(c.toolCh, ev) {
				debug.Logf("remote", "tool channel full, dropping event for %s", ev.SessionKey)
			}
		case protocol.MsgResponse:
			resp, err := protocol.DecodeData[protocol.WireResponse](msg)
			if err != nil {
				debug.Logf("remote", "bad response frame: %v", err)
				continue
			}
			c.resolve(*resp)
		default:
			debug.Logf("remote", "unknown frame type %q", msg.Type)
		}
	}
}

func (c *Client) resolve(resp protocol.WireResponse) {
	c.pendMu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.pendMu.Unlock()
	if !ok {
		debug.Logf("remote", "response for unknown request %s", resp.ID)
		return
	}
	ch <- resp
}

// request performs one correlated request/response exchange. result may be
// nil for ack-only methods.
func (c *Client) request(ctx context.Context, method string, params, result any) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	var rawParams json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encoding %s params: %w", method, err)
		}
		rawParams = b
	}
	id := uuid.NewString()
	frame, err := protocol.EncodeMsg(protocol.MsgRequest, protocol.WireRequest{
		ID:     id,
		Method: method,
		Params: rawParams,
	})
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}

	respCh := make(chan protocol.WireResponse, 1)
	c.pendMu.Lock()
	c.pending[id] = respCh
	c.pendMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}

	writeCtx, writeCancel := context.WithTimeout(ctx, writeTimeout)
	c.writeMu.Lock()
	err = c.conn.Write(writeCtx, websocket.MessageText, frame)
	c.writeMu.Unlock()
	writeCancel()
	if err != nil {
		c.forget(id)
		return fmt.Errorf("sending %s request: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	case <-c.closed:
		return ErrClosed
	case resp, ok := <-respCh:
		if !ok {
			return ErrClosed
		}
		if resp.Error != "" {
			return fmt.Errorf("%s: %s", method, resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decoding %s result: %w", method, err)
			}
		}
		return nil
	}
}

func (c *Client) forget(id string) {
	c.pendMu.Lock()
	delete(c.pending, id)
	c.pendMu.Unlock()
}

// LoadHistory fetches the persisted history for a session, oldest first.
func (c *Client) LoadHistory(ctx context.Context, sessionKey string, limit int) ([]protocol.WireMessage, error) {
	var result protocol.HistoryLoadResult
	err := c.request(ctx, protocol.MethodHistoryLoad, protocol.HistoryLoadParams{
		SessionKey: sessionKey,
		Limit:      limit,
	}, &result)
	if err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// SendChat submits user text under a correlation id.
func (c *Client) SendChat(ctx context.Context, sessionKey, text, correlationID string) error {
	return c.request(ctx, protocol.MethodChatSend, protocol.ChatSendParams{
		SessionKey:    sessionKey,
		Text:          text,
		CorrelationID: correlationID,
	}, nil)
}

// AbortChat cancels the generation identified by correlationID, or the
// session's current one when empty.
func (c *Client) AbortChat(ctx context.Context, sessionKey, correlationID string) error {
	return c.request(ctx, protocol.MethodChatAbort, protocol.ChatAbortParams{
		SessionKey:    sessionKey,
		CorrelationID: correlationID,
	}, nil)
}

// SetVerbose toggles server-side tool-phase event emission for a session.
func (c *Client) SetVerbose(ctx context.Context, sessionKey string, on bool) error {
	level := "off"
	if on {
		level = "on"
	}
	return c.request(ctx, protocol.MethodVerboseSet, protocol.VerboseSetParams{
		SessionKey: sessionKey,
		Level:      level,
	}, nil)
}

// ListSessions returns the backend's session listing.
func (c *Client) ListSessions(ctx context.Context, filter string) ([]protocol.SessionInfo, error) {
	var result []protocol.SessionInfo
	err := c.request(ctx, protocol.MethodSessionsList, protocol.SessionsListParams{Filter: filter}, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SessionStats returns accumulated usage for a session.
func (c *Client) SessionStats(ctx context.Context, sessionKey string) (*protocol.Usage, error) {
	var result protocol.Usage
	err := c.request(ctx, protocol.MethodSessionStats, protocol.SessionStatsParams{SessionKey: sessionKey}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
