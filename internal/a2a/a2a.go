// Package a2a implements the agent-to-agent messaging tool backend.
//
// A Client holds a bidirectional WebSocket connection to a peer agent and
// exchanges JSON envelopes: a skills/list request yields the peer's tool
// catalogue, a message/send request delivers one tool call and returns the
// peer's result. Every request carries a correlation ID so replies can be
// matched to their in-flight callers.
package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/parley-ai/parley/internal/toolrouter"
	"github.com/parley-ai/parley/pkg/chat"
)

// Compile-time check that *Client satisfies [toolrouter.Backend].
var _ toolrouter.Backend = (*Client)(nil)

// replyBuf is the buffer of a per-request reply channel. One slot suffices:
// each correlation ID receives at most one reply.
const replyBuf = 1

// ── Protocol envelopes ─────────────────────────────────────────────────────────

// envelope is the single frame type of the agent-to-agent protocol. Type
// selects which payload fields are meaningful.
type envelope struct {
	// Type is one of "skills/list", "skills/result", "message/send",
	// "message/result" or "error".
	Type string `json:"type"`

	// ID correlates a reply to its request.
	ID string `json:"id,omitempty"`

	// Skills is set on skills/result frames.
	Skills []skill `json:"skills,omitempty"`

	// Message is set on message/send frames.
	Message *messagePayload `json:"message,omitempty"`

	// Result is set on message/result frames.
	Result *resultPayload `json:"result,omitempty"`

	// Error is set on error frames.
	Error string `json:"error,omitempty"`
}

// skill describes one tool the peer agent offers.
type skill struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// messagePayload carries one tool call to the peer agent.
type messagePayload struct {
	Tool         string          `json:"tool"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
	Instructions string          `json:"instructions,omitempty"`
	CallID       string          `json:"call_id,omitempty"`
}

// resultPayload carries the peer agent's execution outcome.
type resultPayload struct {
	Success  bool           `json:"success"`
	Content  string         `json:"content,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ── Client ─────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithToken sets the bearer token sent in the Authorization header on dial.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithPeerName sets the name used to identify this backend in logs and
// routing decisions. The default is "a2a".
func WithPeerName(name string) Option {
	return func(c *Client) { c.name = name }
}

// Client is a connected agent-to-agent messaging peer. It implements
// [toolrouter.Backend] and is safe for concurrent use.
type Client struct {
	name  string
	token string

	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]chan envelope
	readErr error

	nextID    atomic.Uint64
	closeOnce sync.Once
}

// Dial connects to the peer agent at url (ws:// or wss://) and starts the
// read loop. The returned Client must be released with [Client.Close].
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		name:    "a2a",
		pending: make(map[string]chan envelope),
	}
	for _, o := range opts {
		o(c)
	}

	dialOpts := &websocket.DialOptions{}
	if c.token != "" {
		dialOpts.HTTPHeader = http.Header{
			"Authorization": []string{"Bearer " + c.token},
		}
	}

	conn, _, err := websocket.Dial(ctx, url, dialOpts)
	if err != nil {
		return nil, fmt.Errorf("a2a: dial %s: %w", url, err)
	}

	c.conn = conn
	c.ctx, c.cancel = context.WithCancel(context.Background())
	go c.readLoop()

	return c, nil
}

// Name identifies this backend in logs and routing decisions.
func (c *Client) Name() string {
	return c.name
}

// AvailableTools asks the peer agent for its skill catalogue and returns it
// as tool definitions, in the order the peer listed them.
func (c *Client) AvailableTools(ctx context.Context) ([]chat.ToolDefinition, error) {
	reply, err := c.roundTrip(ctx, envelope{Type: "skills/list"})
	if err != nil {
		return nil, err
	}

	defs := make([]chat.ToolDefinition, len(reply.Skills))
	for i, s := range reply.Skills {
		defs[i] = chat.ToolDefinition{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.Parameters,
		}
	}
	return defs, nil
}

// ExecuteTool delivers call to the peer agent and waits for its result.
func (c *Client) ExecuteTool(ctx context.Context, call chat.ToolCall) (*chat.ToolResult, error) {
	msg := &messagePayload{
		Tool:         call.Name,
		Instructions: call.Instructions,
		CallID:       call.ID,
	}
	if call.Arguments != nil && call.Arguments.Len() > 0 {
		msg.Arguments = json.RawMessage(call.Arguments.JSONObject())
	}

	reply, err := c.roundTrip(ctx, envelope{Type: "message/send", Message: msg})
	if err != nil {
		return nil, err
	}
	if reply.Result == nil {
		return nil, fmt.Errorf("a2a: peer reply %s carries no result", reply.Type)
	}

	return &chat.ToolResult{
		Success:  reply.Result.Success,
		Content:  reply.Result.Content,
		Error:    reply.Result.Error,
		Metadata: reply.Result.Metadata,
	}, nil
}

// Close stops the read loop and closes the connection. Safe to call
// repeatedly.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close(websocket.StatusNormalClosure, "client closed")
	})
	return err
}

// roundTrip assigns a correlation ID to req, sends it, and waits for the
// matching reply. An error-typed reply is surfaced as a Go error.
func (c *Client) roundTrip(ctx context.Context, req envelope) (envelope, error) {
	req.ID = "req_" + strconv.FormatUint(c.nextID.Add(1), 10)

	replyCh := make(chan envelope, replyBuf)
	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return envelope{}, fmt.Errorf("a2a: connection lost: %w", err)
	}
	c.pending[req.ID] = replyCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if err := c.writeJSON(ctx, req); err != nil {
		return envelope{}, err
	}

	select {
	case reply := <-replyCh:
		if reply.Type == "error" {
			return envelope{}, fmt.Errorf("a2a: peer error: %s", reply.Error)
		}
		return reply, nil
	case <-ctx.Done():
		return envelope{}, fmt.Errorf("a2a: awaiting reply: %w", ctx.Err())
	case <-c.ctx.Done():
		return envelope{}, fmt.Errorf("a2a: connection closed while awaiting reply")
	}
}

// writeJSON marshals v and writes it as a text WebSocket frame.
func (c *Client) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("a2a: marshal: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("a2a: write: %w", err)
	}
	return nil
}

// readLoop reads frames from the connection and routes each reply to the
// goroutine waiting on its correlation ID. Frames without a pending waiter
// are dropped. On exit every waiter is released.
func (c *Client) readLoop() {
	defer c.failPending()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[env.ID]
		c.mu.Unlock()
		if ok {
			ch <- env
		}
	}
}

// failPending wakes every in-flight roundTrip after the read loop exits by
// cancelling the client context.
func (c *Client) failPending() {
	c.cancel()
}
