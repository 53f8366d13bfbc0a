// Package toolrouter dispatches structured tool calls to an ordered chain of
// tool backends and aggregates whichever respond.
//
// The chain has a fixed policy: the registry backend (MCP) and the messaging
// backend (A2A), when each is enabled, are both attempted unconditionally and
// their results concatenated — a call name could in principle be served by
// both, and both contributions are kept. The generic function registry is
// consulted only as a fallback, and only when neither of the two above
// produced any result. This ordering is part of the dispatch contract; do not
// "simplify" it into first-match-wins.
package toolrouter

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/parley-ai/parley/pkg/chat"
)

// Backend is a tool-executing collaborator: a remote tool registry, an
// agent-messaging client, or a local function registry.
//
// Implementations must be safe for concurrent use. ExecuteTool fails either
// by returning a result with Success=false and an error string, or by
// returning a Go error — the router treats both as "no contribution" from
// that backend for that call.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// AvailableTools lists the tool definitions this backend currently offers.
	AvailableTools(ctx context.Context) ([]chat.ToolDefinition, error)

	// ExecuteTool runs one call and returns its result.
	ExecuteTool(ctx context.Context, call chat.ToolCall) (*chat.ToolResult, error)
}

// Router fans a single tool call out to the enabled backends.
//
// The zero value is usable and dispatches nothing; configure backends with
// the With* options.
type Router struct {
	registry  Backend // MCP tool registry
	messaging Backend // agent-to-agent messaging client
	functions Backend // generic fallback
}

// Option configures a [Router] during construction.
type Option func(*Router)

// WithRegistry sets the remote tool-registry backend (MCP).
func WithRegistry(b Backend) Option {
	return func(r *Router) { r.registry = b }
}

// WithMessaging sets the agent-messaging backend (A2A).
func WithMessaging(b Backend) Option {
	return func(r *Router) { r.messaging = b }
}

// WithFunctions sets the generic function-registry fallback.
func WithFunctions(b Backend) Option {
	return func(r *Router) { r.functions = b }
}

// New creates a Router with the given backends. Omitted backends are
// disabled.
func New(opts ...Option) *Router {
	r := &Router{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatch routes one call through the backend chain and returns the ordered
// list of results, each stamped with the call's ID. An error raised by a
// backend is swallowed at this call's scope: the backend simply contributes
// nothing and dispatch continues.
func (r *Router) Dispatch(ctx context.Context, call chat.ToolCall) []chat.LLMResponse {
	var out []chat.LLMResponse

	// Registry and messaging are both attempted unconditionally.
	for _, b := range []Backend{r.registry, r.messaging} {
		if b == nil {
			continue
		}
		if resp, ok := r.try(ctx, b, call); ok {
			out = append(out, resp)
		}
	}

	// The function registry is a fallback only.
	if len(out) == 0 && r.functions != nil {
		if resp, ok := r.try(ctx, r.functions, call); ok {
			out = append(out, resp)
		}
	}

	return out
}

// try executes call on b, converting the outcome into an LLMResponse. Both a
// raised error and an unsuccessful result count as no contribution.
func (r *Router) try(ctx context.Context, b Backend, call chat.ToolCall) (chat.LLMResponse, bool) {
	result, err := b.ExecuteTool(ctx, call)
	if err != nil {
		slog.Warn("tool backend failed",
			"backend", b.Name(),
			"tool", call.Name,
			"call_id", call.ID,
			"error", err,
		)
		return chat.LLMResponse{}, false
	}
	if result == nil || !result.Success {
		errText := ""
		if result != nil {
			errText = result.Error
		}
		slog.Warn("tool returned an error result",
			"backend", b.Name(),
			"tool", call.Name,
			"call_id", call.ID,
			"error", errText,
		)
		return chat.LLMResponse{}, false
	}

	return chat.LLMResponse{
		Content:    result.Content,
		IsComplete: true,
		ToolCallID: call.ID,
	}, true
}

// AllAvailableTools aggregates tool definitions across all enabled backends,
// in chain order (registry, messaging, functions). Backends are queried
// concurrently; a backend that fails to list is logged and contributes
// nothing.
func (r *Router) AllAvailableTools(ctx context.Context) []chat.ToolDefinition {
	backends := []Backend{r.registry, r.messaging, r.functions}

	var (
		mu      sync.Mutex
		perSlot = make([][]chat.ToolDefinition, len(backends))
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, b := range backends {
		if b == nil {
			continue
		}
		g.Go(func() error {
			defs, err := b.AvailableTools(gctx)
			if err != nil {
				slog.Warn("tool backend failed to list tools", "backend", b.Name(), "error", err)
				return nil
			}
			mu.Lock()
			perSlot[i] = defs
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var out []chat.ToolDefinition
	for _, defs := range perSlot {
		out = append(out, defs...)
	}
	return out
}
