// Package orchestrator coordinates multi-turn conversations between an LLM
// provider and the tool dispatch chain.
//
// A [Coordinator] owns a private copy of the conversation and advances it one
// user turn at a time: it sends the conversation to the model, surfaces the
// assistant reply on its message channel, executes any tool calls the reply
// requested, feeds the results back to the model, and repeats until the model
// answers without requesting tools. Streamed completions additionally surface
// incremental text on a partial-text channel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/parley-ai/parley/internal/callparse"
	"github.com/parley-ai/parley/internal/observe"
	"github.com/parley-ai/parley/internal/toolrouter"
	"github.com/parley-ai/parley/pkg/chat"
	"github.com/parley-ai/parley/pkg/provider/llm"
)

const (
	// DefaultMaxTurns bounds how many model round-trips a single
	// [Coordinator.ProcessTurn] invocation may perform.
	DefaultMaxTurns = 10

	// channelBuf is the buffer depth of the message and partial-text
	// channels. Sized so a turn with a handful of tool round-trips completes
	// even when the consumer drains only after ProcessTurn returns.
	channelBuf = 16
)

// ErrMaxTurns is returned by [Coordinator.ProcessTurn] when the model keeps
// requesting tools past the configured turn limit.
var ErrMaxTurns = errors.New("orchestrator: model turn limit exceeded")

// Config carries the immutable per-Coordinator settings. The zero value is
// usable: non-streaming, all backends disabled at router construction time,
// provider defaults for sampling, and [DefaultMaxTurns] round-trips.
type Config struct {
	// StreamingEnabled selects [llm.Provider.Stream] over Send. Incremental
	// text is surfaced on the [Coordinator.Partials] channel.
	StreamingEnabled bool

	// MCPEnabled and A2AEnabled mirror which backends were wired into the
	// router. They are informational here; the router enforces them.
	MCPEnabled bool
	A2AEnabled bool

	// ToolConnectionTimeout bounds each individual tool dispatch. Zero means
	// no per-call deadline beyond the turn's context.
	ToolConnectionTimeout time.Duration

	// MaxTokens, Temperature and TopP are passed through to the provider.
	// Zero requests the provider default.
	MaxTokens   int
	Temperature float64
	TopP        float64

	// MaxTurns caps model round-trips per ProcessTurn invocation. Zero or
	// negative means [DefaultMaxTurns].
	MaxTurns int

	// AdditionalParameters holds provider-specific request values.
	AdditionalParameters map[string]any
}

// Coordinator drives conversation turns. All exported methods are safe for
// concurrent use, with one exception: [Coordinator.EndStream] must not be
// called while a ProcessTurn invocation is in flight.
type Coordinator struct {
	provider  llm.Provider
	router    *toolrouter.Router
	extractor *callparse.Extractor
	metrics   *observe.Metrics
	cfg       Config

	// mu serializes ProcessTurn so the conversation copy has a single owner.
	mu           sync.Mutex
	conversation []chat.Message

	// chMu guards lazy creation and closing of the two output channels.
	chMu      sync.Mutex
	msgCh     chan chat.Message
	partialCh chan string
}

// Option configures a [Coordinator] during construction.
type Option func(*Coordinator)

// WithConfig sets the coordinator's [Config].
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) { c.cfg = cfg }
}

// WithExtractor overrides the tool-call extractor used to recover calls
// embedded in plain response text, e.g. to change the sentinel markers.
func WithExtractor(e *callparse.Extractor) Option {
	return func(c *Coordinator) { c.extractor = e }
}

// WithMetrics overrides the metrics instance. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New creates a Coordinator for the given provider and tool router.
func New(provider llm.Provider, router *toolrouter.Router, opts ...Option) *Coordinator {
	c := &Coordinator{
		provider:  provider,
		router:    router,
		extractor: callparse.NewExtractor(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Messages returns the channel on which assistant and tool messages are
// emitted, creating it on first access. The channel is closed by
// [Coordinator.EndStream]; the next access after that creates a fresh one.
func (c *Coordinator) Messages() <-chan chat.Message {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	if c.msgCh == nil {
		c.msgCh = make(chan chat.Message, channelBuf)
	}
	return c.msgCh
}

// Partials returns the channel carrying incremental streamed text, creating
// it on first access. It is closed once per ProcessTurn invocation when the
// settled response carries no further tool calls, and on error or
// cancellation; the next access creates a fresh channel.
func (c *Coordinator) Partials() <-chan string {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	return c.partialsLocked()
}

func (c *Coordinator) partialsLocked() chan string {
	if c.partialCh == nil {
		c.partialCh = make(chan string, channelBuf)
	}
	return c.partialCh
}

// EndStream closes both output channels and clears the references so the
// next accessor call creates fresh channels. Safe to call repeatedly; must
// not race a ProcessTurn invocation.
func (c *Coordinator) EndStream() {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	if c.msgCh != nil {
		close(c.msgCh)
		c.msgCh = nil
	}
	c.closePartialsLocked()
}

// closePartials closes the partial-text channel if it exists and clears the
// reference. Idempotent.
func (c *Coordinator) closePartials() {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	c.closePartialsLocked()
}

func (c *Coordinator) closePartialsLocked() {
	if c.partialCh != nil {
		close(c.partialCh)
		c.partialCh = nil
	}
}

// AllAvailableTools aggregates tool definitions across the router's enabled
// backends.
func (c *Coordinator) AllAvailableTools(ctx context.Context) []chat.ToolDefinition {
	return c.router.AllAvailableTools(ctx)
}

// ProcessTurn advances the conversation by one user turn.
//
// messages is the conversation so far, including the new user message; the
// coordinator works on its own copy and never mutates the caller's slice.
// availableTools is the set of tool definitions offered to the model.
//
// The assistant reply — and, when it requests tools, the tool-role result
// messages and every follow-up assistant reply — are emitted in order on the
// [Coordinator.Messages] channel. When streaming is enabled, incremental text
// is emitted on [Coordinator.Partials], which is closed when the turn
// settles.
//
// Provider-level errors abort the turn and are returned. Tool-level failures
// never abort: the router swallows them and the model simply receives fewer
// results. When the model keeps requesting tools past the configured limit,
// ProcessTurn returns an error wrapping [ErrMaxTurns].
func (c *Coordinator) ProcessTurn(ctx context.Context, messages []chat.Message, availableTools []chat.ToolDefinition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	outcome := "ok"
	defer func() {
		c.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
		c.metrics.RecordTurn(ctx, outcome)
	}()

	c.conversation = append(make([]chat.Message, 0, len(messages)+4), messages...)

	toolNames := make([]string, len(availableTools))
	for i, def := range availableTools {
		toolNames[i] = def.Name
	}

	req := llm.RequestConfig{
		Stream:               c.cfg.StreamingEnabled,
		Tools:                availableTools,
		MaxTokens:            c.cfg.MaxTokens,
		Temperature:          c.cfg.Temperature,
		TopP:                 c.cfg.TopP,
		AdditionalParameters: c.cfg.AdditionalParameters,
	}

	maxTurns := c.cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	for turn := 1; ; turn++ {
		// Respect context cancellation eagerly.
		if err := ctx.Err(); err != nil {
			outcome = "error"
			c.closeOnExit(ctx)
			return fmt.Errorf("orchestrator: %w", err)
		}
		if turn > maxTurns {
			outcome = "max_turns"
			c.closeOnExit(ctx)
			return fmt.Errorf("orchestrator: aborting after %d model round-trips: %w", maxTurns, ErrMaxTurns)
		}

		resp, err := c.complete(ctx, req)
		if err != nil {
			outcome = "error"
			c.metrics.RecordProviderError(ctx, c.provider.ModelName(), string(llm.KindOf(err)))
			c.closeOnExit(ctx)
			return fmt.Errorf("orchestrator: completion failed: %w", err)
		}

		calls := c.recoverCalls(resp, toolNames)

		assistant := chat.NewMessage(chat.RoleAssistant, resp.Content)
		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = chat.NewCallID()
			}
			assistant.ToolCalls = append(assistant.ToolCalls, calls[i].ID)
		}
		c.conversation = append(c.conversation, assistant)
		if err := c.emitMessage(ctx, assistant); err != nil {
			outcome = "error"
			c.closeOnExit(ctx)
			return err
		}

		if len(calls) == 0 {
			c.closePartials()
			return nil
		}

		// Execute the requested tools in order and feed results back.
		fed := 0
		for _, call := range calls {
			for _, result := range c.dispatch(ctx, call) {
				toolMsg := chat.NewMessage(chat.RoleTool, result.Content)
				toolMsg.ToolCallID = result.ToolCallID
				c.conversation = append(c.conversation, toolMsg)
				if err := c.emitMessage(ctx, toolMsg); err != nil {
					outcome = "error"
					c.closeOnExit(ctx)
					return err
				}
				fed++
			}
		}

		// Every backend came up empty: nothing new to tell the model.
		if fed == 0 {
			c.closePartials()
			return nil
		}
	}
}

// complete performs one model round-trip, streaming or not per config.
func (c *Coordinator) complete(ctx context.Context, req llm.RequestConfig) (*chat.LLMResponse, error) {
	reqStart := time.Now()
	defer func() {
		c.metrics.LLMRequestDuration.Record(ctx, time.Since(reqStart).Seconds())
	}()

	if !c.cfg.StreamingEnabled {
		return c.provider.Send(ctx, c.conversation, req)
	}

	events, err := c.provider.Stream(ctx, c.conversation, req)
	if err != nil {
		return nil, err
	}

	c.metrics.ActiveStreams.Add(ctx, 1)
	defer c.metrics.ActiveStreams.Add(ctx, -1)

	var final *chat.LLMResponse
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if final == nil {
					return nil, &llm.Error{
						Kind:     llm.KindInvalidResponse,
						Provider: c.provider.ModelName(),
						Message:  "stream ended without a final response",
					}
				}
				return final, nil
			}
			switch {
			case ev.Err != nil:
				return nil, ev.Err
			case ev.Fragment != nil:
				if ev.Fragment.Content != "" {
					if err := c.emitPartial(ctx, ev.Fragment.Content); err != nil {
						return nil, err
					}
				}
			case ev.Final != nil:
				final = ev.Final
			}
		}
	}
}

// recoverCalls returns the structured tool calls of resp. When resp has none
// but its text embeds a call against one of the offered tool names, the call
// is parsed out, the surrounding text cleaned up, and the synthesized call
// returned instead. This is how models without native tool calling
// participate in tool use.
func (c *Coordinator) recoverCalls(resp *chat.LLMResponse, toolNames []string) []chat.ToolCall {
	if len(resp.ToolCalls) > 0 {
		calls := make([]chat.ToolCall, len(resp.ToolCalls))
		copy(calls, resp.ToolCalls)
		return calls
	}

	display, call := c.extractor.Normalize(resp.Content, toolNames)
	if call == nil {
		return nil
	}
	resp.Content = display
	return []chat.ToolCall{*call}
}

// dispatch routes one call through the backend chain, applying the optional
// per-call timeout.
func (c *Coordinator) dispatch(ctx context.Context, call chat.ToolCall) []chat.LLMResponse {
	if c.cfg.ToolConnectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ToolConnectionTimeout)
		defer cancel()
	}

	execStart := time.Now()
	results := c.router.Dispatch(ctx, call)
	c.metrics.ToolExecutionDuration.Record(ctx, time.Since(execStart).Seconds(),
		metric.WithAttributes(observe.Attr("tool", call.Name)))

	status := "ok"
	if len(results) == 0 {
		status = "empty"
	}
	c.metrics.RecordToolCall(ctx, call.Name, status)

	return results
}

// emitMessage delivers msg on the message channel, honoring cancellation.
func (c *Coordinator) emitMessage(ctx context.Context, msg chat.Message) error {
	c.chMu.Lock()
	if c.msgCh == nil {
		c.msgCh = make(chan chat.Message, channelBuf)
	}
	ch := c.msgCh
	c.chMu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("orchestrator: emit aborted: %w", err)
	}
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator: emit aborted: %w", ctx.Err())
	}
}

// emitPartial delivers an incremental text fragment, honoring cancellation.
func (c *Coordinator) emitPartial(ctx context.Context, text string) error {
	c.chMu.Lock()
	ch := c.partialsLocked()
	c.chMu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("orchestrator: emit aborted: %w", err)
	}
	select {
	case ch <- text:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator: emit aborted: %w", ctx.Err())
	}
}

// closeOnExit releases the output channels on an aborted turn. A cancelled
// context closes both channels so consumers of a streamed turn unblock; any
// other failure only settles the partial-text channel.
func (c *Coordinator) closeOnExit(ctx context.Context) {
	if ctx.Err() != nil {
		c.EndStream()
		return
	}
	c.closePartials()
}
