package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/parley-ai/parley/internal/toolrouter"
	routermock "github.com/parley-ai/parley/internal/toolrouter/mock"
	"github.com/parley-ai/parley/pkg/chat"
	"github.com/parley-ai/parley/pkg/provider/llm"
	llmmock "github.com/parley-ai/parley/pkg/provider/llm/mock"
)

var lookupTools = []chat.ToolDefinition{
	{Name: "lookup", Description: "looks things up"},
}

// drain collects every message currently buffered on ch without blocking.
func drain(ch <-chan chat.Message) []chat.Message {
	var out []chat.Message
	for {
		select {
		case m := <-ch:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestProcessTurn_PlainReply(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		SendResponses: []*chat.LLMResponse{{Content: "Hello there!", IsComplete: true}},
	}
	c := New(p, toolrouter.New())
	msgCh := c.Messages()

	err := c.ProcessTurn(context.Background(), []chat.Message{chat.NewMessage(chat.RoleUser, "hi")}, nil)
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	got := drain(msgCh)
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if got[0].Role != chat.RoleAssistant || got[0].Content != "Hello there!" {
		t.Fatalf("unexpected message: %+v", got[0])
	}
	if len(p.SendCalls) != 1 {
		t.Fatalf("provider called %d times, want 1", len(p.SendCalls))
	}
}

func TestProcessTurn_ToolRoundTrip(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		SendResponses: []*chat.LLMResponse{
			{
				ToolCalls:  []chat.ToolCall{{Name: "lookup", ID: "call_abc12345"}},
				IsComplete: true,
			},
			{Content: "The answer is 42.", IsComplete: true},
		},
	}
	backend := &routermock.Backend{
		BackendName: "registry",
		Result:      &chat.ToolResult{Success: true, Content: "42"},
	}
	c := New(p, toolrouter.New(toolrouter.WithRegistry(backend)))
	msgCh := c.Messages()

	err := c.ProcessTurn(context.Background(), []chat.Message{chat.NewMessage(chat.RoleUser, "what is the answer?")}, lookupTools)
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	got := drain(msgCh)
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	if got[0].Role != chat.RoleAssistant || len(got[0].ToolCalls) != 1 || got[0].ToolCalls[0] != "call_abc12345" {
		t.Fatalf("unexpected assistant message: %+v", got[0])
	}
	if got[1].Role != chat.RoleTool || got[1].Content != "42" || got[1].ToolCallID != "call_abc12345" {
		t.Fatalf("unexpected tool message: %+v", got[1])
	}
	if got[2].Role != chat.RoleAssistant || got[2].Content != "The answer is 42." {
		t.Fatalf("unexpected final message: %+v", got[2])
	}

	// The second completion must have seen the tool result.
	if len(p.SendCalls) != 2 {
		t.Fatalf("provider called %d times, want 2", len(p.SendCalls))
	}
	second := p.SendCalls[1].Messages
	if second[len(second)-1].Role != chat.RoleTool {
		t.Fatalf("second request does not end with a tool message: %+v", second[len(second)-1])
	}
}

func TestProcessTurn_SynthesizesCallIDs(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		SendResponses: []*chat.LLMResponse{
			{ToolCalls: []chat.ToolCall{{Name: "lookup"}}, IsComplete: true},
			{Content: "done", IsComplete: true},
		},
	}
	backend := &routermock.Backend{
		BackendName: "registry",
		Result:      &chat.ToolResult{Success: true, Content: "ok"},
	}
	c := New(p, toolrouter.New(toolrouter.WithRegistry(backend)))
	msgCh := c.Messages()

	if err := c.ProcessTurn(context.Background(), nil, lookupTools); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	got := drain(msgCh)
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	id := got[0].ToolCalls[0]
	if !strings.HasPrefix(id, "call_") || len(id) != len("call_")+8 {
		t.Fatalf("synthesized ID %q does not match call_ + 8 chars", id)
	}
	if got[1].ToolCallID != id {
		t.Fatalf("tool message ToolCallID = %q, want %q", got[1].ToolCallID, id)
	}
	if len(backend.ExecuteCalls) != 1 || backend.ExecuteCalls[0].Call.ID != id {
		t.Fatalf("backend saw call %+v, want ID %q", backend.ExecuteCalls, id)
	}
}

func TestProcessTurn_RecoversEmbeddedCall(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		SendResponses: []*chat.LLMResponse{
			{Content: "Let me check. lookup(topic=weather)", IsComplete: true},
			{Content: "Sunny all week.", IsComplete: true},
		},
	}
	backend := &routermock.Backend{
		BackendName: "registry",
		Result:      &chat.ToolResult{Success: true, Content: "sunny"},
	}
	c := New(p, toolrouter.New(toolrouter.WithRegistry(backend)))
	msgCh := c.Messages()

	if err := c.ProcessTurn(context.Background(), nil, lookupTools); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	got := drain(msgCh)
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	if got[0].Content != "Let me check." {
		t.Fatalf("assistant content = %q, want call stripped", got[0].Content)
	}
	if len(backend.ExecuteCalls) != 1 {
		t.Fatalf("backend called %d times, want 1", len(backend.ExecuteCalls))
	}
	call := backend.ExecuteCalls[0].Call
	if call.Name != "lookup" || call.Arguments.Len() != 1 {
		t.Fatalf("unexpected call: %+v", call)
	}
	if v, ok := call.Arguments.Get("topic"); !ok || v != "weather" {
		t.Fatalf("argument topic = %q (%v)", v, ok)
	}
}

func TestProcessTurn_EmptyDispatchEndsTurn(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		SendResponses: []*chat.LLMResponse{
			{ToolCalls: []chat.ToolCall{{Name: "lookup", ID: "call_aaaaaaaa"}}, IsComplete: true},
		},
	}
	backend := &routermock.Backend{
		BackendName: "registry",
		ResultErr:   errors.New("backend down"),
	}
	c := New(p, toolrouter.New(toolrouter.WithRegistry(backend)))
	msgCh := c.Messages()

	if err := c.ProcessTurn(context.Background(), nil, lookupTools); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	// The failed dispatch contributes nothing, so the turn settles after the
	// single assistant message and the model is not consulted again.
	got := drain(msgCh)
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if len(p.SendCalls) != 1 {
		t.Fatalf("provider called %d times, want 1", len(p.SendCalls))
	}
}

func TestProcessTurn_MaxTurns(t *testing.T) {
	t.Parallel()

	// A model that always requests another tool call.
	p := &llmmock.Provider{
		SendResponses: []*chat.LLMResponse{
			{ToolCalls: []chat.ToolCall{{Name: "lookup"}}, IsComplete: true},
		},
	}
	backend := &routermock.Backend{
		BackendName: "registry",
		Result:      &chat.ToolResult{Success: true, Content: "more"},
	}
	c := New(p, toolrouter.New(toolrouter.WithRegistry(backend)),
		WithConfig(Config{MaxTurns: 3}))
	_ = c.Messages()

	err := c.ProcessTurn(context.Background(), nil, lookupTools)
	if !errors.Is(err, ErrMaxTurns) {
		t.Fatalf("err = %v, want ErrMaxTurns", err)
	}
	if len(p.SendCalls) != 3 {
		t.Fatalf("provider called %d times, want 3", len(p.SendCalls))
	}
}

func TestProcessTurn_ProviderErrorPropagates(t *testing.T) {
	t.Parallel()

	sentinel := &llm.Error{Kind: llm.KindRateLimited, Provider: "test", Message: "slow down"}
	p := &llmmock.Provider{SendErr: sentinel}
	c := New(p, toolrouter.New())

	err := c.ProcessTurn(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("want error")
	}
	var classified *llm.Error
	if !errors.As(err, &classified) || classified.Kind != llm.KindRateLimited {
		t.Fatalf("err = %v, want wrapped rate-limited provider error", err)
	}
}

func TestProcessTurn_StreamingEmitsPartials(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		StreamScripts: [][]llm.StreamEvent{{
			{Fragment: &chat.LLMResponse{Content: "Hel"}},
			{Fragment: &chat.LLMResponse{Content: "lo!"}},
			{Final: &chat.LLMResponse{Content: "Hello!", IsComplete: true}},
		}},
	}
	c := New(p, toolrouter.New(), WithConfig(Config{StreamingEnabled: true}))
	msgCh := c.Messages()
	partialCh := c.Partials()

	if err := c.ProcessTurn(context.Background(), nil, nil); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	var fragments []string
	for f := range partialCh {
		fragments = append(fragments, f)
	}
	if len(fragments) != 2 || fragments[0] != "Hel" || fragments[1] != "lo!" {
		t.Fatalf("fragments = %v", fragments)
	}

	got := drain(msgCh)
	if len(got) != 1 || got[0].Content != "Hello!" {
		t.Fatalf("messages = %+v", got)
	}
}

func TestProcessTurn_StreamErrorClosesPartials(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		StreamScripts: [][]llm.StreamEvent{{
			{Fragment: &chat.LLMResponse{Content: "Hel"}},
			{Err: &llm.Error{Kind: llm.KindNetwork, Provider: "test", Message: "connection reset"}},
		}},
	}
	c := New(p, toolrouter.New(), WithConfig(Config{StreamingEnabled: true}))
	partialCh := c.Partials()

	err := c.ProcessTurn(context.Background(), nil, nil)
	if llm.KindOf(err) != llm.KindNetwork {
		t.Fatalf("err = %v, want network error", err)
	}

	// The partial channel must settle: one buffered fragment, then closed.
	timeout := time.After(time.Second)
	var fragments []string
	for {
		select {
		case f, ok := <-partialCh:
			if !ok {
				if len(fragments) != 1 {
					t.Fatalf("fragments = %v, want 1 before close", fragments)
				}
				return
			}
			fragments = append(fragments, f)
		case <-timeout:
			t.Fatal("partial channel not closed after stream error")
		}
	}
}

func TestProcessTurn_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &llmmock.Provider{
		StreamScripts: [][]llm.StreamEvent{{
			{Final: &chat.LLMResponse{Content: "never seen", IsComplete: true}},
		}},
	}
	c := New(p, toolrouter.New(), WithConfig(Config{StreamingEnabled: true}))
	msgCh := c.Messages()
	partialCh := c.Partials()

	if err := c.ProcessTurn(ctx, nil, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// Both channels must be closed so stream consumers unblock.
	assertClosed := func(name string, ok bool) {
		if ok {
			t.Fatalf("%s channel still open after cancellation", name)
		}
	}
	select {
	case _, ok := <-msgCh:
		assertClosed("message", ok)
	case <-time.After(time.Second):
		t.Fatal("message channel not closed")
	}
	select {
	case _, ok := <-partialCh:
		assertClosed("partial", ok)
	case <-time.After(time.Second):
		t.Fatal("partial channel not closed")
	}
}

func TestEndStream_FreshChannels(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{}
	c := New(p, toolrouter.New())

	first := c.Messages()
	firstPartials := c.Partials()
	c.EndStream()

	if _, ok := <-first; ok {
		t.Fatal("message channel still open after EndStream")
	}
	if _, ok := <-firstPartials; ok {
		t.Fatal("partial channel still open after EndStream")
	}

	second := c.Messages()
	if second == first {
		t.Fatal("Messages did not create a fresh channel after EndStream")
	}
	select {
	case <-second:
		t.Fatal("fresh channel should be open and empty")
	default:
	}
}

func TestAllAvailableTools_Passthrough(t *testing.T) {
	t.Parallel()

	backend := &routermock.Backend{
		BackendName: "registry",
		Tools:       lookupTools,
	}
	c := New(&llmmock.Provider{}, toolrouter.New(toolrouter.WithRegistry(backend)))

	defs := c.AllAvailableTools(context.Background())
	if len(defs) != 1 || defs[0].Name != "lookup" {
		t.Fatalf("defs = %+v", defs)
	}
}
