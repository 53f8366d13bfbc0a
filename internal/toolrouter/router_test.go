package toolrouter_test

import (
	"context"
	"errors"
	"testing"

	"github.com/parley-ai/parley/internal/toolrouter"
	"github.com/parley-ai/parley/internal/toolrouter/mock"
	"github.com/parley-ai/parley/pkg/chat"
)

func okResult(content string) *chat.ToolResult {
	return &chat.ToolResult{Success: true, Content: content}
}

func testCall(name string) chat.ToolCall {
	return chat.ToolCall{Name: name, Arguments: chat.NewArgs(), ID: chat.NewCallID()}
}

func TestDispatch_RegistryAndMessagingBothContribute(t *testing.T) {
	t.Parallel()

	registry := &mock.Backend{BackendName: "mcp", Result: okResult("from registry")}
	messaging := &mock.Backend{BackendName: "a2a", Result: okResult("from messaging")}
	functions := &mock.Backend{BackendName: "functions", Result: okResult("from functions")}

	r := toolrouter.New(
		toolrouter.WithRegistry(registry),
		toolrouter.WithMessaging(messaging),
		toolrouter.WithFunctions(functions),
	)

	call := testCall("lookup")
	out := r.Dispatch(context.Background(), call)

	if len(out) != 2 {
		t.Fatalf("got %d results, want 2", len(out))
	}
	if out[0].Content != "from registry" || out[1].Content != "from messaging" {
		t.Fatalf("results out of order: %q, %q", out[0].Content, out[1].Content)
	}
	for i, resp := range out {
		if resp.ToolCallID != call.ID {
			t.Fatalf("result %d: call id %q, want %q", i, resp.ToolCallID, call.ID)
		}
		if !resp.IsComplete {
			t.Fatalf("result %d: not complete", i)
		}
	}
	if len(functions.ExecuteCalls) != 0 {
		t.Fatal("fallback must not run when primary backends contributed")
	}
}

func TestDispatch_FunctionsIsFallbackOnly(t *testing.T) {
	t.Parallel()

	registry := &mock.Backend{BackendName: "mcp", ResultErr: errors.New("connection refused")}
	messaging := &mock.Backend{BackendName: "a2a", Result: &chat.ToolResult{Success: false, Error: "no such skill"}}
	functions := &mock.Backend{BackendName: "functions", Result: okResult("fallback answer")}

	r := toolrouter.New(
		toolrouter.WithRegistry(registry),
		toolrouter.WithMessaging(messaging),
		toolrouter.WithFunctions(functions),
	)

	out := r.Dispatch(context.Background(), testCall("lookup"))

	if len(out) != 1 {
		t.Fatalf("got %d results, want 1", len(out))
	}
	if out[0].Content != "fallback answer" {
		t.Fatalf("content: got %q", out[0].Content)
	}
}

func TestDispatch_BackendErrorsAreSwallowed(t *testing.T) {
	t.Parallel()

	registry := &mock.Backend{BackendName: "mcp", ResultErr: errors.New("boom")}

	r := toolrouter.New(toolrouter.WithRegistry(registry))

	out := r.Dispatch(context.Background(), testCall("lookup"))
	if len(out) != 0 {
		t.Fatalf("got %d results, want 0", len(out))
	}
}

func TestDispatch_NoBackends(t *testing.T) {
	t.Parallel()

	r := toolrouter.New()
	if out := r.Dispatch(context.Background(), testCall("anything")); len(out) != 0 {
		t.Fatalf("got %d results, want 0", len(out))
	}
}

func TestAllAvailableTools(t *testing.T) {
	t.Parallel()

	registry := &mock.Backend{
		BackendName: "mcp",
		Tools:       []chat.ToolDefinition{{Name: "search"}, {Name: "fetch"}},
	}
	messaging := &mock.Backend{
		BackendName: "a2a",
		ToolsErr:    errors.New("peer unreachable"),
	}
	functions := &mock.Backend{
		BackendName: "functions",
		Tools:       []chat.ToolDefinition{{Name: "local_time"}},
	}

	r := toolrouter.New(
		toolrouter.WithRegistry(registry),
		toolrouter.WithMessaging(messaging),
		toolrouter.WithFunctions(functions),
	)

	defs := r.AllAvailableTools(context.Background())

	want := []string{"search", "fetch", "local_time"}
	if len(defs) != len(want) {
		t.Fatalf("got %d tools, want %d", len(defs), len(want))
	}
	for i, name := range want {
		if defs[i].Name != name {
			t.Fatalf("tool %d: got %q, want %q", i, defs[i].Name, name)
		}
	}
}
