// Package funcs provides an in-process tool backend backed by plain Go
// functions.
//
// The registry is the generic fallback of the tool dispatch chain: the router
// consults it only when neither the MCP registry nor the agent-messaging
// backend produced a result for a call.
package funcs

import (
	"context"
	"fmt"
	"sync"

	"github.com/parley-ai/parley/pkg/chat"
)

// Handler executes one tool call. Returning a non-nil error marks the result
// as failed.
type Handler func(ctx context.Context, args *chat.Args) (string, error)

// Function pairs a tool definition with its in-process handler.
type Function struct {
	// Definition is the tool's public descriptor presented to the LLM.
	Definition chat.ToolDefinition

	// Handler is invoked when the tool is executed.
	Handler Handler
}

// Registry is a concurrent-safe collection of named functions implementing
// the tool-backend interface.
type Registry struct {
	mu    sync.RWMutex
	fns   map[string]Function
	order []string
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]Function)}
}

// Register adds fn to the registry. A function with the same name replaces
// the previous registration without changing its position.
func (r *Registry) Register(fn Function) error {
	if fn.Definition.Name == "" {
		return fmt.Errorf("funcs: function must have a non-empty name")
	}
	if fn.Handler == nil {
		return fmt.Errorf("funcs: function %q must have a non-nil handler", fn.Definition.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fns[fn.Definition.Name]; !ok {
		r.order = append(r.order, fn.Definition.Name)
	}
	r.fns[fn.Definition.Name] = fn
	return nil
}

// Name identifies this backend in logs and routing decisions.
func (r *Registry) Name() string {
	return "functions"
}

// AvailableTools returns the definitions of all registered functions in
// registration order.
func (r *Registry) AvailableTools(_ context.Context) ([]chat.ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]chat.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.fns[name].Definition)
	}
	return defs, nil
}

// ExecuteTool runs the named function. An unregistered name is a backend
// error; a handler failure is reported as an unsuccessful result.
func (r *Registry) ExecuteTool(ctx context.Context, call chat.ToolCall) (*chat.ToolResult, error) {
	r.mu.RLock()
	fn, ok := r.fns[call.Name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("funcs: tool %q is not registered", call.Name)
	}

	args := call.Arguments
	if args == nil {
		args = chat.NewArgs()
	}

	output, err := fn.Handler(ctx, args)
	if err != nil {
		return &chat.ToolResult{
			Success: false,
			Error:   err.Error(),
			Metadata: map[string]any{
				"backend": r.Name(),
				"tool":    call.Name,
			},
		}, nil
	}

	return &chat.ToolResult{
		Success: true,
		Content: output,
		Metadata: map[string]any{
			"backend": r.Name(),
			"tool":    call.Name,
		},
	}, nil
}
