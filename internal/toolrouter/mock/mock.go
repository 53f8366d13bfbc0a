// Package mock provides a test double for the toolrouter.Backend interface.
package mock

import (
	"context"
	"sync"

	"github.com/parley-ai/parley/pkg/chat"
)

// ExecuteCall records a single invocation of ExecuteTool.
type ExecuteCall struct {
	// Ctx is the context passed to ExecuteTool.
	Ctx context.Context
	// Call is the tool call passed to ExecuteTool.
	Call chat.ToolCall
}

// Backend is a mock implementation of toolrouter.Backend.
// Zero values cause methods to return empty values and nil errors.
type Backend struct {
	mu sync.Mutex

	// BackendName is returned by Name.
	BackendName string

	// Tools is returned by AvailableTools.
	Tools []chat.ToolDefinition

	// ToolsErr, if non-nil, is returned as the error from AvailableTools.
	ToolsErr error

	// Result is returned by ExecuteTool.
	Result *chat.ToolResult

	// ResultErr, if non-nil, is returned as the error from ExecuteTool.
	ResultErr error

	// ExecuteCalls records every invocation of ExecuteTool in order.
	ExecuteCalls []ExecuteCall
}

// Name returns BackendName.
func (b *Backend) Name() string {
	return b.BackendName
}

// AvailableTools returns Tools, ToolsErr.
func (b *Backend) AvailableTools(_ context.Context) ([]chat.ToolDefinition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Tools, b.ToolsErr
}

// ExecuteTool records the call and returns Result, ResultErr.
func (b *Backend) ExecuteTool(ctx context.Context, call chat.ToolCall) (*chat.ToolResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ExecuteCalls = append(b.ExecuteCalls, ExecuteCall{Ctx: ctx, Call: call})
	return b.Result, b.ResultErr
}
