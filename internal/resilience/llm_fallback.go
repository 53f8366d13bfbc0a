package resilience

import (
	"context"

	"github.com/parley-ai/parley/pkg/chat"
	"github.com/parley-ai/parley/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker; when the primary fails
// or its breaker is open, the next healthy fallback is tried.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// ModelName returns the model identifier of the first entry (the primary).
// This does not participate in failover because it is static metadata.
func (f *LLMFallback) ModelName() string {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.ModelName()
	}
	return ""
}

// Capabilities returns the capabilities of the first entry (the primary).
func (f *LLMFallback) Capabilities() llm.CapabilitySet {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Capabilities()
	}
	return llm.CapabilitySet{}
}

// Send submits the conversation to the first healthy provider and returns its
// response. If the primary fails, subsequent fallbacks are tried.
func (f *LLMFallback) Send(ctx context.Context, messages []chat.Message, cfg llm.RequestConfig) (*chat.LLMResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*chat.LLMResponse, error) {
		return p.Send(ctx, messages, cfg)
	})
}

// Stream submits the conversation to the first healthy provider and returns
// its event channel. Note: only the initial connection attempt is covered by
// failover; once a stream is established, mid-stream errors are the caller's
// responsibility.
func (f *LLMFallback) Stream(ctx context.Context, messages []chat.Message, cfg llm.RequestConfig) (<-chan llm.StreamEvent, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.StreamEvent, error) {
		return p.Stream(ctx, messages, cfg)
	})
}

// GenerateImage sends the image request to the first healthy provider.
func (f *LLMFallback) GenerateImage(ctx context.Context, cfg llm.ImageConfig) (*llm.ImageResult, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.ImageResult, error) {
		return p.GenerateImage(ctx, cfg)
	})
}
