// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4,
// Anthropic Claude, or a local Ollama instance) and exposes a uniform
// interface for the Parley orchestrator to send conversation turns, stream
// responses, and inspect model capabilities without coupling to any specific
// SDK.
//
// Implementors must be safe for concurrent use. Channels returned by Stream
// must be closed by the implementation when the stream ends or when the
// supplied context is cancelled.
package llm

import (
	"context"

	"github.com/parley-ai/parley/pkg/chat"
)

// Capability names one thing a model can do.
type Capability string

const (
	CapCompletion      Capability = "completion"
	CapTools           Capability = "tools"
	CapVision          Capability = "vision"
	CapEmbedding       Capability = "embedding"
	CapThinking        Capability = "thinking"
	CapImageGeneration Capability = "image-generation"
	CapUnknown         Capability = "unknown"
)

// CapabilitySet is the set of capabilities a provider's model supports.
type CapabilitySet map[Capability]bool

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return set
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	return s[c]
}

// RequestConfig carries per-request parameters for Send and Stream.
type RequestConfig struct {
	// Stream requests incremental output. Providers without streaming support
	// may ignore it and return a single final response.
	Stream bool

	// Tools is the set of tool definitions offered to the model. The model
	// may choose to call one or more of them in its response.
	Tools []chat.ToolDefinition

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// Temperature controls output randomness. Zero requests the provider
	// default.
	Temperature float64

	// TopP is the nucleus-sampling cutoff. Zero requests the provider default.
	TopP float64

	// AdditionalParameters holds provider-specific request values not covered
	// by the standard fields above.
	AdditionalParameters map[string]any
}

// StreamEvent is one value of the sequence produced by [Provider.Stream].
//
// Exactly one of Fragment, Final, or Err is set. The sequence is lazy, finite
// and single-use: it carries zero or more fragments and is terminated by
// either one final value or one error.
type StreamEvent struct {
	// Fragment is an incremental piece of the response (IsComplete=false).
	Fragment *chat.LLMResponse

	// Final is the settled response for the turn (IsComplete=true).
	Final *chat.LLMResponse

	// Err is a classified [*Error] that aborted the stream.
	Err error
}

// ImageConfig carries the parameters for [Provider.GenerateImage].
type ImageConfig struct {
	Prompt string
	Size   string
	Count  int
}

// ImageResult holds generated images.
type ImageResult struct {
	Images []chat.Image
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must propagate context cancellation promptly: when ctx is cancelled a
// method must return (or close its channel) as quickly as possible.
//
// All failures are reported as classified [*Error] values so callers can
// distinguish, e.g., rate limiting from authentication failure.
type Provider interface {
	// ModelName returns the identifier of the underlying model
	// (e.g., "gpt-4o", "claude-sonnet-4-5").
	ModelName() string

	// Capabilities returns static metadata describing what this provider's
	// model supports. The result is assumed constant for the lifetime of the
	// Provider instance.
	Capabilities() CapabilitySet

	// Send submits the conversation and waits for the full response.
	Send(ctx context.Context, messages []chat.Message, cfg RequestConfig) (*chat.LLMResponse, error)

	// Stream submits the conversation and returns a read-only channel of
	// [StreamEvent] values. The channel is closed by the implementation when
	// the final value or an error has been delivered, or when ctx is
	// cancelled. Callers must drain the channel to avoid goroutine leaks.
	//
	// The returned channel is never nil when error is nil.
	Stream(ctx context.Context, messages []chat.Message, cfg RequestConfig) (<-chan StreamEvent, error)

	// GenerateImage produces images from a text prompt. Providers without
	// image models embed [UnsupportedImageGeneration] to fail with a
	// classified unsupported-capability error.
	GenerateImage(ctx context.Context, cfg ImageConfig) (*ImageResult, error)
}

// UnsupportedImageGeneration is an embeddable default for providers whose
// models cannot generate images.
type UnsupportedImageGeneration struct{}

// GenerateImage always fails with a [KindUnsupportedCapability] error.
func (UnsupportedImageGeneration) GenerateImage(context.Context, ImageConfig) (*ImageResult, error) {
	return nil, &Error{Kind: KindUnsupportedCapability, Message: "image generation is not supported by this provider"}
}
