// Package anyllm provides a universal LLM provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Usage:
//
//	p, err := anyllm.New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-..."))
//	p, err := anyllm.NewAnthropic("claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/parley-ai/parley/pkg/chat"
	"github.com/parley-ai/parley/pkg/provider/llm"
)

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	llm.UnsupportedImageGeneration

	backend anyllmlib.Provider
	name    string
	model   string
}

// Compile-time check that *Provider satisfies llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// New creates a new Provider backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile".
//
// model is the specific model to use (e.g., "gpt-4o", "claude-3-5-sonnet-latest").
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). If no API key option is provided, the provider
// falls back to the relevant environment variable (OPENAI_API_KEY,
// ANTHROPIC_API_KEY, etc.).
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Provider{backend: backend, name: providerName, model: model}, nil
}

// NewOpenAI creates a Provider backed by OpenAI.
// Without options, it reads the OPENAI_API_KEY environment variable.
func NewOpenAI(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("openai", model, opts...)
}

// NewAnthropic creates a Provider backed by Anthropic.
// Without options, it reads the ANTHROPIC_API_KEY environment variable.
func NewAnthropic(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("anthropic", model, opts...)
}

// NewGemini creates a Provider backed by Google Gemini.
// Without options, it reads the GEMINI_API_KEY or GOOGLE_API_KEY environment variable.
func NewGemini(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("gemini", model, opts...)
}

// NewOllama creates a Provider backed by Ollama (local inference).
// Without options, it connects to http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

// NewDeepSeek creates a Provider backed by DeepSeek.
// Without options, it reads the DEEPSEEK_API_KEY environment variable.
func NewDeepSeek(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("deepseek", model, opts...)
}

// NewMistral creates a Provider backed by Mistral AI.
// Without options, it reads the MISTRAL_API_KEY environment variable.
func NewMistral(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("mistral", model, opts...)
}

// NewGroq creates a Provider backed by Groq.
// Without options, it reads the GROQ_API_KEY environment variable.
func NewGroq(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("groq", model, opts...)
}

// NewLlamaCpp creates a Provider backed by a running llama.cpp server.
// Without options, it connects to http://127.0.0.1:8080/v1.
func NewLlamaCpp(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("llamacpp", model, opts...)
}

// NewLlamaFile creates a Provider backed by a running llamafile server.
// Without options, it connects to the default llamafile server.
func NewLlamaFile(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("llamafile", model, opts...)
}

// createBackend creates the underlying any-llm-go provider for the given provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// ModelName implements llm.Provider.
func (p *Provider) ModelName() string {
	return p.model
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.CapabilitySet {
	return modelCapabilities(p.model)
}

// Send implements llm.Provider.
func (p *Provider) Send(ctx context.Context, messages []chat.Message, cfg llm.RequestConfig) (*chat.LLMResponse, error) {
	params := p.buildParams(messages, cfg)

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return nil, llm.Classify(p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.Errf(llm.KindInvalidResponse, p.name, "empty choices in response")
	}

	choice := resp.Choices[0]
	result := &chat.LLMResponse{
		Content:    choice.Message.ContentString(),
		IsComplete: true,
	}
	meta := &chat.ResponseMetadata{FinishReason: choice.FinishReason}
	if resp.Usage != nil {
		meta.PromptTokens = resp.Usage.PromptTokens
		meta.CompletionTokens = resp.Usage.CompletionTokens
		meta.TotalTokens = resp.Usage.TotalTokens
	}
	result.Metadata = meta

	for _, tc := range choice.Message.ToolCalls {
		call, convErr := convertToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments)
		if convErr != nil {
			return nil, llm.Errf(llm.KindInvalidResponse, p.name, "tool call %q: %v", tc.Function.Name, convErr)
		}
		result.ToolCalls = append(result.ToolCalls, *call)
	}
	return result, nil
}

// Stream implements llm.Provider. Fragments carry incremental text; the
// single final event carries the full accumulated content and any tool calls
// assembled from streamed fragments.
func (p *Provider) Stream(ctx context.Context, messages []chat.Message, cfg llm.RequestConfig) (<-chan llm.StreamEvent, error) {
	params := p.buildParams(messages, cfg)

	backendChunks, backendErrs := p.backend.CompletionStream(ctx, params)

	ch := make(chan llm.StreamEvent, 32)
	go func() {
		defer close(ch)

		var (
			content      strings.Builder
			finishReason string
			// Accumulated tool calls keyed by index.
			accum = map[int]*streamedCall{}
		)

		emit := func(ev llm.StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			delta := choice.Delta

			if delta.Content != "" {
				content.WriteString(delta.Content)
				if !emit(llm.StreamEvent{Fragment: &chat.LLMResponse{Content: delta.Content}}) {
					return
				}
			}

			// Accumulate tool call fragments by index within this chunk.
			for i, tc := range delta.ToolCalls {
				sc, ok := accum[i]
				if !ok {
					sc = &streamedCall{}
					accum[i] = sc
				}
				if tc.ID != "" {
					sc.id = tc.ID
				}
				if tc.Function.Name != "" {
					sc.name = tc.Function.Name
				}
				sc.args += tc.Function.Arguments
			}

			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}
		}

		// Check for backend errors after the chunk channel is drained.
		if err := <-backendErrs; err != nil {
			emit(llm.StreamEvent{Err: llm.Classify(p.name, err)})
			return
		}

		final := &chat.LLMResponse{
			Content:    content.String(),
			IsComplete: true,
			Metadata:   &chat.ResponseMetadata{FinishReason: finishReason},
		}
		for i := 0; i < len(accum); i++ {
			sc, ok := accum[i]
			if !ok {
				continue
			}
			call, convErr := convertToolCall(sc.id, sc.name, sc.args)
			if convErr != nil {
				emit(llm.StreamEvent{Err: llm.Errf(llm.KindInvalidResponse, p.name, "tool call %q: %v", sc.name, convErr)})
				return
			}
			final.ToolCalls = append(final.ToolCalls, *call)
		}
		emit(llm.StreamEvent{Final: final})
	}()

	return ch, nil
}

// streamedCall accumulates one tool call across streamed fragments.
type streamedCall struct {
	id   string
	name string
	args string
}

// convertToolCall builds a chat.ToolCall from a provider tool call whose
// arguments arrive as a JSON object string.
func convertToolCall(id, name, argsJSON string) (*chat.ToolCall, error) {
	args, err := chat.ParseJSONArgs(argsJSON)
	if err != nil {
		return nil, err
	}
	return &chat.ToolCall{ID: id, Name: name, Arguments: args}, nil
}

// buildParams converts a conversation and RequestConfig into anyllm CompletionParams.
func (p *Provider) buildParams(messages []chat.Message, cfg llm.RequestConfig) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{
		Model: p.model,
	}

	for _, m := range messages {
		params.Messages = append(params.Messages, anyllmlib.Message{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		})
	}

	if cfg.Temperature != 0 {
		t := cfg.Temperature
		params.Temperature = &t
	}
	if cfg.MaxTokens > 0 {
		mt := cfg.MaxTokens
		params.MaxTokens = &mt
	}

	for _, td := range cfg.Tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type: "function",
			Function: anyllmlib.Function{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}

	return params
}

// modelCapabilities maps known model families to a capability set. Unknown
// models receive sensible defaults (completion + tools).
func modelCapabilities(model string) llm.CapabilitySet {
	caps := llm.NewCapabilitySet(llm.CapCompletion, llm.CapTools)

	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-4o"), strings.HasPrefix(lower, "gpt-4.1"), strings.HasPrefix(lower, "gpt-5"):
		caps[llm.CapVision] = true
	case strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"):
		caps[llm.CapThinking] = true
	case strings.HasPrefix(lower, "claude"):
		caps[llm.CapVision] = true
		caps[llm.CapThinking] = true
	case strings.HasPrefix(lower, "gemini"):
		caps[llm.CapVision] = true
	case strings.HasPrefix(lower, "llava"), strings.Contains(lower, "vision"):
		caps[llm.CapVision] = true
	case strings.HasPrefix(lower, "deepseek-r"), strings.Contains(lower, "reason"):
		caps[llm.CapThinking] = true
	}

	return caps
}
