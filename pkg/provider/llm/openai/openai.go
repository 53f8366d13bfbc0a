// Package openai provides an LLM provider that talks to the OpenAI API
// directly through the official github.com/openai/openai-go SDK.
//
// Prefer this over the anyllm adapter when you need OpenAI-specific request
// options such as an organization ID or a custom base URL pointing at an
// OpenAI-compatible gateway.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/parley-ai/parley/pkg/chat"
	"github.com/parley-ai/parley/pkg/provider/llm"
)

const providerName = "openai"

// Provider implements llm.Provider using the OpenAI chat completions API.
type Provider struct {
	llm.UnsupportedImageGeneration

	client oai.Client
	model  string
}

var _ llm.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI LLM Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
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
	params, err := p.buildParams(messages, cfg)
	if err != nil {
		return nil, llm.Errf(llm.KindUnknown, providerName, "build params: %v", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, llm.Classify(providerName, err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.Errf(llm.KindInvalidResponse, providerName, "empty choices in response")
	}

	choice := resp.Choices[0]
	result := &chat.LLMResponse{
		Content:    choice.Message.Content,
		IsComplete: true,
		Metadata: &chat.ResponseMetadata{
			FinishReason:     choice.FinishReason,
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		call, convErr := convertToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments)
		if convErr != nil {
			return nil, llm.Errf(llm.KindInvalidResponse, providerName, "tool call %q: %v", tc.Function.Name, convErr)
		}
		result.ToolCalls = append(result.ToolCalls, *call)
	}
	return result, nil
}

// Stream implements llm.Provider. Fragments carry incremental text; the
// single final event carries the full accumulated content and any tool
// calls assembled from streamed deltas.
func (p *Provider) Stream(ctx context.Context, messages []chat.Message, cfg llm.RequestConfig) (<-chan llm.StreamEvent, error) {
	params, err := p.buildParams(messages, cfg)
	if err != nil {
		return nil, llm.Errf(llm.KindUnknown, providerName, "build params: %v", err)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, llm.Classify(providerName, err)
	}

	ch := make(chan llm.StreamEvent, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		var (
			content      strings.Builder
			finishReason string
			// Accumulated tool calls keyed by delta index.
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

		for stream.Next() {
			chunk := stream.Current()
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

			for _, tc := range delta.ToolCalls {
				idx := int(tc.Index)
				sc, ok := accum[idx]
				if !ok {
					sc = &streamedCall{}
					accum[idx] = sc
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

		if err := stream.Err(); err != nil {
			emit(llm.StreamEvent{Err: llm.Classify(providerName, err)})
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
				emit(llm.StreamEvent{Err: llm.Errf(llm.KindInvalidResponse, providerName, "tool call %q: %v", sc.name, convErr)})
				return
			}
			final.ToolCalls = append(final.ToolCalls, *call)
		}
		emit(llm.StreamEvent{Final: final})
	}()

	return ch, nil
}

// streamedCall accumulates one tool call across streamed deltas.
type streamedCall struct {
	id   string
	name string
	args string
}

// convertToolCall builds a chat.ToolCall from an OpenAI tool call whose
// arguments arrive as a JSON object string.
func convertToolCall(id, name, argsJSON string) (*chat.ToolCall, error) {
	args, err := chat.ParseJSONArgs(argsJSON)
	if err != nil {
		return nil, err
	}
	return &chat.ToolCall{ID: id, Name: name, Arguments: args}, nil
}

// buildParams converts a conversation and RequestConfig into OpenAI SDK params.
func (p *Provider) buildParams(messages []chat.Message, cfg llm.RequestConfig) (oai.ChatCompletionNewParams, error) {
	var converted []oai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		converted = append(converted, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: converted,
	}

	if cfg.Temperature != 0 {
		params.Temperature = param.NewOpt(cfg.Temperature)
	}
	if cfg.TopP != 0 {
		params.TopP = param.NewOpt(cfg.TopP)
	}
	if cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(cfg.MaxTokens))
	}

	for _, td := range cfg.Tools {
		toolParam := oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		}
		params.Tools = append(params.Tools, toolParam)
	}

	return params, nil
}

// convertMessage converts a chat.Message to an OpenAI SDK message param.
func convertMessage(m chat.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case chat.RoleSystem:
		return oai.SystemMessage(m.Content), nil

	case chat.RoleUser:
		return oai.UserMessage(m.Content), nil

	case chat.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	case chat.RoleTool:
		return oai.ToolMessage(m.Content, m.ToolCallID), nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unknown message role %q", m.Role)
	}
}

// modelCapabilities maps known OpenAI model families to a capability set.
func modelCapabilities(model string) llm.CapabilitySet {
	caps := llm.NewCapabilitySet(llm.CapCompletion, llm.CapTools)

	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-4o"), strings.HasPrefix(lower, "gpt-4.1"), strings.HasPrefix(lower, "gpt-5"):
		caps[llm.CapVision] = true
	case strings.HasPrefix(lower, "gpt-4-turbo"):
		caps[llm.CapVision] = true
	case strings.HasPrefix(lower, "o1-mini"):
		// o1-mini has no tool calling.
		delete(caps, llm.CapTools)
		caps[llm.CapThinking] = true
	case strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		caps[llm.CapThinking] = true
	}
	return caps
}
