// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the orchestrator sends correct
// requests and to feed controlled responses without a live LLM backend.
// Response fields are consumed queues so multi-turn scenarios can script a
// different reply per invocation. All fields are safe to set before calling
// any method; mutating them during a concurrent call is the caller's
// responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    SendResponses: []*chat.LLMResponse{{Content: "Hello!", IsComplete: true}},
//	}
//	resp, err := p.Send(ctx, msgs, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/parley-ai/parley/pkg/chat"
	"github.com/parley-ai/parley/pkg/provider/llm"
)

// SendCall records a single invocation of Send.
type SendCall struct {
	// Ctx is the context passed to Send.
	Ctx context.Context
	// Messages is the conversation passed to Send.
	Messages []chat.Message
	// Config is the RequestConfig passed to Send.
	Config llm.RequestConfig
}

// StreamCall records a single invocation of Stream.
type StreamCall struct {
	// Ctx is the context passed to Stream.
	Ctx context.Context
	// Messages is the conversation passed to Stream.
	Messages []chat.Message
	// Config is the RequestConfig passed to Stream.
	Config llm.RequestConfig
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Model is returned by ModelName.
	Model string

	// Caps is returned by Capabilities.
	Caps llm.CapabilitySet

	// SendResponses is the queue of responses returned by successive Send
	// calls. The last element is repeated once the queue is exhausted.
	SendResponses []*chat.LLMResponse

	// SendErr, if non-nil, is returned as the error from every Send call.
	SendErr error

	// StreamScripts holds one event sequence per successive Stream call. All
	// events of a script are delivered before the channel is closed. The last
	// script is repeated once the queue is exhausted.
	StreamScripts [][]llm.StreamEvent

	// StreamErr, if non-nil, is returned as the error from Stream instead of
	// opening a channel.
	StreamErr error

	// --- Call records (read after test) ---

	// SendCalls records every invocation of Send in order.
	SendCalls []SendCall

	// StreamCalls records every invocation of Stream in order.
	StreamCalls []StreamCall

	sendIndex   int
	streamIndex int
}

// ModelName returns Model.
func (p *Provider) ModelName() string {
	return p.Model
}

// Capabilities returns Caps.
func (p *Provider) Capabilities() llm.CapabilitySet {
	return p.Caps
}

// Send records the call and returns the next queued response.
func (p *Provider) Send(ctx context.Context, messages []chat.Message, cfg llm.RequestConfig) (*chat.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	msgs := make([]chat.Message, len(messages))
	copy(msgs, messages)
	p.SendCalls = append(p.SendCalls, SendCall{Ctx: ctx, Messages: msgs, Config: cfg})

	if p.SendErr != nil {
		return nil, p.SendErr
	}
	if len(p.SendResponses) == 0 {
		return &chat.LLMResponse{IsComplete: true}, nil
	}
	resp := p.SendResponses[min(p.sendIndex, len(p.SendResponses)-1)]
	p.sendIndex++
	return resp, nil
}

// Stream records the call and returns a channel that emits the next queued
// event script.
func (p *Provider) Stream(ctx context.Context, messages []chat.Message, cfg llm.RequestConfig) (<-chan llm.StreamEvent, error) {
	p.mu.Lock()

	msgs := make([]chat.Message, len(messages))
	copy(msgs, messages)
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Messages: msgs, Config: cfg})

	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}

	var script []llm.StreamEvent
	if len(p.StreamScripts) > 0 {
		script = p.StreamScripts[min(p.streamIndex, len(p.StreamScripts)-1)]
		p.streamIndex++
	}
	p.mu.Unlock()

	ch := make(chan llm.StreamEvent, len(script))
	go func() {
		defer close(ch)
		for _, ev := range script {
			select {
			case <-ctx.Done():
				return
			case ch <- ev:
			}
		}
	}()
	return ch, nil
}

// GenerateImage fails with unsupported-capability, like most providers.
func (p *Provider) GenerateImage(ctx context.Context, cfg llm.ImageConfig) (*llm.ImageResult, error) {
	return llm.UnsupportedImageGeneration{}.GenerateImage(ctx, cfg)
}

// Reset clears all recorded calls and rewinds the response queues. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SendCalls = nil
	p.StreamCalls = nil
	p.sendIndex = 0
	p.streamIndex = 0
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
