package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/parley-ai/parley/pkg/chat"
	"github.com/parley-ai/parley/pkg/provider/llm"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Fatal("expected error for empty provider name")
	}
	if _, err := New("openai", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
	_, err := New("skynet", "t-800")
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
	if !strings.Contains(err.Error(), "unsupported provider") {
		t.Fatalf("error should name the unsupported provider, got %q", err)
	}
}

func TestNew_ProviderDispatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		providerName string
		model        string
		opts         []anyllmlib.Option
	}{
		{"openai", "gpt-4o", []anyllmlib.Option{anyllmlib.WithAPIKey("test-key")}},
		{"OpenAI", "gpt-4o", []anyllmlib.Option{anyllmlib.WithAPIKey("test-key")}},
		{"ollama", "llama3.2", nil},
		{"llamacpp", "local-model", nil},
	}

	for _, tt := range tests {
		t.Run(tt.providerName, func(t *testing.T) {
			t.Parallel()
			p, err := New(tt.providerName, tt.model, tt.opts...)
			if err != nil {
				t.Fatalf("New(%q): %v", tt.providerName, err)
			}
			if p.ModelName() != tt.model {
				t.Fatalf("ModelName: got %q, want %q", p.ModelName(), tt.model)
			}
		})
	}
}

func TestModelCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model    string
		vision   bool
		thinking bool
	}{
		{"gpt-4o", true, false},
		{"gpt-4.1-mini", true, false},
		{"o1-preview", false, true},
		{"o3-mini", false, true},
		{"claude-3-5-sonnet-latest", true, true},
		{"gemini-2.0-flash", true, false},
		{"llava:13b", true, false},
		{"deepseek-r1", false, true},
		{"mixtral-8x7b", false, false},
		{"gpt-3.5-turbo", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			caps := modelCapabilities(tt.model)
			if !caps.Has(llm.CapCompletion) || !caps.Has(llm.CapTools) {
				t.Fatal("every model must support completion and tools")
			}
			if caps.Has(llm.CapVision) != tt.vision {
				t.Fatalf("vision: got %v, want %v", caps.Has(llm.CapVision), tt.vision)
			}
			if caps.Has(llm.CapThinking) != tt.thinking {
				t.Fatalf("thinking: got %v, want %v", caps.Has(llm.CapThinking), tt.thinking)
			}
		})
	}
}

func TestBuildParams_Messages(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o"}
	messages := []chat.Message{
		{Role: chat.RoleSystem, Content: "You are terse."},
		{Role: chat.RoleUser, Content: "What is the weather?"},
		{Role: chat.RoleAssistant, Content: "", ToolCalls: []string{"call_abc"}},
		{Role: chat.RoleTool, Content: `{"temp": 21}`, ToolCallID: "call_abc"},
	}

	params := p.buildParams(messages, llm.RequestConfig{})

	if params.Model != "gpt-4o" {
		t.Fatalf("model: got %q", params.Model)
	}
	if len(params.Messages) != 4 {
		t.Fatalf("messages: got %d, want 4", len(params.Messages))
	}
	if params.Messages[0].Role != "system" || params.Messages[0].Content != "You are terse." {
		t.Fatalf("system message mapped wrong: %+v", params.Messages[0])
	}
	if params.Messages[3].Role != "tool" || params.Messages[3].ToolCallID != "call_abc" {
		t.Fatalf("tool message must carry its call ID: %+v", params.Messages[3])
	}
}

func TestBuildParams_Sampling(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o"}

	t.Run("defaults omit sampling", func(t *testing.T) {
		t.Parallel()
		params := p.buildParams(nil, llm.RequestConfig{})
		if params.Temperature != nil {
			t.Fatal("zero temperature must stay unset")
		}
		if params.MaxTokens != nil {
			t.Fatal("zero max tokens must stay unset")
		}
	})

	t.Run("explicit values are forwarded", func(t *testing.T) {
		t.Parallel()
		params := p.buildParams(nil, llm.RequestConfig{Temperature: 0.7, MaxTokens: 512})
		if params.Temperature == nil || *params.Temperature != 0.7 {
			t.Fatalf("temperature: got %v", params.Temperature)
		}
		if params.MaxTokens == nil || *params.MaxTokens != 512 {
			t.Fatalf("max tokens: got %v", params.MaxTokens)
		}
	})
}

func TestBuildParams_Tools(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o"}
	cfg := llm.RequestConfig{
		Tools: []chat.ToolDefinition{
			{
				Name:        "get_weather",
				Description: "Look up current weather for a city.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"city": map[string]any{"type": "string"},
					},
				},
			},
		},
	}

	params := p.buildParams(nil, cfg)

	if len(params.Tools) != 1 {
		t.Fatalf("tools: got %d, want 1", len(params.Tools))
	}
	tool := params.Tools[0]
	if tool.Type != "function" {
		t.Fatalf("tool type: got %q", tool.Type)
	}
	if tool.Function.Name != "get_weather" {
		t.Fatalf("tool name: got %q", tool.Function.Name)
	}
	if tool.Function.Description == "" || tool.Function.Parameters == nil {
		t.Fatalf("tool definition lost fields: %+v", tool.Function)
	}
}

func TestConvertToolCall(t *testing.T) {
	t.Parallel()

	t.Run("ordered arguments", func(t *testing.T) {
		t.Parallel()
		call, err := convertToolCall("call_1", "get_weather", `{"city": "Berlin", "unit": "celsius"}`)
		if err != nil {
			t.Fatalf("convertToolCall: %v", err)
		}
		if call.ID != "call_1" || call.Name != "get_weather" {
			t.Fatalf("identity lost: %+v", call)
		}
		keys := call.Arguments.Keys()
		if len(keys) != 2 || keys[0] != "city" || keys[1] != "unit" {
			t.Fatalf("argument order: got %v", keys)
		}
		if v, _ := call.Arguments.Get("city"); v != "Berlin" {
			t.Fatalf("city: got %q", v)
		}
	})

	t.Run("empty arguments", func(t *testing.T) {
		t.Parallel()
		call, err := convertToolCall("call_2", "ping", "")
		if err != nil {
			t.Fatalf("convertToolCall: %v", err)
		}
		if call.Arguments.Len() != 0 {
			t.Fatalf("expected no arguments, got %d", call.Arguments.Len())
		}
	})

	t.Run("malformed JSON", func(t *testing.T) {
		t.Parallel()
		if _, err := convertToolCall("call_3", "ping", `{"city": `); err == nil {
			t.Fatal("expected error for truncated JSON")
		}
	})

	t.Run("non-object payload", func(t *testing.T) {
		t.Parallel()
		if _, err := convertToolCall("call_4", "ping", `["Berlin"]`); err == nil {
			t.Fatal("expected error for non-object arguments")
		}
	})
}
