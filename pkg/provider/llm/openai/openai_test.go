package openai

import (
	"testing"

	"github.com/parley-ai/parley/pkg/chat"
	"github.com/parley-ai/parley/pkg/provider/llm"
)

// TestConvertMessage_System checks that system role is converted correctly.
func TestConvertMessage_System(t *testing.T) {
	msg := chat.Message{Role: chat.RoleSystem, Content: "You are helpful."}
	param, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfSystem == nil {
		t.Fatal("expected OfSystem to be set")
	}
}

// TestConvertMessage_User checks that user role is converted correctly.
func TestConvertMessage_User(t *testing.T) {
	msg := chat.Message{Role: chat.RoleUser, Content: "Hello!"}
	param, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfUser == nil {
		t.Fatal("expected OfUser to be set")
	}
}

// TestConvertMessage_Assistant checks that assistant role is converted.
func TestConvertMessage_Assistant(t *testing.T) {
	msg := chat.Message{Role: chat.RoleAssistant, Content: "Hi there!"}
	param, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfAssistant == nil {
		t.Fatal("expected OfAssistant to be set")
	}
}

// TestConvertMessage_Tool checks tool response message conversion.
func TestConvertMessage_Tool(t *testing.T) {
	msg := chat.Message{Role: chat.RoleTool, Content: "sunny", ToolCallID: "call_1"}
	param, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfTool == nil {
		t.Fatal("expected OfTool to be set")
	}
	if param.OfTool.ToolCallID != "call_1" {
		t.Errorf("expected ToolCallID call_1, got %s", param.OfTool.ToolCallID)
	}
}

// TestConvertMessage_UnknownRole checks that unknown roles return an error.
func TestConvertMessage_UnknownRole(t *testing.T) {
	msg := chat.Message{Role: chat.Role("unknown"), Content: "test"}
	_, err := convertMessage(msg)
	if err == nil {
		t.Fatal("expected error for unknown role, got nil")
	}
}

// TestConvertToolCall checks argument parsing preserves declaration order.
func TestConvertToolCall(t *testing.T) {
	call, err := convertToolCall("call_1", "get_weather", `{"city": "Berlin", "unit": "celsius"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if call.ID != "call_1" || call.Name != "get_weather" {
		t.Fatalf("identity lost: %+v", call)
	}
	keys := call.Arguments.Keys()
	if len(keys) != 2 || keys[0] != "city" || keys[1] != "unit" {
		t.Fatalf("argument order: got %v", keys)
	}
}

// TestConvertToolCall_MalformedJSON checks truncated arguments are rejected.
func TestConvertToolCall_MalformedJSON(t *testing.T) {
	if _, err := convertToolCall("call_1", "get_weather", `{"city": `); err == nil {
		t.Fatal("expected error for truncated JSON")
	}
}

// TestBuildParams_Sampling checks sampling values only appear when set.
func TestBuildParams_Sampling(t *testing.T) {
	p := &Provider{model: "gpt-4o"}

	params, err := p.buildParams(nil, llm.RequestConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Temperature.Valid() || params.TopP.Valid() || params.MaxCompletionTokens.Valid() {
		t.Fatal("zero-valued sampling config must stay unset")
	}

	params, err = p.buildParams(nil, llm.RequestConfig{Temperature: 0.7, TopP: 0.9, MaxTokens: 512})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !params.Temperature.Valid() || params.Temperature.Value != 0.7 {
		t.Errorf("temperature: got %+v", params.Temperature)
	}
	if !params.TopP.Valid() || params.TopP.Value != 0.9 {
		t.Errorf("top_p: got %+v", params.TopP)
	}
	if !params.MaxCompletionTokens.Valid() || params.MaxCompletionTokens.Value != 512 {
		t.Errorf("max completion tokens: got %+v", params.MaxCompletionTokens)
	}
}

// TestBuildParams_Tools checks tool definitions reach the request params.
func TestBuildParams_Tools(t *testing.T) {
	p := &Provider{model: "gpt-4o"}
	cfg := llm.RequestConfig{
		Tools: []chat.ToolDefinition{
			{
				Name:        "get_weather",
				Description: "Look up current weather.",
				Parameters:  map[string]any{"type": "object"},
			},
		},
	}

	params, err := p.buildParams(nil, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.Tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(params.Tools))
	}
	if params.Tools[0].Function.Name != "get_weather" {
		t.Errorf("tool name: got %q", params.Tools[0].Function.Name)
	}
}

// TestModelCapabilities_GPT4o checks gpt-4o capabilities.
func TestModelCapabilities_GPT4o(t *testing.T) {
	caps := modelCapabilities("gpt-4o")
	if !caps.Has(llm.CapCompletion) || !caps.Has(llm.CapTools) {
		t.Error("gpt-4o: expected completion and tool support")
	}
	if !caps.Has(llm.CapVision) {
		t.Error("gpt-4o: expected vision support")
	}
}

// TestModelCapabilities_O1Mini checks o1-mini has no tool calling.
func TestModelCapabilities_O1Mini(t *testing.T) {
	caps := modelCapabilities("o1-mini")
	if caps.Has(llm.CapTools) {
		t.Error("o1-mini: expected no tool support")
	}
	if !caps.Has(llm.CapThinking) {
		t.Error("o1-mini: expected thinking support")
	}
}

// TestModelCapabilities_O3 checks reasoning models report thinking.
func TestModelCapabilities_O3(t *testing.T) {
	caps := modelCapabilities("o3-mini")
	if !caps.Has(llm.CapThinking) {
		t.Error("o3-mini: expected thinking support")
	}
	if !caps.Has(llm.CapTools) {
		t.Error("o3-mini: expected tool support")
	}
}

// TestModelCapabilities_UnknownModel checks defaults for unrecognised models.
func TestModelCapabilities_UnknownModel(t *testing.T) {
	caps := modelCapabilities("my-custom-model")
	if !caps.Has(llm.CapCompletion) || !caps.Has(llm.CapTools) {
		t.Error("unknown model: expected completion and tool defaults")
	}
	if caps.Has(llm.CapVision) || caps.Has(llm.CapThinking) {
		t.Error("unknown model: expected no vision or thinking")
	}
}

// TestModelName checks the configured model is reported back.
func TestModelName(t *testing.T) {
	p := &Provider{model: "gpt-4o"}
	if p.ModelName() != "gpt-4o" {
		t.Errorf("expected gpt-4o, got %s", p.ModelName())
	}
}

// TestNew_MissingAPIKey ensures constructor rejects an empty API key.
func TestNew_MissingAPIKey(t *testing.T) {
	_, err := New("", "gpt-4o")
	if err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// TestNew_MissingModel ensures constructor rejects an empty model.
func TestNew_MissingModel(t *testing.T) {
	_, err := New("sk-test", "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestNew_Options checks that optional settings are accepted without error.
func TestNew_Options(t *testing.T) {
	_, err := New("sk-test", "gpt-4o",
		WithBaseURL("https://custom.example.com"),
		WithOrganization("org-123"),
	)
	if err != nil {
		t.Fatalf("unexpected error with valid options: %v", err)
	}
}
