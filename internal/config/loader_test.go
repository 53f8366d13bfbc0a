package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/parley-ai/parley/internal/config"
)

func TestValidate_DuplicateMCPServerNames(t *testing.T) {
	t.Parallel()
	yaml := `
mcp:
  servers:
    - name: tools
      transport: stdio
      command: /bin/mcp-a
    - name: tools
      transport: stdio
      command: /bin/mcp-b
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate MCP server names, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
}

func TestValidate_MCPServerNameRequired(t *testing.T) {
	t.Parallel()
	yaml := `
mcp:
  servers:
    - transport: stdio
      command: /bin/mcp
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing MCP server name, got nil")
	}
	if !strings.Contains(err.Error(), "name") {
		t.Errorf("error should mention name, got: %v", err)
	}
}

func TestValidate_OAuthRequiresClientID(t *testing.T) {
	t.Parallel()
	yaml := `
mcp:
  servers:
    - name: web
      transport: streamable-http
      url: https://tools.example.com/mcp
      auth:
        oauth:
          scopes: [read]
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing oauth client_id, got nil")
	}
	if !strings.Contains(err.Error(), "client_id") {
		t.Errorf("error should mention client_id, got: %v", err)
	}
}

func TestValidate_A2ARequiresURL(t *testing.T) {
	t.Parallel()
	yaml := `
a2a:
  enabled: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing a2a.url, got nil")
	}
	if !strings.Contains(err.Error(), "a2a.url") {
		t.Errorf("error should mention a2a.url, got: %v", err)
	}
}

func TestValidate_TemperatureOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
orchestrator:
  temperature: 3.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range temperature, got nil")
	}
	if !strings.Contains(err.Error(), "temperature") {
		t.Errorf("error should mention temperature, got: %v", err)
	}
}

func TestValidate_TopPOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
orchestrator:
  top_p: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range top_p, got nil")
	}
}

func TestValidate_NegativeMaxTurns(t *testing.T) {
	t.Parallel()
	yaml := `
orchestrator:
  max_turns: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative max_turns, got nil")
	}
	if !strings.Contains(err.Error(), "max_turns") {
		t.Errorf("error should mention max_turns, got: %v", err)
	}
}

func TestValidate_SentinelsSetTogether(t *testing.T) {
	t.Parallel()
	yaml := `
orchestrator:
  open_sentinel: "<<call>>"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for open_sentinel without close_sentinel, got nil")
	}
	if !strings.Contains(err.Error(), "sentinel") {
		t.Errorf("error should mention sentinel, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: chatty
orchestrator:
  temperature: 9
a2a:
  enabled: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	for _, want := range []string{"log_level", "temperature", "a2a.url"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestLoadFromReader_EnvExpansion(t *testing.T) {
	t.Setenv("PARLEY_TEST_API_KEY", "sk-from-env")

	yaml := `
provider:
  name: openai
  api_key: ${PARLEY_TEST_API_KEY}
  model: gpt-4o$literal
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider.APIKey != "sk-from-env" {
		t.Errorf("api_key: got %q, want value from environment", cfg.Provider.APIKey)
	}
	// Bare dollar signs are not references and must survive untouched.
	if cfg.Provider.Model != "gpt-4o$literal" {
		t.Errorf("model: got %q, want literal dollar preserved", cfg.Provider.Model)
	}
}

func TestLoadFromReader_UnsetEnvExpandsEmpty(t *testing.T) {
	yaml := `
provider:
  name: openai
  api_key: ${PARLEY_TEST_DOES_NOT_EXIST}
  model: gpt-4o
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider.APIKey != "" {
		t.Errorf("api_key: got %q, want empty for unset variable", cfg.Provider.APIKey)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	if !slices.Contains(config.ValidProviderNames, "openai") {
		t.Error("ValidProviderNames should contain \"openai\"")
	}
}
