package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/parley-ai/parley/internal/mcptools"
)

// ValidProviderNames lists the known LLM provider names. Used by [Validate]
// to warn about unrecognised names.
var ValidProviderNames = []string{
	"openai", "openai-sdk", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// envRef matches ${NAME} references in the raw config text. Bare $NAME is
// left alone so YAML values containing dollar signs survive.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${NAME} references with the value of the named
// environment variable. Unset variables expand to the empty string.
func expandEnv(raw []byte) []byte {
	return envRef.ReplaceAllFunc(raw, func(ref []byte) []byte {
		name := string(envRef.FindSubmatch(ref)[1])
		return []byte(os.Getenv(name))
	})
}

// LoadFromReader decodes a YAML config from r and validates the result.
// ${NAME} references anywhere in the document are replaced with the value of
// the corresponding environment variable before decoding, so secrets such as
// API keys can stay out of the file.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(expandEnv(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider
	if cfg.Provider.Name != "" && !slices.Contains(ValidProviderNames, cfg.Provider.Name) {
		slog.Warn("unknown provider name — may be a typo or third-party provider",
			"name", cfg.Provider.Name,
			"known", ValidProviderNames,
		)
	}
	if cfg.Provider.Name != "" && cfg.Provider.Model == "" {
		errs = append(errs, fmt.Errorf("provider.model is required when provider.name is set"))
	}
	for i, fb := range cfg.Provider.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("provider.fallbacks[%d].name is required", i))
		}
		if fb.Model == "" {
			errs = append(errs, fmt.Errorf("provider.fallbacks[%d].model is required", i))
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("provider.fallbacks[%d] must not nest further fallbacks", i))
		}
	}

	// Orchestrator
	if cfg.Orchestrator.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.max_turns %d must not be negative", cfg.Orchestrator.MaxTurns))
	}
	if cfg.Orchestrator.ToolConnectionTimeout < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.tool_connection_timeout must not be negative"))
	}
	if cfg.Orchestrator.Temperature < 0 || cfg.Orchestrator.Temperature > 2 {
		errs = append(errs, fmt.Errorf("orchestrator.temperature %.2f is out of range [0, 2]", cfg.Orchestrator.Temperature))
	}
	if cfg.Orchestrator.TopP < 0 || cfg.Orchestrator.TopP > 1 {
		errs = append(errs, fmt.Errorf("orchestrator.top_p %.2f is out of range [0, 1]", cfg.Orchestrator.TopP))
	}
	if (cfg.Orchestrator.OpenSentinel == "") != (cfg.Orchestrator.CloseSentinel == "") {
		errs = append(errs, fmt.Errorf("orchestrator.open_sentinel and orchestrator.close_sentinel must be set together"))
	}

	// MCP servers
	if cfg.MCP.Enabled && len(cfg.MCP.Servers) == 0 {
		slog.Warn("mcp.enabled is true but mcp.servers is empty; the MCP backend will offer no tools")
	}
	serverNamesSeen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := serverNamesSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
			}
			serverNamesSeen[srv.Name] = i
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == mcptools.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == mcptools.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
		if srv.Auth != nil && srv.Auth.OAuth != nil && srv.Auth.OAuth.ClientID == "" {
			errs = append(errs, fmt.Errorf("%s.auth.oauth.client_id is required", prefix))
		}
		if srv.Transport == mcptools.TransportStdio && srv.Auth != nil {
			slog.Warn("auth is ignored for stdio MCP servers; use env for credential injection",
				"server", srv.Name,
			)
		}
	}

	// A2A
	if cfg.A2A.Enabled && cfg.A2A.URL == "" {
		errs = append(errs, fmt.Errorf("a2a.url is required when a2a.enabled is true"))
	}

	return errors.Join(errs...)
}
