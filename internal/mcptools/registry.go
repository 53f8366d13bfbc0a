// Package mcptools provides the Model Context Protocol tool backend.
//
// It connects to MCP servers via stdio or streamable-HTTP transports using
// the official MCP Go SDK (github.com/modelcontextprotocol/go-sdk), maintains
// a concurrent-safe in-memory tool catalogue aggregated across all registered
// servers, and implements [toolrouter.Backend] so the dispatch chain can
// route calls to it.
//
// Typical usage:
//
//	reg := mcptools.New()
//
//	err := reg.RegisterServer(ctx, mcptools.ServerConfig{
//	    Name:      "search",
//	    Transport: mcptools.TransportStdio,
//	    Command:   "/usr/local/bin/mcp-search-server",
//	})
//
//	tools, _ := reg.AvailableTools(ctx)
//	result, err := reg.ExecuteTool(ctx, call)
//
//	reg.Close()
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/parley-ai/parley/internal/toolrouter"
	"github.com/parley-ai/parley/pkg/chat"
)

// Compile-time check that *Registry satisfies [toolrouter.Backend].
var _ toolrouter.Backend = (*Registry)(nil)

// Transport selects how a server connection is established.
type Transport string

const (
	// TransportStdio launches the server as a child process and speaks MCP
	// over its stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP connects to a remote server over the
	// streamable-HTTP transport.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t names a known transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes one MCP server to register.
type ServerConfig struct {
	// Name identifies the server within the registry. Required.
	Name string

	// Transport selects stdio or streamable-http.
	Transport Transport

	// Command is the full command line for stdio servers, split on spaces
	// into executable + args.
	Command string

	// Env holds additional environment variables for stdio servers.
	Env map[string]string

	// URL is the endpoint address for streamable-http servers.
	URL string

	// HTTPClient optionally overrides the HTTP client used by the
	// streamable-http transport, e.g. an OAuth token-source client from
	// [github.com/parley-ai/parley/internal/mcptools/oauth].
	HTTPClient *http.Client
}

// toolEntry maps one catalogued tool to the server that provides it.
type toolEntry struct {
	def        chat.ToolDefinition
	serverName string
}

// serverConn holds a live connection to an external MCP server.
type serverConn struct {
	session *mcpsdk.ClientSession
}

// Registry is the aggregated tool catalogue of all registered MCP servers.
//
// The zero value is NOT usable; create instances with [New]. All exported
// methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry  // key: tool name
	order   []string              // tool names in discovery order
	servers map[string]serverConn // key: server name

	// client is reused across all server connections. The official SDK
	// allows a single Client to manage multiple sessions concurrently.
	client *mcpsdk.Client
}

// New creates and returns a ready-to-use Registry.
func New() *Registry {
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "parley-mcp", Version: "1.0.0"},
		nil,
	)
	return &Registry{
		tools:   make(map[string]toolEntry),
		servers: make(map[string]serverConn),
		client:  client,
	}
}

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue into the registry. If a server with the same Name is already
// registered, the old connection is closed and replaced.
//
// Returns an error if the transport cannot be established or the initial
// tool listing fails.
func (r *Registry) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("mcptools: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("mcptools: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport

	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("mcptools: stdio server %q requires a non-empty Command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("mcptools: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: cfg.HTTPClient,
		}
	}

	session, err := r.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcptools: failed to connect to server %q: %w", cfg.Name, err)
	}

	// Discover tools using the iterator.
	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcptools: failed to list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Close the old connection if it exists and drop its tools.
	if old, ok := r.servers[cfg.Name]; ok {
		_ = old.session.Close()
		r.removeServerToolsLocked(cfg.Name)
	}

	r.servers[cfg.Name] = serverConn{session: session}

	for _, mcpTool := range discovered {
		if _, exists := r.tools[mcpTool.Name]; !exists {
			r.order = append(r.order, mcpTool.Name)
		}
		r.tools[mcpTool.Name] = toolEntry{
			def: chat.ToolDefinition{
				Name:        mcpTool.Name,
				Description: mcpTool.Description,
				Parameters:  schemaToMap(mcpTool.InputSchema),
			},
			serverName: cfg.Name,
		}
	}

	return nil
}

// removeServerToolsLocked drops every tool provided by serverName. Callers
// must hold r.mu.
func (r *Registry) removeServerToolsLocked(serverName string) {
	kept := r.order[:0]
	for _, name := range r.order {
		if r.tools[name].serverName == serverName {
			delete(r.tools, name)
			continue
		}
		kept = append(kept, name)
	}
	r.order = kept
}

// Name identifies this backend in logs and routing decisions.
func (r *Registry) Name() string {
	return "mcp"
}

// AvailableTools returns the aggregated tool catalogue in discovery order.
func (r *Registry) AvailableTools(_ context.Context) ([]chat.ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]chat.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].def)
	}
	return defs, nil
}

// ExecuteTool routes call to the server providing the named tool and returns
// its result. An unknown tool name or a transport failure is a Go error; a
// tool-level failure is reported as an unsuccessful result.
func (r *Registry) ExecuteTool(ctx context.Context, call chat.ToolCall) (*chat.ToolResult, error) {
	r.mu.RLock()
	entry, ok := r.tools[call.Name]
	conn, connOK := r.servers[entry.serverName]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("mcptools: tool %q not found", call.Name)
	}
	if !connOK {
		return nil, fmt.Errorf("mcptools: server %q not found for tool %q", entry.serverName, call.Name)
	}

	argsMap, err := argumentsMap(call.Arguments)
	if err != nil {
		return nil, fmt.Errorf("mcptools: invalid arguments for tool %q: %w", call.Name, err)
	}

	start := time.Now()
	callResult, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      call.Name,
		Arguments: argsMap,
	})
	if err != nil {
		return nil, fmt.Errorf("mcptools: call to tool %q failed: %w", call.Name, err)
	}

	// Concatenate all text content from the result.
	var sb strings.Builder
	for _, c := range callResult.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}

	result := &chat.ToolResult{
		Success: !callResult.IsError,
		Content: sb.String(),
		Metadata: map[string]any{
			"backend":     r.Name(),
			"server":      entry.serverName,
			"duration_ms": time.Since(start).Milliseconds(),
		},
	}
	if callResult.IsError {
		result.Error = sb.String()
	}
	return result, nil
}

// Close shuts down all server connections and clears the catalogue. After
// Close returns the Registry must not be used again.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, conn := range r.servers {
		if err := conn.session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcptools: error closing server %q: %w", name, err)
		}
		delete(r.servers, name)
	}

	r.tools = make(map[string]toolEntry)
	r.order = nil

	return firstErr
}

// argumentsMap converts ordered call arguments to the generic map the SDK
// expects. Values that parse as JSON literals keep their type; everything
// else stays a string.
func argumentsMap(args *chat.Args) (map[string]any, error) {
	if args == nil || args.Len() == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(args.JSONObject()), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
