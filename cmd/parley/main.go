// Command parley is an interactive multi-turn conversation shell built on the
// Parley toolkit. It wires an LLM provider, the configured tool backends and
// the turn coordinator, then reads user turns from stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2"

	"github.com/parley-ai/parley/internal/a2a"
	"github.com/parley-ai/parley/internal/callparse"
	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/funcs"
	"github.com/parley-ai/parley/internal/health"
	"github.com/parley-ai/parley/internal/mcptools"
	"github.com/parley-ai/parley/internal/mcptools/oauth"
	"github.com/parley-ai/parley/internal/observe"
	"github.com/parley-ai/parley/internal/orchestrator"
	"github.com/parley-ai/parley/internal/resilience"
	"github.com/parley-ai/parley/internal/toolrouter"
	"github.com/parley-ai/parley/pkg/chat"
	historypg "github.com/parley-ai/parley/pkg/history/postgres"
	"github.com/parley-ai/parley/pkg/provider/llm"
	"github.com/parley-ai/parley/pkg/provider/llm/anyllm"
	openaisdk "github.com/parley-ai/parley/pkg/provider/llm/openai"
)

// version is stamped at build time via -ldflags "-X main.version=…".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	conversationID := flag.String("conversation", "", "conversation ID for the history store (default: a fresh one per run)")
	flag.Parse()

	// ── Load configuration (with hot-reload watcher) ──────────────────────────
	logLevel := new(slog.LevelVar)
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(logLevel, old, new)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("parley starting",
		"version", version,
		"config", *configPath,
		"provider", cfg.Provider.Name,
		"model", cfg.Provider.Model,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── LLM provider ──────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, err := buildProvider(reg, cfg.Provider)
	if err != nil {
		slog.Error("failed to create LLM provider", "name", cfg.Provider.Name, "err", err)
		return 1
	}
	slog.Info("provider created", "name", cfg.Provider.Name, "model", provider.ModelName())

	// ── Tool backends ─────────────────────────────────────────────────────────
	functions := funcs.NewRegistry()
	registerBuiltinFunctions(functions)
	routerOpts := []toolrouter.Option{toolrouter.WithFunctions(functions)}

	var mcpRegistry *mcptools.Registry
	if cfg.MCP.Enabled {
		mcpRegistry, err = connectMCPServers(ctx, cfg.MCP.Servers)
		if err != nil {
			slog.Error("failed to connect MCP servers", "err", err)
			return 1
		}
		defer mcpRegistry.Close()
		routerOpts = append(routerOpts, toolrouter.WithRegistry(mcpRegistry))
	}

	var peer *a2a.Client
	if cfg.A2A.Enabled {
		var a2aOpts []a2a.Option
		if cfg.A2A.Token != "" {
			a2aOpts = append(a2aOpts, a2a.WithToken(cfg.A2A.Token))
		}
		if cfg.A2A.PeerName != "" {
			a2aOpts = append(a2aOpts, a2a.WithPeerName(cfg.A2A.PeerName))
		}
		peer, err = a2a.Dial(ctx, cfg.A2A.URL, a2aOpts...)
		if err != nil {
			slog.Error("failed to dial A2A peer", "url", cfg.A2A.URL, "err", err)
			return 1
		}
		defer peer.Close()
		routerOpts = append(routerOpts, toolrouter.WithMessaging(peer))
		slog.Info("a2a peer connected", "url", cfg.A2A.URL)
	}

	router := toolrouter.New(routerOpts...)

	// ── History store (optional) ──────────────────────────────────────────────
	var store *historypg.Store
	if cfg.History.PostgresDSN != "" {
		store, err = historypg.NewStore(ctx, cfg.History.PostgresDSN)
		if err != nil {
			slog.Error("failed to open history store", "err", err)
			return 1
		}
		defer store.Close()
		slog.Info("history store connected")
	}

	// ── Coordinator ───────────────────────────────────────────────────────────
	coordOpts := []orchestrator.Option{
		orchestrator.WithConfig(orchestrator.Config{
			StreamingEnabled:      cfg.Orchestrator.Streaming,
			MCPEnabled:            cfg.MCP.Enabled,
			A2AEnabled:            cfg.A2A.Enabled,
			ToolConnectionTimeout: cfg.Orchestrator.ToolConnectionTimeout,
			MaxTokens:             cfg.Orchestrator.MaxTokens,
			Temperature:           cfg.Orchestrator.Temperature,
			TopP:                  cfg.Orchestrator.TopP,
			MaxTurns:              cfg.Orchestrator.MaxTurns,
			AdditionalParameters:  cfg.Orchestrator.AdditionalParameters,
		}),
	}
	if cfg.Orchestrator.OpenSentinel != "" {
		coordOpts = append(coordOpts, orchestrator.WithExtractor(
			callparse.NewExtractor(callparse.WithSentinels(cfg.Orchestrator.OpenSentinel, cfg.Orchestrator.CloseSentinel)),
		))
	}
	coordinator := orchestrator.New(provider, router, coordOpts...)

	// ── Admin HTTP server (optional) ──────────────────────────────────────────
	var adminSrv *http.Server
	if cfg.Server.ListenAddr != "" {
		adminSrv = startAdminServer(cfg.Server.ListenAddr, store, mcpRegistry)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := adminSrv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("admin server shutdown error", "err", err)
			}
		}()
	}

	// ── Conversation loop ─────────────────────────────────────────────────────
	convID := *conversationID
	if convID == "" {
		convID = fmt.Sprintf("conv_%d", time.Now().Unix())
	}

	tools := coordinator.AllAvailableTools(ctx)
	slog.Info("ready", "tools", len(tools), "streaming", cfg.Orchestrator.Streaming)

	if err := repl(ctx, coordinator, store, convID); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("conversation error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// applyReload applies hot-reloadable changes detected by the config watcher.
func applyReload(logLevel *slog.LevelVar, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SamplingChanged {
		slog.Warn("orchestrator sampling changed in config — restart to apply")
	}
	if d.MCPServersChanged {
		for _, sc := range d.MCPServerChanges {
			slog.Warn("mcp server config changed — restart to apply",
				"server", sc.Name, "added", sc.Added, "removed", sc.Removed)
		}
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the any-llm backed provider factories into reg.
// All providers share the same pattern: optional APIKey + optional BaseURL.
func registerBuiltinProviders(reg *config.Registry) {
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterProvider(providerName, func(cfg config.ProviderConfig) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if cfg.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
			}
			if cfg.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
			}
			return anyllm.New(providerName, cfg.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterProvider("ollama", func(cfg config.ProviderConfig) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if cfg.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
		}
		return anyllm.New("ollama", cfg.Model, opts...)
	})

	// openai-sdk talks to OpenAI through the official SDK instead of any-llm.
	// It supports organization IDs via options.organization.
	reg.RegisterProvider("openai-sdk", func(cfg config.ProviderConfig) (llm.Provider, error) {
		var opts []openaisdk.Option
		if cfg.BaseURL != "" {
			opts = append(opts, openaisdk.WithBaseURL(cfg.BaseURL))
		}
		if org, ok := cfg.Options["organization"].(string); ok && org != "" {
			opts = append(opts, openaisdk.WithOrganization(org))
		}
		return openaisdk.New(cfg.APIKey, cfg.Model, opts...)
	})
}

// buildProvider instantiates the configured provider and, when fallbacks are
// listed, wraps it with circuit-breaker failover.
func buildProvider(reg *config.Registry, pc config.ProviderConfig) (llm.Provider, error) {
	primary, err := reg.CreateProvider(pc)
	if err != nil {
		return nil, err
	}
	if len(pc.Fallbacks) == 0 {
		return primary, nil
	}

	fb := resilience.NewLLMFallback(primary, pc.Name, resilience.FallbackConfig{})
	for _, fc := range pc.Fallbacks {
		p, err := reg.CreateProvider(fc)
		if err != nil {
			return nil, fmt.Errorf("create fallback provider %q: %w", fc.Name, err)
		}
		fb.AddFallback(fc.Name, p)
		slog.Info("fallback provider registered", "name", fc.Name, "model", fc.Model)
	}
	return fb, nil
}

// registerBuiltinFunctions installs the in-process tools that ship with the
// shell.
func registerBuiltinFunctions(r *funcs.Registry) {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	must(r.Register(funcs.Function{
		Definition: chat.ToolDefinition{
			Name:        "current_time",
			Description: "Returns the current date and time in RFC 3339 format.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		Handler: func(_ context.Context, _ *chat.Args) (string, error) {
			return time.Now().Format(time.RFC3339), nil
		},
	}))
}

// ── MCP wiring ────────────────────────────────────────────────────────────────

// connectMCPServers builds the MCP registry and connects every configured
// server, resolving authentication into an HTTP client where needed.
func connectMCPServers(ctx context.Context, servers []config.MCPServerConfig) (*mcptools.Registry, error) {
	registry := mcptools.New()

	for _, srv := range servers {
		sc := mcptools.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		}

		if srv.Transport == mcptools.TransportStreamableHTTP && srv.Auth != nil {
			client, err := authHTTPClient(ctx, srv)
			if err != nil {
				registry.Close()
				return nil, fmt.Errorf("authenticate to %q: %w", srv.Name, err)
			}
			sc.HTTPClient = client
		}

		if err := registry.RegisterServer(ctx, sc); err != nil {
			registry.Close()
			return nil, err
		}
		slog.Info("mcp server connected", "name", srv.Name, "transport", srv.Transport)
	}

	return registry, nil
}

// authHTTPClient resolves the server's auth config into an *http.Client whose
// requests carry a Bearer token: either the configured static token or one
// obtained via the authorization-code + PKCE flow.
func authHTTPClient(ctx context.Context, srv config.MCPServerConfig) (*http.Client, error) {
	if srv.Auth.OAuth != nil {
		flow := &oauth.Flow{
			ClientID: srv.Auth.OAuth.ClientID,
			Scopes:   srv.Auth.OAuth.Scopes,
			OpenURL: func(url string) error {
				fmt.Printf("Open the following URL in your browser to authorize %q:\n  %s\n", srv.Name, url)
				return nil
			},
		}
		return flow.Authorize(ctx, srv.URL)
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: srv.Auth.Token})
	return oauth2.NewClient(ctx, src), nil
}

// ── Admin server ──────────────────────────────────────────────────────────────

// startAdminServer serves health probes and the Prometheus scrape endpoint.
// The readiness checkers probe whichever dependencies are actually wired.
func startAdminServer(addr string, store *historypg.Store, mcpRegistry *mcptools.Registry) *http.Server {
	var checkers []health.Checker
	if store != nil {
		checkers = append(checkers, health.Checker{
			Name:  "history",
			Check: store.Ping,
		})
	}
	if mcpRegistry != nil {
		checkers = append(checkers, health.Checker{
			Name: "mcp",
			Check: func(ctx context.Context) error {
				_, err := mcpRegistry.AvailableTools(ctx)
				return err
			},
		})
	}

	mux := http.NewServeMux()
	health.New(version, checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: observe.Middleware(observe.DefaultMetrics())(mux),
	}
	go func() {
		slog.Info("admin server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin server error", "err", err)
		}
	}()
	return srv
}

// ── REPL ──────────────────────────────────────────────────────────────────────

// repl reads user turns from stdin and drives the coordinator until EOF or
// context cancellation. Completed messages and streaming partials are printed
// as they arrive; when store is non-nil every message is persisted.
func repl(ctx context.Context, coordinator *orchestrator.Coordinator, store *historypg.Store, conversationID string) error {
	defer coordinator.EndStream()

	var (
		mu           sync.Mutex
		conversation []chat.Message
	)

	persist := func(msg chat.Message) {
		if store == nil {
			return
		}
		if err := store.AppendMessage(ctx, conversationID, msg); err != nil {
			slog.Warn("failed to persist message", "err", err)
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		userMsg := chat.NewMessage(chat.RoleUser, line)
		mu.Lock()
		conversation = append(conversation, userMsg)
		turnInput := make([]chat.Message, len(conversation))
		copy(turnInput, conversation)
		mu.Unlock()
		persist(userMsg)

		tools := coordinator.AllAvailableTools(ctx)

		turnErr := make(chan error, 1)
		go func() {
			turnErr <- coordinator.ProcessTurn(ctx, turnInput, tools)
		}()

		// Print partials and collect completed messages until the turn ends.
		streaming := false
		for done := false; !done; {
			select {
			case text, ok := <-coordinator.Partials():
				if ok && text != "" {
					fmt.Print(text)
					streaming = true
				}
			case msg, ok := <-coordinator.Messages():
				if !ok {
					continue
				}
				mu.Lock()
				conversation = append(conversation, msg)
				mu.Unlock()
				persist(msg)
				printMessage(msg, streaming)
				streaming = false
			case err := <-turnErr:
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return err
					}
					fmt.Fprintf(os.Stderr, "parley: turn failed: %v\n", err)
				}
				done = true
			case <-ctx.Done():
				<-turnErr
				return ctx.Err()
			}
		}
		drainMessages(coordinator, func(msg chat.Message) {
			mu.Lock()
			conversation = append(conversation, msg)
			mu.Unlock()
			persist(msg)
			printMessage(msg, false)
		})

		fmt.Print("> ")
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}

// drainMessages consumes any buffered completed messages without blocking.
func drainMessages(coordinator *orchestrator.Coordinator, fn func(chat.Message)) {
	for {
		select {
		case msg, ok := <-coordinator.Messages():
			if !ok {
				return
			}
			fn(msg)
		default:
			return
		}
	}
}

// printMessage renders one completed message. Assistant text that was already
// streamed as partials is not repeated.
func printMessage(msg chat.Message, alreadyStreamed bool) {
	switch msg.Role {
	case chat.RoleAssistant:
		if alreadyStreamed {
			fmt.Println()
			return
		}
		if msg.Content != "" {
			fmt.Println(msg.Content)
		}
		if len(msg.ToolCalls) > 0 {
			slog.Debug("assistant requested tools", "calls", len(msg.ToolCalls))
		}
	case chat.RoleTool:
		slog.Debug("tool result", "call_id", msg.ToolCallID, "len", len(msg.Content))
	}
}
// slogLevel maps the config log level onto slog's scale.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
