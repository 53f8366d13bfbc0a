package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SamplingChanged is true if any of the orchestrator sampling knobs
	// (max_tokens, temperature, top_p, max_turns) changed.
	SamplingChanged bool

	MCPServersChanged bool            // true if any MCP server was added, removed, or modified
	MCPServerChanges  []MCPServerDiff // per-server diffs
}

// MCPServerDiff describes what changed for a single MCP server between two configs.
type MCPServerDiff struct {
	Name    string
	Added   bool
	Removed bool
	Changed bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Orchestrator sampling knobs
	if old.Orchestrator.MaxTokens != new.Orchestrator.MaxTokens ||
		old.Orchestrator.Temperature != new.Orchestrator.Temperature ||
		old.Orchestrator.TopP != new.Orchestrator.TopP ||
		old.Orchestrator.MaxTurns != new.Orchestrator.MaxTurns {
		d.SamplingChanged = true
	}

	// Build MCP server lookup maps keyed by name.
	oldServers := make(map[string]*MCPServerConfig, len(old.MCP.Servers))
	for i := range old.MCP.Servers {
		oldServers[old.MCP.Servers[i].Name] = &old.MCP.Servers[i]
	}
	newServers := make(map[string]*MCPServerConfig, len(new.MCP.Servers))
	for i := range new.MCP.Servers {
		newServers[new.MCP.Servers[i].Name] = &new.MCP.Servers[i]
	}

	// Detect modified and removed servers.
	for name, oldSrv := range oldServers {
		newSrv, exists := newServers[name]
		if !exists {
			d.MCPServerChanges = append(d.MCPServerChanges, MCPServerDiff{
				Name:    name,
				Removed: true,
			})
			d.MCPServersChanged = true
			continue
		}
		if serverChanged(oldSrv, newSrv) {
			d.MCPServerChanges = append(d.MCPServerChanges, MCPServerDiff{
				Name:    name,
				Changed: true,
			})
			d.MCPServersChanged = true
		}
	}

	// Detect added servers.
	for name := range newServers {
		if _, exists := oldServers[name]; !exists {
			d.MCPServerChanges = append(d.MCPServerChanges, MCPServerDiff{
				Name:  name,
				Added: true,
			})
			d.MCPServersChanged = true
		}
	}

	return d
}

// serverChanged compares two MCP server configs with the same name.
func serverChanged(old, new *MCPServerConfig) bool {
	if old.Transport != new.Transport || old.Command != new.Command || old.URL != new.URL {
		return true
	}
	if (old.Auth == nil) != (new.Auth == nil) {
		return true
	}
	if old.Auth != nil && authChanged(old.Auth, new.Auth) {
		return true
	}
	if len(old.Env) != len(new.Env) {
		return true
	}
	for k, v := range old.Env {
		if nv, ok := new.Env[k]; !ok || nv != v {
			return true
		}
	}
	return false
}

func authChanged(old, new *MCPAuthConfig) bool {
	if old.Token != new.Token {
		return true
	}
	if (old.OAuth == nil) != (new.OAuth == nil) {
		return true
	}
	if old.OAuth != nil {
		if old.OAuth.ClientID != new.OAuth.ClientID {
			return true
		}
		if len(old.OAuth.Scopes) != len(new.OAuth.Scopes) {
			return true
		}
		for i := range old.OAuth.Scopes {
			if old.OAuth.Scopes[i] != new.OAuth.Scopes[i] {
				return true
			}
		}
	}
	return false
}
