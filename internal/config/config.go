// Package config resolves runtime configuration. Everything is
// env-first with JSON5 file config only for MCP servers, which are too
// structured for env vars.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"

	"github.com/miriadlabs/miriad/internal/mcp"
)

// Models names the model used per role. Roles let the main loop run a
// stronger model than maintenance workers.
type Models struct {
	Reasoning string
	Workhorse string
	Fast      string
}

// Budgets holds the token budgets steering prompt assembly and
// compaction.
type Budgets struct {
	// Temporal caps the history window rendered into the prompt.
	Temporal int
	// CompactionThreshold triggers the compaction worker;
	// CompactionTarget is what it compresses down to.
	CompactionThreshold int
	CompactionTarget    int
}

// Config is the resolved runtime configuration. No hidden globals:
// load it once in main and pass it down.
type Config struct {
	Provider string
	Models   Models
	// DBPath is the SQLite file backing all persistent memory.
	DBPath string
	// Workspace is the root for filesystem tools.
	Workspace           string
	RestrictToWorkspace bool
	MaxTokens           int
	Budgets             Budgets
	MCPServers          map[string]*mcp.ServerConfig
}

// Default returns the configuration used when no env overrides are set.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Provider: "anthropic",
		Models: Models{
			Reasoning: "claude-sonnet-4-5-20250929",
			Workhorse: "claude-sonnet-4-5-20250929",
			Fast:      "claude-3-5-haiku-20241022",
		},
		DBPath:              filepath.Join(home, ".miriad", "agent.db"),
		Workspace:           ".",
		RestrictToWorkspace: false,
		MaxTokens:           8192,
		Budgets: Budgets{
			Temporal:            40000,
			CompactionThreshold: 50000,
			CompactionTarget:    20000,
		},
	}
}

// Load resolves the configuration from the environment, then reads the
// MCP server file named by MIRIAD_MCP_CONFIG (or the default location)
// when it exists.
func Load() (*Config, error) {
	cfg := Default()
	cfg.applyEnv()

	mcpPath := os.Getenv("MIRIAD_MCP_CONFIG")
	if mcpPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			mcpPath = filepath.Join(home, ".miriad", "mcp.json")
		}
	}
	if mcpPath != "" {
		servers, err := LoadMCPServers(mcpPath)
		if err != nil {
			return nil, err
		}
		cfg.MCPServers = servers
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("AGENT_PROVIDER", &c.Provider)
	envStr("AGENT_MODEL_REASONING", &c.Models.Reasoning)
	envStr("AGENT_MODEL_WORKHORSE", &c.Models.Workhorse)
	envStr("AGENT_MODEL_FAST", &c.Models.Fast)
	envStr("MIRIAD_DB", &c.DBPath)
	envStr("MIRIAD_WORKSPACE", &c.Workspace)

	if v := os.Getenv("MIRIAD_RESTRICT_WORKSPACE"); v != "" {
		c.RestrictToWorkspace = v == "true" || v == "1"
	}

	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	envInt("AGENT_MAX_TOKENS", &c.MaxTokens)
	envInt("AGENT_TOKEN_BUDGET_TEMPORAL", &c.Budgets.Temporal)
	envInt("AGENT_TOKEN_BUDGET_COMPACTION_THRESHOLD", &c.Budgets.CompactionThreshold)
	envInt("AGENT_TOKEN_BUDGET_COMPACTION_TARGET", &c.Budgets.CompactionTarget)
}

// mcpFile is the JSON5 shape of the MCP server config file:
//
//	{
//	  mcpServers: {
//	    github: {command: "gh-mcp", args: ["--stdio"]},  // comments allowed
//	  },
//	}
type mcpFile struct {
	MCPServers map[string]*mcp.ServerConfig `json:"mcpServers"`
}

// LoadMCPServers parses the JSON5 MCP server file. A missing file is
// not an error; a malformed one is.
func LoadMCPServers(path string) (map[string]*mcp.ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read mcp config: %w", err)
	}

	var f mcpFile
	if err := json5.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse mcp config %s: %w", path, err)
	}

	for name, sc := range f.MCPServers {
		if sc == nil {
			delete(f.MCPServers, name)
			continue
		}
		if sc.Transport == "" {
			if sc.URL != "" {
				sc.Transport = "streamable-http"
			} else {
				sc.Transport = "stdio"
			}
		}
		if sc.Transport == "stdio" && strings.TrimSpace(sc.Command) == "" {
			return nil, fmt.Errorf("mcp server %q: stdio transport requires a command", name)
		}
	}
	return f.MCPServers, nil
}
