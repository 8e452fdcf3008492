package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyEnv(t *testing.T) {
	t.Setenv("AGENT_PROVIDER", "openai")
	t.Setenv("AGENT_MODEL_REASONING", "gpt-5")
	t.Setenv("AGENT_MODEL_FAST", "gpt-4o-mini")
	t.Setenv("MIRIAD_DB", "/tmp/custom.db")
	t.Setenv("AGENT_TOKEN_BUDGET_TEMPORAL", "12345")
	t.Setenv("AGENT_TOKEN_BUDGET_COMPACTION_THRESHOLD", "9000")
	t.Setenv("MIRIAD_RESTRICT_WORKSPACE", "1")

	cfg := Default()
	cfg.applyEnv()

	if cfg.Provider != "openai" || cfg.Models.Reasoning != "gpt-5" || cfg.Models.Fast != "gpt-4o-mini" {
		t.Errorf("models = %+v provider=%s", cfg.Models, cfg.Provider)
	}
	// Unset roles keep their defaults.
	if cfg.Models.Workhorse != Default().Models.Workhorse {
		t.Errorf("workhorse = %s", cfg.Models.Workhorse)
	}
	if cfg.DBPath != "/tmp/custom.db" {
		t.Errorf("db path = %s", cfg.DBPath)
	}
	if cfg.Budgets.Temporal != 12345 || cfg.Budgets.CompactionThreshold != 9000 {
		t.Errorf("budgets = %+v", cfg.Budgets)
	}
	if cfg.Budgets.CompactionTarget != Default().Budgets.CompactionTarget {
		t.Errorf("target = %d", cfg.Budgets.CompactionTarget)
	}
	if !cfg.RestrictToWorkspace {
		t.Error("restrict workspace not applied")
	}
}

func TestApplyEnv_IgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("AGENT_TOKEN_BUDGET_TEMPORAL", "not-a-number")
	t.Setenv("AGENT_MAX_TOKENS", "-5")

	cfg := Default()
	cfg.applyEnv()
	if cfg.Budgets.Temporal != Default().Budgets.Temporal {
		t.Errorf("temporal budget = %d", cfg.Budgets.Temporal)
	}
	if cfg.MaxTokens != Default().MaxTokens {
		t.Errorf("max tokens = %d", cfg.MaxTokens)
	}
}

func TestLoadMCPServers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	// JSON5: comments and trailing commas are accepted.
	content := `{
  // local github server
  mcpServers: {
    github: {command: "gh-mcp", args: ["--stdio"], tool_prefix: "gh"},
    search: {url: "https://mcp.example.com/sse", transport: "sse"},
    remote: {url: "https://mcp.example.com/http"},
  },
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	servers, err := LoadMCPServers(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(servers) != 3 {
		t.Fatalf("servers = %d, want 3", len(servers))
	}
	if s := servers["github"]; s.Transport != "stdio" || s.Command != "gh-mcp" || s.ToolPrefix != "gh" {
		t.Errorf("github = %+v", s)
	}
	if s := servers["search"]; s.Transport != "sse" {
		t.Errorf("search = %+v", s)
	}
	// URL without explicit transport defaults to streamable-http.
	if s := servers["remote"]; s.Transport != "streamable-http" {
		t.Errorf("remote = %+v", s)
	}
}

func TestLoadMCPServers_MissingFileIsNotAnError(t *testing.T) {
	servers, err := LoadMCPServers(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil || servers != nil {
		t.Errorf("got %v, %v", servers, err)
	}
}

func TestLoadMCPServers_StdioWithoutCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	os.WriteFile(path, []byte(`{mcpServers: {bad: {transport: "stdio"}}}`), 0o644)
	if _, err := LoadMCPServers(path); err == nil {
		t.Error("expected error for stdio server without command")
	}
}
