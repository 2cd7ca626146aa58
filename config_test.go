package supermaven

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Version != 1 {
		t.Errorf("expected version 1, got %d", cfg.Version)
	}
	if cfg.Agent.Command == "" {
		t.Error("expected a default agent command")
	}
	if cfg.Session.CompleteTimeout() != 5*time.Second {
		t.Errorf("expected 5s complete timeout, got %v", cfg.Session.CompleteTimeout())
	}
	if !slices.Contains(cfg.Watch.Ignore, ".git") {
		t.Errorf("expected .git in default ignore list, got %v", cfg.Watch.Ignore)
	}
}

func TestConfigDirResolution(t *testing.T) {
	t.Setenv("SUPERMAVEN_CONFIG_DIR", "/custom/config")
	if got := ConfigDir(); got != "/custom/config" {
		t.Errorf("expected /custom/config, got %s", got)
	}

	t.Setenv("SUPERMAVEN_CONFIG_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := ConfigDir(); got != "/xdg/supermaven" {
		t.Errorf("expected /xdg/supermaven, got %s", got)
	}
	if got := ConfigPath(); got != "/xdg/supermaven/config.toml" {
		t.Errorf("expected /xdg/supermaven/config.toml, got %s", got)
	}
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.Command != DefaultConfig().Agent.Command {
		t.Errorf("expected default command, got %q", cfg.Agent.Command)
	}
}

func TestLoadConfigFillsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[agent]
command = "/opt/sm-agent stdio --verbose"

[watch]
ignore = ["vendor"]
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.Command != "/opt/sm-agent stdio --verbose" {
		t.Errorf("expected command from file, got %q", cfg.Agent.Command)
	}
	if !slices.Equal(cfg.Watch.Ignore, []string{"vendor"}) {
		t.Errorf("expected ignore from file, got %v", cfg.Watch.Ignore)
	}
	defaults := DefaultConfig()
	if cfg.Agent.StopTimeoutMs != defaults.Agent.StopTimeoutMs {
		t.Errorf("expected default stop timeout, got %d", cfg.Agent.StopTimeoutMs)
	}
	if cfg.Watch.DebounceMs != defaults.Watch.DebounceMs {
		t.Errorf("expected default debounce, got %d", cfg.Watch.DebounceMs)
	}
	if cfg.Version != defaults.Version {
		t.Errorf("expected default version, got %d", cfg.Version)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[agent\ncommand = 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestLoadConfigUsesConfigDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SUPERMAVEN_CONFIG_DIR", dir)
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[session]\ncomplete_timeout_ms = 250\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Session.CompleteTimeout() != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", cfg.Session.CompleteTimeout())
	}
}

func TestResolveAgentCommand(t *testing.T) {
	cfg := &Config{Agent: AgentConfig{Command: "from-config"}}

	t.Setenv("SUPERMAVEN_AGENT_COMMAND", "")
	if got := ResolveAgentCommand(cfg); got != "from-config" {
		t.Errorf("expected from-config, got %s", got)
	}

	t.Setenv("SUPERMAVEN_AGENT_COMMAND", "from-env")
	if got := ResolveAgentCommand(cfg); got != "from-env" {
		t.Errorf("expected from-env, got %s", got)
	}
}

func TestResolveTracePath(t *testing.T) {
	cfg := &Config{Session: SessionConfig{TracePath: "/tmp/a.jsonl"}}

	t.Setenv("SUPERMAVEN_TRACE", "")
	if got := ResolveTracePath(cfg); got != "/tmp/a.jsonl" {
		t.Errorf("expected config trace path, got %s", got)
	}
	t.Setenv("SUPERMAVEN_TRACE", "/tmp/b.jsonl")
	if got := ResolveTracePath(cfg); got != "/tmp/b.jsonl" {
		t.Errorf("expected env trace path, got %s", got)
	}
}

func TestValidateConfig(t *testing.T) {
	t.Setenv("SUPERMAVEN_AGENT_COMMAND", "")

	if w := ValidateConfig(DefaultConfig()); len(w) != 0 {
		t.Errorf("expected no warnings for defaults, got %v", w)
	}

	cfg := DefaultConfig()
	cfg.Agent.Command = ""
	cfg.Agent.WorkDir = filepath.Join(t.TempDir(), "missing")
	cfg.Watch.DebounceMs = -1
	warnings := ValidateConfig(cfg)
	if len(warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %v", warnings)
	}
	if !strings.Contains(warnings[0], "agent command") {
		t.Errorf("unexpected first warning: %s", warnings[0])
	}
}
