package supermaven

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	defaults "github.com/Paranoid-AF/supermaven/default"
)

// Config represents the user's supermaven configuration.
type Config struct {
	Version int           `toml:"version" json:"version"`
	Agent   AgentConfig   `toml:"agent" json:"agent"`
	Session SessionConfig `toml:"session" json:"session"`
	Watch   WatchConfig   `toml:"watch" json:"watch"`
}

// AgentConfig holds settings for launching the agent process.
type AgentConfig struct {
	// Command is the agent command line, parsed with shell quoting rules.
	Command       string `toml:"command" json:"command"`
	WorkDir       string `toml:"work_dir" json:"work_dir,omitempty"`
	StopTimeoutMs int    `toml:"stop_timeout_ms" json:"stop_timeout_ms,omitempty"`
}

// SessionConfig holds settings for the state-sync session.
type SessionConfig struct {
	SuggestionTTLSeconds int    `toml:"suggestion_ttl_seconds" json:"suggestion_ttl_seconds,omitempty"`
	CompleteTimeoutMs    int    `toml:"complete_timeout_ms" json:"complete_timeout_ms,omitempty"`
	TracePath            string `toml:"trace_path" json:"trace_path,omitempty"`
}

// WatchConfig holds settings for the filesystem watcher.
type WatchConfig struct {
	DebounceMs   int      `toml:"debounce_ms" json:"debounce_ms,omitempty"`
	MaxFileBytes int      `toml:"max_file_bytes" json:"max_file_bytes,omitempty"`
	Ignore       []string `toml:"ignore" json:"ignore,omitempty"`
}

// ConfigDir returns the config directory path.
// Resolution order: $SUPERMAVEN_CONFIG_DIR > $XDG_CONFIG_HOME/supermaven > ~/.config/supermaven
func ConfigDir() string {
	if dir := os.Getenv("SUPERMAVEN_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "supermaven")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "supermaven-config")
	}
	return filepath.Join(home, ".config", "supermaven")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DefaultConfig returns the default configuration from the embedded default_config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if _, err := toml.Decode(defaults.DefaultConfigTOML, &cfg); err != nil {
		panic("supermaven: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from the default path or returns defaults if not found.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile loads config from path or returns defaults if the file does not exist.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, err
	}
	for _, key := range md.Undecoded() {
		slog.Warn("unknown config key", "key", key.String(), "path", path)
	}

	// Apply defaults for missing fields
	defaults := DefaultConfig()
	if cfg.Version == 0 {
		cfg.Version = defaults.Version
	}
	if cfg.Agent.Command == "" {
		cfg.Agent.Command = defaults.Agent.Command
	}
	if cfg.Agent.StopTimeoutMs == 0 {
		cfg.Agent.StopTimeoutMs = defaults.Agent.StopTimeoutMs
	}
	if cfg.Session.SuggestionTTLSeconds == 0 {
		cfg.Session.SuggestionTTLSeconds = defaults.Session.SuggestionTTLSeconds
	}
	if cfg.Session.CompleteTimeoutMs == 0 {
		cfg.Session.CompleteTimeoutMs = defaults.Session.CompleteTimeoutMs
	}
	if cfg.Watch.DebounceMs == 0 {
		cfg.Watch.DebounceMs = defaults.Watch.DebounceMs
	}
	if cfg.Watch.MaxFileBytes == 0 {
		cfg.Watch.MaxFileBytes = defaults.Watch.MaxFileBytes
	}
	if cfg.Watch.Ignore == nil {
		cfg.Watch.Ignore = defaults.Watch.Ignore
	}

	return &cfg, nil
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if ResolveAgentCommand(cfg) == "" {
		warnings = append(warnings, "agent command is empty; set [agent] command or SUPERMAVEN_AGENT_COMMAND")
	}
	if cfg.Agent.WorkDir != "" {
		if info, err := os.Stat(cfg.Agent.WorkDir); err != nil || !info.IsDir() {
			warnings = append(warnings, "agent work_dir is not a directory: "+cfg.Agent.WorkDir)
		}
	}
	if cfg.Session.CompleteTimeoutMs < 0 || cfg.Session.SuggestionTTLSeconds < 0 {
		warnings = append(warnings, "session timeouts must not be negative")
	}
	if cfg.Watch.DebounceMs < 0 {
		warnings = append(warnings, "watch debounce_ms must not be negative")
	}
	return warnings
}

// ResolveAgentCommand returns the agent command line.
// Priority: $SUPERMAVEN_AGENT_COMMAND env > config value.
func ResolveAgentCommand(cfg *Config) string {
	if cmd := os.Getenv("SUPERMAVEN_AGENT_COMMAND"); cmd != "" {
		return cmd
	}
	if cfg != nil {
		return cfg.Agent.Command
	}
	return ""
}

// ResolveTracePath returns the path agent traffic is recorded to, or empty when disabled.
// Priority: $SUPERMAVEN_TRACE env > config value.
func ResolveTracePath(cfg *Config) string {
	if path := os.Getenv("SUPERMAVEN_TRACE"); path != "" {
		return path
	}
	if cfg != nil {
		return cfg.Session.TracePath
	}
	return ""
}

// StopTimeout returns the grace period between SIGTERM and SIGKILL for the agent.
func (c AgentConfig) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutMs) * time.Millisecond
}

// SuggestionTTL returns how long finished suggestions stay cached.
func (c SessionConfig) SuggestionTTL() time.Duration {
	return time.Duration(c.SuggestionTTLSeconds) * time.Second
}

// CompleteTimeout returns how long an editor request waits for a final suggestion.
func (c SessionConfig) CompleteTimeout() time.Duration {
	return time.Duration(c.CompleteTimeoutMs) * time.Millisecond
}

// Debounce returns the quiet period before a changed file is sent.
func (c WatchConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}
