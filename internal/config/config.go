// Package config loads the orchestrator's YAML configuration. Environment
// variables referenced as ${VAR} in the file are expanded before parsing,
// which keeps API keys out of the file itself.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the default config location when set.
const EnvConfigPath = "ISAAC_CONFIG"

// Config is the root configuration document.
type Config struct {
	// Shell is the binary used to run shell commands.
	Shell string `yaml:"shell"`
	// Mode is "internal" (REPL) or "external" (one-shot / relayed).
	Mode string `yaml:"mode"`
	// Device names this machine for device-routed commands.
	Device string `yaml:"device"`
	// PluginPaths are the roots scanned for command.yaml manifests.
	PluginPaths []string `yaml:"plugin_paths"`
	// TierOverrides remaps command verbs to safety tiers.
	TierOverrides map[string]float64 `yaml:"tier_overrides"`

	Queue  QueueConfig  `yaml:"queue"`
	Remote RemoteConfig `yaml:"remote"`
	AI     AIConfig     `yaml:"ai"`
	Audit  AuditConfig  `yaml:"audit"`
	Log    LogConfig    `yaml:"log"`
}

// QueueConfig tunes the durable command queue and its sync worker.
type QueueConfig struct {
	Path         string        `yaml:"path"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	RetryCeiling int           `yaml:"retry_ceiling"`
	StaleTimeout time.Duration `yaml:"stale_timeout"`
	Retention    time.Duration `yaml:"retention"`
}

// RemoteConfig points at the relay used for cross-device delivery.
type RemoteConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// AIConfig selects the model provider behind translation and validation.
type AIConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

// AuditConfig controls the JSONL audit trail.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Output  string `yaml:"output"`
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".isaac")
	return &Config{
		Shell:       defaultShell(),
		Mode:        "internal",
		PluginPaths: []string{filepath.Join(base, "commands")},
		Queue: QueueConfig{
			Path:         filepath.Join(base, "queue.db"),
			PollInterval: 5 * time.Second,
			BatchSize:    10,
			RetryCeiling: 8,
			StaleTimeout: 5 * time.Minute,
			Retention:    7 * 24 * time.Hour,
		},
		AI: AIConfig{
			Provider: "anthropic",
		},
		Audit: AuditConfig{
			Enabled: true,
			Output:  "file:" + filepath.Join(base, "audit.jsonl"),
		},
		Log: LogConfig{Level: "info"},
	}
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// DefaultPath is the config file location, honoring ISAAC_CONFIG.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".isaac", "config.yaml")
}

// Load reads the config file at path, expanding ${VAR} references. A
// missing file yields the defaults rather than an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		applyDefaults(cfg)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Shell == "" {
		cfg.Shell = d.Shell
	}
	if cfg.Mode == "" {
		cfg.Mode = d.Mode
	}
	if len(cfg.PluginPaths) == 0 {
		cfg.PluginPaths = d.PluginPaths
	}
	if cfg.Queue.Path == "" {
		cfg.Queue.Path = d.Queue.Path
	}
	if cfg.Queue.PollInterval == 0 {
		cfg.Queue.PollInterval = d.Queue.PollInterval
	}
	if cfg.Queue.BatchSize == 0 {
		cfg.Queue.BatchSize = d.Queue.BatchSize
	}
	if cfg.Queue.RetryCeiling == 0 {
		cfg.Queue.RetryCeiling = d.Queue.RetryCeiling
	}
	if cfg.Queue.StaleTimeout == 0 {
		cfg.Queue.StaleTimeout = d.Queue.StaleTimeout
	}
	if cfg.Queue.Retention == 0 {
		cfg.Queue.Retention = d.Queue.Retention
	}
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = d.AI.Provider
	}
	if cfg.AI.APIKey == "" {
		switch cfg.AI.Provider {
		case "xai", "grok":
			cfg.AI.APIKey = os.Getenv("XAI_API_KEY")
		default:
			cfg.AI.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if cfg.Audit.Output == "" {
		cfg.Audit.Output = d.Audit.Output
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Mode != "internal" && c.Mode != "external" {
		return fmt.Errorf("config: mode %q must be internal or external", c.Mode)
	}
	if c.Remote.Enabled && c.Remote.URL == "" {
		return fmt.Errorf("config: remote.url is required when remote.enabled is true")
	}
	if c.AI.Enabled && c.AI.APIKey == "" {
		return fmt.Errorf("config: ai.api_key is required when ai.enabled is true")
	}
	for verb, tier := range c.TierOverrides {
		if tier < 1 || tier > 4 {
			return fmt.Errorf("config: tier_overrides[%s] = %v out of range [1, 4]", verb, tier)
		}
	}
	return nil
}
