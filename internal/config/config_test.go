package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode != "internal" {
		t.Errorf("Mode = %q", cfg.Mode)
	}
	if cfg.Queue.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v", cfg.Queue.PollInterval)
	}
	if cfg.Queue.RetryCeiling != 8 {
		t.Errorf("RetryCeiling = %d", cfg.Queue.RetryCeiling)
	}
}

func TestLoadOverridesAndDefaults(t *testing.T) {
	path := writeConfig(t, `
shell: /bin/bash
device: laptop
tier_overrides:
  curl: 3
queue:
  batch_size: 25
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Shell != "/bin/bash" || cfg.Device != "laptop" {
		t.Errorf("Shell=%q Device=%q", cfg.Shell, cfg.Device)
	}
	if cfg.TierOverrides["curl"] != 3 {
		t.Errorf("TierOverrides = %v", cfg.TierOverrides)
	}
	if cfg.Queue.BatchSize != 25 {
		t.Errorf("BatchSize = %d", cfg.Queue.BatchSize)
	}
	// Unset fields keep defaults.
	if cfg.Queue.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v", cfg.Queue.PollInterval)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_ISAAC_KEY", "sk-secret")
	path := writeConfig(t, `
ai:
  enabled: true
  provider: anthropic
  api_key: ${TEST_ISAAC_KEY}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.APIKey != "sk-secret" {
		t.Errorf("APIKey = %q", cfg.AI.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad mode", func(c *Config) { c.Mode = "hybrid" }, "mode"},
		{"remote without url", func(c *Config) { c.Remote.Enabled = true }, "remote.url"},
		{"ai without key", func(c *Config) { c.AI.Enabled = true; c.AI.APIKey = "" }, "api_key"},
		{"tier out of range", func(c *Config) { c.TierOverrides = map[string]float64{"x": 9} }, "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultPathHonorsEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "/tmp/custom.yaml")
	if got := DefaultPath(); got != "/tmp/custom.yaml" {
		t.Errorf("DefaultPath() = %q", got)
	}
}
