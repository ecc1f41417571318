package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8787 {
		t.Errorf("Server.Port = %d, want 8787", cfg.Server.Port)
	}
	if cfg.Thresholds.Notify != 0.60 {
		t.Errorf("Thresholds.Notify = %v, want 0.60", cfg.Thresholds.Notify)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".driftwatch.yml")
	content := "workspace: payments\nserver:\n  port: 9090\nlock:\n  ttl_seconds: 45\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workspace != "payments" {
		t.Errorf("Workspace = %q, want %q", cfg.Workspace, "payments")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Lock.TTLSeconds != 45 {
		t.Errorf("Lock.TTLSeconds = %d, want 45", cfg.Lock.TTLSeconds)
	}
	// Untouched sections keep defaults.
	if cfg.Queue.MaxAttempts != 3 {
		t.Errorf("Queue.MaxAttempts = %d, want 3", cfg.Queue.MaxAttempts)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DRIFTWATCH_WORKSPACE", "from-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workspace != "from-env" {
		t.Errorf("Workspace = %q, want %q", cfg.Workspace, "from-env")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty workspace", func(c *Config) { c.Workspace = "" }},
		{"bad environment", func(c *Config) { c.Environment = "staging" }},
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"notify out of range", func(c *Config) { c.Thresholds.Notify = 1.5 }},
		{"risky below notify", func(c *Config) { c.Thresholds.RiskyNotify = 0.1 }},
		{"zero lock ttl", func(c *Config) { c.Lock.TTLSeconds = 0 }},
		{"zero max attempts", func(c *Config) { c.Queue.MaxAttempts = 0 }},
		{"low count threshold", func(c *Config) { c.Accumulator.CountThreshold = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".driftwatch.yml")
	cfg := DefaultConfig()
	cfg.Workspace = "search-infra"
	cfg.Slack.WebhookURL = "https://hooks.slack.com/services/T/B/x"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Workspace != "search-infra" {
		t.Errorf("Workspace = %q, want %q", loaded.Workspace, "search-infra")
	}
	if loaded.Slack.WebhookURL != cfg.Slack.WebhookURL {
		t.Errorf("Slack.WebhookURL = %q, want %q", loaded.Slack.WebhookURL, cfg.Slack.WebhookURL)
	}
}
