package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (DRIFTWATCH_*).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	// Overlay environment variables: DRIFTWATCH_SERVER_PORT -> server.port, etc.
	if err := k.Load(env.Provider("DRIFTWATCH_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "DRIFTWATCH_")), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// validEnvironments is the set of recognized environment values.
var validEnvironments = map[Environment]bool{
	EnvProduction:  true,
	EnvDevelopment: true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace is required")
	}
	if !validEnvironments[c.Environment] {
		return fmt.Errorf("invalid environment %q: must be production or development", c.Environment)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.Server.DataDir == "" {
		return fmt.Errorf("server.data_dir is required")
	}

	if c.Thresholds.Notify < 0 || c.Thresholds.Notify > 1 {
		return fmt.Errorf("thresholds.notify must be in [0,1], got %v", c.Thresholds.Notify)
	}
	if c.Thresholds.RiskyNotify < 0 || c.Thresholds.RiskyNotify > 1 {
		return fmt.Errorf("thresholds.risky_notify must be in [0,1], got %v", c.Thresholds.RiskyNotify)
	}
	if c.Thresholds.RiskyNotify < c.Thresholds.Notify {
		return fmt.Errorf("thresholds.risky_notify must not be below thresholds.notify")
	}

	if c.Correlation.WindowHours <= 0 {
		return fmt.Errorf("correlation.window_hours must be positive")
	}

	if c.Accumulator.WindowDays <= 0 {
		return fmt.Errorf("accumulator.window_days must be positive")
	}
	if c.Accumulator.CountThreshold < 2 {
		return fmt.Errorf("accumulator.count_threshold must be at least 2")
	}

	if c.Lock.TTLSeconds <= 0 {
		return fmt.Errorf("lock.ttl_seconds must be positive")
	}

	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be at least 1")
	}

	if c.Retention.AuditPayloadDays < 0 {
		return fmt.Errorf("retention.audit_payload_days must be non-negative")
	}

	return nil
}
