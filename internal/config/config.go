// Package config loads and validates the engine configuration from YAML.
// Defaults are applied on load; validation fails closed (a shell_command
// auto-approve rule is a load error, not a warning).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/confirm"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/task"
)

// TelemetryConfig controls the OpenTelemetry provider.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // "stdout" or "otlp"
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// TelegramConfig controls the Telegram confirmation channel.
type TelegramConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Token      string  `yaml:"token"`
	AllowedIDs []int64 `yaml:"allowed_ids"`
}

// Config is the full engine configuration surface.
type Config struct {
	// Detection threshold in (0, 1].
	MinConfidence float64 `yaml:"min_confidence"`

	// Task lifetime when no time expression sets one.
	DefaultTaskTTLSeconds uint32 `yaml:"default_task_ttl_seconds"`

	SchedulerTickMs uint32 `yaml:"scheduler_tick_ms"`

	// Per-handler execute budget; action types absent fall back to 60s.
	PerHandlerTimeoutSeconds map[task.ActionType]uint32 `yaml:"per_handler_timeout_seconds"`

	AutoApprove []confirm.Rule `yaml:"auto_approve"`

	HistoryRetentionSeconds uint32 `yaml:"history_retention_seconds"`

	BindAddr  string `yaml:"bind_addr"`
	AuthToken string `yaml:"auth_token"`
	LogLevel  string `yaml:"log_level"`
	DataDir   string `yaml:"data_dir"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		MinConfidence:            0.55,
		DefaultTaskTTLSeconds:    86400,
		SchedulerTickMs:          250,
		PerHandlerTimeoutSeconds: map[task.ActionType]uint32{},
		HistoryRetentionSeconds:  86400,
		BindAddr:                 "127.0.0.1:8787",
		LogLevel:                 "info",
		DataDir:                  defaultDataDir(),
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".engram"
	}
	return filepath.Join(home, ".engram")
}

// Load reads the config file at path, applying defaults for absent fields.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and rejects forbidden auto-approve rules.
func (c *Config) Validate() error {
	if c.MinConfidence <= 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in (0, 1], got %v", c.MinConfidence)
	}
	if c.DefaultTaskTTLSeconds == 0 {
		return fmt.Errorf("default_task_ttl_seconds must be positive")
	}
	if c.SchedulerTickMs == 0 {
		return fmt.Errorf("scheduler_tick_ms must be positive")
	}
	for at := range c.PerHandlerTimeoutSeconds {
		if !task.KnownActionType(at) {
			return fmt.Errorf("per_handler_timeout_seconds: unknown action type %q", at)
		}
	}
	// Compiling the rules performs the shell_command rejection.
	if _, err := confirm.NewAutoApprover(c.AutoApprove); err != nil {
		return err
	}
	return nil
}

// DefaultTaskTTL returns the default TTL as a duration.
func (c *Config) DefaultTaskTTL() time.Duration {
	return time.Duration(c.DefaultTaskTTLSeconds) * time.Second
}

// SchedulerTick returns the tick interval as a duration.
func (c *Config) SchedulerTick() time.Duration {
	return time.Duration(c.SchedulerTickMs) * time.Millisecond
}

// HandlerTimeout returns the execute budget for an action type.
func (c *Config) HandlerTimeout(at task.ActionType) time.Duration {
	if secs, ok := c.PerHandlerTimeoutSeconds[at]; ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 60 * time.Second
}

// HistoryRetention returns the audit retention window as a duration.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.HistoryRetentionSeconds) * time.Second
}
