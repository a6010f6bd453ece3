// Package config handles configuration loading from YAML files and environment variables.
// Configuration precedence: environment variables > config file > defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "15s", "30s", "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds all corelens configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Report  ReportConfig  `yaml:"report"`
	Watch   WatchConfig   `yaml:"watch"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ReportConfig holds per-module defaults, overridable per run by flags.
type ReportConfig struct {
	Diskname         string   `yaml:"diskname"`
	LockupMinRunTime Duration `yaml:"lockup_min_run_time"`
}

// WatchConfig holds the periodic re-scan settings.
type WatchConfig struct {
	Interval  Duration `yaml:"interval"`
	Dir       string   `yaml:"dir"`
	MaxSizeMB int      `yaml:"max_size_mb"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		Report: ReportConfig{
			Diskname:         "all",
			LockupMinRunTime: Duration{2 * time.Second},
		},
		Watch: WatchConfig{
			Interval:  Duration{30 * time.Second},
			Dir:       "./corelens-reports",
			MaxSizeMB: 50,
		},
	}
}

// Load reads configuration from a YAML file and merges with defaults.
// If path is empty or the file does not exist, only defaults and environment
// variables are used.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	// Environment variable overrides (highest precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies CORELENS_* environment variables over the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CORELENS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CORELENS_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("CORELENS_DISKNAME"); v != "" {
		cfg.Report.Diskname = v
	}
}

// Validate checks the configuration for values no run could work with.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	if c.Watch.Interval.Duration <= 0 {
		return fmt.Errorf("watch interval must be positive, got %v", c.Watch.Interval.Duration)
	}
	if c.Watch.MaxSizeMB <= 0 {
		return fmt.Errorf("watch max_size_mb must be positive, got %d", c.Watch.MaxSizeMB)
	}
	if c.Report.LockupMinRunTime.Duration < 0 {
		return fmt.Errorf("lockup_min_run_time must not be negative, got %v", c.Report.LockupMinRunTime.Duration)
	}
	return nil
}
