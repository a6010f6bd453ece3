package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("logging:\n  level: \"warn\"\nreport:\n  diskname: \"sda\"")
	if err := os.WriteFile(path, data, 0640); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CORELENS_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want env override", cfg.Logging.Level)
	}
	if cfg.Report.Diskname != "sda" {
		t.Errorf("Diskname = %q, want file value", cfg.Report.Diskname)
	}
}

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Report.Diskname != "all" {
		t.Errorf("Diskname = %q, want %q default", cfg.Report.Diskname, "all")
	}
	if cfg.Report.LockupMinRunTime.Duration != 2*time.Second {
		t.Errorf("LockupMinRunTime = %v, want 2s default", cfg.Report.LockupMinRunTime.Duration)
	}
	if cfg.Watch.Interval.Duration != 30*time.Second {
		t.Errorf("Interval = %v, want 30s default", cfg.Watch.Interval.Duration)
	}
}

func TestLoad_DurationStrings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("watch:\n  interval: \"1m30s\"\nreport:\n  lockup_min_run_time: \"5s\"")
	if err := os.WriteFile(path, data, 0640); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Watch.Interval.Duration != 90*time.Second {
		t.Errorf("Interval = %v, want 1m30s", cfg.Watch.Interval.Duration)
	}
	if cfg.Report.LockupMinRunTime.Duration != 5*time.Second {
		t.Errorf("LockupMinRunTime = %v, want 5s", cfg.Report.LockupMinRunTime.Duration)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown log level")
	}

	cfg = DefaultConfig()
	cfg.Watch.Interval = Duration{0}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero watch interval")
	}

	cfg = DefaultConfig()
	cfg.Watch.MaxSizeMB = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero max size")
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}
