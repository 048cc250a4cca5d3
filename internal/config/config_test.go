package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsPopulated(t *testing.T) {
	cfg := Default()
	if cfg.Storage.DataDir == "" {
		t.Fatal("expected a non-empty default data directory")
	}
	if cfg.Storage.CompactionThreshold <= 0 {
		t.Fatal("expected a positive default compaction threshold")
	}
	if cfg.Storage.BloomFalsePositive <= 0 || cfg.Storage.BloomFalsePositive >= 1 {
		t.Fatalf("expected a default bloom false-positive rate in (0,1), got %v", cfg.Storage.BloomFalsePositive)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
storage:
  data_dir: /var/lib/lsmdb
  sync_on_write: true
  compaction_threshold: 8
logger:
  level: DEBUG
  json: true
metrics:
  enabled: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.DataDir != "/var/lib/lsmdb" {
		t.Fatalf("DataDir = %q, want /var/lib/lsmdb", cfg.Storage.DataDir)
	}
	if !cfg.Storage.SyncOnWrite {
		t.Fatal("expected sync_on_write to be true")
	}
	if cfg.Storage.CompactionThreshold != 8 {
		t.Fatalf("CompactionThreshold = %d, want 8", cfg.Storage.CompactionThreshold)
	}
	if cfg.Logger.Level != "DEBUG" || !cfg.Logger.JSON {
		t.Fatalf("Logger = %+v, want DEBUG/json", cfg.Logger)
	}
	if !cfg.Metrics.Enabled {
		t.Fatal("expected metrics.enabled to be true")
	}
	// Fields left unset in the file keep Default's values.
	if cfg.Storage.FlushIntervalMs != Default().Storage.FlushIntervalMs {
		t.Fatalf("FlushIntervalMs = %d, want default %d", cfg.Storage.FlushIntervalMs, Default().Storage.FlushIntervalMs)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected an error loading a missing config file")
	}
}

func TestLoadInvalidYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("storage: [this is not a mapping"), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error parsing invalid YAML")
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() should validate cleanly, got: %v", err)
	}
}

func TestValidateRejectsBadFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.Storage.DataDir = "" }},
		{"non-positive flush threshold", func(c *Config) { c.Storage.FlushThresholdBytes = 0 }},
		{"non-positive compaction threshold", func(c *Config) { c.Storage.CompactionThreshold = 0 }},
		{"bloom rate out of range", func(c *Config) { c.Storage.BloomFalsePositive = 1.5 }},
		{"unknown log level", func(c *Config) { c.Logger.Level = "TRACE" }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected Validate to reject the config", tc.name)
		}
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  compaction_threshold: -1\n"), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject a config with a non-positive compaction threshold")
	}
}
