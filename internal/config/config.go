// Package config holds the YAML-backed configuration surface for the
// embedded store: yaml tags via github.com/goccy/go-yaml, a Default()
// baseline, and a logger/storage/metrics grouping.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Config is the root configuration for one database instance.
type Config struct {
	Logger  LoggerConfig  `yaml:"logger"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggerConfig selects log/slog's handler and level.
type LoggerConfig struct {
	Level string `yaml:"level"` // DEBUG, INFO, WARN, ERROR
	JSON  bool   `yaml:"json"`
}

// StorageConfig covers the on-disk layout and the thresholds that
// drive memtable rotation, flush cadence, and compaction.
type StorageConfig struct {
	DataDir              string  `yaml:"data_dir"`
	SyncOnWrite          bool    `yaml:"sync_on_write"`
	FlushThresholdBytes  int64   `yaml:"flush_threshold_bytes"`
	FlushIntervalMs      int     `yaml:"flush_interval_ms"`
	CompactionThreshold  int     `yaml:"compaction_threshold"`
	CompactionIntervalMs int     `yaml:"compaction_interval_ms"`
	BloomFalsePositive   float64 `yaml:"bloom_false_positive_rate"`
}

// MetricsConfig toggles the Prometheus collector.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a baseline configuration suitable for local
// development and tests.
func Default() Config {
	return Config{
		Logger: LoggerConfig{Level: "INFO", JSON: false},
		Storage: StorageConfig{
			DataDir:              "./data",
			SyncOnWrite:          false,
			FlushThresholdBytes:  64 * 1024 * 1024,
			FlushIntervalMs:      1000,
			CompactionThreshold:  4,
			CompactionIntervalMs: 10000,
			BloomFalsePositive:   0.01,
		},
		Metrics: MetricsConfig{Enabled: false},
	}
}

// Load reads and parses a YAML configuration file over Default's
// baseline, so fields absent from the file keep their default values
// (a field set explicitly in the file, even to zero, keeps the file's
// value), then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields a YAML decode can't: positive thresholds, a
// sane bloom false-positive target, a non-empty data directory, and a
// recognized log level. There is no validator library in this lineage to
// reach for — tags like `validate:"required"` are documentation only — so
// this checks each field by hand.
func (c Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must not be empty")
	}
	if c.Storage.FlushThresholdBytes <= 0 {
		return fmt.Errorf("storage.flush_threshold_bytes must be positive, got %d", c.Storage.FlushThresholdBytes)
	}
	if c.Storage.FlushIntervalMs <= 0 {
		return fmt.Errorf("storage.flush_interval_ms must be positive, got %d", c.Storage.FlushIntervalMs)
	}
	if c.Storage.CompactionThreshold <= 0 {
		return fmt.Errorf("storage.compaction_threshold must be positive, got %d", c.Storage.CompactionThreshold)
	}
	if c.Storage.CompactionIntervalMs <= 0 {
		return fmt.Errorf("storage.compaction_interval_ms must be positive, got %d", c.Storage.CompactionIntervalMs)
	}
	if c.Storage.BloomFalsePositive <= 0 || c.Storage.BloomFalsePositive >= 1 {
		return fmt.Errorf("storage.bloom_false_positive_rate must be in (0,1), got %v", c.Storage.BloomFalsePositive)
	}
	switch c.Logger.Level {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("logger.level must be one of DEBUG, INFO, WARN, ERROR, got %q", c.Logger.Level)
	}
	return nil
}
