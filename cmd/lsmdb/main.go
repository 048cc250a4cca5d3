package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"lsmdb/internal/config"
	"lsmdb/pkg/lsmdb"
	"lsmdb/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := newLogger(cfg.Logger)
	slog.SetDefault(logger)

	var collector metrics.Collector = metrics.Noop{}
	if cfg.Metrics.Enabled {
		collector = metrics.NewProm(prometheus.DefaultRegisterer)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("lsmdb starting", "data_dir", cfg.Storage.DataDir)

	db, err := lsmdb.Open(cfg.Storage.DataDir, lsmdb.Options{
		SyncOnWrite:         cfg.Storage.SyncOnWrite,
		FlushThresholdBytes: cfg.Storage.FlushThresholdBytes,
		FlushInterval:       time.Duration(cfg.Storage.FlushIntervalMs) * time.Millisecond,
		CompactionThreshold: cfg.Storage.CompactionThreshold,
		CompactionInterval:  time.Duration(cfg.Storage.CompactionIntervalMs) * time.Millisecond,
		BloomFalsePositive:  cfg.Storage.BloomFalsePositive,
		Logger:              logger,
		Metrics:             collector,
	})
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()

	logger.Info("lsmdb shutting down")
	if err := db.Close(); err != nil {
		logger.Error("failed to close database cleanly", "error", err)
		os.Exit(1)
	}
	logger.Info("lsmdb stopped")
}

func newLogger(cfg config.LoggerConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
