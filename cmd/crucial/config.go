package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/haasonsaas/crucial/internal/canvas"
	"github.com/haasonsaas/crucial/internal/config"
	"github.com/haasonsaas/crucial/internal/observability"
)

// resolveConfigPath prefers the flag, then CRUCIAL_CONFIG, then ./crucial.yaml if present.
func resolveConfigPath(path string) string {
	if p := strings.TrimSpace(path); p != "" {
		return p
	}
	if env := strings.TrimSpace(os.Getenv("CRUCIAL_CONFIG")); env != "" {
		return env
	}
	if _, err := os.Stat("crucial.yaml"); err == nil {
		return "crucial.yaml"
	}
	return ""
}

// loadConfig loads the config and builds the process logger from it.
func loadConfig() (*config.Config, *slog.Logger, error) {
	path := resolveConfigPath(configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// openStore opens the configured store and applies migrations.
func openStore(ctx context.Context, cfg *config.Config) (canvas.Store, error) {
	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// newStore connects to the configured database without touching its schema.
func newStore(cfg *config.Config) (canvas.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		pgCfg := canvas.DefaultPostgresConfig()
		if cfg.Database.MaxConnections > 0 {
			pgCfg.MaxOpenConns = cfg.Database.MaxConnections
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			pgCfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
		}
		return canvas.NewPostgresStoreFromDSN(cfg.Database.URL, pgCfg)
	default:
		return canvas.NewSQLiteStore(canvas.SQLiteConfig{
			Path:         cfg.Database.Path,
			BusyTimeout:  cfg.Database.BusyTimeout,
			MaxOpenConns: cfg.Database.MaxConnections,
		})
	}
}
