// Package main provides the CLI entry point for Crucial, a shared canvas
// service that records drawing actions in a per-canvas log and streams them
// to live viewers.
//
// # Basic Usage
//
// Start the server:
//
//	crucial serve --config crucial.yaml
//
// Manage database migrations:
//
//	crucial migrate up
//	crucial migrate status
//
// Work with canvases on a running server:
//
//	crucial canvas create --name sketch
//	crucial canvas export <id> -o sketch.json
//
// # Environment Variables
//
//   - CRUCIAL_CONFIG: Path to configuration file
//   - CRUCIAL_HOST, CRUCIAL_PORT: listen address
//   - CRUCIAL_DB_PATH: SQLite database path
//   - AUTH_REQUIRE_API_KEY, AUTH_KEYS_FILE: API key gate
//   - CRUCIAL_SERVER, CRUCIAL_API_KEY: target server for canvas commands
package main

import (
	"log/slog"
	"os"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}
