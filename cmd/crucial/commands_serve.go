package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the canvas gateway.
func buildServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Crucial canvas server",
		Long: `Start the Crucial canvas server.

The server will:
1. Load configuration from the specified file (or crucial.yaml)
2. Open the canvas store and apply pending migrations
3. Load the action registry and wire the dispatcher
4. Start the HTTP API, the live viewer feed and optional Redis fan-out
5. Schedule the retention sweeper when enabled

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  crucial serve

  # Start with custom config
  crucial serve --config /etc/crucial/production.yaml

  # Start with debug logging
  crucial serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	return cmd
}
