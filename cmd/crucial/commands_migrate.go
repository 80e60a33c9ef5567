package main

import (
	"github.com/spf13/cobra"
)

// buildMigrateCmd creates the "migrate" command group for schema migrations.
func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
		Long: `Manage the canvas store schema.

Migrations are embedded in the binary and applied in order. The server applies
pending migrations on startup; these commands let you run or inspect them ahead
of a deploy.`,
	}
	cmd.AddCommand(buildMigrateUpCmd(), buildMigrateStatusCmd())
	return cmd
}

func buildMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Example: `  # Migrate the configured database
  crucial migrate up --config crucial.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd)
		},
	}
}

func buildMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd)
		},
	}
}
