package main

import (
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/crucial/internal/canvas"
)

// runMigrateUp handles the migrate up command.
func runMigrateUp(cmd *cobra.Command) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("running database migrations", "driver", cfg.Database.Driver)

	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	defer store.Close()

	migrations, err := migrationsOf(cmd, store)
	if err != nil {
		return err
	}
	slog.Info("migrations completed successfully", "applied", len(migrations))
	return nil
}

// runMigrateStatus handles the migrate status command.
func runMigrateStatus(cmd *cobra.Command) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	migrations, err := migrationsOf(cmd, store)
	if err != nil {
		return fmt.Errorf("%w (run \"crucial migrate up\" to initialize the schema)", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MIGRATION\tSTATUS\tAPPLIED AT")
	pending := 0
	for _, m := range migrations {
		status, at := "pending", "-"
		if m.Applied {
			status = "applied"
			at = m.AppliedAt.Format(time.RFC3339)
		} else {
			pending++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.Name, status, at)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "\n%d pending\n", pending)
	return err
}

func migrationsOf(cmd *cobra.Command, store canvas.Store) ([]canvas.Migration, error) {
	migrator, ok := store.(canvas.Migrator)
	if !ok {
		return nil, errors.New("store does not track migrations")
	}
	return migrator.Migrations(cmd.Context())
}
