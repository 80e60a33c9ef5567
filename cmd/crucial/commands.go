package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/crucial/internal/config"
	"github.com/haasonsaas/crucial/internal/registry"
)

var (
	configPath string
	debug      bool
)

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "crucial",
		Short: "Crucial - shared canvas action-log service",
		Long: `Crucial records canvas drawing actions in an append-only log per canvas,
validates them against a schema registry, and streams them to live viewers.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (or set CRUCIAL_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildRegistryCmd(),
		buildKeysCmd(),
		buildCanvasCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "crucial %s (commit: %s, built: %s)\n", version, commit, date)
			return err
		},
	}
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.JSONSchema()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(data, '\n'))
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(resolveConfigPath(configPath)); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "config ok")
			return err
		},
	})
	return cmd
}

func buildRegistryCmd() *cobra.Command {
	var (
		schemaDir string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the action registry",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered actions",
		Example: `  # List built-in actions
  crucial registry list

  # Check a custom schema directory
  crucial registry list --schema-dir ./schemas --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.LoadDir(schemaDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"modules": reg.Modules()})
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCATEGORY\tDESCRIPTION")
			for _, schema := range reg.List() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", schema.Name, schema.Category, schema.Description)
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&schemaDir, "schema-dir", "", "Directory of action schemas (default: built-in)")
	list.Flags().BoolVar(&asJSON, "json", false, "Print the registry as JSON")
	cmd.AddCommand(list)
	return cmd
}
