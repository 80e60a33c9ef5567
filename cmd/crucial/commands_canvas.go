package main

import (
	"os"

	"github.com/spf13/cobra"
)

type canvasFlags struct {
	server string
	apiKey string
}

// buildCanvasCmd creates the "canvas" command group, a thin client for a running server.
func buildCanvasCmd() *cobra.Command {
	flags := &canvasFlags{}
	cmd := &cobra.Command{
		Use:   "canvas",
		Short: "Work with canvases on a running server",
		Long: `Create canvases, dispatch actions and move histories between servers.

These commands talk to a running Crucial server over HTTP. Mutating commands
need an API key when the server requires one.`,
	}
	cmd.PersistentFlags().StringVar(&flags.server, "server", envOr("CRUCIAL_SERVER", "http://localhost:8000"), "Server base URL")
	cmd.PersistentFlags().StringVar(&flags.apiKey, "api-key", os.Getenv("CRUCIAL_API_KEY"), "API key for mutating requests")

	cmd.AddCommand(
		buildCanvasCreateCmd(flags),
		buildCanvasDoCmd(flags),
		buildCanvasShowCmd(flags),
		buildCanvasExportCmd(flags),
		buildCanvasImportCmd(flags),
		buildCanvasWatchCmd(flags),
	)
	return cmd
}

func buildCanvasCreateCmd(flags *canvasFlags) *cobra.Command {
	var (
		name          string
		width, height int
		background    string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a canvas",
		Example: `  crucial canvas create --name sketch --width 1024 --height 768`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCanvasCreate(cmd, flags, name, width, height, background)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Canvas name")
	cmd.Flags().IntVar(&width, "width", 0, "Width in pixels (server default when 0)")
	cmd.Flags().IntVar(&height, "height", 0, "Height in pixels (server default when 0)")
	cmd.Flags().StringVar(&background, "background", "", "Background color")
	return cmd
}

func buildCanvasDoCmd(flags *canvasFlags) *cobra.Command {
	var params string
	cmd := &cobra.Command{
		Use:   "do <action> <canvas-id>",
		Short: "Dispatch an action against a canvas",
		Args:  cobra.ExactArgs(2),
		Example: `  crucial canvas do draw_circle amber-fox-42 --params '{center_x: 10, center_y: 10, radius: 5, color: "#f00"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCanvasDo(cmd, flags, args[0], args[1], params)
		},
	}
	cmd.Flags().StringVarP(&params, "params", "p", "{}", "Action parameters as JSON5")
	return cmd
}

func buildCanvasShowCmd(flags *canvasFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <canvas-id>",
		Short: "Print canvas metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCanvasShow(cmd, flags, args[0])
		},
	}
}

func buildCanvasExportCmd(flags *canvasFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <canvas-id>",
		Short: "Export a canvas history as JSON",
		Args:  cobra.ExactArgs(1),
		Example: `  crucial canvas export amber-fox-42 -o sketch.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCanvasExport(cmd, flags, args[0], output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	return cmd
}

func buildCanvasImportCmd(flags *canvasFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <canvas-id> <file>",
		Short: "Replace a canvas history with an exported file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCanvasImport(cmd, flags, args[0], args[1])
		},
	}
	return cmd
}

func buildCanvasWatchCmd(flags *canvasFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <canvas-id>",
		Short: "Stream live actions as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCanvasWatch(cmd, flags, args[0])
		},
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
