package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/haasonsaas/crucial/pkg/client"
)

// exportFile is the on-disk layout shared by export and import.
type exportFile struct {
	Canvas  *client.Canvas        `json:"canvas,omitempty"`
	History []client.HistoryEntry `json:"history"`
}

func (f *canvasFlags) client() (*client.Client, error) {
	var opts []client.Option
	if key := strings.TrimSpace(f.apiKey); key != "" {
		opts = append(opts, client.WithAPIKey(key))
	}
	return client.New(f.server, opts...)
}

func runCanvasCreate(cmd *cobra.Command, flags *canvasFlags, name string, width, height int, background string) error {
	c, err := flags.client()
	if err != nil {
		return err
	}
	created, err := c.Create(cmd.Context(), client.CreateRequest{
		Name:       name,
		Width:      width,
		Height:     height,
		Background: background,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), created)
}

func runCanvasDo(cmd *cobra.Command, flags *canvasFlags, action, id, rawParams string) error {
	params := map[string]any{}
	if strings.TrimSpace(rawParams) != "" {
		if err := json5.Unmarshal([]byte(rawParams), &params); err != nil {
			return fmt.Errorf("invalid --params: %w", err)
		}
	}
	params["canvas_id"] = id

	c, err := flags.client()
	if err != nil {
		return err
	}
	result, err := c.Do(cmd.Context(), action, params)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func runCanvasShow(cmd *cobra.Command, flags *canvasFlags, id string) error {
	c, err := flags.client()
	if err != nil {
		return err
	}
	meta, err := c.Metadata(cmd.Context(), id)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), meta)
}

func runCanvasExport(cmd *cobra.Command, flags *canvasFlags, id, output string) error {
	c, err := flags.client()
	if err != nil {
		return err
	}
	meta, err := c.Metadata(cmd.Context(), id)
	if err != nil {
		return err
	}
	history, err := c.History(cmd.Context(), id)
	if err != nil {
		return err
	}
	doc := exportFile{Canvas: meta, History: history}
	if doc.History == nil {
		doc.History = []client.HistoryEntry{}
	}

	if output == "" {
		return printJSON(cmd.OutOrStdout(), doc)
	}
	f, err := os.Create(output)
	if err != nil {
		return err
	}
	if err := printJSON(f, doc); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "exported %d actions to %s\n", len(history), output)
	return nil
}

func runCanvasImport(cmd *cobra.Command, flags *canvasFlags, id, path string) error {
	history, err := readExport(path)
	if err != nil {
		return err
	}
	c, err := flags.client()
	if err != nil {
		return err
	}
	loaded, err := c.Load(cmd.Context(), id, history)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "loaded %d actions into %s\n", loaded, id)
	return err
}

func runCanvasWatch(cmd *cobra.Command, flags *canvasFlags, id string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	c, err := flags.client()
	if err != nil {
		return err
	}
	messages, err := c.Watch(ctx, id)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for msg := range messages {
		if err := enc.Encode(msg); err != nil {
			return err
		}
	}
	return nil
}

// readExport accepts either an export document or a bare history array.
func readExport(path string) ([]client.HistoryEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var history []client.HistoryEntry
		if err := json.Unmarshal(data, &history); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return history, nil
	}
	var doc exportFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc.History, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
