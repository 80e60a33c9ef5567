package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/crucial/internal/auth"
	"github.com/haasonsaas/crucial/internal/canvas"
)

func runKeysAdd(cmd *cobra.Command, key, label string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		if key, err = generateKey(); err != nil {
			return err
		}
	}
	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	record := &canvas.APIKey{Key: key, Label: strings.TrimSpace(label), CreatedAt: time.Now().UTC()}
	if err := store.CreateAPIKey(cmd.Context(), record); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}
	slog.Info("api key stored", "label", record.Label)
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), key); err != nil {
		return err
	}
	if cmd.OutOrStdout() == os.Stdout && term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Save this key now: \"crucial keys list\" only shows it masked.")
	}
	return nil
}

func runKeysList(cmd *cobra.Command) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := store.ListAPIKeys(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tLABEL\tCREATED")
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\t%s\n", maskKey(k.Key), k.Label, k.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runKeysRevoke(cmd *cobra.Command, key string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteAPIKey(cmd.Context(), strings.TrimSpace(key)); err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}
	slog.Info("api key revoked", "key", maskKey(key))
	return nil
}

func runKeysToken(cmd *cobra.Command, subject, label string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	service := auth.NewService(auth.Config{
		Required:    true,
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
	})
	token, err := service.GenerateJWT(subject, label)
	if err != nil {
		return fmt.Errorf("issue token (auth.jwt_secret must be set): %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}

func generateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// maskKey keeps the first and last four characters.
func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
