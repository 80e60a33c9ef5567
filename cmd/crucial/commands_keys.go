package main

import (
	"github.com/spf13/cobra"
)

// buildKeysCmd creates the "keys" command group for stored API keys.
func buildKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys stored in the database",
		Long: `Manage API keys kept in the canvas store.

Keys from the store are accepted alongside keys listed in auth.api_keys and the
watched keys file. Revoked keys stop working on the next request.`,
	}
	cmd.AddCommand(buildKeysAddCmd(), buildKeysListCmd(), buildKeysRevokeCmd(), buildKeysTokenCmd())
	return cmd
}

func buildKeysAddCmd() *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "add [key]",
		Short: "Store an API key, generating one when omitted",
		Args:  cobra.MaximumNArgs(1),
		Example: `  # Generate a key for the renderer
  crucial keys add --label renderer

  # Store a known key
  crucial keys add 3f9c... --label ci`,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = args[0]
			}
			return runKeysAdd(cmd, key, label)
		},
	}
	cmd.Flags().StringVarP(&label, "label", "l", "", "Human readable label for the key")
	return cmd
}

func buildKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysList(cmd)
		},
	}
}

func buildKeysRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key>",
		Short: "Delete a stored API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysRevoke(cmd, args[0])
		},
	}
}

func buildKeysTokenCmd() *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a signed bearer token using auth.jwt_secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysToken(cmd, args[0], label)
		},
	}
	cmd.Flags().StringVarP(&label, "label", "l", "", "Label embedded in the token")
	return cmd
}
