package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/manpreetbhatti/doodledock/backend/internal/auth"
	"github.com/manpreetbhatti/doodledock/backend/internal/config"
	"github.com/manpreetbhatti/doodledock/backend/internal/db"
)

func buildTokenCmd(configPath *string) *cobra.Command {
	var email, name string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development access token",
		Long: `Find or create a user in the local store and print a signed token
for the websocket handshake. Production tokens are issued elsewhere.`,
		Example: `  server token --email alice@example.com --name Alice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(email) == "" {
				return fmt.Errorf("--email is required")
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			database, err := db.New(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("initialize database: %w", err)
			}
			defer database.Close()

			user, err := database.EnsureUser(cmd.Context(), email, name)
			if err != nil {
				return fmt.Errorf("ensure user: %w", err)
			}

			token, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry).Issue(user)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "User email")
	cmd.Flags().StringVar(&name, "name", "", "Display name for a new user")
	return cmd
}
