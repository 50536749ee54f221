// Command server runs the DoodleDock realtime canvas server.
//
// Start the server:
//
//	server serve --config config.yaml
//
// Mint a development token:
//
//	server token --email alice@example.com
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "server",
		Short:        "DoodleDock realtime canvas and chat server",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, false)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("DOODLEDOCK_CONFIG"),
		"Path to YAML configuration file (or set DOODLEDOCK_CONFIG)")

	rootCmd.AddCommand(
		buildServeCmd(&configPath),
		buildTokenCmd(&configPath),
	)
	return rootCmd
}
