// Package main is the entry point for the pingkeeper CLI.
//
// Usage:
//
//	pingkeeper serve [-c config.yaml]     # Start pinging and serve the dashboard
//	pingkeeper ping-once [-c config.yaml] # Run a single cycle and print the statuses
//	pingkeeper validate -c config.yaml    # Validate configuration
//	pingkeeper version                    # Show version info
//
// Every command reads a .env file from the working directory when present.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "pingkeeper",
	Short: "Keep free-tier bots awake and show their status",
	Long: `PingKeeper pings a registry of customer bots on a schedule so free-tier
hosts do not idle them, and shows each bot's status on a small dashboard.

Quick start (environment only):
  export CUSTOMERS_URL=https://example.com/customers.json
  export RENDER_EXTERNAL_URL=https://my-keeper.onrender.com
  pingkeeper serve

Environment overrides:
  PORT, RENDER_EXTERNAL_URL, TRIGGER_KEY, CUSTOMERS_URL, PING_INTERVAL,
  SNAPSHOT_DRIVER, SNAPSHOT_PATH, LOG_LEVEL`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		return loadEnvFile(envFile)
	},
}

// loadEnvFile loads variables from path without overriding the real
// environment. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// newLogger creates a JSON logger for CLI use.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this pingkeeper binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "pingkeeper %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.AddCommand(versionCmd)
}
