package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pingkeeper"
	"github.com/jpalmerr/pingkeeper/config"
)

// pingOnceCmd runs one ping cycle and prints the resulting statuses.
var pingOnceCmd = &cobra.Command{
	Use:   "ping-once",
	Short: "Run a single ping cycle and print the statuses",
	Long: `Run a single ping cycle without starting the scheduler or the server.

The customers document is fetched first when configured. The resulting
statuses are printed to stdout in the same JSON shape as /status. The
snapshot, when configured, is read and written like in a scheduled cycle.

Example:
  pingkeeper ping-once -c config.yaml | jq '.statuses'`,
	RunE: runPingOnce,
}

func init() {
	rootCmd.AddCommand(pingOnceCmd)

	pingOnceCmd.Flags().StringP("config", "c", "", "path to config file (optional)")
}

func runPingOnce(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.SlogLevel())
	pk, err := pingkeeper.New(append(config.BuildOptions(cfg), pingkeeper.WithLogger(logger))...)
	if err != nil {
		return fmt.Errorf("failed to create PingKeeper: %w", err)
	}
	defer func() {
		if err := pk.Close(); err != nil {
			logger.Warn("failed to close status snapshot", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := pk.RunOnce(ctx); err != nil {
		return fmt.Errorf("ping cycle failed: %w", err)
	}
	return pk.WriteStatus(cmd.OutOrStdout())
}
