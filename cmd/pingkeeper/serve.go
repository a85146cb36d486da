package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pingkeeper"
	"github.com/jpalmerr/pingkeeper/config"
)

const (
	// forceExitTimeout is how long serve waits after a signal before giving
	// up on a clean shutdown. It exceeds the orchestrator's own timeouts.
	forceExitTimeout = 30 * time.Second
)

// serveCmd starts the scheduler and the dashboard server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start pinging and serve the dashboard",
	Long: `Start the PingKeeper scheduler and dashboard server.

The server will:
  - Load configuration from the optional YAML file and the environment
  - Fetch the customers document, then ping every bot right away
  - Ping again every ping_interval and re-read customers every refresh_interval
  - Serve the dashboard on the configured port

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  pingkeeper serve
  pingkeeper serve -c /etc/pingkeeper/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (optional)")
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.SlogLevel())
	logger.Info("config loaded",
		"customers", len(cfg.Customers),
		"customers_url", cfg.CustomersURL != "",
		"self_url", cfg.SelfURL,
		"trigger_enabled", cfg.TriggerKey != "",
	)

	pk, err := pingkeeper.New(append(config.BuildOptions(cfg), pingkeeper.WithLogger(logger))...)
	if err != nil {
		return fmt.Errorf("failed to create PingKeeper: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// start server - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- pk.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(forceExitTimeout):
			logger.Warn("shutdown timed out",
				"timeout", forceExitTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
