package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pingkeeper/config"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a PingKeeper configuration file without starting the server.

This command parses the YAML, expands environment variables, applies the
environment overrides and validates all fields. It's useful for CI/CD
pipelines or pre-deployment checks. The customers document is not fetched.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  pingkeeper validate -c config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	bots := 0
	for _, customerBots := range cfg.Customers {
		bots += len(customerBots)
	}

	remote := "none"
	if cfg.CustomersURL != "" {
		remote = fmt.Sprintf("%s (every %s)", cfg.CustomersURL, cfg.RefreshInterval.Duration())
	}
	snapshot := "disabled"
	if cfg.Snapshot.Path != "" {
		snapshot = fmt.Sprintf("%s at %s", cfg.Snapshot.Driver, cfg.Snapshot.Path)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:          %d\n", cfg.Port)
	fmt.Fprintf(out, "  Ping interval: %s\n", cfg.PingInterval.Duration())
	fmt.Fprintf(out, "  Customers:     %d static with %d bots\n", len(cfg.Customers), bots)
	fmt.Fprintf(out, "  Remote:        %s\n", remote)
	fmt.Fprintf(out, "  Snapshot:      %s\n", snapshot)

	return nil
}
