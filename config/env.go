package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envOverrides lists the settings the environment can override. Pointer
// fields stay nil when the variable is unset, so only set variables win
// over the file.
type envOverrides struct {
	Port           *int           `envconfig:"PORT"`
	SelfURL        *string        `envconfig:"RENDER_EXTERNAL_URL"`
	TriggerKey     *string        `envconfig:"TRIGGER_KEY"`
	CustomersURL   *string        `envconfig:"CUSTOMERS_URL"`
	PingInterval   *time.Duration `envconfig:"PING_INTERVAL"`
	SnapshotDriver *string        `envconfig:"SNAPSHOT_DRIVER"`
	SnapshotPath   *string        `envconfig:"SNAPSHOT_PATH"`
	LogLevel       *string        `envconfig:"LOG_LEVEL"`
}

// applyEnv overlays the environment onto c.
func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	if env.Port != nil {
		c.Port = *env.Port
	}
	if env.SelfURL != nil {
		c.SelfURL = *env.SelfURL
	}
	if env.TriggerKey != nil {
		c.TriggerKey = *env.TriggerKey
	}
	if env.CustomersURL != nil {
		c.CustomersURL = *env.CustomersURL
	}
	if env.PingInterval != nil {
		c.PingInterval = Duration(*env.PingInterval)
	}
	if env.SnapshotDriver != nil {
		c.Snapshot.Driver = *env.SnapshotDriver
	}
	if env.SnapshotPath != nil {
		c.Snapshot.Path = *env.SnapshotPath
	}
	if env.LogLevel != nil {
		c.LogLevel = *env.LogLevel
	}
	return nil
}
