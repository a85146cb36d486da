// Package config provides YAML and environment configuration for PingKeeper.
//
// This package enables running PingKeeper as a standalone binary. Every
// setting can come from a YAML file, and the deployment-specific ones can be
// overridden from the environment, so the binary also runs without any file
// at all on platforms that only offer environment variables.
//
// Example configuration:
//
//	port: 10000
//	self_url: ${RENDER_EXTERNAL_URL:-}
//	customers_url: https://example.com/customers.json
//	ping_interval: 5m
//
//	customers:
//	  admin:
//	    Demo: https://demo.onrender.com
//
//	snapshot:
//	  driver: sqlite
//	  path: /var/lib/pingkeeper/statuses.db
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/pingkeeper/internal/registry"
)

const (
	defaultPort            = 10000
	defaultPingInterval    = 5 * time.Minute
	defaultRefreshInterval = 15 * time.Second
	defaultProbeTimeout    = 30 * time.Second
	defaultPause           = 2 * time.Second

	// minPingInterval keeps the keep-alive traffic polite.
	minPingInterval    = time.Minute
	minRefreshInterval = time.Second
	maxRefreshInterval = 5 * time.Minute
)

// Config is the root configuration structure for PingKeeper.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config.
type Config struct {
	// Title is the dashboard title. Defaults to "PingKeeper" if not set.
	Title string `yaml:"title"`

	// Port is the HTTP server port. Defaults to 10000.
	// Overridden by PORT.
	Port int `yaml:"port"`

	// SelfURL is the service's own public URL, probed every cycle.
	// Overridden by RENDER_EXTERNAL_URL.
	SelfURL string `yaml:"self_url"`

	// TriggerKey enables /trigger_ping when set.
	// Overridden by TRIGGER_KEY.
	TriggerKey string `yaml:"trigger_key"`

	// CustomersURL is the remote customers document.
	// Overridden by CUSTOMERS_URL.
	CustomersURL string `yaml:"customers_url"`

	// Customers is the static customer table: customer ID to bot name to URL.
	// URLs support environment variable substitution.
	Customers map[string]map[string]string `yaml:"customers"`

	// PingInterval is the time between ping cycles. Defaults to 5m; at least 1m.
	PingInterval Duration `yaml:"ping_interval"`

	// RefreshInterval is the time between customers document refreshes.
	// Defaults to 15s; between 1s and 5m.
	RefreshInterval Duration `yaml:"refresh_interval"`

	// ProbeTimeout bounds each probe. Defaults to 30s.
	ProbeTimeout Duration `yaml:"probe_timeout"`

	// Pause is the sleep between probes. Defaults to 2s; "0s" disables it.
	Pause *Duration `yaml:"pause"`

	// Snapshot configures status persistence. Disabled without a path.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// LogLevel is one of debug, info, warn or error. Defaults to info.
	// Overridden by LOG_LEVEL.
	LogLevel string `yaml:"log_level"`
}

// SnapshotConfig selects the snapshot backend.
type SnapshotConfig struct {
	// Driver is "file" or "sqlite". Defaults to "file".
	// Overridden by SNAPSHOT_DRIVER.
	Driver string `yaml:"driver"`

	// Path is the JSON file or SQLite database path.
	// Overridden by SNAPSHOT_PATH.
	Path string `yaml:"path"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// SlogLevel returns the configured log level.
// Call only on a validated Config.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		varName := submatches[1]
		hasDefault := submatches[2] != ""

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return submatches[3]
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load builds the configuration from an optional YAML file and the
// environment.
//
// An empty path skips the file. Environment variables referenced in the
// file are expanded first, then the environment overrides described on
// [Config] are applied, then defaults, then validation.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse parses YAML configuration data without consulting environment
// overrides. ${VAR} references in the data are still expanded.
func Parse(data []byte) (*Config, error) {
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.expand(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expand substitutes environment variables in every URL-like field.
func (c *Config) expand() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"self_url", &c.SelfURL},
		{"trigger_key", &c.TriggerKey},
		{"customers_url", &c.CustomersURL},
		{"snapshot.path", &c.Snapshot.Path},
	}
	for _, f := range fields {
		expanded, err := expandEnvVars(*f.value)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.value = expanded
	}

	for customer, bots := range c.Customers {
		for bot, url := range bots {
			expanded, err := expandEnvVars(url)
			if err != nil {
				return fmt.Errorf("customers[%s][%s]: %w", customer, bot, err)
			}
			bots[bot] = expanded
		}
	}
	return nil
}

// finish applies defaults and validates.
func (c *Config) finish() error {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.PingInterval == 0 {
		c.PingInterval = Duration(defaultPingInterval)
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = Duration(defaultRefreshInterval)
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = Duration(defaultProbeTimeout)
	}
	if c.Pause == nil {
		pause := Duration(defaultPause)
		c.Pause = &pause
	}
	if c.Snapshot.Path != "" && c.Snapshot.Driver == "" {
		c.Snapshot.Driver = "file"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return c.validate()
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.PingInterval.Duration() < minPingInterval {
		return fmt.Errorf("ping_interval must be at least %s, got %s", minPingInterval, c.PingInterval.Duration())
	}
	if d := c.RefreshInterval.Duration(); d < minRefreshInterval || d > maxRefreshInterval {
		return fmt.Errorf("refresh_interval must be between %s and %s, got %s", minRefreshInterval, maxRefreshInterval, d)
	}
	if c.ProbeTimeout.Duration() <= 0 {
		return fmt.Errorf("probe_timeout must be positive, got %s", c.ProbeTimeout.Duration())
	}
	if c.Pause.Duration() < 0 {
		return fmt.Errorf("pause cannot be negative, got %s", c.Pause.Duration())
	}

	if c.SelfURL != "" {
		if err := registry.ValidateURL(c.SelfURL); err != nil {
			return fmt.Errorf("self_url: %w", err)
		}
	}
	if c.CustomersURL != "" {
		if err := registry.ValidateURL(c.CustomersURL); err != nil {
			return fmt.Errorf("customers_url: %w", err)
		}
	}

	// sorted so the first reported error is stable
	for _, customer := range slices.Sorted(maps.Keys(c.Customers)) {
		if strings.TrimSpace(customer) == "" {
			return errors.New("customers: customer id cannot be empty")
		}
		bots := c.Customers[customer]
		for _, bot := range slices.Sorted(maps.Keys(bots)) {
			if err := registry.ValidateURL(bots[bot]); err != nil {
				return fmt.Errorf("customers[%s][%s]: %w", customer, bot, err)
			}
		}
	}

	switch c.Snapshot.Driver {
	case "", "file", "sqlite":
	default:
		return fmt.Errorf("snapshot.driver must be file or sqlite, got %q", c.Snapshot.Driver)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}

	if len(c.Customers) == 0 && c.CustomersURL == "" && c.SelfURL == "" {
		return errors.New("nothing to monitor: set customers, customers_url or self_url")
	}
	return nil
}
