package pingkeeper

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpalmerr/pingkeeper/internal/registry"
	"github.com/jpalmerr/pingkeeper/internal/snapshot"
)

const (
	// MinPingInterval is the shortest allowed interval between ping cycles.
	MinPingInterval = time.Minute

	// MinRefreshInterval and MaxRefreshInterval bound the customer
	// document refresh interval.
	MinRefreshInterval = time.Second
	MaxRefreshInterval = 5 * time.Minute
)

// pkConfig holds mutable state during PingKeeper construction.
type pkConfig struct {
	title           string
	customers       registry.Data
	customersURL    string
	selfURL         string
	triggerKey      string
	pingInterval    time.Duration
	refreshInterval time.Duration
	probeTimeout    time.Duration
	pause           time.Duration
	snapshotDriver  string
	snapshotPath    string
	port            int
	shutdownTimeout time.Duration
	logger          *slog.Logger
	statusCallbacks []func(StatusResult)
}

// Option is a function that configures a [PingKeeper] instance during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
type Option func(*pkConfig) error

// WithCustomers adds a static customer table, mapping customer IDs to bot
// names to URLs. It seeds the registry before the first remote refresh and
// is the whole registry when no customers URL is configured.
//
// Can be called multiple times; later calls replace bots of the same
// customer.
//
// Example:
//
//	pk, err := pingkeeper.New(
//	    pingkeeper.WithCustomers(map[string]map[string]string{
//	        "admin": {"Demo": "https://demo.onrender.com"},
//	    }),
//	)
//
// Returns an error if any URL is not an absolute http or https URL.
func WithCustomers(customers map[string]map[string]string) Option {
	return func(cfg *pkConfig) error {
		data := make(registry.Data, len(customers))
		for customer, bots := range customers {
			data[customer] = registry.Bots(bots)
		}
		if err := registry.Validate(data); err != nil {
			return fmt.Errorf("invalid customers: %w", err)
		}
		if cfg.customers == nil {
			cfg.customers = make(registry.Data, len(data))
		}
		for customer, bots := range data.Clone() {
			cfg.customers[customer] = bots
		}
		return nil
	}
}

// WithCustomersURL sets the remote JSON document the registry is refreshed
// from. The document has the same shape as the table given to
// [WithCustomers].
//
// Returns an error if the URL is not an absolute http or https URL.
func WithCustomersURL(url string) Option {
	return func(cfg *pkConfig) error {
		if err := registry.ValidateURL(url); err != nil {
			return fmt.Errorf("invalid customers url: %w", err)
		}
		cfg.customersURL = url
		return nil
	}
}

// WithSelfURL sets the service's own public URL. It is probed at the end of
// every cycle so the hosting platform keeps the service itself awake.
//
// An empty URL is ignored, so the value of an unset environment variable
// can be passed directly.
func WithSelfURL(url string) Option {
	return func(cfg *pkConfig) error {
		if url == "" {
			return nil
		}
		if err := registry.ValidateURL(url); err != nil {
			return fmt.Errorf("invalid self url: %w", err)
		}
		cfg.selfURL = url
		return nil
	}
}

// WithTriggerKey enables the "/trigger_ping" endpoint, gated by key.
// Without a key the endpoint is not registered.
func WithTriggerKey(key string) Option {
	return func(cfg *pkConfig) error {
		cfg.triggerKey = key
		return nil
	}
}

// WithPingInterval sets how often a ping cycle runs.
// Defaults to 5 minutes if not specified.
//
// Returns an error if the interval is shorter than one minute.
func WithPingInterval(d time.Duration) Option {
	return func(cfg *pkConfig) error {
		if d < MinPingInterval {
			return fmt.Errorf("ping interval must be at least %s, got %s", MinPingInterval, d)
		}
		cfg.pingInterval = d
		return nil
	}
}

// WithRefreshInterval sets how often the customers document is re-read.
// Defaults to 15 seconds if not specified.
//
// Returns an error if the interval is outside 1s to 5m.
func WithRefreshInterval(d time.Duration) Option {
	return func(cfg *pkConfig) error {
		if d < MinRefreshInterval || d > MaxRefreshInterval {
			return fmt.Errorf("refresh interval must be between %s and %s, got %s",
				MinRefreshInterval, MaxRefreshInterval, d)
		}
		cfg.refreshInterval = d
		return nil
	}
}

// WithProbeTimeout bounds each probe. Defaults to 30 seconds.
//
// Returns an error if the duration is zero or negative.
func WithProbeTimeout(d time.Duration) Option {
	return func(cfg *pkConfig) error {
		if d <= 0 {
			return errors.New("probe timeout must be positive")
		}
		cfg.probeTimeout = d
		return nil
	}
}

// WithPause sets the sleep between two consecutive probes of a cycle.
// Defaults to 2 seconds; zero disables the pause.
//
// Returns an error if the duration is negative.
func WithPause(d time.Duration) Option {
	return func(cfg *pkConfig) error {
		if d < 0 {
			return errors.New("pause cannot be negative")
		}
		cfg.pause = d
		return nil
	}
}

// WithSnapshot persists the status store between restarts. driver is
// "file" (a JSON document at path) or "sqlite" (a database at path).
//
// Returns an error for an unknown driver or an empty path.
func WithSnapshot(driver, path string) Option {
	return func(cfg *pkConfig) error {
		if driver == "" {
			driver = snapshot.DriverFile
		}
		if driver != snapshot.DriverFile && driver != snapshot.DriverSQLite {
			return fmt.Errorf("unknown snapshot driver %q", driver)
		}
		if path == "" {
			return errors.New("snapshot path cannot be empty")
		}
		cfg.snapshotDriver = driver
		cfg.snapshotPath = path
		return nil
	}
}

// WithPort sets the HTTP port for the dashboard server.
// Defaults to 10000 if not specified.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *pkConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithShutdownTimeout bounds how long [PingKeeper.Start] waits for a running
// cycle after its context is cancelled. A cycle still running after the
// timeout is interrupted. Defaults to 10 seconds.
func WithShutdownTimeout(d time.Duration) Option {
	return func(cfg *pkConfig) error {
		if d <= 0 {
			return errors.New("shutdown timeout must be positive")
		}
		cfg.shutdownTimeout = d
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the PingKeeper instance.
//
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *pkConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithStatusCallback registers a function to be called after every probe.
//
// Multiple callbacks may be registered by calling WithStatusCallback multiple
// times; they execute in registration order.
//
// IMPORTANT: Callbacks must be non-blocking. They run on the cycle's
// goroutine, so a slow callback delays the next probe.
//
// Panics within callbacks are recovered and logged; they do not abort the
// cycle.
//
// Example:
//
//	pk, err := pingkeeper.New(
//	    pingkeeper.WithCustomersURL(docURL),
//	    pingkeeper.WithStatusCallback(func(r pingkeeper.StatusResult) {
//	        if r.Status == pingkeeper.StatusDown {
//	            log.Printf("ALERT: %s is down: %s", r.URL, r.Error)
//	        }
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithStatusCallback(cb func(StatusResult)) Option {
	return func(cfg *pkConfig) error {
		if cb == nil {
			return nil
		}
		cfg.statusCallbacks = append(cfg.statusCallbacks, cb)
		return nil
	}
}

// WithTitle sets the dashboard title displayed in the browser tab and header.
//
// If not specified, defaults to "PingKeeper".
func WithTitle(title string) Option {
	return func(cfg *pkConfig) error {
		cfg.title = title
		return nil
	}
}
