package config

import (
	"github.com/jpalmerr/pingkeeper"
)

// BuildOptions converts a validated configuration into SDK options.
//
// The logger and status callbacks are not part of the file format; callers
// append them.
func BuildOptions(cfg *Config) []pingkeeper.Option {
	opts := []pingkeeper.Option{
		pingkeeper.WithPort(cfg.Port),
		pingkeeper.WithPingInterval(cfg.PingInterval.Duration()),
		pingkeeper.WithProbeTimeout(cfg.ProbeTimeout.Duration()),
		pingkeeper.WithSelfURL(cfg.SelfURL),
		pingkeeper.WithTriggerKey(cfg.TriggerKey),
	}

	if cfg.Pause != nil {
		opts = append(opts, pingkeeper.WithPause(cfg.Pause.Duration()))
	}
	if len(cfg.Customers) > 0 {
		opts = append(opts, pingkeeper.WithCustomers(cfg.Customers))
	}
	if cfg.CustomersURL != "" {
		opts = append(opts,
			pingkeeper.WithCustomersURL(cfg.CustomersURL),
			pingkeeper.WithRefreshInterval(cfg.RefreshInterval.Duration()),
		)
	}
	if cfg.Snapshot.Path != "" {
		opts = append(opts, pingkeeper.WithSnapshot(cfg.Snapshot.Driver, cfg.Snapshot.Path))
	}
	if cfg.Title != "" {
		opts = append(opts, pingkeeper.WithTitle(cfg.Title))
	}
	return opts
}
