package pingkeeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jpalmerr/pingkeeper/dashboard"
	"github.com/jpalmerr/pingkeeper/internal/metrics"
	"github.com/jpalmerr/pingkeeper/internal/poller"
	"github.com/jpalmerr/pingkeeper/internal/registry"
	"github.com/jpalmerr/pingkeeper/internal/server"
	"github.com/jpalmerr/pingkeeper/internal/snapshot"
	"github.com/jpalmerr/pingkeeper/internal/store"
)

const (
	defaultPort            = 10000
	defaultShutdownTimeout = 10 * time.Second

	// drainTimeout bounds the wait for an interrupted cycle to save its
	// snapshot and return.
	drainTimeout = 15 * time.Second
)

// ErrCycleRunning is returned by [PingKeeper.RunOnce] when another cycle
// holds the single-flight guard.
var ErrCycleRunning = errors.New("ping cycle already running")

// PingKeeper is the main orchestrator for the customer registry, the ping
// cycle engine, the scheduler and the dashboard server.
//
// PingKeeper is created using [New] with functional options and started
// with [PingKeeper.Start]. The registry, status store and metrics live as
// long as the PingKeeper; everything else is built when it starts.
//
// The typical lifecycle is:
//
//	pk, err := pingkeeper.New(pingkeeper.WithCustomersURL(docURL))
//	if err != nil {
//	    slog.Error("failed to create pingkeeper", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	pk.Start(ctx) // blocks until context cancelled
type PingKeeper struct {
	title           string
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

	registry *registry.Registry
	store    *store.MemoryStore
	metrics  *metrics.Metrics

	mu       sync.Mutex
	engine   *poller.Engine
	snapshot snapshot.Backend
}

// New creates a new [PingKeeper] instance with the given options.
//
// Something must be monitored: configure static customers via
// [WithCustomers], a remote document via [WithCustomersURL], or at least
// the service's own URL via [WithSelfURL]. Other options have sensible
// defaults:
//   - Ping interval: 5 minutes
//   - Customers refresh interval: 15 seconds
//   - Probe timeout: 30 seconds, with a 2 second pause between probes
//   - Port: 10000
//
// Every URL known at construction starts out as waiting.
func New(opts ...Option) (*PingKeeper, error) {
	cfg := &pkConfig{
		pingInterval:    poller.DefaultCycleInterval,
		refreshInterval: poller.DefaultRefreshInterval,
		probeTimeout:    poller.DefaultProbeTimeout,
		pause:           poller.DefaultPause,
		port:            defaultPort,
		shutdownTimeout: defaultShutdownTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.customers) == 0 && cfg.customersURL == "" && cfg.selfURL == "" {
		return nil, errors.New("nothing to monitor: configure customers, a customers url or a self url")
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	regOpts := []registry.Option{registry.WithLogger(logger)}
	if cfg.customersURL != "" {
		regOpts = append(regOpts, registry.WithSource(cfg.customersURL))
	}

	pk := &PingKeeper{
		title:           cfg.title,
		selfURL:         cfg.selfURL,
		triggerKey:      cfg.triggerKey,
		pingInterval:    cfg.pingInterval,
		refreshInterval: cfg.refreshInterval,
		probeTimeout:    cfg.probeTimeout,
		pause:           cfg.pause,
		snapshotDriver:  cfg.snapshotDriver,
		snapshotPath:    cfg.snapshotPath,
		port:            cfg.port,
		shutdownTimeout: cfg.shutdownTimeout,
		logger:          logger,
		statusCallbacks: cfg.statusCallbacks,
		registry:        registry.New(cfg.customers, regOpts...),
		store:           store.NewMemoryStore(),
		metrics:         metrics.New(),
	}

	pk.store.EnsureWaiting(pk.registry.AllURLs())
	pk.registry.OnChange(pk.customersChanged)
	return pk, nil
}

// Start begins the scheduled ping cycles and serves the dashboard.
//
// Start is a blocking call that runs until the provided context is cancelled.
// During execution:
//
//   - The customers document is fetched once before anything else
//   - The first ping cycle starts immediately, then one runs every ping interval
//   - The customers document is re-read every refresh interval
//   - The dashboard is available at http://localhost:<port>
//
// On cancellation Start stops scheduling and waits up to the shutdown
// timeout for a running cycle, then interrupts it.
//
// Returns nil on graceful shutdown. Returns an error if the snapshot cannot
// be opened or the HTTP server fails to start.
func (pk *PingKeeper) Start(ctx context.Context) error {
	pk.logger.Info("pingkeeper starting",
		"customer_count", len(pk.registry.Customers()),
		"bot_count", len(pk.registry.AllURLs()),
		"remote_customers", pk.registry.HasSource(),
	)
	pk.logger.Info("ping cycles configured", "interval", pk.pingInterval.String())
	pk.logger.Info("dashboard available", "url", fmt.Sprintf("http://localhost:%d", pk.port))

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	engine, err := pk.prepare(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := pk.Close(); err != nil {
			pk.logger.Warn("failed to close status snapshot", "error", err)
		}
	}()

	// cycles outlive the shutdown signal until the shutdown timeout
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	httpServer, err := server.NewServer(server.Options{
		Store:      pk.store,
		Customers:  pk.registry,
		Trigger:    engine,
		TriggerKey: pk.triggerKey,
		JobContext: jobCtx,
		Templates:  dashboard.Templates,
		Metrics:    pk.metrics.Handler(),
		Title:      pk.title,
		Port:       pk.port,
		Logger:     pk.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	if err := httpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	scheduler := poller.NewScheduler(engine, pk.registry, poller.SchedulerConfig{
		CycleInterval:   pk.pingInterval,
		RefreshInterval: pk.refreshInterval,
		Metrics:         pk.metrics,
		Logger:          pk.logger,
	})
	scheduler.Start(jobCtx)

	<-ctx.Done()
	pk.shutdown(scheduler, engine, cancelJobs)
	pk.logger.Info("pingkeeper stopped")
	return nil
}

// shutdown waits for scheduled and detached cycles, interrupting them once
// the shutdown timeout passes.
func (pk *PingKeeper) shutdown(s *poller.Scheduler, e *poller.Engine, cancelJobs context.CancelFunc) {
	graceCtx, cancel := context.WithTimeout(context.Background(), pk.shutdownTimeout)
	defer cancel()
	if err := errors.Join(s.Stop(graceCtx), e.Wait(graceCtx)); err == nil {
		return
	}

	pk.logger.Warn("ping cycle still running at shutdown, interrupting",
		"timeout", pk.shutdownTimeout.String(),
	)
	cancelJobs()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	defer cancelDrain()
	if err := errors.Join(s.Stop(drainCtx), e.Wait(drainCtx)); err != nil {
		pk.logger.Error("ping cycle did not stop", "error", err)
	}
}

// RunOnce runs a single ping cycle on the calling goroutine and returns the
// resulting statuses, without starting the scheduler or the HTTP server.
// When a customers URL is configured the registry is refreshed first; a
// failed refresh is logged and the cycle runs on the static customers.
//
// Returns [ErrCycleRunning] if a cycle started by [PingKeeper.Start] is in
// progress.
func (pk *PingKeeper) RunOnce(ctx context.Context) (map[string]StatusResult, error) {
	engine, err := pk.prepare(ctx)
	if err != nil {
		return nil, err
	}

	if pk.registry.HasSource() {
		if _, err := pk.registry.Refresh(ctx); err != nil {
			pk.metrics.RefreshResult(metrics.RefreshFailed)
		} else {
			pk.metrics.RefreshResult(metrics.RefreshSucceeded)
		}
	}

	if !engine.RunCycle(ctx) {
		return nil, ErrCycleRunning
	}
	return pk.Statuses(), nil
}

// Close releases the status snapshot and idle probe connections.
// [PingKeeper.Start] closes on return; call Close after [PingKeeper.RunOnce].
func (pk *PingKeeper) Close() error {
	pk.mu.Lock()
	defer pk.mu.Unlock()

	if pk.engine != nil {
		pk.engine.Close()
		pk.engine = nil
	}
	if pk.snapshot == nil {
		return nil
	}
	err := pk.snapshot.Close()
	pk.snapshot = nil
	return err
}

// prepare opens the snapshot and builds the engine on first use.
func (pk *PingKeeper) prepare(ctx context.Context) (*poller.Engine, error) {
	pk.mu.Lock()
	defer pk.mu.Unlock()

	if pk.engine != nil {
		return pk.engine, nil
	}

	var snap snapshot.Backend
	if pk.snapshotPath != "" {
		var err error
		snap, err = snapshot.Open(ctx, pk.snapshotDriver, pk.snapshotPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open status snapshot: %w", err)
		}
		pk.logger.Info("status snapshot enabled", "driver", pk.snapshotDriver, "path", pk.snapshotPath)
	}

	pk.snapshot = snap
	pk.engine = poller.NewEngine(pk.registry, pk.store, poller.EngineConfig{
		SelfURL:      pk.selfURL,
		ProbeTimeout: pk.probeTimeout,
		Pause:        pk.pause,
		Snapshot:     snap,
		Metrics:      pk.metrics,
		OnResult:     pk.notify,
		Logger:       pk.logger,
	})
	return pk.engine, nil
}

// customersChanged seeds waiting records for bots added by a refresh.
func (pk *PingKeeper) customersChanged(data registry.Data) {
	pk.metrics.RefreshResult(metrics.RefreshUpdated)
	if added := pk.store.EnsureWaiting(data.URLs()); added > 0 {
		pk.logger.Info("new bots registered", "bot_count", added)
	}
}

// notify fans a stored probe outcome out to the status callbacks.
func (pk *PingKeeper) notify(url string, rec store.Record) {
	if len(pk.statusCallbacks) == 0 {
		return
	}
	result := toStatusResult(url, rec)
	for _, cb := range pk.statusCallbacks {
		invokeCallbackSafe(cb, result, pk.logger)
	}
}

// Customers returns a copy of the customer registry.
func (pk *PingKeeper) Customers() map[string]map[string]string {
	data := pk.registry.Customers()
	out := make(map[string]map[string]string, len(data))
	for customer, bots := range data {
		out[customer] = bots
	}
	return out
}

// Statuses returns the current status of every known URL.
func (pk *PingKeeper) Statuses() map[string]StatusResult {
	all := pk.store.GetAll()
	out := make(map[string]StatusResult, len(all))
	for url, rec := range all {
		out[url] = toStatusResult(url, rec)
	}
	return out
}

// WriteStatus writes every status record as the JSON document served at
// "/status".
func (pk *PingKeeper) WriteStatus(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"statuses": pk.store.GetAll()})
}

// Port returns the configured HTTP port for the dashboard server.
func (pk *PingKeeper) Port() int {
	return pk.port
}

// PingInterval returns the configured interval between ping cycles.
func (pk *PingKeeper) PingInterval() time.Duration {
	return pk.pingInterval
}

// RefreshInterval returns the configured interval between customers
// document refreshes.
func (pk *PingKeeper) RefreshInterval() time.Duration {
	return pk.refreshInterval
}

// invokeCallbackSafe calls a status callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(StatusResult), result StatusResult, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("status callback panicked",
				"panic", r,
				"url", result.URL,
			)
		}
	}()
	cb(result)
}
