package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jpalmerr/pingkeeper/internal/metrics"
	"github.com/jpalmerr/pingkeeper/internal/registry"
)

const (
	// DefaultCycleInterval is how often a ping cycle is fired.
	DefaultCycleInterval = 5 * time.Minute

	// DefaultRefreshInterval is how often the customer document is re-read.
	DefaultRefreshInterval = 15 * time.Second
)

// Cycler runs ping cycles.
type Cycler interface {
	RunCycle(ctx context.Context) bool
}

// Refresher reloads the customer registry.
type Refresher interface {
	HasSource() bool
	Refresh(ctx context.Context) (registry.Data, error)
}

// SchedulerConfig holds the intervals and collaborators of a [Scheduler].
type SchedulerConfig struct {
	CycleInterval   time.Duration
	RefreshInterval time.Duration
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
}

// Scheduler fires ping cycles and registry refreshes on a cron runner,
// independently of HTTP traffic.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Scheduler struct {
	cycler    Cycler
	refresher Refresher
	cycleInt  time.Duration
	refresh   time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cron      *cron.Cron
	cronLog   cron.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	done    <-chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a new [Scheduler]. It must be started with
// [Scheduler.Start] and stopped with [Scheduler.Stop].
func NewScheduler(c Cycler, r Refresher, cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = DefaultCycleInterval
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}

	// cron only reports errors (including recovered panics) through this logger
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))

	return &Scheduler{
		cycler:    c,
		refresher: r,
		cycleInt:  cfg.CycleInterval,
		refresh:   cfg.RefreshInterval,
		metrics:   cfg.Metrics,
		logger:    logger,
		cronLog:   cronLogger,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger)),
		),
	}
}

// Start registers the periodic jobs and starts the cron runner.
//
// Before returning, Start refreshes the registry once so the first cycle
// sees the remote customers. The first cycle itself is launched on a
// background goroutine. Jobs run with ctx; pass a context that is not
// cancelled by the shutdown signal if in-flight cycles should be allowed
// to finish during [Scheduler.Stop].
//
// Start is idempotent. If Stop was called before Start, Start is a no-op.
// A Stop issued during the initial refresh does not wait for the lock; it
// waits for the refresh like any other job and no periodic job is started.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	// counted like a job so Stop waits for the initial refresh
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	withSource := s.refresher != nil && s.refresher.HasSource()
	if withSource {
		s.refreshOnce(ctx)
	}

	// held until the cron runner is running so a concurrent Stop cannot
	// slip in between
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if withSource {
		// a slow fetch must not overlap the next firing
		refresh := cron.NewChain(cron.SkipIfStillRunning(s.cronLog)).Then(cron.FuncJob(func() {
			s.refreshOnce(ctx)
		}))
		s.cron.Schedule(cron.Every(s.refresh), refresh)
	}
	s.cron.Schedule(cron.Every(s.cycleInt), cron.FuncJob(func() {
		s.cycler.RunCycle(ctx)
	}))
	s.cron.Start()

	s.logger.Info("scheduler started",
		"cycle_interval", s.cycleInt.String(),
		"refresh_interval", s.refreshIntervalLabel(),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.cycler.RunCycle(ctx)
	}()
}

// Stop halts the cron runner so no further jobs fire, then waits for
// running jobs and the initial cycle until ctx is done.
//
// Stop is safe to call before Start and may be called again after a timeout
// to keep waiting for the same jobs.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		s.done = s.halt()
	}
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out, jobs still running")
		return ctx.Err()
	}
}

// halt stops the cron runner and returns a channel closed once every job
// has returned. Must be called with mu held.
func (s *Scheduler) halt() <-chan struct{} {
	done := make(chan struct{})
	if !s.started {
		close(done)
		return done
	}

	jobsDone := s.cron.Stop()
	go func() {
		<-jobsDone.Done()
		s.wg.Wait()
		s.logger.Info("scheduler stopped")
		close(done)
	}()
	return done
}

func (s *Scheduler) refreshOnce(ctx context.Context) {
	_, err := s.refresher.Refresh(ctx)
	switch {
	case err == nil:
		s.metrics.RefreshResult(metrics.RefreshSucceeded)
	case errors.Is(err, context.Canceled):
		// shutting down
	default:
		// the registry already logged the failure
		s.metrics.RefreshResult(metrics.RefreshFailed)
	}
}

func (s *Scheduler) refreshIntervalLabel() string {
	if s.refresher == nil || !s.refresher.HasSource() {
		return "disabled"
	}
	return s.refresh.String()
}
