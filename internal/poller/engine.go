package poller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/pingkeeper/internal/metrics"
	"github.com/jpalmerr/pingkeeper/internal/snapshot"
	"github.com/jpalmerr/pingkeeper/internal/store"
)

const (
	// DefaultProbeTimeout bounds a single probe.
	DefaultProbeTimeout = 30 * time.Second

	// DefaultPause is the sleep between two consecutive probes.
	DefaultPause = 2 * time.Second

	persistTimeout = 10 * time.Second
)

// URLSource provides the URLs to probe in a cycle.
type URLSource interface {
	AllURLs() []string
}

// EngineConfig holds the optional collaborators and tunables of an [Engine].
type EngineConfig struct {
	// SelfURL is appended to every cycle so the hosting platform sees
	// inbound traffic and does not idle the process. Empty disables it.
	SelfURL string

	// ProbeTimeout bounds each probe. Defaults to 30s.
	ProbeTimeout time.Duration

	// Pause is slept between probes. Zero disables the pause; negative
	// values are treated as zero.
	Pause time.Duration

	// Snapshot, when set, is read at cycle start and written at cycle end.
	Snapshot snapshot.Backend

	// Metrics records cycle and probe outcomes. May be nil.
	Metrics *metrics.Metrics

	// OnResult is invoked after every stored probe outcome. May be nil.
	OnResult func(url string, rec store.Record)

	Logger *slog.Logger
}

// Engine runs ping cycles against a [URLSource] and records outcomes in a
// [store.Store].
//
// Cycles are guarded by a non-blocking single-flight flag: a cycle that
// starts while another is running logs a warning and returns immediately.
type Engine struct {
	source   URLSource
	store    store.Store
	client   *Client
	selfURL  string
	timeout  time.Duration
	pause    time.Duration
	snapshot snapshot.Backend
	metrics  *metrics.Metrics
	onResult func(string, store.Record)
	logger   *slog.Logger
	now      func() time.Time

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewEngine creates a ping cycle [Engine].
func NewEngine(src URLSource, st store.Store, cfg EngineConfig) *Engine {
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	pause := cfg.Pause
	if pause < 0 {
		pause = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		source:   src,
		store:    st,
		client:   NewClient(),
		selfURL:  cfg.SelfURL,
		timeout:  timeout,
		pause:    pause,
		snapshot: cfg.Snapshot,
		metrics:  cfg.Metrics,
		onResult: cfg.OnResult,
		logger:   logger,
		now:      time.Now,
	}
}

// Running reports whether a cycle is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// RunCycle runs one full sweep on the calling goroutine.
//
// Returns false without doing anything if another cycle holds the guard.
func (e *Engine) RunCycle(ctx context.Context) bool {
	if !e.acquire() {
		return false
	}
	defer e.running.Store(false)

	e.sweepSafe(ctx)
	return true
}

// RunCycleAsync acquires the guard on the calling goroutine and runs the
// sweep on a detached one. Returns false if another cycle holds the guard.
//
// ctx must outlive the caller: pass a service-scoped context, not a request
// context. Use [Engine.Wait] to wait for detached cycles.
func (e *Engine) RunCycleAsync(ctx context.Context) bool {
	if !e.acquire() {
		return false
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.running.Store(false)
		e.sweepSafe(ctx)
	}()
	return true
}

// Wait blocks until all detached cycles have finished or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases idle probe connections.
func (e *Engine) Close() {
	e.client.Close()
}

func (e *Engine) acquire() bool {
	if e.running.CompareAndSwap(false, true) {
		return true
	}
	e.logger.Warn("ping cycle already running, skipping")
	e.metrics.CycleSkipped()
	return false
}

// Targets returns the deduplicated URLs the next cycle will probe.
func (e *Engine) Targets() []string {
	urls := e.source.AllURLs()
	if e.selfURL != "" && !slices.Contains(urls, e.selfURL) {
		urls = append(urls, e.selfURL)
	}
	return urls
}

// sweepSafe runs a sweep with panic recovery so a detached cycle can never
// take the process down.
func (e *Engine) sweepSafe(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			e.logger.Error("ping cycle panicked",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	e.sweep(ctx)
}

func (e *Engine) sweep(ctx context.Context) {
	cycleID := uuid.NewString()
	urls := e.Targets()
	start := time.Now()

	logger := e.logger.With("cycle_id", cycleID)
	logger.Info("ping cycle started", "bot_count", len(urls))

	e.restore(ctx, urls, logger)
	e.store.EnsureWaiting(urls)

	var live, down int
	for i, url := range urls {
		if i > 0 && !sleep(ctx, e.pause) {
			break
		}

		prev, _ := e.store.Get(url)
		resp := e.client.Probe(ctx, url, e.timeout)
		if ctx.Err() != nil {
			// shutting down: an aborted probe says nothing about the target
			break
		}

		rec := Next(prev.Status, Outcome{StatusCode: resp.StatusCode, Err: resp.Error}, e.now())
		e.store.Set(url, rec)
		e.metrics.Probe(string(rec.Status), resp.Latency)
		if e.onResult != nil {
			e.onResult(url, rec)
		}

		attrs := []any{"url", url, "status", rec.Status, "latency_ms", resp.Latency.Milliseconds()}
		if rec.Status == store.StatusDown {
			down++
			logger.Warn("probe failed", append(attrs, "error", *rec.Error)...)
		} else {
			live++
			logger.Debug("probe ok", attrs...)
		}
	}

	if ctx.Err() != nil {
		logger.Warn("ping cycle interrupted", "error", ctx.Err())
	}

	e.persist(ctx, logger)

	took := time.Since(start)
	e.metrics.CycleCompleted(len(urls), took)
	logger.Info("ping cycle finished",
		"bot_count", len(urls),
		"live", live,
		"down", down,
		"duration", took.Round(time.Millisecond).String(),
	)
}

// restore adopts snapshot records for URLs the store has no probe result for.
func (e *Engine) restore(ctx context.Context, urls []string, logger *slog.Logger) {
	if e.snapshot == nil {
		return
	}

	records, err := e.snapshot.Load(ctx)
	if err != nil {
		logger.Warn("failed to load status snapshot", "error", err)
	}

	restored := 0
	for _, url := range urls {
		snap, ok := records[url]
		if !ok || !snap.Status.Valid() || snap.Status == store.StatusWaiting {
			continue
		}
		if cur, exists := e.store.Get(url); exists && cur.Status != store.StatusWaiting {
			continue
		}
		e.store.Set(url, snap)
		restored++
	}
	if restored > 0 {
		logger.Info("restored statuses from snapshot", "count", restored)
	}
}

// persist writes the whole store even if the cycle was interrupted.
func (e *Engine) persist(ctx context.Context, logger *slog.Logger) {
	if e.snapshot == nil {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := e.snapshot.Save(saveCtx, e.store.GetAll()); err != nil {
		logger.Error("failed to save status snapshot", "error", err)
	}
}

// sleep pauses for d, returning false if ctx is cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
