// Package metrics exposes Prometheus instrumentation for ping cycles,
// probes and customer registry refreshes.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pingkeeper"

// Refresh outcomes recorded by [Metrics.RefreshResult].
const (
	RefreshSucceeded = "succeeded"
	RefreshUpdated   = "updated"
	RefreshFailed    = "failed"
)

// Metrics owns a private registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	probes        *prometheus.CounterVec
	probeLatency  prometheus.Histogram
	refreshes     *prometheus.CounterVec
	monitoredURLs prometheus.Gauge
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Ping cycles by result (completed or skipped).",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of completed ping cycles.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Probes by resulting status.",
		}, []string{"status"}),
		probeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Latency of individual probes.",
			Buckets:   prometheus.DefBuckets,
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_refreshes_total",
			Help:      "Customer registry refreshes by result.",
		}, []string{"result"}),
		monitoredURLs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitored_urls",
			Help:      "Distinct URLs probed in the last cycle.",
		}),
	}

	m.registry.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.probes,
		m.probeLatency,
		m.refreshes,
		m.monitoredURLs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CycleCompleted records a finished cycle over urls URLs.
func (m *Metrics) CycleCompleted(urls int, took time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues("completed").Inc()
	m.cycleDuration.Observe(took.Seconds())
	m.monitoredURLs.Set(float64(urls))
}

// CycleSkipped records a cycle that found another one in progress.
func (m *Metrics) CycleSkipped() {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues("skipped").Inc()
}

// Probe records a single probe outcome.
func (m *Metrics) Probe(status string, took time.Duration) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(status).Inc()
	m.probeLatency.Observe(took.Seconds())
}

// RefreshResult records a registry refresh outcome.
func (m *Metrics) RefreshResult(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}
