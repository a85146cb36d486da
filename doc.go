// Package pingkeeper keeps free-tier web services awake by pinging them on a
// schedule, and shows their status on a small dashboard.
//
// Monitored URLs ("bots") are grouped by customer. The customer registry is
// seeded from static configuration and, optionally, refreshed from a remote
// JSON document of the shape:
//
//	{"acme": {"alpha": "https://alpha.onrender.com"}}
//
// Every ping cycle probes each distinct URL once, strictly one after the
// other, and records a status per URL: waiting, live, down or recovered.
// Cycles never overlap: a cycle requested while another one runs is skipped.
//
// # Quick Start
//
//	pk, err := pingkeeper.New(
//	    pingkeeper.WithCustomersURL("https://example.com/customers.json"),
//	    pingkeeper.WithSelfURL(os.Getenv("RENDER_EXTERNAL_URL")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	pk.Start(ctx) // blocks until ctx is cancelled
//
// # HTTP Surface
//
//   - "/" lists the "admin" customer's bots as a live demo
//   - "/admin" lists every customer's bots
//   - "/{customer}" lists one customer's bots
//   - "/status" returns every status record as JSON
//   - "/trigger_ping?key=..." starts a cycle on demand (only with [WithTriggerKey])
//   - "/api/sse", "/metrics" and "/healthz" serve live updates, Prometheus
//     metrics and a liveness probe
//
// # Architecture
//
// PingKeeper consists of several internal packages (under internal/):
//
//   - internal/registry: Customer registry and remote document refresh
//   - internal/store: In-memory status store with pub/sub
//   - internal/snapshot: Optional JSON file or SQLite persistence of the store
//   - internal/poller: Ping cycle engine and cron scheduler
//   - internal/metrics: Prometheus instrumentation
//   - internal/server: HTTP server with dashboards, JSON API and Server-Sent Events
//   - dashboard: Embedded HTML templates
//
// The internal packages are not part of the public API and may change
// without notice.
package pingkeeper
