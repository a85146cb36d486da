// Package server provides the HTTP surface of PingKeeper.
//
// This package is internal to PingKeeper and handles all HTTP concerns:
//
//   - Dashboards: landing page (admin demo), /admin and per-customer pages
//   - REST API: "/status" snapshot and "/api/customers/{customer}"
//   - Server-Sent Events: live status updates at "/api/sse"
//   - Operations: secret-gated "/trigger_ping", "/metrics" and "/healthz"
//
// The server only reads the status store; ping cycles triggered over HTTP
// run detached from the request. It supports graceful shutdown via context
// cancellation, with a 5-second timeout for in-flight requests.
package server
