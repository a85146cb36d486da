// Package poller runs PingKeeper's ping cycles.
//
// This package is internal to PingKeeper. A ping cycle probes every
// registered URL once, strictly one after another, and folds each outcome
// into the status store through [Next]. Cycles are single-flight: a cycle
// requested while another is running is skipped, never queued.
//
// The main components are:
//
//   - [Client]: HTTP client wrapper issuing single-attempt probes
//   - [Engine]: The ping cycle with its single-flight guard
//   - [Next]: The per-URL status transition function
//   - [Scheduler]: Cron runner firing ping cycles and registry refreshes
package poller
