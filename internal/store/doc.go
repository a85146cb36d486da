// Package store holds the last-known status of every monitored URL.
//
// This package is internal to PingKeeper. It keeps one [Record] per distinct
// URL (deduplicated across customers) and publishes every change to
// subscribers so the dashboard can stream live updates.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [Record]: The status record of a single URL
//
// Subscribers receive updates via channels with non-blocking sends (slow
// subscribers will miss updates rather than block a ping cycle).
package store
