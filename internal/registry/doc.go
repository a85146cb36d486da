// Package registry keeps the customer → bot → URL mapping that drives each
// ping cycle.
//
// The registry starts from a static table (possibly empty) and, when a
// document URL is configured, is refreshed from a remote JSON document of the
// shape {"customer": {"bot name": "https://bot.example.com"}}. A refresh
// replaces the whole mapping or nothing at all: fetch, decode and validation
// failures keep the previous data.
package registry
