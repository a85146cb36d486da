// Package dashboard provides the embedded web UI templates for PingKeeper.
//
// This package uses Go's embed directive to include the dashboard HTML
// templates at compile time. This enables single-binary deployment
// without external asset files.
//
// The templates are rendered by the server package with html/template.
// Each page polls "/status" from the browser and colours bot rows by the
// recorded status of their URL.
package dashboard

import "embed"

// Templates is an embedded filesystem containing the dashboard pages.
//
// The filesystem structure is:
//
//	templates/
//	  index.html      - Landing page showing the admin customer's bots
//	  dashboard.html  - Admin and per-customer dashboards
//	  not_found.html  - Unknown customer page
//
//go:embed templates/*
var Templates embed.FS
