// Package snapshot persists the status store between process restarts.
//
// Persistence is best effort: a snapshot is read at the start of every ping
// cycle and written at its end. Two backends exist, a flat JSON file and a
// SQLite database. A missing snapshot is an empty map.
package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/jpalmerr/pingkeeper/internal/store"
)

const (
	// DriverFile stores the snapshot as a single JSON object.
	DriverFile = "file"

	// DriverSQLite stores the snapshot in a SQLite table.
	DriverSQLite = "sqlite"
)

// ErrCorrupt is returned with an empty map when a snapshot cannot be decoded.
var ErrCorrupt = errors.New("snapshot is corrupt")

// Backend loads and saves a full status map.
type Backend interface {
	// Load returns the persisted records. On ErrCorrupt the returned map is
	// empty but non-nil, so callers can log and carry on.
	Load(ctx context.Context) (map[string]store.Record, error)

	// Save persists records, overwriting any entry stored under the same URL.
	Save(ctx context.Context, records map[string]store.Record) error

	// Close releases any resources held by the backend.
	Close() error
}

// Open returns the backend for driver rooted at path.
func Open(ctx context.Context, driver, path string) (Backend, error) {
	if path == "" {
		return nil, errors.New("snapshot path is required")
	}

	switch driver {
	case "", DriverFile:
		return NewFile(path)
	case DriverSQLite:
		return NewSQLite(ctx, path)
	default:
		return nil, fmt.Errorf("unknown snapshot driver %q", driver)
	}
}
