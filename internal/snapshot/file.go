package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jpalmerr/pingkeeper/internal/store"
)

// File keeps the snapshot in a JSON file of the form {"<url>": record}.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile creates the parent directory of path and returns the backend.
// The file itself is created on the first Save.
func NewFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure snapshot directory: %w", err)
	}
	return &File{path: path}, nil
}

// Load reads the snapshot file. A missing or empty file is an empty map.
func (f *File) Load(_ context.Context) (map[string]store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]store.Record{}, nil
		}
		return map[string]store.Record{}, fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) == 0 {
		return map[string]store.Record{}, nil
	}

	var records map[string]store.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return map[string]store.Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if records == nil {
		records = map[string]store.Record{}
	}
	return records, nil
}

// Save writes records to a temporary file and renames it over the snapshot.
func (f *File) Save(_ context.Context, records map[string]store.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", f.path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace snapshot file: %w", err)
	}
	return nil
}

// Close is a no-op for the file backend.
func (f *File) Close() error { return nil }
