package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/jpalmerr/pingkeeper/internal/store"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS statuses (
	url        TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	code       INTEGER,
	error      TEXT,
	checked_at TEXT NOT NULL DEFAULT ''
);`

// SQLite keeps the snapshot in a single table keyed by URL.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and applies the schema.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure snapshot directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// a single connection serializes writers and keeps the pragma in effect
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Load reads every stored record.
func (s *SQLite) Load(ctx context.Context) (map[string]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url, status, code, error, checked_at FROM statuses`)
	if err != nil {
		return map[string]store.Record{}, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	records := make(map[string]store.Record)
	for rows.Next() {
		var (
			url, status, checkedAt string
			code                   sql.NullInt64
			errMsg                 sql.NullString
		)
		if err := rows.Scan(&url, &status, &code, &errMsg, &checkedAt); err != nil {
			return map[string]store.Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		rec := store.Record{Status: store.Status(status), Timestamp: checkedAt}
		if code.Valid {
			c := int(code.Int64)
			rec.Code = &c
		}
		if errMsg.Valid {
			msg := errMsg.String
			rec.Error = &msg
		}
		records[url] = rec
	}
	if err := rows.Err(); err != nil {
		return map[string]store.Record{}, fmt.Errorf("read snapshot rows: %w", err)
	}
	return records, nil
}

// Save upserts every record in a single transaction.
func (s *SQLite) Save(ctx context.Context, records map[string]store.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO statuses (url, status, code, error, checked_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(url) DO UPDATE SET
	status = excluded.status,
	code = excluded.code,
	error = excluded.error,
	checked_at = excluded.checked_at`)
	if err != nil {
		return fmt.Errorf("prepare snapshot upsert: %w", err)
	}
	defer stmt.Close()

	for url, rec := range records {
		var code sql.NullInt64
		if rec.Code != nil {
			code = sql.NullInt64{Int64: int64(*rec.Code), Valid: true}
		}
		var errMsg sql.NullString
		if rec.Error != nil {
			errMsg = sql.NullString{String: *rec.Error, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, url, string(rec.Status), code, errMsg, rec.Timestamp); err != nil {
			return fmt.Errorf("upsert %s: %w", url, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error { return s.db.Close() }
