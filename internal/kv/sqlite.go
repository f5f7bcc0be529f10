package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"marginalia/api/internal/annotation"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// SQLiteStore keeps comment lists in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path in WAL mode.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("sqlite: create data dir: %w", err)
	}
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: pragma %q: %w", p, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS comment_lists (
			document_key TEXT PRIMARY KEY,
			records      TEXT NOT NULL,
			updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migration: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]annotation.Comment, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT records FROM comment_lists WHERE document_key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	records, err := decodeRecords([]byte(raw))
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return records, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, records []annotation.Comment) error {
	data, err := encodeRecords(records)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO comment_lists (document_key, records, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(document_key)
		DO UPDATE SET records = excluded.records, updated_at = excluded.updated_at
	`, key, string(data))
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
