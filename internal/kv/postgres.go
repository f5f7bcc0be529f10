package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marginalia/api/internal/annotation"
)

// PostgresStore keeps comment lists in the comment_lists table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]annotation.Comment, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT records FROM comment_lists WHERE document_key = $1`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	records, err := decodeRecords(raw)
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return records, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, records []annotation.Comment) error {
	data, err := encodeRecords(records)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO comment_lists (document_key, records, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (document_key)
		DO UPDATE SET records = EXCLUDED.records, updated_at = NOW()
	`, key, string(data))
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
