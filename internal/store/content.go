package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Content is the serialized form of one document.
type Content struct {
	DocumentID string
	HTML       string
	PlainText  string
	UpdatedAt  time.Time
}

// ContentStore loads and saves document content.
type ContentStore interface {
	LoadContent(ctx context.Context, documentID string) (Content, bool, error)
	SaveContent(ctx context.Context, c Content) error
	ListContents(ctx context.Context) ([]Content, error)
}

type PostgresContentStore struct {
	db *sql.DB
}

func NewPostgresContentStore(db *sql.DB) *PostgresContentStore {
	return &PostgresContentStore{db: db}
}

func (s *PostgresContentStore) LoadContent(ctx context.Context, documentID string) (Content, bool, error) {
	c := Content{DocumentID: documentID}
	err := s.db.QueryRowContext(ctx, `
		SELECT html, plain_text, updated_at
		FROM document_contents
		WHERE document_id = $1
	`, documentID).Scan(&c.HTML, &c.PlainText, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Content{}, false, nil
	}
	if err != nil {
		return Content{}, false, fmt.Errorf("load content %s: %w", documentID, err)
	}
	return c, true, nil
}

func (s *PostgresContentStore) SaveContent(ctx context.Context, c Content) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_contents (document_id, html, plain_text, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (document_id)
		DO UPDATE SET html = EXCLUDED.html, plain_text = EXCLUDED.plain_text, updated_at = NOW()
	`, c.DocumentID, c.HTML, c.PlainText)
	if err != nil {
		return fmt.Errorf("save content %s: %w", c.DocumentID, err)
	}
	return nil
}

func (s *PostgresContentStore) ListContents(ctx context.Context) ([]Content, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, html, plain_text, updated_at
		FROM document_contents
		ORDER BY document_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list contents: %w", err)
	}
	defer rows.Close()

	contents := make([]Content, 0)
	for rows.Next() {
		var c Content
		if err := rows.Scan(&c.DocumentID, &c.HTML, &c.PlainText, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		contents = append(contents, c)
	}
	return contents, rows.Err()
}

// MemoryContentStore keeps content in process. Used when no database is
// configured and in tests.
type MemoryContentStore struct {
	mu       sync.RWMutex
	contents map[string]Content
}

func NewMemoryContentStore() *MemoryContentStore {
	return &MemoryContentStore{contents: make(map[string]Content)}
}

func (s *MemoryContentStore) LoadContent(_ context.Context, documentID string) (Content, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contents[documentID]
	return c, ok, nil
}

func (s *MemoryContentStore) SaveContent(_ context.Context, c Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.UpdatedAt = time.Now().UTC()
	s.contents[c.DocumentID] = c
	return nil
}

func (s *MemoryContentStore) ListContents(_ context.Context) ([]Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	contents := make([]Content, 0, len(s.contents))
	for _, c := range s.contents {
		contents = append(contents, c)
	}
	sort.Slice(contents, func(i, j int) bool {
		return contents[i].DocumentID < contents[j].DocumentID
	})
	return contents, nil
}
