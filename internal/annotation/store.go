package annotation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"marginalia/api/internal/palette"
)

// CommentStore is the ordered comment list of one document. Every mutation
// is written through to the backend before it returns. When the write fails
// the in-memory list stays authoritative and the error wraps ErrPersist.
type CommentStore struct {
	documentID string
	backend    KeyedStore
	palette    palette.Palette
	now        func() time.Time
	records    []Comment
}

func NewCommentStore(documentID string, backend KeyedStore, p palette.Palette) *CommentStore {
	if len(p) == 0 {
		p = palette.Default
	}
	return &CommentStore{
		documentID: documentID,
		backend:    backend,
		palette:    p,
		now:        time.Now,
	}
}

func (s *CommentStore) DocumentID() string {
	return s.documentID
}

// Load replaces the in-memory list with the backend's. An absent key loads
// an empty list.
func (s *CommentStore) Load(ctx context.Context) error {
	records, ok, err := s.backend.Get(ctx, StoreKey(s.documentID))
	if err != nil {
		return fmt.Errorf("load comments for %s: %w", s.documentID, err)
	}
	if !ok {
		records = nil
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Number < records[j].Number
	})
	s.records = records
	return nil
}

// Save writes the current list to the backend.
func (s *CommentStore) Save(ctx context.Context) error {
	records := append([]Comment{}, s.records...)
	if err := s.backend.Set(ctx, StoreKey(s.documentID), records); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

func (s *CommentStore) index(id string) int {
	for i, c := range s.records {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// Create appends a record.
func (s *CommentStore) Create(ctx context.Context, c Comment) error {
	if s.index(c.ID) >= 0 {
		return fmt.Errorf("create comment %s: duplicate id", c.ID)
	}
	s.records = append(s.records, c)
	return s.Save(ctx)
}

// UpdateText replaces the body of a record. Numbering is untouched.
func (s *CommentStore) UpdateText(ctx context.Context, id, text string) (Comment, error) {
	i := s.index(id)
	if i < 0 {
		return Comment{}, ErrCommentNotFound
	}
	s.records[i].Text = text
	s.records[i].UpdatedAt = s.now().UTC()
	c := s.records[i]
	return c, s.Save(ctx)
}

// Remove deletes a record without renumbering the rest.
func (s *CommentStore) Remove(ctx context.Context, id string) error {
	i := s.index(id)
	if i < 0 {
		return ErrCommentNotFound
	}
	s.records = append(s.records[:i], s.records[i+1:]...)
	return s.Save(ctx)
}

// Renumber assigns number = position + 1 and the matching palette color to
// each listed id, in the given order. Records not listed are dropped. It
// returns the ids whose number or color changed.
func (s *CommentStore) Renumber(ctx context.Context, ids []string) ([]string, error) {
	byID := make(map[string]Comment, len(s.records))
	for _, c := range s.records {
		byID[c.ID] = c
	}
	next := make([]Comment, 0, len(ids))
	var changed []string
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			continue
		}
		delete(byID, id)
		number := len(next) + 1
		color := s.palette.Color(number)
		if c.Number != number || c.Color != color {
			c.Number = number
			c.Color = color
			changed = append(changed, id)
		}
		next = append(next, c)
	}
	dropped := len(next) != len(s.records)
	s.records = next
	if len(changed) == 0 && !dropped {
		return nil, nil
	}
	return changed, s.Save(ctx)
}

// Records returns a copy of the list ordered by number.
func (s *CommentStore) Records() []Comment {
	return append([]Comment{}, s.records...)
}

// IDs returns the record ids ordered by number.
func (s *CommentStore) IDs() []string {
	ids := make([]string, 0, len(s.records))
	for _, c := range s.records {
		ids = append(ids, c.ID)
	}
	return ids
}

func (s *CommentStore) Get(id string) (Comment, bool) {
	i := s.index(id)
	if i < 0 {
		return Comment{}, false
	}
	return s.records[i], true
}

// Dense reports whether numbers run 1..N in list order with matching colors.
func (s *CommentStore) Dense() bool {
	for i, c := range s.records {
		if c.Number != i+1 || c.Color != s.palette.Color(i+1) {
			return false
		}
	}
	return true
}

func (s *CommentStore) Len() int {
	return len(s.records)
}
