package annotation

import (
	"context"
	"sync"
)

// KeyedStore persists comment lists. Writes are last-write-wins.
type KeyedStore interface {
	Get(ctx context.Context, key string) ([]Comment, bool, error)
	Set(ctx context.Context, key string, records []Comment) error
}

// StoreKey is the keyed-store key holding a document's comments.
func StoreKey(documentID string) string {
	return "comments:" + documentID
}

// MemoryStore is an in-process KeyedStore.
type MemoryStore struct {
	mu    sync.RWMutex
	lists map[string][]Comment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lists: make(map[string][]Comment)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]Comment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records, ok := m.lists[key]
	if !ok {
		return nil, false, nil
	}
	return append([]Comment(nil), records...), true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, records []Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append([]Comment{}, records...)
	return nil
}
