package content

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[int64]*Item
	next  int64
}

func NewMemoryStore(items ...Item) *MemoryStore {
	m := &MemoryStore{items: make(map[int64]*Item)}
	for _, it := range items {
		_, _ = m.UpsertItem(context.Background(), it)
	}
	return m
}

func (m *MemoryStore) GetItem(_ context.Context, id int64) (*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (m *MemoryStore) GetItems(_ context.Context, ids []int64) (map[int64]*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]*Item, len(ids))
	for _, id := range ids {
		if it, ok := m.items[id]; ok {
			cp := *it
			out[id] = &cp
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateBody(_ context.Context, id int64, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	it.Body = body
	it.UpdatedAt = time.Now().UTC()
	return nil
}

// UpsertItem assigns the next id when item.ID is zero.
func (m *MemoryStore) UpsertItem(_ context.Context, item Item) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID <= 0 {
		m.next++
		item.ID = m.next
	} else if item.ID > m.next {
		m.next = item.ID
	}
	item.UpdatedAt = time.Now().UTC()
	cp := item
	m.items[item.ID] = &cp
	out := item
	return &out, nil
}

// Delete removes an item; used to simulate content disappearing mid-batch.
func (m *MemoryStore) Delete(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
}
