package audit

import (
	"context"
	"maps"
	"sync"
)

// MemoryStorage keeps entries in a slice in append order.
type MemoryStorage struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Append(ctx context.Context, next func(prevHash string) Entry) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := ""
	if n := len(m.entries); n > 0 {
		prev = m.entries[n-1].Hash
	}
	e := cloneEntry(next(prev))
	m.entries = append(m.entries, e)
	return cloneEntry(e), nil
}

func (m *MemoryStorage) Get(ctx context.Context, id string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.entries {
		if e.ID == id {
			return cloneEntry(e), nil
		}
	}
	return Entry{}, ErrEntryNotFound
}

func (m *MemoryStorage) Find(ctx context.Context, c Criteria) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for _, e := range m.entries {
		if !c.Matches(e) {
			continue
		}
		out = append(out, cloneEntry(e))
		if c.Limit > 0 && len(out) == c.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStorage) Update(ctx context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, e := range m.entries {
		if e.ID == entry.ID {
			m.entries[i] = cloneEntry(entry)
			return nil
		}
	}
	return ErrEntryNotFound
}

func (m *MemoryStorage) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, e := range m.entries {
		if e.ID == id {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return nil
		}
	}
	return ErrEntryNotFound
}

// Len returns the number of stored entries.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func cloneEntry(e Entry) Entry {
	if e.Context != nil {
		e.Context = maps.Clone(e.Context)
	}
	return e
}
