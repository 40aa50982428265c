package cache

import (
	"context"
	"sync"
	"time"
)

// MemCache keeps entries in a map. It is meant for tests and single-instance deployments.
type MemCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	closed  bool
	now     func() time.Time
}

func NewMemCache(opts ...Option) *MemCache {
	return &MemCache{
		entries: make(map[string]Entry),
		now:     newOptions(opts).now,
	}
}

func (m *MemCache) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Entry{}, false, ErrClosed
	}
	entry, ok := m.entries[key]
	if !ok || entry.expired(m.now()) {
		return Entry{}, false, nil
	}
	entry.Bytes = append([]byte(nil), entry.Bytes...)
	return entry, true, nil
}

func (m *MemCache) Put(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	entry.Bytes = append([]byte(nil), entry.Bytes...)
	m.entries[entry.Key] = entry
	return nil
}

// Sweep deletes expired entries and returns how many were removed.
func (m *MemCache) Sweep(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var n int64
	for key, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired ones included.
func (m *MemCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries = nil
	return nil
}
