package cache

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process Cache backed by a concurrent map.
type Memory struct {
	entries *xsync.Map[string, memoryEntry]
	now     func() time.Time
}

// NewMemory constructs an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		entries: xsync.NewMap[string, memoryEntry](),
		now:     time.Now,
	}
}

// Get returns a live entry. Expired entries are evicted on read.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, ok := m.entries.Load(key)
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(entry.expires) {
		m.entries.Delete(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores value until ttl elapses.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries.Store(key, memoryEntry{value: stored, expires: m.now().Add(ttl)})
	return nil
}

// Purge drops every expired entry and returns how many remain.
func (m *Memory) Purge() int {
	now := m.now()
	m.entries.Range(func(key string, entry memoryEntry) bool {
		if !now.Before(entry.expires) {
			m.entries.Delete(key)
		}
		return true
	})
	return m.entries.Size()
}

var (
	_ Cache  = (*Memory)(nil)
	_ Purger = (*Memory)(nil)
)
