package pricecache

import (
	"context"
	"sync"

	"github.com/mcintyre94/jupalyse/internal/domain"
)

// Memory is an in-process cache. Used directly for one-off runs and as the
// read side of the WAL store.
type Memory struct {
	mu      sync.RWMutex
	entries map[domain.PriceKey]Entry
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[domain.PriceKey]Entry)}
}

func (m *Memory) Get(_ context.Context, key domain.PriceKey) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *Memory) Set(_ context.Context, key domain.PriceKey, entry Entry) error {
	m.setIfAbsent(key, entry)
	return nil
}

func (m *Memory) Has(_ context.Context, key domain.PriceKey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.entries[key]
	return ok, nil
}

// Len returns the number of cached keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}

func (m *Memory) setIfAbsent(key domain.PriceKey, entry Entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; ok {
		return false
	}
	m.entries[key] = entry
	return true
}
