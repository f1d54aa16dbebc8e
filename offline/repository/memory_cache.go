package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/AzielCF/az-offline/offline/domain/cache"
)

// MemoryCacheBackend keeps every store in process memory.
// Contents are lost on restart.
type MemoryCacheBackend struct {
	mu     sync.RWMutex
	stores map[string]map[cache.CacheKey]*cache.CacheEntry
}

func NewMemoryCacheBackend() *MemoryCacheBackend {
	return &MemoryCacheBackend{
		stores: make(map[string]map[cache.CacheKey]*cache.CacheEntry),
	}
}

func (m *MemoryCacheBackend) Get(ctx context.Context, store string, key cache.CacheKey) (*cache.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, ok := m.stores[store]
	if !ok {
		return nil, nil
	}
	e, ok := entries[key]
	if !ok {
		return nil, nil
	}
	return cloneEntry(e), nil
}

func (m *MemoryCacheBackend) Put(ctx context.Context, store string, key cache.CacheKey, entry *cache.CacheEntry) error {
	stored := cloneEntry(entry)

	m.mu.Lock()
	defer m.mu.Unlock()

	entries, ok := m.stores[store]
	if !ok {
		entries = make(map[cache.CacheKey]*cache.CacheEntry)
		m.stores[store] = entries
	}
	entries[key] = stored
	return nil
}

func (m *MemoryCacheBackend) Delete(ctx context.Context, store string, key cache.CacheKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entries, ok := m.stores[store]; ok {
		delete(entries, key)
	}
	return nil
}

func (m *MemoryCacheBackend) CreateStore(ctx context.Context, store string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stores[store]; !ok {
		m.stores[store] = make(map[cache.CacheKey]*cache.CacheEntry)
	}
	return nil
}

func (m *MemoryCacheBackend) DeleteStore(ctx context.Context, store string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.stores, store)
	return nil
}

func (m *MemoryCacheBackend) ListStores(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryCacheBackend) Keys(ctx context.Context, store string) ([]cache.CacheKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.stores[store]
	keys := make([]cache.CacheKey, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

// cloneEntry copies the entry so callers can never mutate what is stored.
func cloneEntry(e *cache.CacheEntry) *cache.CacheEntry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Body != nil {
		c.Body = append([]byte(nil), e.Body...)
	}
	c.Header = e.Header.Clone()
	return &c
}
