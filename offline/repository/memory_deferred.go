package repository

import (
	"context"
	"sync"

	"github.com/AzielCF/az-offline/offline/domain/common"
	"github.com/AzielCF/az-offline/offline/domain/deferred"
)

// MemoryDeferredRepository keeps the queue in memory, in insertion order.
type MemoryDeferredRepository struct {
	mu    sync.RWMutex
	items []deferred.DeferredWrite
}

func NewMemoryDeferredRepository() *MemoryDeferredRepository {
	return &MemoryDeferredRepository{}
}

func (r *MemoryDeferredRepository) Init(ctx context.Context) error { return nil }

func (r *MemoryDeferredRepository) Add(ctx context.Context, w deferred.DeferredWrite) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, w)
	return nil
}

func (r *MemoryDeferredRepository) List(ctx context.Context) ([]deferred.DeferredWrite, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]deferred.DeferredWrite, len(r.items))
	copy(out, r.items)
	return out, nil
}

func (r *MemoryDeferredRepository) Get(ctx context.Context, id string) (deferred.DeferredWrite, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.items {
		if w.ID == id {
			return w, nil
		}
	}
	return deferred.DeferredWrite{}, common.ErrDeferredNotFound
}

func (r *MemoryDeferredRepository) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, w := range r.items {
		if w.ID == id {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *MemoryDeferredRepository) RecordFailure(ctx context.Context, id string, lastError string) (deferred.DeferredWrite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID == id {
			r.items[i].Attempts++
			r.items[i].LastError = lastError
			return r.items[i], nil
		}
	}
	return deferred.DeferredWrite{}, common.ErrDeferredNotFound
}

func (r *MemoryDeferredRepository) Count(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.items)), nil
}
