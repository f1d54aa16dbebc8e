package application

import (
	"context"
	"fmt"
	"hash/fnv"
	"slices"
	"sync"

	"github.com/AzielCF/az-offline/offline/domain/cache"
	"github.com/dustin/go-humanize"
)

const registryLockStripes = 64

// Registry is the only shared mutable resource of the offline layer. It is
// created once at startup and handed to every component that needs a store.
type Registry struct {
	backend cache.Backend
	locks   [registryLockStripes]sync.Mutex

	// storesMu orders store creation and deletion against PutExisting.
	storesMu sync.RWMutex
}

func NewRegistry(backend cache.Backend) *Registry {
	return &Registry{backend: backend}
}

func (r *Registry) lockFor(store string, key cache.CacheKey) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(store))
	h.Write([]byte{'|'})
	h.Write([]byte(key.String()))
	return &r.locks[h.Sum32()%registryLockStripes]
}

// Get returns (nil, nil) on a miss.
func (r *Registry) Get(ctx context.Context, store string, key cache.CacheKey) (*cache.CacheEntry, error) {
	return r.backend.Get(ctx, store, key)
}

// Put serializes writers of the same (store, key); the last write wins.
func (r *Registry) Put(ctx context.Context, store string, key cache.CacheKey, entry *cache.CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("nil cache entry for %s", key)
	}
	mu := r.lockFor(store, key)
	mu.Lock()
	defer mu.Unlock()
	return r.backend.Put(ctx, store, key, entry)
}

// PutExisting is Put for writers that may outlive their store, such as
// background writes captured before an activation. It reports false and
// writes nothing when the store no longer exists.
func (r *Registry) PutExisting(ctx context.Context, store string, key cache.CacheKey, entry *cache.CacheEntry) (bool, error) {
	r.storesMu.RLock()
	defer r.storesMu.RUnlock()

	names, err := r.backend.ListStores(ctx)
	if err != nil {
		return false, err
	}
	if !slices.Contains(names, store) {
		return false, nil
	}
	return true, r.Put(ctx, store, key, entry)
}

func (r *Registry) Delete(ctx context.Context, store string, key cache.CacheKey) error {
	mu := r.lockFor(store, key)
	mu.Lock()
	defer mu.Unlock()
	return r.backend.Delete(ctx, store, key)
}

func (r *Registry) CreateStore(ctx context.Context, name string) error {
	r.storesMu.Lock()
	defer r.storesMu.Unlock()
	return r.backend.CreateStore(ctx, name)
}

func (r *Registry) DeleteStore(ctx context.Context, name string) error {
	r.storesMu.Lock()
	defer r.storesMu.Unlock()
	return r.backend.DeleteStore(ctx, name)
}

func (r *Registry) ListStores(ctx context.Context) ([]string, error) {
	return r.backend.ListStores(ctx)
}

func (r *Registry) Keys(ctx context.Context, store string) ([]cache.CacheKey, error) {
	return r.backend.Keys(ctx, store)
}

// Stats walks a store and sums entry bodies.
func (r *Registry) Stats(ctx context.Context, store string) (cache.StoreStats, error) {
	keys, err := r.backend.Keys(ctx, store)
	if err != nil {
		return cache.StoreStats{}, err
	}
	var total int64
	for _, k := range keys {
		e, err := r.backend.Get(ctx, store, k)
		if err != nil {
			return cache.StoreStats{}, err
		}
		if e != nil {
			total += int64(len(e.Body))
		}
	}
	return cache.StoreStats{
		Name:      store,
		Entries:   len(keys),
		TotalSize: total,
		HumanSize: humanize.Bytes(uint64(total)),
	}, nil
}
