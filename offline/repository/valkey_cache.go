package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/AzielCF/az-offline/infrastructure/valkey"
	"github.com/AzielCF/az-offline/offline/domain/cache"
	valkeylib "github.com/valkey-io/valkey-go"
)

// ValkeyCacheBackend stores each cache store as one hash. A field is the
// serialized CacheKey and its value the JSON entry, so a Put is a single
// atomic HSET and readers never observe a partial entry.
type ValkeyCacheBackend struct {
	client   *valkey.Client
	storeSet string
}

func NewValkeyCacheBackend(client *valkey.Client) *ValkeyCacheBackend {
	return &ValkeyCacheBackend{
		client:   client,
		storeSet: client.Key("stores"),
	}
}

func (v *ValkeyCacheBackend) inner() valkeylib.Client {
	return v.client.Inner()
}

func (v *ValkeyCacheBackend) storeKey(store string) string {
	return v.client.Key("store", store)
}

func fieldFor(key cache.CacheKey) string {
	return key.String()
}

func (v *ValkeyCacheBackend) Get(ctx context.Context, store string, key cache.CacheKey) (*cache.CacheEntry, error) {
	cmd := v.inner().B().Hget().Key(v.storeKey(store)).Field(fieldFor(key)).Build()
	data, err := v.inner().Do(ctx, cmd).AsBytes()
	if err != nil {
		if valkey.IsNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var entry cache.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return &entry, nil
}

func (v *ValkeyCacheBackend) Put(ctx context.Context, store string, key cache.CacheKey, entry *cache.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	cmds := valkeylib.Commands{
		v.inner().B().Sadd().Key(v.storeSet).Member(store).Build(),
		v.inner().B().Hset().Key(v.storeKey(store)).FieldValue().FieldValue(fieldFor(key), string(data)).Build(),
	}
	for _, resp := range v.inner().DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to put cache entry: %w", err)
		}
	}
	return nil
}

func (v *ValkeyCacheBackend) Delete(ctx context.Context, store string, key cache.CacheKey) error {
	cmd := v.inner().B().Hdel().Key(v.storeKey(store)).Field(fieldFor(key)).Build()
	if err := v.inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (v *ValkeyCacheBackend) CreateStore(ctx context.Context, store string) error {
	cmd := v.inner().B().Sadd().Key(v.storeSet).Member(store).Build()
	if err := v.inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	return nil
}

func (v *ValkeyCacheBackend) DeleteStore(ctx context.Context, store string) error {
	cmds := valkeylib.Commands{
		v.inner().B().Del().Key(v.storeKey(store)).Build(),
		v.inner().B().Srem().Key(v.storeSet).Member(store).Build(),
	}
	for _, resp := range v.inner().DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to delete store: %w", err)
		}
	}
	return nil
}

func (v *ValkeyCacheBackend) ListStores(ctx context.Context) ([]string, error) {
	names, err := v.inner().Do(ctx, v.inner().B().Smembers().Key(v.storeSet).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (v *ValkeyCacheBackend) Keys(ctx context.Context, store string) ([]cache.CacheKey, error) {
	fields, err := v.inner().Do(ctx, v.inner().B().Hkeys().Key(v.storeKey(store)).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	keys := make([]cache.CacheKey, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, parseField(f))
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

func parseField(field string) cache.CacheKey {
	for i := 0; i < len(field); i++ {
		if field[i] == ' ' {
			return cache.CacheKey{Method: field[:i], URL: field[i+1:]}
		}
	}
	return cache.CacheKey{URL: field}
}
