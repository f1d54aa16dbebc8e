package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AzielCF/az-offline/offline/domain/cache"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// --- Persistence Models ---

type cacheStoreModel struct {
	Name      string    `gorm:"primaryKey;column:name"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (cacheStoreModel) TableName() string { return "cache_stores" }

type cacheEntryModel struct {
	Store    string    `gorm:"primaryKey;column:store"`
	Method   string    `gorm:"primaryKey;column:method"`
	URL      string    `gorm:"primaryKey;column:url"`
	Status   int       `gorm:"column:status;not null"`
	Header   string    `gorm:"column:header;type:text"` // JSON
	Body     []byte    `gorm:"column:body"`
	StoredAt time.Time `gorm:"column:stored_at;not null"`
}

func (cacheEntryModel) TableName() string { return "cache_entries" }

// GormCacheBackend persists stores in SQLite or Postgres.
type GormCacheBackend struct {
	db *gorm.DB
}

func NewGormCacheBackend(db *gorm.DB) *GormCacheBackend {
	return &GormCacheBackend{db: db}
}

func (g *GormCacheBackend) Init(ctx context.Context) error {
	return g.db.WithContext(ctx).AutoMigrate(&cacheStoreModel{}, &cacheEntryModel{})
}

func (g *GormCacheBackend) Get(ctx context.Context, store string, key cache.CacheKey) (*cache.CacheEntry, error) {
	var m cacheEntryModel
	err := g.db.WithContext(ctx).
		Where("store = ? AND method = ? AND url = ?", store, key.Method, key.URL).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return fromEntryModel(m)
}

func (g *GormCacheBackend) Put(ctx context.Context, store string, key cache.CacheKey, entry *cache.CacheEntry) error {
	m, err := toEntryModel(store, key, entry)
	if err != nil {
		return err
	}

	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&cacheStoreModel{Name: store, CreatedAt: time.Now().UTC()}).Error; err != nil {
			return fmt.Errorf("failed to register store: %w", err)
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "store"}, {Name: "method"}, {Name: "url"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "header", "body", "stored_at"}),
		}).Create(&m).Error
		if err != nil {
			return fmt.Errorf("failed to put cache entry: %w", err)
		}
		return nil
	})
}

func (g *GormCacheBackend) Delete(ctx context.Context, store string, key cache.CacheKey) error {
	return g.db.WithContext(ctx).
		Where("store = ? AND method = ? AND url = ?", store, key.Method, key.URL).
		Delete(&cacheEntryModel{}).Error
}

func (g *GormCacheBackend) CreateStore(ctx context.Context, store string) error {
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&cacheStoreModel{Name: store, CreatedAt: time.Now().UTC()}).Error
}

func (g *GormCacheBackend) DeleteStore(ctx context.Context, store string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("store = ?", store).Delete(&cacheEntryModel{}).Error; err != nil {
			return err
		}
		return tx.Where("name = ?", store).Delete(&cacheStoreModel{}).Error
	})
}

func (g *GormCacheBackend) ListStores(ctx context.Context) ([]string, error) {
	var names []string
	if err := g.db.WithContext(ctx).Model(&cacheStoreModel{}).Order("name").Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	return names, nil
}

func (g *GormCacheBackend) Keys(ctx context.Context, store string) ([]cache.CacheKey, error) {
	var models []cacheEntryModel
	if err := g.db.WithContext(ctx).Select("method", "url").
		Where("store = ?", store).Order("method, url").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	keys := make([]cache.CacheKey, len(models))
	for i, m := range models {
		keys[i] = cache.CacheKey{Method: m.Method, URL: m.URL}
	}
	return keys, nil
}

// --- Mappers ---

func toEntryModel(store string, key cache.CacheKey, e *cache.CacheEntry) (cacheEntryModel, error) {
	header, err := json.Marshal(e.Header)
	if err != nil {
		return cacheEntryModel{}, fmt.Errorf("failed to marshal headers: %w", err)
	}
	return cacheEntryModel{
		Store:    store,
		Method:   key.Method,
		URL:      key.URL,
		Status:   e.Status,
		Header:   string(header),
		Body:     e.Body,
		StoredAt: e.StoredAt.UTC(),
	}, nil
}

func fromEntryModel(m cacheEntryModel) (*cache.CacheEntry, error) {
	e := &cache.CacheEntry{
		Status:   m.Status,
		Body:     m.Body,
		StoredAt: m.StoredAt,
	}
	if m.Header != "" && m.Header != "null" {
		if err := json.Unmarshal([]byte(m.Header), &e.Header); err != nil {
			return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
		}
	}
	return e, nil
}
