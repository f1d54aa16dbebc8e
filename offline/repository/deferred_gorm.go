package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/AzielCF/az-offline/offline/domain/common"
	"github.com/AzielCF/az-offline/offline/domain/deferred"
	"gorm.io/gorm"
)

type deferredWriteModel struct {
	Seq       uint      `gorm:"primaryKey;autoIncrement;column:seq"`
	ID        string    `gorm:"column:id;not null;uniqueIndex"`
	Method    string    `gorm:"column:method;not null"`
	URL       string    `gorm:"column:url;not null"`
	Header    string    `gorm:"column:header;type:text"` // JSON
	Body      []byte    `gorm:"column:body"`
	Attempts  int       `gorm:"column:attempts;default:0"`
	LastError string    `gorm:"column:last_error"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index"`
}

func (deferredWriteModel) TableName() string { return "deferred_writes" }

// DeferredGormRepository is the durable deferred-write queue.
type DeferredGormRepository struct {
	db *gorm.DB
}

func NewDeferredGormRepository(db *gorm.DB) *DeferredGormRepository {
	return &DeferredGormRepository{db: db}
}

func (r *DeferredGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&deferredWriteModel{})
}

func (r *DeferredGormRepository) Add(ctx context.Context, w deferred.DeferredWrite) error {
	m, err := toDeferredModel(w)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&m).Error
}

func (r *DeferredGormRepository) List(ctx context.Context) ([]deferred.DeferredWrite, error) {
	var models []deferredWriteModel
	if err := r.db.WithContext(ctx).Order("seq ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]deferred.DeferredWrite, 0, len(models))
	for _, m := range models {
		w, err := fromDeferredModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, nil
}

func (r *DeferredGormRepository) Get(ctx context.Context, id string) (deferred.DeferredWrite, error) {
	var m deferredWriteModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return deferred.DeferredWrite{}, common.ErrDeferredNotFound
		}
		return deferred.DeferredWrite{}, err
	}
	return fromDeferredModel(m)
}

func (r *DeferredGormRepository) Remove(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&deferredWriteModel{}, "id = ?", id).Error
}

func (r *DeferredGormRepository) RecordFailure(ctx context.Context, id string, lastError string) (deferred.DeferredWrite, error) {
	res := r.db.WithContext(ctx).Model(&deferredWriteModel{}).Where("id = ?", id).Updates(map[string]any{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": lastError,
	})
	if res.Error != nil {
		return deferred.DeferredWrite{}, res.Error
	}
	if res.RowsAffected == 0 {
		return deferred.DeferredWrite{}, common.ErrDeferredNotFound
	}
	return r.Get(ctx, id)
}

func (r *DeferredGormRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&deferredWriteModel{}).Count(&n).Error
	return n, err
}

func toDeferredModel(w deferred.DeferredWrite) (deferredWriteModel, error) {
	header, err := json.Marshal(w.Payload.Header)
	if err != nil {
		return deferredWriteModel{}, fmt.Errorf("failed to marshal payload headers: %w", err)
	}
	return deferredWriteModel{
		ID:        w.ID,
		Method:    w.Payload.Method,
		URL:       w.Payload.URL,
		Header:    string(header),
		Body:      w.Payload.Body,
		Attempts:  w.Attempts,
		LastError: w.LastError,
		CreatedAt: w.CreatedAt.UTC(),
	}, nil
}

func fromDeferredModel(m deferredWriteModel) (deferred.DeferredWrite, error) {
	var header http.Header
	if m.Header != "" && m.Header != "null" {
		if err := json.Unmarshal([]byte(m.Header), &header); err != nil {
			return deferred.DeferredWrite{}, fmt.Errorf("failed to unmarshal payload headers: %w", err)
		}
	}
	return deferred.DeferredWrite{
		ID: m.ID,
		Payload: deferred.Payload{
			Method: m.Method,
			URL:    m.URL,
			Header: header,
			Body:   m.Body,
		},
		CreatedAt: m.CreatedAt,
		Attempts:  m.Attempts,
		LastError: m.LastError,
	}, nil
}
