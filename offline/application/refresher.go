package application

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/AzielCF/az-offline/offline/domain/cache"
	"github.com/AzielCF/az-offline/offline/domain/request"
	"github.com/sirupsen/logrus"
)

// RefreshResource is a volatile document refreshed on every tick and kept
// under a fixed logical name.
type RefreshResource struct {
	Name string `json:"name" mapstructure:"name"`
	URL  string `json:"url" mapstructure:"url"`
}

type RefreshReport struct {
	Skipped   bool     `json:"skipped"`
	Refreshed []string `json:"refreshed"`
	Failed    []string `json:"failed"`
}

// Refresher rewrites a fixed set of resources on each platform tick. A failed
// resource waits for the next tick; there is no retry.
type Refresher struct {
	registry  *Registry
	fetcher   request.Fetcher
	stores    StoreResolver
	resources []RefreshResource
	now       func() time.Time

	mu sync.Mutex
}

func NewRefresher(registry *Registry, fetcher request.Fetcher, stores StoreResolver, resources []RefreshResource, now func() time.Time) *Refresher {
	if now == nil {
		now = time.Now
	}
	return &Refresher{
		registry:  registry,
		fetcher:   fetcher,
		stores:    stores,
		resources: append([]RefreshResource(nil), resources...),
		now:       now,
	}
}

func (r *Refresher) Resources() []RefreshResource {
	return append([]RefreshResource(nil), r.resources...)
}

func (r *Refresher) Tick(ctx context.Context) RefreshReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := RefreshReport{Refreshed: []string{}, Failed: []string{}}
	stores, ok := r.stores.Current()
	if !ok {
		logrus.Debug("[REFRESH] No active stores, skipping tick")
		report.Skipped = true
		return report
	}

	for _, res := range r.resources {
		if err := r.refreshOne(ctx, stores.Dynamic, res); err != nil {
			logrus.WithError(err).Warnf("[REFRESH] %s skipped until next tick", res.Name)
			report.Failed = append(report.Failed, res.Name)
			continue
		}
		report.Refreshed = append(report.Refreshed, res.Name)
	}
	logrus.Debugf("[REFRESH] Tick done: %d refreshed, %d failed", len(report.Refreshed), len(report.Failed))
	return report
}

func (r *Refresher) refreshOne(ctx context.Context, store string, res RefreshResource) error {
	req, err := request.New(http.MethodGet, res.URL)
	if err != nil {
		return err
	}
	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("unexpected status %d", resp.Status)
	}
	written, err := r.registry.PutExisting(ctx, store, cache.LogicalKey(res.Name), &cache.CacheEntry{
		Status:   resp.Status,
		Header:   cacheableHeader(resp.Header),
		Body:     resp.Body,
		StoredAt: r.now(),
	})
	if err != nil {
		return err
	}
	if !written {
		return fmt.Errorf("store %s was replaced during the tick", store)
	}
	return nil
}

// Latest returns the last refreshed value of name, or nil when there is none.
func (r *Refresher) Latest(ctx context.Context, name string) (*cache.CacheEntry, error) {
	stores, ok := r.stores.Current()
	if !ok {
		return nil, nil
	}
	return r.registry.Get(ctx, stores.Dynamic, cache.LogicalKey(name))
}

// RunEvery ticks on a fixed interval until ctx ends. It is only useful for
// resident deployments; the platform signal remains the primary trigger.
func (r *Refresher) RunEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logrus.Infof("[REFRESH] In-process loop every %s", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}
