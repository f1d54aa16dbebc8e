package application

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/AzielCF/az-offline/offline/domain/cache"
	"github.com/AzielCF/az-offline/offline/domain/common"
	"github.com/AzielCF/az-offline/offline/domain/lifecycle"
	"github.com/AzielCF/az-offline/offline/domain/request"
	"github.com/sirupsen/logrus"
)

// Controller drives install and activation of store versions. The previous
// version keeps serving until a new one has been fully installed and activated.
type Controller struct {
	registry *Registry
	fetcher  request.Fetcher
	manifest []string
	now      func() time.Time

	mu             sync.RWMutex
	state          lifecycle.State
	current        *lifecycle.StoreSet
	pending        *lifecycle.StoreSet
	lastInstallErr string
	activatedAt    time.Time

	activateMu sync.Mutex
}

func NewController(registry *Registry, fetcher request.Fetcher, manifest []string, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{
		registry: registry,
		fetcher:  fetcher,
		manifest: append([]string(nil), manifest...),
		now:      now,
		state:    lifecycle.StateIdle,
	}
}

// Bootstrap resumes the version recorded in the meta store, if any.
func (c *Controller) Bootstrap(ctx context.Context) error {
	entry, err := c.registry.Get(ctx, cache.MetaStore, lifecycle.ActiveRecordKey)
	if err != nil {
		return fmt.Errorf("read active record: %w", err)
	}
	if entry == nil {
		logrus.Info("[LIFECYCLE] No active version recorded, waiting for install")
		return nil
	}

	var rec lifecycle.ActiveRecord
	if err := json.Unmarshal(entry.Body, &rec); err != nil {
		return fmt.Errorf("decode active record: %w", err)
	}
	set := lifecycle.StoresFor(rec.Version)
	for _, name := range []string{set.Static, set.Dynamic} {
		if err := c.registry.CreateStore(ctx, name); err != nil {
			return fmt.Errorf("ensure store %s: %w", name, err)
		}
	}

	c.mu.Lock()
	c.current = &set
	c.activatedAt = rec.ActivatedAt
	c.state = lifecycle.StateServing
	c.mu.Unlock()

	logrus.Infof("[LIFECYCLE] Resumed serving version %d", rec.Version)
	return nil
}

// Install builds the stores of version and, on success, activates them at once.
// Any manifest failure aborts the attempt and leaves the current version untouched.
func (c *Controller) Install(ctx context.Context, version int) error {
	c.mu.Lock()
	if c.state == lifecycle.StateInstalling || c.state == lifecycle.StateWaiting || c.state == lifecycle.StateActivating {
		c.mu.Unlock()
		return common.ErrInstallInProgress
	}
	if version <= 0 || (c.current != nil && version <= c.current.Version) {
		c.mu.Unlock()
		return fmt.Errorf("%w: got %d", common.ErrStaleVersion, version)
	}
	prevState := c.state
	set := lifecycle.StoresFor(version)
	c.state = lifecycle.StateInstalling
	c.pending = nil
	c.mu.Unlock()

	logrus.Infof("[LIFECYCLE] Installing version %d (%d assets)", version, len(c.manifest))

	if err := c.populate(ctx, set); err != nil {
		c.mu.Lock()
		c.state = prevState
		c.lastInstallErr = err.Error()
		c.mu.Unlock()
		logrus.WithError(err).Errorf("[LIFECYCLE] Install of version %d aborted", version)
		return err
	}

	c.mu.Lock()
	c.pending = &set
	c.lastInstallErr = ""
	c.state = lifecycle.StateWaiting
	c.mu.Unlock()

	return c.Activate(ctx)
}

// populate fetches every asset before touching the registry, so a failure
// never leaves a partially written store behind.
func (c *Controller) populate(ctx context.Context, set lifecycle.StoreSet) error {
	type fetched struct {
		key   cache.CacheKey
		entry *cache.CacheEntry
	}
	assets := make([]fetched, 0, len(c.manifest))

	for _, raw := range c.manifest {
		req, err := request.New(http.MethodGet, raw)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", common.ErrManifestFetch, raw, err)
		}
		resp, err := c.fetcher.Fetch(ctx, req)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", common.ErrManifestFetch, raw, err)
		}
		if !resp.OK() {
			return fmt.Errorf("%w: %s: status %d", common.ErrManifestFetch, raw, resp.Status)
		}
		assets = append(assets, fetched{
			key: cache.NewKey(http.MethodGet, req.URL),
			entry: &cache.CacheEntry{
				Status:   resp.Status,
				Header:   cacheableHeader(resp.Header),
				Body:     resp.Body,
				StoredAt: c.now(),
			},
		})
	}

	rollback := func(cause error) error {
		for _, name := range []string{set.Static, set.Dynamic} {
			if err := c.registry.DeleteStore(ctx, name); err != nil {
				logrus.WithError(err).Warnf("[LIFECYCLE] Rollback could not delete %s", name)
			}
		}
		return cause
	}

	for _, name := range []string{set.Static, set.Dynamic} {
		if err := c.registry.CreateStore(ctx, name); err != nil {
			return rollback(fmt.Errorf("create store %s: %w", name, err))
		}
	}
	for _, a := range assets {
		if err := c.registry.Put(ctx, set.Static, a.key, a.entry); err != nil {
			return rollback(fmt.Errorf("write %s: %w", a.key, err))
		}
	}
	return nil
}

// Activate promotes the pending version and deletes every store it does not
// keep. Without a pending version it does nothing.
func (c *Controller) Activate(ctx context.Context) error {
	c.activateMu.Lock()
	defer c.activateMu.Unlock()

	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return nil
	}
	next := *c.pending
	prevState := c.state
	c.state = lifecycle.StateActivating
	c.mu.Unlock()

	now := c.now()
	if err := c.persistActive(ctx, next.Version, now); err != nil {
		c.mu.Lock()
		c.state = prevState
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.current = &next
	c.pending = nil
	c.activatedAt = now
	c.state = lifecycle.StateServing
	c.mu.Unlock()

	c.collectGarbage(ctx, next)
	logrus.Infof("[LIFECYCLE] Version %d active (%s, %s)", next.Version, next.Static, next.Dynamic)
	return nil
}

func (c *Controller) persistActive(ctx context.Context, version int, at time.Time) error {
	body, err := json.Marshal(lifecycle.ActiveRecord{Version: version, ActivatedAt: at})
	if err != nil {
		return err
	}
	err = c.registry.Put(ctx, cache.MetaStore, lifecycle.ActiveRecordKey, &cache.CacheEntry{
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": {"application/json"}},
		Body:     body,
		StoredAt: at,
	})
	if err != nil {
		return fmt.Errorf("persist active record: %w", err)
	}
	return nil
}

// collectGarbage failures are logged; a leftover store is retried on the next activation.
func (c *Controller) collectGarbage(ctx context.Context, keep lifecycle.StoreSet) {
	names, err := c.registry.ListStores(ctx)
	if err != nil {
		logrus.WithError(err).Warn("[LIFECYCLE] Could not list stores for cleanup")
		return
	}
	for _, name := range names {
		if keep.Keeps(name) {
			continue
		}
		if err := c.registry.DeleteStore(ctx, name); err != nil {
			logrus.WithError(err).Warnf("[LIFECYCLE] Failed to delete old store %s", name)
			continue
		}
		logrus.Debugf("[LIFECYCLE] Deleted old store %s", name)
	}
}

func (c *Controller) Current() (lifecycle.StoreSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return lifecycle.StoreSet{}, false
	}
	return *c.current, true
}

func (c *Controller) State() lifecycle.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) Snapshot() lifecycle.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := lifecycle.Snapshot{
		State:          c.state,
		LastInstallErr: c.lastInstallErr,
		ActivatedAt:    c.activatedAt,
	}
	if c.current != nil {
		cur := *c.current
		snap.Current = &cur
	}
	if c.pending != nil {
		p := *c.pending
		snap.Pending = &p
	}
	return snap
}
