package application

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/AzielCF/az-offline/offline/domain/cache"
	"github.com/AzielCF/az-offline/offline/domain/deferred"
	"github.com/AzielCF/az-offline/offline/domain/lifecycle"
	"github.com/AzielCF/az-offline/offline/domain/request"
	"github.com/AzielCF/az-offline/pkg/taskworker"
	"github.com/sirupsen/logrus"
)

// StaleWarning marks a response served from an expired entry.
const StaleWarning = `110 - "Response is Stale"`

// Fields that belong to one client or one hop and must never be replayed
// from a shared entry.
var uncacheableHeaders = []string{
	"Set-Cookie",
	"Set-Cookie2",
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// StoreResolver exposes the store set that is current right now.
type StoreResolver interface {
	Current() (lifecycle.StoreSet, bool)
}

// TaskRunner accepts fire-and-forget jobs.
type TaskRunner interface {
	Submit(job taskworker.Job) bool
}

// Deferrer queues a mutation for later replay.
type Deferrer interface {
	Enqueue(ctx context.Context, p deferred.Payload) (string, error)
}

type DispatcherDeps struct {
	Classifier *Classifier
	Registry   *Registry
	Fetcher    request.Fetcher
	Stores     StoreResolver
	Tasks      TaskRunner
	Share      *ShareTarget

	// Deferrer is optional; without it mutations are never queued.
	Deferrer           Deferrer
	DeferrablePrefixes []string

	// ShellURL is the document served to navigations when nothing else is available.
	ShellURL string
	Now      func() time.Time
}

// Dispatcher executes the caching strategy of each request class.
type Dispatcher struct {
	classifier *Classifier
	registry   *Registry
	fetcher    request.Fetcher
	stores     StoreResolver
	tasks      TaskRunner
	share      *ShareTarget
	deferrer   Deferrer
	deferrable []string
	shellKey   *cache.CacheKey
	now        func() time.Time
}

func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	d := &Dispatcher{
		classifier: deps.Classifier,
		registry:   deps.Registry,
		fetcher:    deps.Fetcher,
		stores:     deps.Stores,
		tasks:      deps.Tasks,
		share:      deps.Share,
		deferrer:   deps.Deferrer,
		deferrable: deps.DeferrablePrefixes,
		now:        deps.Now,
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.share == nil {
		d.share = NewShareTarget("/")
	}
	if deps.ShellURL != "" {
		if shell, err := request.New(http.MethodGet, deps.ShellURL); err == nil {
			k := cache.NewKey(http.MethodGet, shell.URL)
			d.shellKey = &k
		}
	}
	return d
}

// Handle never fails: every outcome, including "no network and no cache",
// is a well-formed response.
func (d *Dispatcher) Handle(ctx context.Context, req *request.Request) *request.Response {
	class := d.classifier.Classify(req)
	if class == request.ClassShareTarget {
		return d.share.Handle(req)
	}

	stores, ok := d.stores.Current()
	if !ok {
		logrus.Debugf("[DISPATCH] No active stores, passing %s %s through", req.Method, req.URL)
		return d.passThrough(ctx, req, class)
	}

	var resp *request.Response
	switch class {
	case request.ClassStatic:
		resp = d.cacheFirst(ctx, req, stores)
	case request.ClassFreshnessBoundApi:
		resp = d.freshnessBound(ctx, req, stores)
	default:
		resp = d.networkFirst(ctx, req, class, stores)
	}
	resp.Class = class
	return resp
}

func (d *Dispatcher) passThrough(ctx context.Context, req *request.Request, class request.Class) *request.Response {
	resp, err := d.fetcher.Fetch(ctx, req)
	if err != nil {
		if queued := d.maybeDefer(ctx, req, err); queued != nil {
			queued.Class = class
			return queued
		}
		resp = unavailable(http.StatusGatewayTimeout, req, class, err)
	}
	resp.Class = class
	return resp
}

func (d *Dispatcher) cacheFirst(ctx context.Context, req *request.Request, stores lifecycle.StoreSet) *request.Response {
	key := cache.NewKey(http.MethodGet, req.URL)
	if entry := d.lookup(ctx, stores.Static, key); entry != nil {
		return fromEntry(entry, request.SourceCache)
	}

	resp, err := d.fetcher.Fetch(ctx, req)
	if err == nil {
		resp.Source = request.SourceNetwork
		if resp.OK() && req.Method == http.MethodGet {
			d.storeAsync(stores.Static, key, resp)
		}
		return resp
	}

	logrus.WithError(err).Debugf("[DISPATCH] Static miss and network failed for %s", key)
	if req.AcceptsHTML() && d.shellKey != nil {
		if shell := d.lookup(ctx, stores.Static, *d.shellKey); shell != nil {
			return fromEntry(shell, request.SourceShell)
		}
	}
	return unavailable(http.StatusGatewayTimeout, req, request.ClassStatic, err)
}

func (d *Dispatcher) freshnessBound(ctx context.Context, req *request.Request, stores lifecycle.StoreSet) *request.Response {
	key := cache.NewKey(http.MethodGet, req.URL)
	ttl := d.classifier.TTLFor(req)
	entry := d.lookup(ctx, stores.Dynamic, key)
	if entry != nil && entry.FreshAt(d.now(), ttl) {
		return fromEntry(entry, request.SourceCache)
	}

	resp, err := d.fetcher.Fetch(ctx, req)
	if err == nil {
		resp.Source = request.SourceNetwork
		if resp.OK() && req.Method == http.MethodGet {
			d.storeAsync(stores.Dynamic, key, resp)
		}
		return resp
	}

	if entry != nil {
		logrus.WithError(err).Infof("[DISPATCH] Serving stale %s (age %s)", key, entry.Age(d.now()).Truncate(time.Second))
		stale := fromEntry(entry, request.SourceStale)
		stale.Header.Set("Warning", StaleWarning)
		stale.Err = err
		return stale
	}
	return unavailable(http.StatusServiceUnavailable, req, request.ClassFreshnessBoundApi, err)
}

func (d *Dispatcher) networkFirst(ctx context.Context, req *request.Request, class request.Class, stores lifecycle.StoreSet) *request.Response {
	resp, err := d.fetcher.Fetch(ctx, req)
	if err == nil {
		resp.Source = request.SourceNetwork
		if resp.OK() && req.Method == http.MethodGet {
			d.storeAsync(stores.Dynamic, cache.NewKey(http.MethodGet, req.URL), resp)
		}
		return resp
	}

	if req.IsRead() {
		key := cache.NewKey(http.MethodGet, req.URL)
		if entry := d.lookup(ctx, stores.Dynamic, key); entry != nil {
			fallback := fromEntry(entry, request.SourceCache)
			fallback.Err = err
			return fallback
		}
	} else if queued := d.maybeDefer(ctx, req, err); queued != nil {
		return queued
	}
	return unavailable(http.StatusGatewayTimeout, req, class, err)
}

func (d *Dispatcher) maybeDefer(ctx context.Context, req *request.Request, cause error) *request.Response {
	if d.deferrer == nil || req.IsRead() || !d.isDeferrable(req) {
		return nil
	}
	id, err := d.deferrer.Enqueue(ctx, deferred.Payload{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
		Body:   req.Body,
	})
	if err != nil {
		logrus.WithError(err).Errorf("[DISPATCH] Failed to queue %s %s", req.Method, req.URL)
		return nil
	}
	logrus.WithError(cause).Infof("[DISPATCH] Queued %s %s as %s", req.Method, req.URL, id)
	return synthesized(http.StatusAccepted, map[string]any{"queued": true, "id": id}, request.SourceQueued, cause)
}

func (d *Dispatcher) isDeferrable(req *request.Request) bool {
	for _, p := range d.deferrable {
		if strings.HasPrefix(req.URL.Path, p) {
			return true
		}
	}
	return false
}

// lookup treats a read error as a miss; cache trouble never fails a request.
func (d *Dispatcher) lookup(ctx context.Context, store string, key cache.CacheKey) *cache.CacheEntry {
	entry, err := d.registry.Get(ctx, store, key)
	if err != nil {
		logrus.WithError(err).Warnf("[DISPATCH] Cache read failed for %s in %s", key, store)
		return nil
	}
	return entry
}

// storeAsync hands the write to the task pool; the caller never waits on it.
// A write that lands after its store was collected is dropped.
func (d *Dispatcher) storeAsync(store string, key cache.CacheKey, resp *request.Response) {
	entry := &cache.CacheEntry{
		Status:   resp.Status,
		Header:   cacheableHeader(resp.Header),
		Body:     append([]byte(nil), resp.Body...),
		StoredAt: d.now(),
	}
	job := taskworker.Job{
		Key:  store + "|" + key.String(),
		Name: "cache-write",
		Handler: func(ctx context.Context) error {
			written, err := d.registry.PutExisting(ctx, store, key, entry)
			if err == nil && !written {
				logrus.Debugf("[DISPATCH] Store %s is gone, dropping write for %s", store, key)
			}
			return err
		},
	}
	if !d.tasks.Submit(job) {
		logrus.Warnf("[DISPATCH] Cache write for %s in %s was not accepted", key, store)
	}
}

func fromEntry(e *cache.CacheEntry, source request.Source) *request.Response {
	h := e.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	status := e.Status
	if status == 0 {
		status = http.StatusOK
	}
	return &request.Response{
		Status: status,
		Header: h,
		Body:   append([]byte(nil), e.Body...),
		Source: source,
	}
}

// cacheableHeader copies h without the per-client and hop-by-hop fields.
func cacheableHeader(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		return http.Header{}
	}
	for _, name := range uncacheableHeaders {
		out.Del(name)
	}
	return out
}

func unavailable(status int, req *request.Request, class request.Class, cause error) *request.Response {
	errCode := "network_unavailable"
	if class == request.ClassFreshnessBoundApi {
		errCode = "offline"
	}
	return synthesized(status, map[string]any{
		"error": errCode,
		"class": class,
		"url":   req.URL.String(),
	}, request.SourceSynthesized, cause)
}

func synthesized(status int, body map[string]any, source request.Source, cause error) *request.Response {
	raw, _ := json.Marshal(body)
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	return &request.Response{
		Status: status,
		Header: h,
		Body:   raw,
		Source: source,
		Err:    cause,
	}
}
