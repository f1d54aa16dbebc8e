package application

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/AzielCF/az-offline/offline/domain/cache"
	"github.com/AzielCF/az-offline/offline/domain/common"
	"github.com/AzielCF/az-offline/offline/domain/lifecycle"
	"github.com/AzielCF/az-offline/offline/domain/request"
	"github.com/AzielCF/az-offline/offline/repository"
	"github.com/AzielCF/az-offline/pkg/taskworker"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeRoute struct {
	status int
	body   string
	err    error
}

// fakeNetwork answers by normalized URL and counts calls.
type fakeNetwork struct {
	mu       sync.Mutex
	routes   map[string]fakeRoute
	calls    map[string]int
	requests []*request.Request
	down     bool
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{routes: map[string]fakeRoute{}, calls: map[string]int{}}
}

func (n *fakeNetwork) key(method, raw string) string {
	req, _ := request.New(method, raw)
	return method + " " + cache.NormalizeURL(req.URL)
}

func (n *fakeNetwork) Respond(method, raw string, status int, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes[n.key(method, raw)] = fakeRoute{status: status, body: body}
}

func (n *fakeNetwork) Fail(method, raw string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes[n.key(method, raw)] = fakeRoute{err: errors.New("connection refused")}
}

func (n *fakeNetwork) SetDown(down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down = down
}

func (n *fakeNetwork) Calls(method, raw string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[n.key(method, raw)]
}

func (n *fakeNetwork) Fetch(_ context.Context, req *request.Request) (*request.Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	k := req.Method + " " + cache.NormalizeURL(req.URL)
	n.calls[k]++
	n.requests = append(n.requests, req)
	if n.down {
		return nil, common.ErrNetworkUnavailable
	}
	route, ok := n.routes[k]
	if !ok {
		return &request.Response{Status: http.StatusNotFound, Header: http.Header{}, Body: []byte("not found")}, nil
	}
	if route.err != nil {
		return nil, route.err
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return &request.Response{Status: route.status, Header: h, Body: []byte(route.body)}, nil
}

type fixedStores struct {
	set lifecycle.StoreSet
	ok  bool
}

func (f fixedStores) Current() (lifecycle.StoreSet, bool) { return f.set, f.ok }

// registryWithStores returns a registry in which the stores of set already
// exist, as they do after an install.
func registryWithStores(t *testing.T, backend cache.Backend, set lifecycle.StoreSet) *Registry {
	t.Helper()
	r := NewRegistry(backend)
	for _, name := range []string{set.Static, set.Dynamic} {
		require.NoError(t, r.CreateStore(context.Background(), name))
	}
	return r
}

// heldTasks keeps submitted jobs until the test runs them.
type heldTasks struct {
	mu   sync.Mutex
	jobs []taskworker.Job
}

func (h *heldTasks) Submit(job taskworker.Job) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, job)
	return true
}

func (h *heldTasks) runAll(t *testing.T) {
	t.Helper()
	h.mu.Lock()
	jobs := h.jobs
	h.jobs = nil
	h.mu.Unlock()
	for _, job := range jobs {
		require.NoError(t, job.Handler(context.Background()))
	}
}

func startPool(t *testing.T) *taskworker.Pool {
	t.Helper()
	pool := taskworker.NewPool(4, 64)
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)
	return pool
}

type dispatcherFixture struct {
	clock    *fakeClock
	net      *fakeNetwork
	registry *Registry
	stores   lifecycle.StoreSet
	pool     *taskworker.Pool
	queue    *DeferredQueue
	d        *Dispatcher
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	f := &dispatcherFixture{
		clock:    newFakeClock(),
		net:      newFakeNetwork(),
		registry: registryWithStores(t, repository.NewMemoryCacheBackend(), lifecycle.StoresFor(1)),
		stores:   lifecycle.StoresFor(1),
		pool:     startPool(t),
	}
	f.queue = NewDeferredQueue(repository.NewMemoryDeferredRepository(), NewNetworkReplayer(f.net), 3, f.clock.Now)
	f.d = NewDispatcher(DispatcherDeps{
		Classifier:         testClassifier(),
		Registry:           f.registry,
		Fetcher:            f.net,
		Stores:             fixedStores{set: f.stores, ok: true},
		Tasks:              f.pool,
		Share:              NewShareTarget("/"),
		Deferrer:           f.queue,
		DeferrablePrefixes: []string{"/api/orders"},
		ShellURL:           "https://app.example.com/",
		Now:                f.clock.Now,
	})
	return f
}

// waitForEntry blocks until the background write of key has landed.
func (f *dispatcherFixture) waitForEntry(t *testing.T, store, raw string) *cache.CacheEntry {
	t.Helper()
	req, err := request.New(http.MethodGet, raw)
	require.NoError(t, err)
	key := cache.NewKey(http.MethodGet, req.URL)
	var entry *cache.CacheEntry
	require.Eventually(t, func() bool {
		entry, _ = f.registry.Get(context.Background(), store, key)
		return entry != nil
	}, 2*time.Second, 5*time.Millisecond)
	return entry
}

func (f *dispatcherFixture) seed(t *testing.T, store, raw, body string, at time.Time) {
	t.Helper()
	req, err := request.New(http.MethodGet, raw)
	require.NoError(t, err)
	require.NoError(t, f.registry.Put(context.Background(), store, cache.NewKey(http.MethodGet, req.URL), &cache.CacheEntry{
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": {"application/json"}},
		Body:     []byte(body),
		StoredAt: at,
	}))
}
