package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AzielCF/az-offline/core/config"
	"github.com/AzielCF/az-offline/offline"
	"github.com/AzielCF/az-offline/offline/domain/request"
	"github.com/AzielCF/az-offline/pkg/utils"
	"github.com/AzielCF/az-offline/ui/rest/middleware"
	"github.com/AzielCF/az-offline/usecase"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// switchableUpstream answers every request with a JSON echo until it is
// switched off.
type switchableUpstream struct {
	mu   sync.Mutex
	down bool
	hits int
}

func (u *switchableUpstream) setDown(v bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.down = v
}

func (u *switchableUpstream) Fetch(_ context.Context, req *request.Request) (*request.Response, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.hits++
	if u.down {
		return nil, errors.New("dial tcp: connection refused")
	}
	return &request.Response{
		Status: http.StatusOK,
		Header: http.Header{
			"Content-Type":   {"application/json"},
			"Content-Length": {"999"},
			"X-Upstream":     {"yes"},
		},
		Body:   []byte(`{"method":"` + req.Method + `","url":"` + req.URL.String() + `"}`),
		Source: request.SourceNetwork,
	}, nil
}

func newTestApp(t *testing.T) (*fiber.App, *offline.Gateway, *switchableUpstream) {
	t.Helper()
	cfg := &config.Config{
		App:      config.AppConfig{Version: "test", EntryPoint: "/"},
		Database: config.DatabaseConfig{Driver: "memory"},
		Cache: config.CacheConfig{
			Backend:          "memory",
			Version:          1,
			Manifest:         []string{"https://app.example.com/app.js"},
			StaticExtensions: []string{".js"},
			APIPrefixes:      []string{"/api/"},
			DefaultTTL:       30 * time.Second,
			ShareTargetPath:  "/share-target",
		},
		Upstreams: []config.UpstreamConfig{
			{Mount: "", BaseURL: "https://app.example.com"},
			{Mount: "feeds", BaseURL: "https://feeds.example.com/v1"},
		},
		Deferred:   config.DeferredConfig{MaxAttempts: 3, Prefixes: []string{"/api/orders"}},
		WorkerPool: config.WorkerPoolConfig{Size: 2, QueueSize: 8},
	}

	up := &switchableUpstream{}
	gw, err := offline.New(context.Background(), cfg, offline.Options{Fetcher: up})
	require.NoError(t, err)
	require.NoError(t, gw.Bootstrap(context.Background()))
	t.Cleanup(gw.Stop)

	svc := usecase.NewOfflineService(gw)
	app := fiber.New()
	app.Use(middleware.Recovery())
	InitRestOffline(app.Group("/api"), svc)
	InitRestProxy(app, "", svc, gw.Upstreams)
	return app, gw, up
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, utils.ResponseData) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out utils.ResponseData
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)
	return resp, out
}

func TestOfflineREST_InstallThenStatus(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/api/offline/install", `{"version":1}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SUCCESS", body.Code)

	resp, body = doJSON(t, app, http.MethodGet, "/api/offline/status", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	results, ok := body.Results.(map[string]any)
	require.True(t, ok)
	lc := results["lifecycle"].(map[string]any)
	assert.Equal(t, "serving", lc["state"])
}

func TestOfflineREST_TypedErrors(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/api/offline/install", `{"version":0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", body.Code)

	doJSON(t, app, http.MethodPost, "/api/offline/install", `{"version":3}`)
	resp, body = doJSON(t, app, http.MethodPost, "/api/offline/install", `{"version":2}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "CONFLICT", body.Code)

	resp, body = doJSON(t, app, http.MethodGet, "/api/offline/refresh/unknown", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND_ERROR", body.Code)

	resp, _ = doJSON(t, app, http.MethodGet, "/api/offline/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOfflineREST_DeferredRoundTrip(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/api/offline/deferred",
		`{"method":"PUT","url":"https://app.example.com/api/orders/7","body":"{\"qty\":1}"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "QUEUED", body.Code)

	_, body = doJSON(t, app, http.MethodGet, "/api/offline/deferred", "")
	items, ok := body.Results.([]any)
	require.True(t, ok)
	assert.Len(t, items, 1)

	resp, body = doJSON(t, app, http.MethodPost, "/api/offline/online", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	report := body.Results.(map[string]any)
	assert.EqualValues(t, 0, report["remaining"])
}

func TestOfflineREST_Push(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/api/offline/push", `plain text ping`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	note := body.Results.(map[string]any)
	assert.Equal(t, "plain text ping", note["body"])
}

func TestOfflineREST_PoolStats(t *testing.T) {
	app, _, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/offline/pool/stats", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.EqualValues(t, 2, stats["num_workers"])
}

func TestProxy_ForwardsThroughMounts(t *testing.T) {
	app, _, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/feeds/latest?b=2&a=1", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `"url":"https://feeds.example.com/v1/latest?b=2&a=1"`)
	assert.Equal(t, "yes", resp.Header.Get("X-Upstream"))
	assert.Equal(t, "network", resp.Header.Get("X-Offline-Source"))
	assert.Equal(t, int64(len(raw)), resp.ContentLength)
}

func TestProxy_KeepsEncodedSlashInPath(t *testing.T) {
	app, _, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/feeds/pair/ETH%2FUSD", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `"url":"https://feeds.example.com/v1/pair/ETH%2FUSD"`)
}

func TestProxy_ServesStaticFromCacheWhenOffline(t *testing.T) {
	app, gw, up := newTestApp(t)
	require.NoError(t, gw.Lifecycle.Install(context.Background(), 1))

	up.setDown(true)
	req := httptest.NewRequest(http.MethodGet, "/app.js", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cache", resp.Header.Get("X-Offline-Source"))
	assert.Equal(t, "static", resp.Header.Get("X-Offline-Class"))
}

func TestProxy_QueuesOfflineMutation(t *testing.T) {
	app, gw, up := newTestApp(t)
	require.NoError(t, gw.Lifecycle.Install(context.Background(), 1))

	up.setDown(true)
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{"qty":1}`))
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "queued", resp.Header.Get("X-Offline-Source"))

	n, err := gw.Queue.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestProxy_ShareTargetRedirects(t *testing.T) {
	app, gw, _ := newTestApp(t)
	require.NoError(t, gw.Lifecycle.Install(context.Background(), 1))

	req := httptest.NewRequest(http.MethodGet, "/share-target?text=hello", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/?text=hello&title=&url=", resp.Header.Get("Location"))
}
