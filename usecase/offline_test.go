package usecase

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/AzielCF/az-offline/core/config"
	domainOffline "github.com/AzielCF/az-offline/domains/offline"
	"github.com/AzielCF/az-offline/offline"
	"github.com/AzielCF/az-offline/offline/domain/lifecycle"
	"github.com/AzielCF/az-offline/offline/domain/request"
	pkgError "github.com/AzielCF/az-offline/pkg/error"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okFetcher() request.Fetcher {
	return request.FetcherFunc(func(_ context.Context, req *request.Request) (*request.Response, error) {
		return &request.Response{
			Status: http.StatusOK,
			Header: http.Header{"Content-Type": {"application/json"}},
			Body:   []byte(`{"path":"` + req.URL.Path + `"}`),
			Source: request.SourceNetwork,
		}, nil
	})
}

func newService(t *testing.T) (domainOffline.IOfflineUsecase, *offline.Gateway) {
	t.Helper()
	cfg := &config.Config{
		App:      config.AppConfig{Version: "test", EntryPoint: "/"},
		Database: config.DatabaseConfig{Driver: "memory"},
		Cache: config.CacheConfig{
			Backend:         "memory",
			Version:         1,
			Manifest:        []string{"https://app.example.com/"},
			DefaultTTL:      30 * time.Second,
			ShareTargetPath: "/share-target",
		},
		Upstreams: []config.UpstreamConfig{{BaseURL: "https://app.example.com"}},
		Deferred:  config.DeferredConfig{MaxAttempts: 3},
		Refresh: config.RefreshConfig{Resources: []config.RefreshResource{
			{Name: "leaderboard", URL: "https://app.example.com/api/leaderboard"},
		}},
		WorkerPool: config.WorkerPoolConfig{Size: 2, QueueSize: 8},
	}
	gw, err := offline.New(context.Background(), cfg, offline.Options{Fetcher: okFetcher()})
	require.NoError(t, err)
	require.NoError(t, gw.Bootstrap(context.Background()))
	t.Cleanup(gw.Stop)
	return NewOfflineService(gw), gw
}

func TestOfflineService_InstallAndStatus(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	snap, err := svc.Install(ctx, domainOffline.InstallRequest{Version: 1})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateServing, snap.State)

	status, err := svc.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.Lifecycle.Current)
	assert.Equal(t, 1, status.Lifecycle.Current.Version)
	assert.Len(t, status.Stores, 3)
	assert.Zero(t, status.PendingWrites)
	assert.Len(t, status.Resources, 1)
	assert.Equal(t, "disabled", status.Valkey)
}

func TestOfflineService_InstallErrorsAreTyped(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Install(ctx, domainOffline.InstallRequest{Version: 0})
	assert.IsType(t, pkgError.ValidationError(""), err)

	_, err = svc.Install(ctx, domainOffline.InstallRequest{Version: 2})
	require.NoError(t, err)

	_, err = svc.Install(ctx, domainOffline.InstallRequest{Version: 2})
	assert.IsType(t, pkgError.ConflictError(""), err)
}

func TestOfflineService_EnqueueAndList(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.EnqueueDeferred(ctx, domainOffline.EnqueueRequest{
		Method: "post",
		URL:    "https://app.example.com/api/orders",
		Header: map[string]string{"Content-Type": "application/json"},
		Body:   `{"qty":2}`,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)

	items, err := svc.ListDeferred(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, http.MethodPost, items[0].Payload.Method)
	assert.Equal(t, `{"qty":2}`, string(items[0].Payload.Body))

	report, err := svc.Online(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{res.ID}, report.Succeeded)
	assert.Zero(t, report.Remaining)
}

func TestOfflineService_EnqueueRejectsRelativeURL(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.EnqueueDeferred(context.Background(), domainOffline.EnqueueRequest{Method: "POST", URL: "/api/orders"})
	assert.IsType(t, pkgError.ValidationError(""), err)
}

func TestOfflineService_PeriodicSyncAndLatest(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Latest(ctx, "nope")
	assert.IsType(t, pkgError.NotFoundError(""), err)

	_, err = svc.Install(ctx, domainOffline.InstallRequest{Version: 1})
	require.NoError(t, err)

	_, err = svc.Latest(ctx, "leaderboard")
	assert.IsType(t, pkgError.NotFoundError(""), err)

	report, err := svc.PeriodicSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"leaderboard"}, report.Refreshed)

	latest, err := svc.Latest(ctx, "leaderboard")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, latest.Status)
	assert.Equal(t, `{"path":"/api/leaderboard"}`, latest.Body)
	assert.True(t, strings.HasSuffix(latest.Age, "ago") || latest.Age == "now")
}

func TestOfflineService_Push(t *testing.T) {
	svc, _ := newService(t)

	note, err := svc.Push(context.Background(), []byte(`{"body":"Your order shipped"}`))
	require.NoError(t, err)
	assert.Equal(t, "Your order shipped", note.Body)
	assert.NotEmpty(t, note.Title)

	_, err = svc.Push(context.Background(), []byte(`{"title":"x","url":"not a uri"}`))
	assert.IsType(t, pkgError.ValidationError(""), err)
}

func TestOfflineService_FetchShareTarget(t *testing.T) {
	svc, _ := newService(t)

	req, _ := request.New(http.MethodGet, "https://app.example.com/share-target?title=Hi")
	resp := svc.Fetch(context.Background(), req)
	assert.Equal(t, http.StatusSeeOther, resp.Status)
	assert.Equal(t, "/?text=&title=Hi&url=", resp.Header.Get("Location"))
}
