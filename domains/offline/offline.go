package offline

import (
	"context"

	"github.com/AzielCF/az-offline/offline/application"
	"github.com/AzielCF/az-offline/offline/domain/cache"
	"github.com/AzielCF/az-offline/offline/domain/deferred"
	"github.com/AzielCF/az-offline/offline/domain/lifecycle"
	"github.com/AzielCF/az-offline/offline/domain/request"
	"github.com/AzielCF/az-offline/pkg/taskworker"
)

type InstallRequest struct {
	Version int `json:"version" form:"version"`
}

type EnqueueRequest struct {
	Method string            `json:"method"`
	URL    string            `json:"url"`
	Header map[string]string `json:"header"`
	Body   string            `json:"body"`
}

type EnqueueResponse struct {
	ID string `json:"id"`
}

type StatusResponse struct {
	Lifecycle     lifecycle.Snapshot            `json:"lifecycle"`
	Stores        []cache.StoreStats            `json:"stores"`
	PendingWrites int64                         `json:"pending_writes"`
	Resources     []application.RefreshResource `json:"resources"`
	Valkey        string                        `json:"valkey"`
}

type LatestResponse struct {
	Name     string              `json:"name"`
	Status   int                 `json:"status"`
	Header   map[string][]string `json:"header"`
	Body     string              `json:"body"`
	StoredAt string              `json:"stored_at"`
	Age      string              `json:"age"`
}

type IOfflineUsecase interface {
	Fetch(ctx context.Context, req *request.Request) *request.Response

	Status(ctx context.Context) (StatusResponse, error)
	Install(ctx context.Context, req InstallRequest) (lifecycle.Snapshot, error)
	Activate(ctx context.Context) (lifecycle.Snapshot, error)

	Online(ctx context.Context) (deferred.ReplayReport, error)
	ListDeferred(ctx context.Context) ([]deferred.DeferredWrite, error)
	EnqueueDeferred(ctx context.Context, req EnqueueRequest) (EnqueueResponse, error)

	PeriodicSync(ctx context.Context) (application.RefreshReport, error)
	Latest(ctx context.Context, name string) (LatestResponse, error)

	Push(ctx context.Context, payload []byte) (application.Notification, error)
	PoolStats(ctx context.Context) taskworker.PoolStats
}
