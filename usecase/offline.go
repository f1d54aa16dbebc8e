package usecase

import (
	"context"
	"errors"
	"net/http"
	"time"

	domainOffline "github.com/AzielCF/az-offline/domains/offline"
	"github.com/AzielCF/az-offline/offline"
	"github.com/AzielCF/az-offline/offline/application"
	"github.com/AzielCF/az-offline/offline/domain/cache"
	"github.com/AzielCF/az-offline/offline/domain/common"
	"github.com/AzielCF/az-offline/offline/domain/deferred"
	"github.com/AzielCF/az-offline/offline/domain/lifecycle"
	"github.com/AzielCF/az-offline/offline/domain/request"
	pkgError "github.com/AzielCF/az-offline/pkg/error"
	"github.com/AzielCF/az-offline/pkg/taskworker"
	"github.com/AzielCF/az-offline/validations"
	"github.com/dustin/go-humanize"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"
)

type offlineService struct {
	gw  *offline.Gateway
	now func() time.Time
}

func NewOfflineService(gw *offline.Gateway) domainOffline.IOfflineUsecase {
	return &offlineService{gw: gw, now: time.Now}
}

func (s *offlineService) dispatch(ctx context.Context, ev application.Event) application.Result {
	return s.gw.Router.Dispatch(ctx, ev)
}

func (s *offlineService) Fetch(ctx context.Context, req *request.Request) *request.Response {
	res := s.dispatch(ctx, application.Event{Type: application.EventFetch, Request: req})
	if res.Response == nil {
		logrus.WithError(res.Err).Errorf("[OFFLINE] No response for %s %s", req.Method, req.URL.Redacted())
		return &request.Response{
			Status: http.StatusBadGateway,
			Header: http.Header{"Content-Type": {"application/json"}},
			Body:   []byte(`{"error":"no_response"}`),
			Source: request.SourceSynthesized,
		}
	}
	return res.Response
}

func (s *offlineService) Status(ctx context.Context) (domainOffline.StatusResponse, error) {
	out := domainOffline.StatusResponse{
		Lifecycle: s.gw.Lifecycle.Snapshot(),
		Resources: s.gw.Refresher.Resources(),
	}

	names, err := s.gw.Registry.ListStores(ctx)
	if err != nil {
		return out, err
	}
	for _, name := range names {
		st, err := s.gw.Registry.Stats(ctx, name)
		if err != nil {
			return out, err
		}
		out.Stores = append(out.Stores, st)
	}

	out.PendingWrites, err = s.gw.Queue.Count(ctx)
	out.Valkey = s.valkeyState(ctx)
	return out, err
}

func (s *offlineService) valkeyState(ctx context.Context) string {
	if s.gw.Valkey == nil {
		return "disabled"
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := s.gw.Valkey.Ping(ctx); err != nil {
		return "unreachable"
	}
	return "connected"
}

func (s *offlineService) Install(ctx context.Context, req domainOffline.InstallRequest) (lifecycle.Snapshot, error) {
	if err := validations.ValidateInstall(ctx, req); err != nil {
		return lifecycle.Snapshot{}, err
	}
	res := s.dispatch(ctx, application.Event{Type: application.EventInstall, Version: req.Version})
	snap, _ := res.Value.(lifecycle.Snapshot)
	return snap, translate(res.Err)
}

func (s *offlineService) Activate(ctx context.Context) (lifecycle.Snapshot, error) {
	res := s.dispatch(ctx, application.Event{Type: application.EventActivate})
	snap, _ := res.Value.(lifecycle.Snapshot)
	return snap, translate(res.Err)
}

func (s *offlineService) Online(ctx context.Context) (deferred.ReplayReport, error) {
	res := s.dispatch(ctx, application.Event{Type: application.EventOnline})
	report, _ := res.Value.(deferred.ReplayReport)
	return report, translate(res.Err)
}

func (s *offlineService) ListDeferred(ctx context.Context) ([]deferred.DeferredWrite, error) {
	return s.gw.Queue.Pending(ctx)
}

func (s *offlineService) EnqueueDeferred(ctx context.Context, req domainOffline.EnqueueRequest) (domainOffline.EnqueueResponse, error) {
	if err := validations.ValidateEnqueue(ctx, req); err != nil {
		return domainOffline.EnqueueResponse{}, err
	}
	header := http.Header{}
	for k, v := range req.Header {
		header.Set(k, v)
	}
	var body []byte
	if req.Body != "" {
		body = []byte(req.Body)
	}
	id, err := s.gw.Queue.Enqueue(ctx, deferred.Payload{
		Method: req.Method,
		URL:    req.URL,
		Header: header,
		Body:   body,
	})
	if err != nil {
		return domainOffline.EnqueueResponse{}, translate(err)
	}
	return domainOffline.EnqueueResponse{ID: id}, nil
}

func (s *offlineService) PeriodicSync(ctx context.Context) (application.RefreshReport, error) {
	res := s.dispatch(ctx, application.Event{Type: application.EventPeriodicSync})
	report, _ := res.Value.(application.RefreshReport)
	return report, translate(res.Err)
}

func (s *offlineService) Latest(ctx context.Context, name string) (domainOffline.LatestResponse, error) {
	if err := validations.ValidateResourceName(ctx, name); err != nil {
		return domainOffline.LatestResponse{}, err
	}
	known := false
	for _, r := range s.gw.Refresher.Resources() {
		if r.Name == name {
			known = true
			break
		}
	}
	if !known {
		return domainOffline.LatestResponse{}, pkgError.NotFoundError("unknown refresh resource: " + name)
	}

	entry, err := s.gw.Refresher.Latest(ctx, name)
	if err != nil {
		return domainOffline.LatestResponse{}, err
	}
	if entry == nil {
		return domainOffline.LatestResponse{}, pkgError.NotFoundError("resource " + name + " has not been refreshed yet")
	}
	return latestResponse(name, entry, s.now()), nil
}

func latestResponse(name string, e *cache.CacheEntry, now time.Time) domainOffline.LatestResponse {
	return domainOffline.LatestResponse{
		Name:     name,
		Status:   e.Status,
		Header:   e.Header,
		Body:     string(e.Body),
		StoredAt: e.StoredAt.UTC().Format(time.RFC3339),
		Age:      humanize.RelTime(e.StoredAt, now, "ago", "from now"),
	}
}

func (s *offlineService) Push(ctx context.Context, payload []byte) (application.Notification, error) {
	res := s.dispatch(ctx, application.Event{Type: application.EventPush, Payload: payload})
	note, _ := res.Value.(application.Notification)
	return note, translate(res.Err)
}

func (s *offlineService) PoolStats(_ context.Context) taskworker.PoolStats {
	return s.gw.Pool.GetStats()
}

// translate maps core errors onto the typed errors the REST layer understands.
func translate(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, common.ErrStaleVersion), errors.Is(err, common.ErrInstallInProgress):
		return pkgError.ConflictError(err.Error())
	case errors.Is(err, common.ErrDeferredNotFound):
		return pkgError.NotFoundError(err.Error())
	}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		return pkgError.ValidationError(err.Error())
	}
	return err
}
