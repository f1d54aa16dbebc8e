package application

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/AzielCF/az-offline/offline/domain/common"
	"github.com/AzielCF/az-offline/offline/domain/deferred"
	"github.com/AzielCF/az-offline/offline/domain/request"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultMaxAttempts bounds replays when no cap is configured.
const DefaultMaxAttempts = 5

var mutationMethods = []interface{}{
	http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete,
}

// DeferredQueue holds mutations made while offline and replays them later.
type DeferredQueue struct {
	repo        deferred.Repository
	replayer    deferred.Replayer
	maxAttempts int
	now         func() time.Time

	// OnDropped is called for every item that exhausted its attempts.
	OnDropped func(w deferred.DeferredWrite)

	replayMu sync.Mutex
}

func NewDeferredQueue(repo deferred.Repository, replayer deferred.Replayer, maxAttempts int, now func() time.Time) *DeferredQueue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if now == nil {
		now = time.Now
	}
	return &DeferredQueue{
		repo:        repo,
		replayer:    replayer,
		maxAttempts: maxAttempts,
		now:         now,
	}
}

func (q *DeferredQueue) MaxAttempts() int {
	return q.maxAttempts
}

func (q *DeferredQueue) Enqueue(ctx context.Context, p deferred.Payload) (string, error) {
	p.Method = strings.ToUpper(p.Method)
	if err := validatePayload(p); err != nil {
		return "", err
	}

	w := deferred.DeferredWrite{
		ID:        uuid.NewString(),
		Payload:   p,
		CreatedAt: q.now(),
	}
	if err := q.repo.Add(ctx, w); err != nil {
		return "", fmt.Errorf("enqueue deferred write: %w", err)
	}
	logrus.Infof("[DEFERRED] Queued %s %s as %s", p.Method, p.URL, w.ID)
	return w.ID, nil
}

func validatePayload(p deferred.Payload) error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Method, validation.Required, validation.In(mutationMethods...)),
		validation.Field(&p.URL, validation.Required, validation.By(absoluteURL)),
	)
}

func absoluteURL(value interface{}) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}

func (q *DeferredQueue) Pending(ctx context.Context) ([]deferred.DeferredWrite, error) {
	return q.repo.List(ctx)
}

func (q *DeferredQueue) Count(ctx context.Context) (int64, error) {
	return q.repo.Count(ctx)
}

// ReplayAll attempts every queued item once, oldest first. A failing item
// never blocks the ones behind it. Concurrent calls run one after another.
func (q *DeferredQueue) ReplayAll(ctx context.Context) (deferred.ReplayReport, error) {
	q.replayMu.Lock()
	defer q.replayMu.Unlock()

	report := deferred.ReplayReport{
		Succeeded: []string{},
		Failed:    []string{},
		Dropped:   []string{},
	}

	items, err := q.repo.List(ctx)
	if err != nil {
		return report, fmt.Errorf("list deferred writes: %w", err)
	}

	for _, item := range items {
		report.Attempted++
		if err := q.replayer.Replay(ctx, item); err != nil {
			q.handleFailure(ctx, item, err, &report)
			continue
		}
		if err := q.repo.Remove(ctx, item.ID); err != nil {
			logrus.WithError(err).Errorf("[DEFERRED] Replayed %s but could not remove it", item.ID)
		}
		report.Succeeded = append(report.Succeeded, item.ID)
	}

	remaining, err := q.repo.Count(ctx)
	if err != nil {
		return report, fmt.Errorf("count deferred writes: %w", err)
	}
	report.Remaining = remaining

	if report.Attempted > 0 {
		logrus.Infof("[DEFERRED] Replay done: %d ok, %d failed, %d dropped, %d remaining",
			len(report.Succeeded), len(report.Failed), len(report.Dropped), report.Remaining)
	}
	return report, nil
}

func (q *DeferredQueue) handleFailure(ctx context.Context, item deferred.DeferredWrite, cause error, report *deferred.ReplayReport) {
	updated, err := q.repo.RecordFailure(ctx, item.ID, cause.Error())
	if err != nil {
		logrus.WithError(err).Errorf("[DEFERRED] Could not record failure of %s", item.ID)
		report.Failed = append(report.Failed, item.ID)
		return
	}

	if updated.Attempts < q.maxAttempts {
		logrus.WithError(cause).Warnf("[DEFERRED] Replay of %s failed (attempt %d/%d)", item.ID, updated.Attempts, q.maxAttempts)
		report.Failed = append(report.Failed, item.ID)
		return
	}

	if err := q.repo.Remove(ctx, item.ID); err != nil {
		logrus.WithError(err).Errorf("[DEFERRED] Could not drop %s", item.ID)
		report.Failed = append(report.Failed, item.ID)
		return
	}
	logrus.WithFields(logrus.Fields{
		"id":       updated.ID,
		"method":   updated.Payload.Method,
		"url":      updated.Payload.URL,
		"attempts": updated.Attempts,
	}).WithError(cause).Warn("[DEFERRED] Dropping write after max attempts")
	report.Dropped = append(report.Dropped, item.ID)
	if q.OnDropped != nil {
		q.OnDropped(updated)
	}
}

// NetworkReplayer re-issues queued writes through a Fetcher. Only a 2xx
// answer counts as acknowledged.
type NetworkReplayer struct {
	fetcher request.Fetcher
}

func NewNetworkReplayer(fetcher request.Fetcher) *NetworkReplayer {
	return &NetworkReplayer{fetcher: fetcher}
}

func (r *NetworkReplayer) Replay(ctx context.Context, w deferred.DeferredWrite) error {
	req, err := request.New(w.Payload.Method, w.Payload.URL)
	if err != nil {
		return err
	}
	if w.Payload.Header != nil {
		req.Header = w.Payload.Header.Clone()
	}
	req.Header.Set("Idempotency-Key", w.ID)
	req.Body = w.Payload.Body

	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("%w: status %d", common.ErrReplayRejected, resp.Status)
	}
	return nil
}
