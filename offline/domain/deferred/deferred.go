package deferred

import (
	"context"
	"net/http"
	"time"
)

// Payload is the mutation to re-issue once connectivity returns.
type Payload struct {
	Method string      `json:"method"`
	URL    string      `json:"url"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body,omitempty"`
}

// DeferredWrite lives in the queue until its replay succeeds or it runs out of attempts.
type DeferredWrite struct {
	ID        string    `json:"id"`
	Payload   Payload   `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
}

// Repository persists queued writes. List returns items in FIFO order.
type Repository interface {
	Init(ctx context.Context) error
	Add(ctx context.Context, w DeferredWrite) error
	List(ctx context.Context) ([]DeferredWrite, error)
	Get(ctx context.Context, id string) (DeferredWrite, error)
	Remove(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string, lastError string) (DeferredWrite, error)
	Count(ctx context.Context) (int64, error)
}

// Replayer re-issues a single queued write. A nil error means the write was acknowledged.
type Replayer interface {
	Replay(ctx context.Context, w DeferredWrite) error
}

// ReplayReport summarizes one ReplayAll pass.
type ReplayReport struct {
	Attempted int      `json:"attempted"`
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
	Dropped   []string `json:"dropped"`
	Remaining int64    `json:"remaining"`
}
