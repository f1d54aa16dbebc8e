package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/AzielCF/az-offline/offline/domain/common"
	"github.com/AzielCF/az-offline/offline/domain/request"
)

type EventType string

const (
	EventInstall      EventType = "install"
	EventActivate     EventType = "activate"
	EventFetch        EventType = "fetch"
	EventOnline       EventType = "online"
	EventPeriodicSync EventType = "periodic_sync"
	EventPush         EventType = "push"
)

// Event is the single input shape of every handler. Only the fields relevant
// to Type are set.
type Event struct {
	Type    EventType
	Version int
	Request *request.Request
	Payload []byte
}

// Result carries whatever the handler produced: a response for fetch, a
// report for the background events.
type Result struct {
	Response *request.Response
	Value    any
	Err      error
}

type Handler func(ctx context.Context, ev Event) Result

// Router is the dispatch table every entry point goes through.
type Router struct {
	mu       sync.RWMutex
	handlers map[EventType]Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[EventType]Handler)}
}

func (r *Router) Register(t EventType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

func (r *Router) Dispatch(ctx context.Context, ev Event) Result {
	r.mu.RLock()
	h, ok := r.handlers[ev.Type]
	r.mu.RUnlock()
	if !ok {
		return Result{Err: fmt.Errorf("%w: %s", common.ErrUnknownEvent, ev.Type)}
	}
	return h(ctx, ev)
}

// Components groups everything the default handlers need.
type Components struct {
	Lifecycle     *Controller
	Dispatcher    *Dispatcher
	Queue         *DeferredQueue
	Refresher     *Refresher
	Notifications *Notifications
}

// NewDefaultRouter binds each event type to its component.
func NewDefaultRouter(c Components) *Router {
	r := NewRouter()

	r.Register(EventInstall, func(ctx context.Context, ev Event) Result {
		err := c.Lifecycle.Install(ctx, ev.Version)
		return Result{Value: c.Lifecycle.Snapshot(), Err: err}
	})
	r.Register(EventActivate, func(ctx context.Context, _ Event) Result {
		err := c.Lifecycle.Activate(ctx)
		return Result{Value: c.Lifecycle.Snapshot(), Err: err}
	})
	r.Register(EventFetch, func(ctx context.Context, ev Event) Result {
		return Result{Response: c.Dispatcher.Handle(ctx, ev.Request)}
	})
	r.Register(EventOnline, func(ctx context.Context, _ Event) Result {
		report, err := c.Queue.ReplayAll(ctx)
		return Result{Value: report, Err: err}
	})
	r.Register(EventPeriodicSync, func(ctx context.Context, _ Event) Result {
		return Result{Value: c.Refresher.Tick(ctx)}
	})
	r.Register(EventPush, func(ctx context.Context, ev Event) Result {
		note, err := c.Notifications.Handle(ctx, ev.Payload)
		return Result{Value: note, Err: err}
	})
	return r
}
