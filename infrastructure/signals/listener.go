package signals

import (
	"context"
	"time"

	"github.com/AzielCF/az-offline/infrastructure/valkey"
	"github.com/AzielCF/az-offline/offline/application"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	ChannelPeriodic = "signal:periodic"
	ChannelOnline   = "signal:online"

	defaultLockTTL = 30 * time.Second
)

// EventRouter is the part of application.Router the listener needs.
type EventRouter interface {
	Dispatch(ctx context.Context, ev application.Event) application.Result
}

// Listener turns platform signals published on Valkey into router events.
// Every gateway instance subscribes; a per-signal lock makes sure only one
// of them acts on it.
type Listener struct {
	client  *valkey.Client
	router  EventRouter
	lockTTL time.Duration
	events  map[string]application.EventType
}

func NewListener(client *valkey.Client, router EventRouter) *Listener {
	return &Listener{
		client:  client,
		router:  router,
		lockTTL: defaultLockTTL,
		events: map[string]application.EventType{
			ChannelPeriodic: application.EventPeriodicSync,
			ChannelOnline:   application.EventOnline,
		},
	}
}

// Start subscribes in the background until ctx ends.
func (l *Listener) Start(ctx context.Context) {
	if l.client == nil {
		logrus.Warn("[SIGNALS] Valkey disabled. Platform signals must use the admin API or CLI.")
		return
	}

	channels := make([]string, 0, len(l.events))
	for ch := range l.events {
		channels = append(channels, ch)
	}
	logrus.Infof("[SIGNALS] Watching channels %v", channels)

	go func() {
		err := l.client.Subscribe(ctx, func(channel, message string) {
			l.handle(ctx, channel, message)
		}, channels...)
		if err != nil && ctx.Err() == nil {
			logrus.WithError(err).Error("[SIGNALS] Pub/Sub listener failed")
		}
	}()
}

func (l *Listener) handle(ctx context.Context, channel, message string) {
	evType, ok := l.events[channel]
	if !ok {
		return
	}
	if !l.acquire(ctx, string(evType), message) {
		logrus.Debugf("[SIGNALS] %s %s already taken by another instance", evType, message)
		return
	}

	// Receive callbacks must not block the subscription connection.
	go func() {
		res := l.router.Dispatch(ctx, application.Event{Type: evType})
		if res.Err != nil {
			logrus.WithError(res.Err).Errorf("[SIGNALS] %s handler failed", evType)
			return
		}
		logrus.Debugf("[SIGNALS] %s handled: %+v", evType, res.Value)
	}()
}

func (l *Listener) acquire(ctx context.Context, event, id string) bool {
	ok, err := l.client.TryLock(ctx, l.lockTTL, "signal", event, id)
	if err != nil {
		logrus.WithError(err).Warn("[SIGNALS] Lock acquisition failed")
	}
	return ok
}

// Notify publishes a signal so that one running gateway handles it.
func Notify(ctx context.Context, client *valkey.Client, channel string) error {
	return client.Publish(ctx, channel, uuid.NewString())
}
