package offline

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/AzielCF/az-offline/core/config"
	"github.com/AzielCF/az-offline/core/database"
	"github.com/AzielCF/az-offline/infrastructure/network"
	"github.com/AzielCF/az-offline/infrastructure/signals"
	"github.com/AzielCF/az-offline/infrastructure/valkey"
	"github.com/AzielCF/az-offline/offline/application"
	"github.com/AzielCF/az-offline/offline/domain/cache"
	"github.com/AzielCF/az-offline/offline/domain/deferred"
	"github.com/AzielCF/az-offline/offline/domain/lifecycle"
	"github.com/AzielCF/az-offline/offline/domain/request"
	"github.com/AzielCF/az-offline/offline/repository"
	"github.com/AzielCF/az-offline/pkg/taskworker"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Gateway owns every long-lived component of the offline layer. It is built
// once per process; nothing in here is a package global.
type Gateway struct {
	cfg *config.Config

	DB     *gorm.DB
	Valkey *valkey.Client

	Fetcher       request.Fetcher
	Registry      *application.Registry
	Lifecycle     *application.Controller
	Dispatcher    *application.Dispatcher
	Queue         *application.DeferredQueue
	Refresher     *application.Refresher
	Notifications *application.Notifications
	Pool          *taskworker.Pool
	Router        *application.Router
	Upstreams     *Upstreams

	listener *signals.Listener
	cancel   context.CancelFunc
	closers  []func()
}

// Options override pieces of the default wiring. Tests use them to avoid
// real sockets.
type Options struct {
	Fetcher  request.Fetcher
	Notifier application.Notifier
	Now      func() time.Time
}

func New(ctx context.Context, cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ups, err := NewUpstreams(cfg.Upstreams)
	if err != nil {
		return nil, err
	}
	g.Upstreams = ups

	if err := g.connectStorage(ctx); err != nil {
		g.Close()
		return nil, err
	}

	backend, err := g.cacheBackend(ctx)
	if err != nil {
		g.Close()
		return nil, err
	}
	repo, err := g.deferredRepository(ctx)
	if err != nil {
		g.Close()
		return nil, err
	}

	g.Fetcher = opts.Fetcher
	if g.Fetcher == nil {
		f := network.NewFetcher(network.Config{
			Timeout:         cfg.Network.Timeout,
			MaxConnsPerHost: cfg.Network.MaxConnsPerHost,
			UserAgent:       "az-offline/" + cfg.App.Version,
		})
		g.Fetcher = f
		g.closers = append(g.closers, f.CloseIdle)
	}

	g.Registry = application.NewRegistry(backend)
	g.Pool = taskworker.NewPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize)
	g.Lifecycle = application.NewController(g.Registry, g.Fetcher, cfg.Cache.Manifest, opts.Now)

	g.Queue = application.NewDeferredQueue(repo, application.NewNetworkReplayer(g.Fetcher), cfg.Deferred.MaxAttempts, opts.Now)
	g.Queue.OnDropped = func(w deferred.DeferredWrite) {
		logrus.WithFields(logrus.Fields{
			"id":       w.ID,
			"method":   w.Payload.Method,
			"url":      w.Payload.URL,
			"attempts": w.Attempts,
		}).Error("[DEFERRED] Write permanently lost")
	}

	resources := make([]application.RefreshResource, 0, len(cfg.Refresh.Resources))
	for _, r := range cfg.Refresh.Resources {
		resources = append(resources, application.RefreshResource{Name: r.Name, URL: r.URL})
	}
	g.Refresher = application.NewRefresher(g.Registry, g.Fetcher, g.Lifecycle, resources, opts.Now)

	g.Notifications = application.NewNotifications(opts.Notifier, application.Notification{
		Title: cfg.Push.DefaultTitle,
		Icon:  cfg.Push.DefaultIcon,
		URL:   cfg.App.EntryPoint,
	})

	g.Dispatcher = application.NewDispatcher(application.DispatcherDeps{
		Classifier:         application.NewClassifier(classifierConfig(cfg)),
		Registry:           g.Registry,
		Fetcher:            g.Fetcher,
		Stores:             g.Lifecycle,
		Tasks:              g.Pool,
		Share:              application.NewShareTarget(cfg.App.EntryPoint),
		Deferrer:           g.Queue,
		DeferrablePrefixes: cfg.Deferred.Prefixes,
		ShellURL:           cfg.Cache.ShellURL,
		Now:                opts.Now,
	})

	g.Router = application.NewDefaultRouter(application.Components{
		Lifecycle:     g.Lifecycle,
		Dispatcher:    g.Dispatcher,
		Queue:         g.Queue,
		Refresher:     g.Refresher,
		Notifications: g.Notifications,
	})
	g.listener = signals.NewListener(g.Valkey, g.Router)

	return g, nil
}

func classifierConfig(cfg *config.Config) application.ClassifierConfig {
	var appHost string
	if origin := cfg.AppOrigin(); origin != "" {
		if u, err := url.Parse(origin); err == nil {
			appHost = u.Hostname()
		}
	}
	volatile := make([]application.VolatileRule, 0, len(cfg.Cache.Volatile))
	for _, v := range cfg.Cache.Volatile {
		volatile = append(volatile, application.VolatileRule{
			Host:         v.Host,
			PathPrefix:   v.PathPrefix,
			RequireQuery: v.RequireQuery,
			TTL:          v.TTL,
		})
	}
	return application.ClassifierConfig{
		AppHost:          appHost,
		ShareTargetPath:  cfg.Cache.ShareTargetPath,
		APIPrefixes:      cfg.Cache.APIPrefixes,
		APIHosts:         cfg.Cache.APIHosts,
		StaticExtensions: cfg.Cache.StaticExtensions,
		Manifest:         cfg.Cache.Manifest,
		Volatile:         volatile,
		DefaultTTL:       cfg.Cache.DefaultTTL,
	}
}

func (g *Gateway) connectStorage(ctx context.Context) error {
	cfg := g.cfg

	if cfg.Database.Driver != "memory" {
		db, err := database.NewDatabase(cfg)
		if err != nil {
			return err
		}
		g.DB = db
		g.closers = append(g.closers, func() {
			if err := database.Close(db); err != nil {
				logrus.WithError(err).Warn("[DATABASE] Close failed")
			}
		})
	}

	if cfg.Database.ValkeyEnabled {
		client, err := valkey.NewClient(valkey.Config{
			Address:   cfg.Database.ValkeyAddress,
			Password:  cfg.Database.ValkeyPassword,
			DB:        cfg.Database.ValkeyDB,
			KeyPrefix: cfg.Database.ValkeyKeyPrefix,
		})
		if err != nil {
			if cfg.Cache.Backend == "valkey" {
				return err
			}
			logrus.WithError(err).Warn("[VALKEY] Unreachable, platform signals disabled")
			return nil
		}
		g.Valkey = client
		g.closers = append(g.closers, client.Close)
		logrus.Infof("[VALKEY] Connected to %s", cfg.Database.ValkeyAddress)
	}
	return nil
}

func (g *Gateway) cacheBackend(ctx context.Context) (cache.Backend, error) {
	switch g.cfg.Cache.Backend {
	case "valkey":
		if g.Valkey == nil {
			return nil, fmt.Errorf("cache backend valkey: no valkey connection")
		}
		return repository.NewValkeyCacheBackend(g.Valkey), nil
	case "sql":
		if g.DB == nil {
			return nil, fmt.Errorf("cache backend sql: DB_DRIVER is memory")
		}
		b := repository.NewGormCacheBackend(g.DB)
		if err := b.Init(ctx); err != nil {
			return nil, fmt.Errorf("migrate cache tables: %w", err)
		}
		return b, nil
	default:
		return repository.NewMemoryCacheBackend(), nil
	}
}

func (g *Gateway) deferredRepository(ctx context.Context) (deferred.Repository, error) {
	if g.DB == nil {
		logrus.Warn("[DEFERRED] No database configured, queued writes will not survive a restart")
		return repository.NewMemoryDeferredRepository(), nil
	}
	repo := repository.NewDeferredGormRepository(g.DB)
	if err := repo.Init(ctx); err != nil {
		return nil, fmt.Errorf("migrate deferred_writes: %w", err)
	}
	return repo, nil
}

// Bootstrap restores the active version and starts the task pool. One-shot
// commands stop here.
func (g *Gateway) Bootstrap(ctx context.Context) error {
	g.Pool.Start(ctx)
	return g.Lifecycle.Bootstrap(ctx)
}

// Start runs the resident parts: the configured install, the refresh loop
// and the signal listener. It returns immediately.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.Bootstrap(ctx); err != nil {
		return err
	}
	ctx, g.cancel = context.WithCancel(ctx)

	go g.installConfigured(ctx)

	if g.cfg.Refresh.Interval > 0 {
		go g.Refresher.RunEvery(ctx, g.cfg.Refresh.Interval)
	}
	g.listener.Start(ctx)
	return nil
}

// installConfigured installs the configured version when it is newer than
// the one being served. The current version keeps serving if it fails.
func (g *Gateway) installConfigured(ctx context.Context) {
	want := g.cfg.Cache.Version
	if cur, ok := g.Lifecycle.Current(); ok && cur.Version >= want {
		logrus.Infof("[LIFECYCLE] Serving version %d", cur.Version)
		return
	}
	res := g.Router.Dispatch(ctx, application.Event{Type: application.EventInstall, Version: want})
	if res.Err != nil {
		logrus.WithError(res.Err).Errorf("[LIFECYCLE] Install of version %d failed", want)
		return
	}
	if snap, ok := res.Value.(lifecycle.Snapshot); ok {
		logrus.Infof("[LIFECYCLE] Version %d installed, state %s", want, snap.State)
	}
}

// Stop drains background writes and releases connections.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	if g.Pool != nil {
		g.Pool.Stop()
	}
	g.Close()
}

func (g *Gateway) Close() {
	for i := len(g.closers) - 1; i >= 0; i-- {
		g.closers[i]()
	}
	g.closers = nil
}
