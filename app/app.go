// Package app builds the resolver graph from configuration and drives its
// background loops.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"

	"github.com/jmcleod/ebm/cache"
	"github.com/jmcleod/ebm/client"
	"github.com/jmcleod/ebm/config"
	"github.com/jmcleod/ebm/flags"
	"github.com/jmcleod/ebm/navigator"
	"github.com/jmcleod/ebm/navtree"
	"github.com/jmcleod/ebm/orgctx"
	"github.com/jmcleod/ebm/session"
	"github.com/jmcleod/ebm/storage"
	bboltstorage "github.com/jmcleod/ebm/storage/bbolt"
	"github.com/jmcleod/ebm/storage/memory"
	"github.com/jmcleod/ebm/storage/postgres"
	"github.com/jmcleod/ebm/syncer"
)

// App holds every component of a running client.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Cache     *cache.Store
	Client    *client.Client
	Session   *session.Store
	Flags     *flags.Resolver
	Nav       *navtree.Resolver
	Orgs      *orgctx.Resolver
	Navigator *navigator.Engine
	History   *navigator.History
	Sync      *syncer.Orchestrator
	Monitor   *syncer.Monitor

	closers []func() error
}

type options struct {
	logger *slog.Logger
	repo   storage.Repository
	client []client.Option
	router navigator.Router
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRepository supplies the cache repository instead of opening the
// configured backend. The caller keeps ownership.
func WithRepository(repo storage.Repository) Option {
	return func(o *options) {
		o.repo = repo
	}
}

// WithClientOptions adds options for the HTTP client.
func WithClientOptions(opts ...client.Option) Option {
	return func(o *options) {
		o.client = append(o.client, opts...)
	}
}

// WithRouter replaces the in-process history with a platform router.
func WithRouter(r navigator.Router) Option {
	return func(o *options) {
		o.router = r
	}
}

// New opens storage and wires the resolvers. Nothing touches the network
// until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	a := &App{Config: cfg, Logger: o.logger}

	repo := o.repo
	if repo == nil {
		var err error
		if repo, err = a.openRepository(ctx); err != nil {
			return nil, err
		}
	}

	cacheOpts := []cache.Option{cache.WithLogger(a.component("cache"))}
	if cfg.Storage.Secret != "" {
		sealer, err := storage.NewSealer([]byte(cfg.Storage.Secret))
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() error { sealer.Destroy(); return nil })
		cacheOpts = append(cacheOpts, cache.WithSealer(sealer, cache.TableCache))
	}
	a.Cache = cache.New(repo, cacheOpts...)

	clientOpts := append([]client.Option{
		client.WithTimeout(cfg.HTTP.Timeout),
		client.WithLogger(a.component("client")),
	}, o.client...)
	c, err := client.New(cfg.APIURL, clientOpts...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Client = c

	a.Session = session.New(c, a.Cache, session.WithLogger(a.component("session")))
	c.SetAuthenticator(a.Session)

	a.Flags = flags.NewResolver(c, a.Cache, flags.WithLogger(a.component("flags")))
	a.Nav = navtree.NewResolver(c, a.Cache, navtree.WithLogger(a.component("navtree")))
	a.Orgs = orgctx.NewResolver(c, a.Session, a.Cache,
		orgctx.WithLogger(a.component("orgctx")),
		orgctx.WithReloader("flags", a.reloadFlags),
		orgctx.WithReloader("navigation", a.reloadNavigation),
		orgctx.WithOverrideSink(a.Flags),
	)

	router := o.router
	if router == nil {
		a.History = navigator.NewHistory(func(route string) {
			a.Navigator.RouteChanged(route)
		})
		router = a.History
	}
	a.Navigator = navigator.New(a.Nav, a.Flags, a.Session, a.Orgs, router,
		navigator.WithLogger(a.component("navigator")))

	a.Sync = syncer.New(a.Orgs, a.Session, a.Cache,
		syncer.WithLogger(a.component("syncer")),
		syncer.WithInterval(cfg.Sync.Interval),
		syncer.WithTask("navigation", a.syncNavigation),
		syncer.WithTask("flags", a.syncFlags),
	)
	a.Monitor = syncer.NewMonitor(c, a.Sync.SetOnline,
		syncer.WithProbeInterval(cfg.Sync.ProbeInterval),
		syncer.WithProbeTimeout(cfg.HTTP.Timeout),
		syncer.WithMonitorLogger(a.component("monitor")),
	)
	return a, nil
}

func (a *App) component(name string) *slog.Logger {
	return a.Logger.With(slog.String("component", name))
}

func (a *App) openRepository(ctx context.Context) (storage.Repository, error) {
	switch a.Config.Storage.Backend {
	case config.BackendMemory:
		repo := memory.NewRepository()
		repo.Start()
		a.closers = append(a.closers, func() error { repo.Close(); return nil })
		return repo, nil
	case config.BackendPostgres:
		repo, err := postgres.NewRepositoryFromDSN(ctx, a.Config.Storage.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { repo.Close(); return nil })
		return repo, nil
	default:
		if err := os.MkdirAll(a.Config.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(a.Config.DataDir, "cache.db"), &bolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		return repo, nil
	}
}

func (a *App) reloadFlags(ctx context.Context, orgID string) error {
	return a.Flags.Load(ctx, orgID).Err
}

func (a *App) reloadNavigation(ctx context.Context, orgID string) error {
	return a.Nav.Load(ctx, orgID).Err
}

func (a *App) syncFlags(ctx context.Context, orgID string) (bool, error) {
	out := a.Flags.Load(ctx, orgID)
	return out.Source == flags.SourceNetwork, out.Err
}

func (a *App) syncNavigation(ctx context.Context, orgID string) (bool, error) {
	out := a.Nav.Load(ctx, orgID)
	return out.Source == navtree.SourceNetwork, out.Err
}

// Start prepares the client: expired cache entries are swept, the resolvers
// are hydrated from cache, the session is restored and the organization
// context follows it. When no organization becomes active the default
// scope is loaded.
func (a *App) Start(ctx context.Context) {
	if n := a.Cache.ClearExpired(ctx); n > 0 {
		a.Logger.Debug("cleared expired cache entries", slog.Int("count", n))
	}
	a.Flags.Hydrate()
	a.Nav.Hydrate()
	a.Session.Restore(ctx)
	a.Orgs.HandleSession(ctx, a.Session.State())

	if a.Orgs.ActiveOrganizationID() == "" {
		var g errgroup.Group
		g.Go(func() error { return a.reloadFlags(ctx, "") })
		g.Go(func() error { return a.reloadNavigation(ctx, "") })
		if err := g.Wait(); err != nil {
			a.Logger.Warn("initial load incomplete", slog.Any("error", err))
		}
	}
}

// Run drives the organization context, the sync triggers and the
// connectivity monitor until ctx is done.
func (a *App) Run(ctx context.Context) error {
	a.Navigator.Start()
	defer a.Navigator.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { a.Orgs.Run(ctx); return nil })
	g.Go(func() error { a.Sync.Run(ctx); return nil })
	g.Go(func() error { a.Monitor.Run(ctx); return nil })
	return g.Wait()
}

// Close releases storage and key material.
func (a *App) Close() error {
	var errs *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	a.closers = nil
	return errs.ErrorOrNil()
}
