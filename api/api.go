// Package api is an in-memory reference backend serving the endpoints the
// client consumes. It exists for local development and tests.
package api

import (
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/ebm/internal/util"
	"github.com/jmcleod/ebm/model"
	"github.com/jmcleod/ebm/navtree"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	store       *store
	tokens      *tokenSigner
	tree        func() []model.NavNode
	rateLimiter *loginRateLimiter
	metrics     *metricsCollector
	logger      *slog.Logger
	now         func() time.Time
	secret      []byte
	latency     time.Duration
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithSecret sets the token signing secret. A random secret is generated
// when none is given.
func WithSecret(secret []byte) Option {
	return func(a *API) {
		a.secret = secret
	}
}

// WithClock overrides the time source used for tokens.
func WithClock(now func() time.Time) Option {
	return func(a *API) {
		a.now = now
	}
}

// WithNavigationTree replaces the base navigation tree.
func WithNavigationTree(tree func() []model.NavNode) Option {
	return func(a *API) {
		a.tree = tree
	}
}

// WithAlertFunc registers a callback for login failure spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.metrics = newMetricsCollector(fn)
	}
}

// WithLatency delays every response, for exercising client timeouts and
// stale-response handling.
func WithLatency(d time.Duration) Option {
	return func(a *API) {
		a.latency = d
	}
}

// New creates an API seeded with the demo dataset.
func New(opts ...Option) (*API, error) {
	a := &API{
		store:       newStore(),
		tree:        navtree.DefaultTree,
		rateLimiter: newLoginRateLimiter(),
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if len(a.secret) == 0 {
		secret, err := util.RandomBytes(32)
		if err != nil {
			return nil, fmt.Errorf("generating token secret: %w", err)
		}
		a.secret = secret
	}
	if a.metrics == nil {
		a.metrics = newMetricsCollector(func(ev AlertEvent) {
			a.logger.Warn(ev.Message, slog.String("alert", string(ev.Type)), slog.Int("count", ev.Count))
		})
	}
	a.tokens = &tokenSigner{secret: a.secret, now: a.now}
	if err := a.store.seedDemo(a.now()); err != nil {
		return nil, err
	}
	return a, nil
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)
	if a.latency > 0 {
		r.Use(a.delay)
	}

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "redoc",
	}, nil))

	r.Get("/health", a.Health)

	r.Post("/auth/login", a.Login)
	r.Post("/auth/refresh", a.Refresh)
	r.With(a.AuthMiddleware).Post("/auth/logout", a.Logout)

	r.Get("/feature-flags", a.ListFeatureFlags)
	r.Post("/feature-flags/check", a.CheckFeatureFlag)
	r.With(a.AuthMiddleware).Put("/feature-flags/{key}", a.UpdateFeatureFlag)

	r.Get("/navigation", a.Navigation)

	r.Group(func(r chi.Router) {
		r.Use(a.AuthMiddleware)
		r.Get("/users/me", a.CurrentUser)
		r.Get("/users/organizations", a.UserOrganizations)
		r.Post("/organizations/batch", a.OrganizationsBatch)
		r.Get("/organizations/{organizationID}/feature-flags", a.OrganizationFeatureFlags)
	})

	return r
}

func (a *API) delay(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(a.latency):
		case <-r.Context().Done():
			return
		}
		next.ServeHTTP(w, r)
	})
}
