// Package navtree resolves the navigation tree of the active scope and
// answers lookups against it.
package navtree

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jmcleod/ebm/cache"
	"github.com/jmcleod/ebm/model"
	"github.com/jmcleod/ebm/observable"
)

// Fetcher retrieves the navigation tree of one scope.
type Fetcher interface {
	Navigation(ctx context.Context, organizationID string) ([]model.NavNode, error)
}

// Source tells where the tree after a load came from.
type Source string

const (
	SourceNetwork Source = "network"
	SourceCache   Source = "cache"
	SourceDefault Source = "default"
	SourceStale   Source = "stale"
)

// Outcome reports how a load resolved.
type Outcome struct {
	Scope  string
	Source Source
	Err    error
}

// Resolver holds the current tree. It starts out with the built-in default
// tree, so there is always something to navigate.
type Resolver struct {
	fetch    Fetcher
	table    *cache.Table[model.NavigationResponse]
	defaults []model.NavNode
	logger   *slog.Logger
	state    *observable.Subject[Tree]

	seq      atomic.Uint64
	commitMu sync.Mutex
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithDefaultTree replaces the built-in fallback tree.
func WithDefaultTree(tree []model.NavNode) Option {
	return func(r *Resolver) {
		r.defaults = tree
	}
}

// NewResolver returns a Resolver publishing the default tree.
func NewResolver(fetch Fetcher, store *cache.Store, opts ...Option) *Resolver {
	r := &Resolver{
		fetch:    fetch,
		table:    cache.NewTable[model.NavigationResponse](store, cache.TableNavigationConfig),
		defaults: DefaultTree(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.state = observable.New(NewTree(cache.DefaultScope, r.defaults))
	return r
}

// Hydrate publishes the cached global tree, if any.
func (r *Resolver) Hydrate() bool {
	seq := r.seq.Add(1)
	resp, ok := r.table.Get(cache.DefaultScope)
	if !ok {
		return false
	}
	return r.commit(seq, cache.DefaultScope, resp.Tree)
}

// Load resolves the tree of organizationID, or the global tree when empty.
// The fallback order on failure is the scope's cached tree, then the
// default tree. A superseded load never changes state.
func (r *Resolver) Load(ctx context.Context, organizationID string) Outcome {
	seq := r.seq.Add(1)
	scope := cache.ScopeKey(organizationID)
	logger := r.logger.With(slog.String("scope", scope))

	cached, hasCached := r.table.Get(scope)
	if hasCached {
		r.commit(seq, scope, cached.Tree)
	}

	tree, err := r.fetch.Navigation(ctx, organizationID)
	if err == nil {
		if !r.commit(seq, scope, tree) {
			logger.Debug("discarding stale navigation response")
			return Outcome{Scope: scope, Source: SourceStale}
		}
		if perr := r.table.Put(scope, model.NavigationResponse{Tree: tree}, 0); perr != nil {
			logger.Warn("persisting navigation failed", slog.Any("error", perr))
		}
		return Outcome{Scope: scope, Source: SourceNetwork}
	}

	logger.Warn("loading navigation failed", slog.Any("error", err))
	if r.seq.Load() != seq {
		return Outcome{Scope: scope, Source: SourceStale, Err: err}
	}
	if hasCached {
		return Outcome{Scope: scope, Source: SourceCache, Err: err}
	}
	if !r.commit(seq, scope, r.defaults) {
		return Outcome{Scope: scope, Source: SourceStale, Err: err}
	}
	return Outcome{Scope: scope, Source: SourceDefault, Err: err}
}

func (r *Resolver) commit(seq uint64, scope string, roots []model.NavNode) bool {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()
	if r.seq.Load() != seq {
		return false
	}
	r.state.Set(NewTree(scope, roots))
	return true
}

// Current returns the current tree.
func (r *Resolver) Current() Tree {
	return r.state.Value()
}

// FindByID looks id up in the current tree.
func (r *Resolver) FindByID(id string) (model.NavNode, bool) {
	return r.state.Value().FindByID(id)
}

// FindByRoute looks route up in the current tree.
func (r *Resolver) FindByRoute(route string) (model.NavNode, bool) {
	return r.state.Value().FindByRoute(route)
}

// Subscribe registers fn for tree changes. fn must not call Load
// synchronously.
func (r *Resolver) Subscribe(fn func(Tree)) func() {
	return r.state.Subscribe(fn)
}
