// Package flags resolves the feature flags of the active scope.
//
// A scope is either global or one organization. Loading a scope replaces the
// whole flag set: organization results are never merged per key with global
// ones.
package flags

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/jmcleod/ebm/cache"
	"github.com/jmcleod/ebm/model"
	"github.com/jmcleod/ebm/observable"
)

// Fetcher retrieves the flag set of one scope.
type Fetcher interface {
	FeatureFlags(ctx context.Context, organizationID string) (*model.FeatureFlagConfig, error)
}

// Source tells where the state after a load came from.
type Source string

const (
	SourceNetwork   Source = "network"
	SourceCache     Source = "cache"
	SourceOverrides Source = "overrides"
	// SourceNone means the load changed nothing.
	SourceNone Source = "none"
	// SourceStale means a newer load superseded this one.
	SourceStale Source = "stale"
)

// Outcome reports how a load resolved. Err holds the fetch failure, if any,
// even when a fallback was applied.
type Outcome struct {
	Scope  string
	Source Source
	Err    error
}

// Set is an immutable resolved flag set for one scope.
type Set struct {
	scope string
	flags []model.FeatureFlag
	byKey map[string]model.FeatureFlag
}

// NewSet builds a Set from flags.
func NewSet(scope string, flags []model.FeatureFlag) Set {
	byKey := make(map[string]model.FeatureFlag, len(flags))
	for _, f := range flags {
		byKey[f.Key] = f
	}
	return Set{scope: scope, flags: slices.Clone(flags), byKey: byKey}
}

// Scope returns the scope key the set was resolved for.
func (s Set) Scope() string { return s.scope }

// IsEnabled reports the flag's value, false when unknown.
func (s Set) IsEnabled(key string) bool {
	return s.byKey[key].Enabled
}

// Flag returns the flag with the given key.
func (s Set) Flag(key string) (model.FeatureFlag, bool) {
	f, ok := s.byKey[key]
	return f, ok
}

// All returns the flags in server order.
func (s Set) All() []model.FeatureFlag {
	return slices.Clone(s.flags)
}

// EnabledKeys returns the keys of every enabled flag.
func (s Set) EnabledKeys() mapset.Set[string] {
	keys := mapset.NewThreadUnsafeSet[string]()
	for _, f := range s.flags {
		if f.Enabled {
			keys.Add(f.Key)
		}
	}
	return keys
}

// Resolver holds the current flag set and reloads it per scope.
type Resolver struct {
	fetch  Fetcher
	table  *cache.Table[model.FeatureFlagConfig]
	logger *slog.Logger
	state  *observable.Subject[Set]

	seq      atomic.Uint64
	commitMu sync.Mutex

	overridesMu sync.RWMutex
	overrides   map[string][]string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver returns a Resolver with an empty global set.
func NewResolver(fetch Fetcher, store *cache.Store, opts ...Option) *Resolver {
	r := &Resolver{
		fetch:     fetch,
		table:     cache.NewTable[model.FeatureFlagConfig](store, cache.TableFeatureFlags),
		logger:    slog.Default(),
		state:     observable.New(NewSet(cache.DefaultScope, nil)),
		overrides: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Hydrate publishes the cached global snapshot, if any, without touching the
// network.
func (r *Resolver) Hydrate() bool {
	seq := r.seq.Add(1)
	cfg, ok := r.table.Get(cache.DefaultScope)
	if !ok {
		return false
	}
	return r.commit(seq, cache.DefaultScope, cfg.Flags)
}

// Load resolves the flags of organizationID, or the global scope when empty.
//
// The cached snapshot of the scope is published first, then replaced by the
// network result. On fetch failure the cached snapshot stays; without one,
// the organization's override keys are applied to the last known flag
// definitions; otherwise the current state is left untouched. A load that
// was superseded by a later one never changes state.
func (r *Resolver) Load(ctx context.Context, organizationID string) Outcome {
	seq := r.seq.Add(1)
	scope := cache.ScopeKey(organizationID)
	logger := r.logger.With(slog.String("scope", scope))

	cached, hasCached := r.table.Get(scope)
	if hasCached {
		r.commit(seq, scope, cached.Flags)
	}

	cfg, err := r.fetch.FeatureFlags(ctx, organizationID)
	if err == nil {
		if !r.commit(seq, scope, cfg.Flags) {
			logger.Debug("discarding stale flag response")
			return Outcome{Scope: scope, Source: SourceStale}
		}
		if perr := r.table.Put(scope, *cfg, 0); perr != nil {
			logger.Warn("persisting flags failed", slog.Any("error", perr))
		}
		logger.Debug("flags loaded", slog.Int("count", len(cfg.Flags)))
		return Outcome{Scope: scope, Source: SourceNetwork}
	}

	logger.Warn("loading flags failed", slog.Any("error", err))
	if r.seq.Load() != seq {
		return Outcome{Scope: scope, Source: SourceStale, Err: err}
	}
	if hasCached {
		return Outcome{Scope: scope, Source: SourceCache, Err: err}
	}
	if flags, ok := r.fromOverrides(organizationID); ok {
		if r.commit(seq, scope, flags) {
			return Outcome{Scope: scope, Source: SourceOverrides, Err: err}
		}
		return Outcome{Scope: scope, Source: SourceStale, Err: err}
	}
	return Outcome{Scope: scope, Source: SourceNone, Err: err}
}

// SetOverrides records the flag keys an organization enables. They are used
// only when neither the network nor the cache can provide the scope.
func (r *Resolver) SetOverrides(organizationID string, keys []string) {
	r.overridesMu.Lock()
	defer r.overridesMu.Unlock()
	if keys == nil {
		delete(r.overrides, organizationID)
		return
	}
	r.overrides[organizationID] = slices.Clone(keys)
}

// ClearOverrides forgets every registered override.
func (r *Resolver) ClearOverrides() {
	r.overridesMu.Lock()
	defer r.overridesMu.Unlock()
	clear(r.overrides)
}

func (r *Resolver) fromOverrides(organizationID string) ([]model.FeatureFlag, bool) {
	if organizationID == "" {
		return nil, false
	}
	r.overridesMu.RLock()
	keys, ok := r.overrides[organizationID]
	r.overridesMu.RUnlock()
	if !ok {
		return nil, false
	}

	defs := r.state.Value().flags
	if global, ok := r.table.Get(cache.DefaultScope); ok {
		defs = global.Flags
	}
	enabled := mapset.NewThreadUnsafeSet(keys...)
	flags := make([]model.FeatureFlag, 0, len(defs))
	for _, f := range defs {
		f.Enabled = enabled.Contains(f.Key)
		f.Scope = model.ScopeOrganization
		flags = append(flags, f)
	}
	return flags, true
}

// commit publishes flags if seq is still the newest load.
func (r *Resolver) commit(seq uint64, scope string, flags []model.FeatureFlag) bool {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()
	if r.seq.Load() != seq {
		return false
	}
	r.state.Set(NewSet(scope, flags))
	return true
}

// Current returns the current flag set.
func (r *Resolver) Current() Set {
	return r.state.Value()
}

// IsEnabled reports whether key is enabled in the current set.
func (r *Resolver) IsEnabled(key string) bool {
	return r.state.Value().IsEnabled(key)
}

// EnabledKeys returns the enabled keys of the current set.
func (r *Resolver) EnabledKeys() mapset.Set[string] {
	return r.state.Value().EnabledKeys()
}

// Subscribe registers fn for flag set changes. fn must not call Load
// synchronously.
func (r *Resolver) Subscribe(fn func(Set)) func() {
	return r.state.Subscribe(fn)
}
