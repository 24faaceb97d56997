// Package syncer re-runs the scoped reloads when connectivity returns, when
// the user signs in and on a fixed interval, never running two syncs at once.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/jmcleod/ebm/cache"
	"github.com/jmcleod/ebm/observable"
	"github.com/jmcleod/ebm/session"
)

// DefaultInterval is the periodic sync interval.
const DefaultInterval = 5 * time.Minute

// Task reloads one resolver for the given scope and reports whether the
// result came from the network.
type Task func(ctx context.Context, organizationID string) (fromNetwork bool, err error)

// OrgSource provides the active organization.
type OrgSource interface {
	ActiveOrganizationID() string
}

// SessionSource provides the authentication state.
type SessionSource interface {
	IsAuthenticated() bool
	Subscribe(fn func(session.State)) func()
}

// SkipReason explains why SyncAll did nothing.
type SkipReason string

const (
	NotSkipped SkipReason = ""
	SkipOffline SkipReason = "offline"
	SkipBusy    SkipReason = "already_syncing"
)

// Result describes one SyncAll call.
type Result struct {
	RunID   string
	Skipped SkipReason
	// Complete is true when every task fetched from the network.
	Complete bool
	// Err aggregates task failures.
	Err error
}

// Status is the published orchestrator state.
type Status struct {
	Online   bool
	Syncing  bool
	LastSync time.Time
}

type namedTask struct {
	name string
	run  Task
}

// Orchestrator coordinates full refreshes.
type Orchestrator struct {
	org      OrgSource
	session  SessionSource
	cache    *cache.Store
	logger   *slog.Logger
	now      func() time.Time
	interval time.Duration
	tasks    []namedTask
	status   *observable.Subject[Status]

	online  atomic.Bool
	syncing atomic.Bool

	// baseCtx scopes syncs triggered from callbacks; set by Run. stopped is
	// set once Run starts waiting for background syncs, after which no new
	// ones are spawned.
	ctxMu   sync.Mutex
	baseCtx context.Context
	stopped bool
	wg      sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithInterval sets the periodic sync interval.
func WithInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithClock overrides the time source for the last-sync timestamp.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithTask adds a task run by every sync.
func WithTask(name string, t Task) Option {
	return func(o *Orchestrator) {
		o.tasks = append(o.tasks, namedTask{name: name, run: t})
	}
}

// WithInitialOnline sets the connectivity assumed before the first signal.
func WithInitialOnline(online bool) Option {
	return func(o *Orchestrator) {
		o.online.Store(online)
	}
}

// New returns an Orchestrator. The last sync time is restored from cache.
func New(org OrgSource, sess SessionSource, store *cache.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		org:      org,
		session:  sess,
		cache:    store,
		logger:   slog.Default(),
		now:      time.Now,
		interval: DefaultInterval,
		baseCtx:  context.Background(),
	}
	o.online.Store(true)
	for _, opt := range opts {
		opt(o)
	}

	var last time.Time
	store.Get(cache.KeyLastSync, &last)
	o.status = observable.New(Status{Online: o.online.Load(), LastSync: last})
	return o
}

// Status returns the current status.
func (o *Orchestrator) Status() Status {
	return o.status.Value()
}

// Subscribe registers fn for status changes.
func (o *Orchestrator) Subscribe(fn func(Status)) func() {
	return o.status.Subscribe(fn)
}

// IsOnline reports the last known connectivity.
func (o *Orchestrator) IsOnline() bool { return o.online.Load() }

// IsSyncing reports whether a sync is in flight.
func (o *Orchestrator) IsSyncing() bool { return o.syncing.Load() }

// LastSync returns the time of the last complete sync.
func (o *Orchestrator) LastSync() time.Time { return o.status.Value().LastSync }

// SetOnline records a connectivity signal. Going from offline to online
// starts a sync in the background.
func (o *Orchestrator) SetOnline(online bool) {
	was := o.online.Swap(online)
	if was == online {
		return
	}
	o.status.Update(func(s Status) Status {
		s.Online = online
		return s
	})
	o.logger.Info("connectivity changed", slog.Bool("online", online))
	if online {
		o.spawn("reconnected")
	}
}

// Run drives the session and timer triggers until ctx is done, then waits
// for background syncs to finish.
func (o *Orchestrator) Run(ctx context.Context) {
	o.ctxMu.Lock()
	o.baseCtx = ctx
	o.stopped = false
	o.ctxMu.Unlock()

	var wasAuthenticated atomic.Bool
	wasAuthenticated.Store(o.session.IsAuthenticated())
	unsubscribe := o.session.Subscribe(func(st session.State) {
		if st.Authenticated && !wasAuthenticated.Swap(true) {
			if o.online.Load() {
				o.spawn("authenticated")
			}
			return
		}
		if !st.Authenticated {
			wasAuthenticated.Store(false)
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.ctxMu.Lock()
			o.stopped = true
			o.ctxMu.Unlock()
			o.wg.Wait()
			return
		case <-ticker.C:
			if o.online.Load() && o.session.IsAuthenticated() {
				o.spawn("interval")
			}
		}
	}
}

func (o *Orchestrator) spawn(trigger string) {
	o.ctxMu.Lock()
	ctx := o.baseCtx
	if o.stopped || ctx.Err() != nil {
		o.ctxMu.Unlock()
		return
	}
	o.wg.Add(1)
	o.ctxMu.Unlock()
	go func() {
		defer o.wg.Done()
		res := o.SyncAll(ctx)
		if res.Skipped != NotSkipped {
			o.logger.Debug("sync skipped", slog.String("trigger", trigger), slog.String("reason", string(res.Skipped)))
		}
	}()
}

// SyncAll runs every task in parallel for the active organization. It does
// nothing when offline or when another sync is running. The last-sync time
// is recorded only when every task fetched from the network.
func (o *Orchestrator) SyncAll(ctx context.Context) Result {
	if !o.online.Load() {
		return Result{Skipped: SkipOffline}
	}
	if !o.syncing.CompareAndSwap(false, true) {
		return Result{Skipped: SkipBusy}
	}
	o.setSyncing(true)
	defer func() {
		o.syncing.Store(false)
		o.setSyncing(false)
	}()

	runID := uuid.NewString()
	orgID := o.org.ActiveOrganizationID()
	logger := o.logger.With(slog.String("run_id", runID), slog.String("organization_id", orgID))
	logger.Debug("sync started")
	start := o.now()

	var (
		mu       sync.Mutex
		errs     *multierror.Error
		complete = true
		g        errgroup.Group
	)
	for _, t := range o.tasks {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%s: panic: %v", t.name, r)
				}
				if err != nil {
					mu.Lock()
					errs = multierror.Append(errs, err)
					complete = false
					mu.Unlock()
				}
			}()
			fromNetwork, terr := t.run(ctx, orgID)
			if terr != nil {
				return fmt.Errorf("%s: %w", t.name, terr)
			}
			if !fromNetwork {
				return fmt.Errorf("%s: %w", t.name, ErrNotFromNetwork)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{RunID: runID, Complete: complete, Err: errs.ErrorOrNil()}
	if !complete {
		logger.Warn("sync incomplete", slog.Any("error", res.Err))
		return res
	}

	now := o.now()
	if err := o.cache.Put(cache.KeyLastSync, now, 0); err != nil {
		logger.Warn("persisting last sync failed", slog.Any("error", err))
	}
	o.status.Update(func(s Status) Status {
		s.LastSync = now
		return s
	})
	logger.Info("sync complete", slog.Duration("took", now.Sub(start)))
	return res
}

// ErrNotFromNetwork marks a task that fell back to cached or default data.
var ErrNotFromNetwork = errors.New("served from fallback")

func (o *Orchestrator) setSyncing(v bool) {
	o.status.Update(func(s Status) Status {
		s.Syncing = v
		return s
	})
}
