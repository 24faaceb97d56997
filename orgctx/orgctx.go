// Package orgctx tracks which organization is active for the signed-in user,
// the user's memberships, and the role they hold in the active organization.
package orgctx

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmcleod/ebm/cache"
	"github.com/jmcleod/ebm/model"
	"github.com/jmcleod/ebm/observable"
	"github.com/jmcleod/ebm/session"
)

// MembershipTTL is how long the fetched membership list stays cached.
const MembershipTTL = 30 * time.Minute

// Phase is the state machine position.
type Phase int

const (
	Unauthenticated Phase = iota
	NoOrganization
	Active
)

func (p Phase) String() string {
	switch p {
	case Unauthenticated:
		return "unauthenticated"
	case NoOrganization:
		return "no_organization"
	case Active:
		return "active"
	}
	return "unknown"
}

// State is the published organization context.
type State struct {
	Phase         Phase
	Active        *model.Organization
	Organizations []model.Organization
	// Role is empty unless an organization is active and the user has a
	// membership record for it.
	Role model.Role
}

// Fetcher batch-fetches organization details.
type Fetcher interface {
	Organizations(ctx context.Context, ids []string) ([]model.Organization, error)
}

// Session is the part of the session store the resolver observes.
type Session interface {
	State() session.State
	Subscribe(fn func(session.State)) func()
}

// Reloader reloads one organization-scoped resolver.
type Reloader func(ctx context.Context, organizationID string) error

// OverrideSink receives the flag keys an organization enables.
type OverrideSink interface {
	SetOverrides(organizationID string, keys []string)
	ClearOverrides()
}

// Resolver is the organization context state machine.
type Resolver struct {
	fetch     Fetcher
	session   Session
	cache     *cache.Store
	logger    *slog.Logger
	reloaders map[string]Reloader
	overrides OverrideSink
	state     *observable.Subject[State]

	// mu serializes transitions.
	mu        sync.Mutex
	loadedKey string
	seq       atomic.Uint64
	// activeGen is bumped by every activation and by reset. Pending
	// activation work runs only while its generation is current.
	activeGen uint64
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithReloader registers a scoped reload run on every activation.
func WithReloader(name string, fn Reloader) Option {
	return func(r *Resolver) {
		r.reloaders[name] = fn
	}
}

// WithOverrideSink forwards organization flag keys to sink.
func WithOverrideSink(sink OverrideSink) Option {
	return func(r *Resolver) {
		r.overrides = sink
	}
}

// NewResolver returns a resolver in the Unauthenticated phase.
func NewResolver(fetch Fetcher, sess Session, store *cache.Store, opts ...Option) *Resolver {
	r := &Resolver{
		fetch:     fetch,
		session:   sess,
		cache:     store,
		logger:    slog.Default(),
		reloaders: make(map[string]Reloader),
		state:     observable.New(State{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run follows session changes until ctx is done. Bursts of session updates
// are coalesced to the latest one.
func (r *Resolver) Run(ctx context.Context) {
	updates := make(chan session.State, 1)
	unsubscribe := r.session.Subscribe(func(st session.State) {
		for {
			select {
			case updates <- st:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	r.HandleSession(ctx, r.session.State())
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-updates:
			r.HandleSession(ctx, st)
		}
	}
}

// HandleSession applies one session state to the state machine.
func (r *Resolver) HandleSession(ctx context.Context, st session.State) {
	if !st.Authenticated {
		r.reset()
		return
	}

	user := st.User
	if user == nil {
		r.mu.Lock()
		if r.state.Value().Phase == Unauthenticated {
			r.state.Set(State{Phase: NoOrganization})
		}
		r.mu.Unlock()
		return
	}

	key := membershipKey(user)
	r.mu.Lock()
	if key == r.loadedKey && r.state.Value().Phase != Unauthenticated {
		// Same memberships; roles may still have changed.
		r.state.Update(func(s State) State {
			if s.Active != nil {
				s.Role = roleFor(user, s.Active.ID)
			}
			return s
		})
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.loadMemberships(ctx, user, key)
}

func (r *Resolver) loadMemberships(ctx context.Context, user *model.User, key string) {
	seq := r.seq.Add(1)
	logger := r.logger.With(slog.String("user_id", user.ID))

	ids := user.MembershipIDs()
	var orgs []model.Organization
	if len(ids) > 0 {
		fetched, err := r.fetch.Organizations(ctx, ids)
		if err == nil {
			orgs = fetched
			if perr := r.cache.Put(cache.KeyUserOrganizations, orgs, MembershipTTL); perr != nil {
				logger.Warn("caching memberships failed", slog.Any("error", perr))
			}
		} else {
			logger.Warn("loading memberships failed, using cache", slog.Any("error", err))
			if !r.cache.Get(cache.KeyUserOrganizations, &orgs) {
				orgs = nil
			}
		}
	}

	r.mu.Lock()
	current := r.session.State()
	if r.seq.Load() != seq || !current.Authenticated || current.User == nil || current.User.ID != user.ID {
		r.mu.Unlock()
		logger.Debug("discarding stale membership load")
		return
	}
	r.loadedKey = key

	prev := r.state.Value()
	next := State{Phase: NoOrganization, Organizations: orgs}
	var restore *model.Organization
	if prev.Active != nil {
		restore = findOrg(orgs, prev.Active.ID)
	}
	if restore == nil {
		var cachedID string
		if r.cache.Get(cache.KeyActiveOrganization, &cachedID) {
			restore = findOrg(orgs, cachedID)
		}
	}
	if restore == nil {
		r.state.Set(next)
		r.mu.Unlock()
		logger.Info("memberships loaded", slog.Int("count", len(orgs)))
		return
	}
	gen := r.commitLocked(*restore, orgs)
	r.mu.Unlock()

	logger.Info("memberships loaded, restoring organization",
		slog.Int("count", len(orgs)),
		slog.String("organization_id", restore.ID))
	r.finishActivation(ctx, gen, *restore)
}

// SwitchOrganization makes id the active organization. It reports false,
// without changing any state, when the session is signed out or id is not
// one of the user's organizations.
func (r *Resolver) SwitchOrganization(ctx context.Context, id string) bool {
	r.mu.Lock()
	st := r.state.Value()
	if st.Phase == Unauthenticated || !r.session.State().Authenticated {
		r.mu.Unlock()
		r.logger.Warn("organization switch while signed out", slog.String("organization_id", id))
		return false
	}
	org := findOrg(st.Organizations, id)
	if org == nil {
		r.mu.Unlock()
		r.logger.Warn("organization switch rejected: not a member", slog.String("organization_id", id))
		return false
	}
	gen := r.commitLocked(*org, st.Organizations)
	r.mu.Unlock()

	r.finishActivation(ctx, gen, *org)
	return true
}

// commitLocked publishes org as the active organization among orgs, persists
// its id and registers its override keys. r.mu must be held.
func (r *Resolver) commitLocked(org model.Organization, orgs []model.Organization) uint64 {
	r.activeGen++
	r.state.Set(State{
		Phase:         Active,
		Active:        &org,
		Organizations: orgs,
		Role:          roleFor(r.session.State().User, org.ID),
	})
	if err := r.cache.Put(cache.KeyActiveOrganization, org.ID, 0); err != nil {
		r.logger.Warn("persisting active organization failed",
			slog.String("organization_id", org.ID), slog.Any("error", err))
	}
	if r.overrides != nil && org.FeatureFlags != nil {
		r.overrides.SetOverrides(org.ID, org.FeatureFlags)
	}
	return r.activeGen
}

// finishActivation runs the scoped reloads for org unless a later switch or
// a sign-out superseded generation gen.
func (r *Resolver) finishActivation(ctx context.Context, gen uint64, org model.Organization) {
	logger := r.logger.With(slog.String("organization_id", org.ID))

	r.mu.Lock()
	current := r.activeGen == gen && r.session.State().Authenticated
	r.mu.Unlock()
	if !current {
		logger.Debug("activation superseded, skipping reloads")
		return
	}

	var g errgroup.Group
	for name, reload := range r.reloaders {
		g.Go(func() error {
			if err := reload(ctx, org.ID); err != nil {
				logger.Warn("scoped reload fell back", slog.String("resolver", name), slog.Any("error", err))
			}
			return nil
		})
	}
	_ = g.Wait()
	logger.Info("organization activated")
}

func (r *Resolver) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq.Add(1)
	r.activeGen++
	r.loadedKey = ""
	if r.overrides != nil {
		r.overrides.ClearOverrides()
	}
	if r.state.Value().Phase != Unauthenticated {
		r.state.Set(State{})
	}
}

// State returns the current context.
func (r *Resolver) State() State {
	return r.state.Value()
}

// ActiveOrganization returns the active organization, or nil.
func (r *Resolver) ActiveOrganization() *model.Organization {
	return r.state.Value().Active
}

// ActiveOrganizationID returns the active organization id, or "".
func (r *Resolver) ActiveOrganizationID() string {
	if org := r.state.Value().Active; org != nil {
		return org.ID
	}
	return ""
}

// Organizations returns the user's organizations.
func (r *Resolver) Organizations() []model.Organization {
	return slices.Clone(r.state.Value().Organizations)
}

// Role returns the role in the active organization, or "".
func (r *Resolver) Role() model.Role {
	return r.state.Value().Role
}

// IsOrgAdmin reports whether the user administers the active organization.
func (r *Resolver) IsOrgAdmin() bool {
	return r.state.Value().Role == model.RoleAdmin
}

// HasOrganization reports whether id is one of the user's organizations.
func (r *Resolver) HasOrganization(id string) bool {
	return findOrg(r.state.Value().Organizations, id) != nil
}

// Subscribe registers fn for context changes.
func (r *Resolver) Subscribe(fn func(State)) func() {
	return r.state.Subscribe(fn)
}

func findOrg(orgs []model.Organization, id string) *model.Organization {
	for i := range orgs {
		if orgs[i].ID == id {
			org := orgs[i]
			return &org
		}
	}
	return nil
}

func roleFor(user *model.User, organizationID string) model.Role {
	m, ok := user.Membership(organizationID)
	if !ok {
		return ""
	}
	return m.Role
}

func membershipKey(user *model.User) string {
	return user.ID + "|" + strings.Join(user.MembershipIDs(), ",")
}
