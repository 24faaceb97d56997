// Package navigator derives what the navigation bar shows and where "back"
// leads from the current route and the state of the resolvers.
package navigator

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"

	"github.com/jmcleod/ebm/flags"
	"github.com/jmcleod/ebm/model"
	"github.com/jmcleod/ebm/navtree"
	"github.com/jmcleod/ebm/observable"
	"github.com/jmcleod/ebm/orgctx"
	"github.com/jmcleod/ebm/session"
)

// Well-known routes.
const (
	RootRoute         = "/"
	LoginRoute        = "/account/login"
	UnauthorizedRoute = "/unauthorized"
)

// Router is the platform navigation surface.
type Router interface {
	Navigate(route string)
	// Back steps back in platform history and reports whether it could.
	Back() bool
}

// TreeSource provides the navigation tree.
type TreeSource interface {
	Current() navtree.Tree
	Subscribe(fn func(navtree.Tree)) func()
}

// FlagSource provides the resolved feature flags.
type FlagSource interface {
	Current() flags.Set
	Subscribe(fn func(flags.Set)) func()
}

// SessionSource provides the authentication state.
type SessionSource interface {
	State() session.State
	Subscribe(fn func(session.State)) func()
}

// OrgSource provides the organization context.
type OrgSource interface {
	State() orgctx.State
	Subscribe(fn func(orgctx.State)) func()
}

// View is the derived navigation state for the current route.
type View struct {
	// Route is the normalized current route.
	Route string
	// Stack is nil when no node matches Route.
	Stack *model.NavigationStack
	// Visible is the filtered, ordered set of nodes to display.
	Visible []model.NavNode
}

// Engine recomputes the View whenever the route or one of its inputs
// changes.
type Engine struct {
	tree    TreeSource
	flags   FlagSource
	session SessionSource
	org     OrgSource
	router  Router
	logger  *slog.Logger
	view    *observable.Subject[View]

	mu          sync.Mutex
	route       string
	unsubscribe []func()
	// computing is set while one goroutine owns recompute-and-publish.
	// dirty asks that owner for another pass with fresh inputs.
	computing bool
	dirty     bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New returns an Engine showing the root level for "/".
func New(tree TreeSource, fl FlagSource, sess SessionSource, org OrgSource, router Router, opts ...Option) *Engine {
	e := &Engine{
		tree:    tree,
		flags:   fl,
		session: sess,
		org:     org,
		router:  router,
		logger:  slog.Default(),
		route:   RootRoute,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.view = observable.New(e.compute(RootRoute))
	return e
}

// Start registers the engine with its inputs. Any emission recomputes the
// view for the current route.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unsubscribe != nil {
		return
	}
	e.unsubscribe = []func(){
		e.tree.Subscribe(func(navtree.Tree) { e.refresh() }),
		e.flags.Subscribe(func(flags.Set) { e.refresh() }),
		e.session.Subscribe(e.onSession),
		e.org.Subscribe(func(orgctx.State) { e.refresh() }),
	}
}

// Stop detaches the engine from its inputs.
func (e *Engine) Stop() {
	e.mu.Lock()
	subs := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()
	for _, unsubscribe := range subs {
		unsubscribe()
	}
}

func (e *Engine) onSession(st session.State) {
	e.refresh()
	if !st.Authenticated && st.Reason == session.ReasonRefreshFailed {
		e.logger.Info("session expired, routing to login")
		e.navigate(LoginRoute)
	}
}

// RouteChanged recomputes the view for route.
func (e *Engine) RouteChanged(route string) {
	route = navtree.NormalizeRoute(route)
	e.mu.Lock()
	e.route = route
	e.mu.Unlock()
	e.refresh()
}

// refresh recomputes and publishes the view. Only one goroutine publishes at
// a time; a refresh requested meanwhile makes it run again, so the last
// published view is always built from inputs read after the last emission.
func (e *Engine) refresh() {
	e.mu.Lock()
	e.dirty = true
	if e.computing {
		e.mu.Unlock()
		return
	}
	e.computing = true
	for e.dirty {
		e.dirty = false
		route := e.route
		e.mu.Unlock()
		e.view.Set(e.compute(route))
		e.mu.Lock()
	}
	e.computing = false
	e.mu.Unlock()
}

// compute derives the view for route from a snapshot of every input.
func (e *Engine) compute(route string) View {
	tree := e.tree.Current()
	policy := e.policy()

	path := tree.PathToRoute(route)
	if path == nil {
		return View{Route: route, Visible: policy.apply(tree.Roots())}
	}

	current := path[len(path)-1]
	stack := &model.NavigationStack{
		CurrentNode: current,
		Depth:       len(path),
		Breadcrumbs: path,
	}
	if len(path) > 1 {
		parent := path[len(path)-2]
		stack.ParentNode = &parent
	}

	var siblings []model.NavNode
	switch {
	case stack.Depth == 1:
		// Root-level routes keep the primary tabs even when the node has
		// children of its own.
		siblings = tree.Roots()
	case current.HasChildren():
		siblings = current.Children
	case stack.ParentNode != nil && stack.ParentNode.HasChildren():
		siblings = stack.ParentNode.Children
	default:
		siblings = tree.Roots()
	}
	return View{Route: route, Stack: stack, Visible: policy.apply(siblings)}
}

func (e *Engine) policy() visibility {
	org := e.org.State()
	return visibility{
		flags:         e.flags.Current(),
		authenticated: e.session.State().Authenticated,
		orgAdmin:      org.Role == model.RoleAdmin,
	}
}

// visibility decides whether a node is shown.
type visibility struct {
	flags         flags.Set
	authenticated bool
	orgAdmin      bool
}

// shows applies the feature flag first, then visibleWhen. RequiresAuth and
// RequiresOrgAdmin are guard concerns and do not hide a node.
func (v visibility) shows(n model.NavNode) bool {
	if n.FeatureKey != "" && !v.flags.IsEnabled(n.FeatureKey) {
		return false
	}
	switch n.VisibleWhen {
	case model.VisibleAuthenticated:
		return v.authenticated
	case model.VisibleUnauthenticated:
		return !v.authenticated
	case model.VisibleOrgAdmin:
		return v.orgAdmin
	default:
		return true
	}
}

// apply filters nodes and stable-sorts them by order, unordered last.
func (v visibility) apply(nodes []model.NavNode) []model.NavNode {
	out := make([]model.NavNode, 0, len(nodes))
	for _, n := range nodes {
		if v.shows(n) {
			out = append(out, n)
		}
	}
	slices.SortStableFunc(out, func(a, b model.NavNode) int {
		oa, aok := a.Order()
		ob, bok := b.Order()
		switch {
		case aok && bok:
			return cmp.Compare(oa, ob)
		case aok:
			return -1
		case bok:
			return 1
		default:
			return 0
		}
	})
	return out
}

// View returns the current view.
func (e *Engine) View() View {
	return e.view.Value()
}

// Visible returns the nodes currently shown.
func (e *Engine) Visible() []model.NavNode {
	return e.view.Value().Visible
}

// Stack returns the current navigation stack, or nil.
func (e *Engine) Stack() *model.NavigationStack {
	return e.view.Value().Stack
}

// Subscribe registers fn for view changes.
func (e *Engine) Subscribe(fn func(View)) func() {
	return e.view.Subscribe(fn)
}

// Push navigates into node. Nodes without a route are ignored.
func (e *Engine) Push(node model.NavNode) {
	if node.Route == "" {
		return
	}
	e.navigate(node.Route)
}

// Pop navigates back: to the parent's route, else the nearest routed
// ancestor, else platform history, else the root route.
func (e *Engine) Pop() {
	stack := e.view.Value().Stack
	if stack != nil {
		if stack.ParentNode != nil && stack.ParentNode.Route != "" {
			e.navigate(stack.ParentNode.Route)
			return
		}
		if len(stack.Breadcrumbs) >= 2 {
			for i := len(stack.Breadcrumbs) - 2; i >= 0; i-- {
				if r := stack.Breadcrumbs[i].Route; r != "" {
					e.navigate(r)
					return
				}
			}
		}
	}
	if e.router.Back() {
		return
	}
	e.navigate(RootRoute)
}

// NavigateToRoot navigates to the root route.
func (e *Engine) NavigateToRoot() {
	e.navigate(RootRoute)
}

// CanGoBack reports whether the current node has a parent.
func (e *Engine) CanGoBack() bool {
	stack := e.view.Value().Stack
	return stack != nil && stack.Depth > 1
}

func (e *Engine) navigate(route string) {
	e.router.Navigate(route)
	e.RouteChanged(route)
}
