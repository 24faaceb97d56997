package navigator

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ebm/cache"
	"github.com/jmcleod/ebm/flags"
	"github.com/jmcleod/ebm/model"
	"github.com/jmcleod/ebm/navtree"
	"github.com/jmcleod/ebm/observable"
	"github.com/jmcleod/ebm/orgctx"
	"github.com/jmcleod/ebm/session"
)

type treeSource struct{ *observable.Subject[navtree.Tree] }

func (s treeSource) Current() navtree.Tree { return s.Value() }

type flagSource struct{ *observable.Subject[flags.Set] }

func (s flagSource) Current() flags.Set { return s.Value() }

type sessionSource struct{ *observable.Subject[session.State] }

func (s sessionSource) State() session.State { return s.Value() }

type orgSource struct{ *observable.Subject[orgctx.State] }

func (s orgSource) State() orgctx.State { return s.Value() }

type fakeRouter struct {
	navigated []string
	history   bool
	backs     int
}

func (r *fakeRouter) Navigate(route string) { r.navigated = append(r.navigated, route) }

func (r *fakeRouter) Back() bool {
	r.backs++
	return r.history
}

func (r *fakeRouter) last() string {
	if len(r.navigated) == 0 {
		return ""
	}
	return r.navigated[len(r.navigated)-1]
}

type harness struct {
	tree    treeSource
	flags   flagSource
	session sessionSource
	org     orgSource
	router  *fakeRouter
	engine  *Engine
}

func newHarness(t *testing.T, roots []model.NavNode, enabled ...string) *harness {
	t.Helper()
	var fl []model.FeatureFlag
	for _, k := range enabled {
		fl = append(fl, model.FeatureFlag{Key: k, Enabled: true, Scope: model.ScopeGlobal})
	}
	h := &harness{
		tree:    treeSource{observable.New(navtree.NewTree(cache.DefaultScope, roots))},
		flags:   flagSource{observable.New(flags.NewSet(cache.DefaultScope, fl))},
		session: sessionSource{observable.New(session.State{})},
		org:     orgSource{observable.New(orgctx.State{})},
		router:  &fakeRouter{},
	}
	h.engine = New(h.tree, h.flags, h.session, h.org, h.router)
	h.engine.Start()
	t.Cleanup(h.engine.Stop)
	return h
}

func ids(nodes []model.NavNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func order(n int) *model.NavMetadata { return &model.NavMetadata{Order: model.IntPtr(n)} }

func TestEndToEndHomeA(t *testing.T) {
	roots := []model.NavNode{
		{ID: "home", Label: "Home", Route: "/home", Children: []model.NavNode{
			{ID: "a", Label: "A", Route: "/home/a"},
		}},
	}
	h := newHarness(t, roots)

	h.engine.RouteChanged("/home/a?x=1#y")

	stack := h.engine.Stack()
	require.NotNil(t, stack)
	assert.Equal(t, []string{"home", "a"}, ids(stack.Breadcrumbs))
	assert.Equal(t, 2, stack.Depth)
	require.NotNil(t, stack.ParentNode)
	assert.Equal(t, "home", stack.ParentNode.ID)
	assert.Equal(t, "a", stack.CurrentNode.ID)
	assert.Equal(t, []string{"a"}, ids(h.engine.Visible()))
	assert.True(t, h.engine.CanGoBack())

	h.engine.Pop()
	assert.Equal(t, "/home", h.router.last())
	assert.Equal(t, "/home", h.engine.View().Route)
	assert.False(t, h.engine.CanGoBack())
}

func TestRootLevelPinning(t *testing.T) {
	roots := []model.NavNode{
		{ID: "home", Label: "Home", Route: "/home", Metadata: order(1), Children: []model.NavNode{
			{ID: "a", Label: "A", Route: "/home/a"},
			{ID: "b", Label: "B", Route: "/home/b"},
		}},
		{ID: "market", Label: "Market", Route: "/market", Metadata: order(2)},
		{ID: "work", Label: "Work", Route: "/work", FeatureKey: "work", Metadata: order(3)},
	}
	h := newHarness(t, roots)

	h.engine.RouteChanged("/home")

	assert.Equal(t, 1, h.engine.Stack().Depth)
	assert.Nil(t, h.engine.Stack().ParentNode)
	assert.Equal(t, []string{"home", "market"}, ids(h.engine.Visible()))

	h.engine.RouteChanged("/")
	unmatched := h.engine.Visible()
	h.engine.RouteChanged("/home")
	assert.Equal(t, ids(unmatched), ids(h.engine.Visible()))
}

func TestSiblingSetPolicy(t *testing.T) {
	roots := []model.NavNode{
		{ID: "home", Label: "Home", Route: "/home", Children: []model.NavNode{
			{ID: "a", Label: "A", Route: "/home/a", Children: []model.NavNode{
				{ID: "a1", Label: "A1", Route: "/home/a/1"},
				{ID: "a2", Label: "A2", Route: "/home/a/2"},
			}},
			{ID: "b", Label: "B", Route: "/home/b"},
		}},
		{ID: "other", Label: "Other", Route: "/other"},
	}
	h := newHarness(t, roots)

	// Node with children shows its children.
	h.engine.RouteChanged("/home/a")
	assert.Equal(t, []string{"a1", "a2"}, ids(h.engine.Visible()))

	// Leaf shows its siblings.
	h.engine.RouteChanged("/home/a/2")
	assert.Equal(t, []string{"a1", "a2"}, ids(h.engine.Visible()))
	assert.Equal(t, 3, h.engine.Stack().Depth)

	h.engine.RouteChanged("/home/b")
	assert.Equal(t, []string{"a", "b"}, ids(h.engine.Visible()))
}

func TestUnmatchedRouteShowsRoots(t *testing.T) {
	roots := []model.NavNode{
		{ID: "home", Label: "Home", Route: "/home"},
		{ID: "guest", Label: "Guest", Route: "/guest", VisibleWhen: model.VisibleUnauthenticated},
	}
	h := newHarness(t, roots)

	h.engine.RouteChanged("/nowhere")
	assert.Nil(t, h.engine.Stack())
	assert.Equal(t, []string{"home", "guest"}, ids(h.engine.Visible()))
	assert.False(t, h.engine.CanGoBack())
}

func TestVisibilityFilter(t *testing.T) {
	roots := []model.NavNode{
		{ID: "always", Label: "Always"},
		{ID: "auth", Label: "Auth", VisibleWhen: model.VisibleAuthenticated},
		{ID: "guest", Label: "Guest", VisibleWhen: model.VisibleUnauthenticated},
		{ID: "admin", Label: "Admin", VisibleWhen: model.VisibleOrgAdmin},
		{ID: "flagged", Label: "Flagged", FeatureKey: "beta"},
		{ID: "flagged-auth", Label: "FlaggedAuth", FeatureKey: "beta", VisibleWhen: model.VisibleAuthenticated},
		// Guard-only requirements never hide a node.
		{ID: "needs-login", Label: "NeedsLogin", RequiresAuth: true},
		{ID: "needs-admin", Label: "NeedsAdmin", RequiresOrgAdmin: true},
	}
	h := newHarness(t, roots)

	assert.Equal(t, []string{"always", "guest", "needs-login", "needs-admin"}, ids(h.engine.Visible()))

	h.session.Set(session.State{Authenticated: true})
	assert.Equal(t, []string{"always", "auth", "needs-login", "needs-admin"}, ids(h.engine.Visible()))

	h.org.Set(orgctx.State{Phase: orgctx.Active, Role: model.RoleAdmin})
	assert.Equal(t, []string{"always", "auth", "admin", "needs-login", "needs-admin"}, ids(h.engine.Visible()))

	h.flags.Set(flags.NewSet("org-1", []model.FeatureFlag{{Key: "beta", Enabled: true, Scope: model.ScopeOrganization}}))
	assert.Equal(t,
		[]string{"always", "auth", "admin", "flagged", "flagged-auth", "needs-login", "needs-admin"},
		ids(h.engine.Visible()))
}

func TestStableOrderSort(t *testing.T) {
	roots := []model.NavNode{
		{ID: "u1", Label: "U1"},
		{ID: "o3", Label: "O3", Metadata: order(3)},
		{ID: "u2", Label: "U2", Metadata: &model.NavMetadata{Badge: "new"}},
		{ID: "o1", Label: "O1", Metadata: order(1)},
		{ID: "o3b", Label: "O3b", Metadata: order(3)},
		{ID: "big", Label: "Big", Metadata: order(5000)},
		{ID: "u3", Label: "U3"},
	}
	h := newHarness(t, roots)

	assert.Equal(t, []string{"o1", "o3", "o3b", "big", "u1", "u2", "u3"}, ids(h.engine.Visible()))
}

func TestRecomputesOnTreeChange(t *testing.T) {
	h := newHarness(t, []model.NavNode{{ID: "home", Label: "Home", Route: "/home"}})
	h.engine.RouteChanged("/work/tasks")
	assert.Nil(t, h.engine.Stack())

	var views int
	h.engine.Subscribe(func(View) { views++ })

	h.tree.Set(navtree.NewTree("org-1", []model.NavNode{
		{ID: "work", Label: "Work", Route: "/work", Children: []model.NavNode{
			{ID: "tasks", Label: "Tasks", Route: "/work/tasks"},
		}},
	}))

	require.NotNil(t, h.engine.Stack())
	assert.Equal(t, "tasks", h.engine.Stack().CurrentNode.ID)
	assert.Equal(t, 1, views)
}

func TestStopDetaches(t *testing.T) {
	h := newHarness(t, []model.NavNode{{ID: "guest", Label: "Guest", VisibleWhen: model.VisibleUnauthenticated}})
	h.engine.Stop()

	h.session.Set(session.State{Authenticated: true})
	assert.Equal(t, []string{"guest"}, ids(h.engine.Visible()))
}

func TestPopWalksToRoutedAncestor(t *testing.T) {
	roots := []model.NavNode{
		{ID: "home", Label: "Home", Route: "/home", Children: []model.NavNode{
			{ID: "group", Label: "Group", Children: []model.NavNode{
				{ID: "leaf", Label: "Leaf", Route: "/home/group/leaf"},
			}},
		}},
	}
	h := newHarness(t, roots)
	h.engine.RouteChanged("/home/group/leaf")

	h.engine.Pop()
	assert.Equal(t, []string{"/home"}, h.router.navigated)
	assert.Zero(t, h.router.backs)
}

func TestPopFallsBackToHistoryThenRoot(t *testing.T) {
	roots := []model.NavNode{{ID: "home", Label: "Home", Route: "/home"}}
	h := newHarness(t, roots)

	h.engine.RouteChanged("/home")
	h.router.history = true
	h.engine.Pop()
	assert.Equal(t, 1, h.router.backs)
	assert.Empty(t, h.router.navigated)

	h.router.history = false
	h.engine.Pop()
	assert.Equal(t, 2, h.router.backs)
	assert.Equal(t, []string{RootRoute}, h.router.navigated)
}

func TestPushAndNavigateToRoot(t *testing.T) {
	h := newHarness(t, []model.NavNode{{ID: "home", Label: "Home", Route: "/home"}, {ID: "norote", Label: "None"}})

	h.engine.Push(model.NavNode{ID: "home", Route: "/home"})
	h.engine.Push(model.NavNode{ID: "norote"})
	h.engine.NavigateToRoot()

	assert.Equal(t, []string{"/home", "/"}, h.router.navigated)
	assert.Equal(t, "/", h.engine.View().Route)
}

func TestCanEnterGuards(t *testing.T) {
	roots := []model.NavNode{
		{ID: "work", Label: "Work", Route: "/work", FeatureKey: "work", RequiresAuth: true, Children: []model.NavNode{
			{ID: "analytics", Label: "Analytics", Route: "/work/analytics", RequiresOrgAdmin: true},
		}},
		{ID: "open", Label: "Open", Route: "/open"},
	}
	h := newHarness(t, roots)

	assert.Equal(t, Guard{Allowed: true}, h.engine.CanEnter("/open"))
	assert.Equal(t, Guard{Allowed: true}, h.engine.CanEnter("/not-in-tree"))
	assert.Equal(t, Guard{Redirect: RootRoute}, h.engine.CanEnter("/work/analytics"))

	h.flags.Set(flags.NewSet(cache.DefaultScope, []model.FeatureFlag{{Key: "work", Enabled: true, Scope: model.ScopeGlobal}}))
	assert.Equal(t, Guard{Redirect: LoginRoute}, h.engine.CanEnter("/work/analytics"))

	h.session.Set(session.State{Authenticated: true})
	assert.Equal(t, Guard{Allowed: true}, h.engine.CanEnter("/work"))
	assert.Equal(t, Guard{Redirect: UnauthorizedRoute}, h.engine.CanEnter("/work/analytics/"))

	h.org.Set(orgctx.State{Phase: orgctx.Active, Role: model.RoleAdmin})
	g := h.engine.Enter("/work/analytics")
	assert.True(t, g.Allowed)
	assert.Equal(t, "/work/analytics", h.router.last())
}

func TestEnterRedirects(t *testing.T) {
	h := newHarness(t, []model.NavNode{{ID: "my", Label: "My", Route: "/my", RequiresAuth: true}})

	g := h.engine.Enter("/my")
	assert.False(t, g.Allowed)
	assert.Equal(t, []string{LoginRoute}, h.router.navigated)
}

func TestExpiredSessionRoutesToLogin(t *testing.T) {
	h := newHarness(t, nil)
	h.session.Set(session.State{Authenticated: true})

	h.session.Set(session.State{Reason: session.ReasonLogout})
	assert.Empty(t, h.router.navigated)

	h.session.Set(session.State{Reason: session.ReasonRefreshFailed})
	assert.Equal(t, []string{LoginRoute}, h.router.navigated)
}

func TestDefaultTreeBreadcrumbs(t *testing.T) {
	h := newHarness(t, navtree.DefaultTree(), "market", "job", "visit")

	h.engine.RouteChanged("/home/job/")
	want := []string{"home", "home-job"}
	if diff := cmp.Diff(want, ids(h.engine.Stack().Breadcrumbs)); diff != "" {
		t.Errorf("breadcrumbs mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"home-market", "home-job", "home-visit"}, ids(h.engine.Visible()))
}

// gatedTree blocks the first Current call after hold until release is
// closed, simulating a recompute that read its inputs before a newer
// emission.
type gatedTree struct {
	*observable.Subject[navtree.Tree]

	mu      sync.Mutex
	held    bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedTree) hold() {
	g.mu.Lock()
	g.held = true
	g.entered = make(chan struct{})
	g.release = make(chan struct{})
	g.mu.Unlock()
}

func (g *gatedTree) Current() navtree.Tree {
	tree := g.Value()
	g.mu.Lock()
	held := g.held
	g.held = false
	entered, release := g.entered, g.release
	g.mu.Unlock()
	if held {
		close(entered)
		<-release
	}
	return tree
}

func TestConcurrentEmissionsPublishLatestInputs(t *testing.T) {
	oldRoots := []model.NavNode{{ID: "old", Label: "Old", Route: "/old"}}
	newRoots := []model.NavNode{{ID: "new", Label: "New", Route: "/new"}}

	tree := &gatedTree{Subject: observable.New(navtree.NewTree(cache.DefaultScope, oldRoots))}
	fl := flagSource{observable.New(flags.NewSet(cache.DefaultScope, nil))}
	engine := New(tree, fl, sessionSource{observable.New(session.State{})}, orgSource{observable.New(orgctx.State{})}, &fakeRouter{})
	engine.Start()
	t.Cleanup(engine.Stop)

	tree.hold()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fl.Set(flags.NewSet(cache.DefaultScope, []model.FeatureFlag{{Key: "x", Enabled: true, Scope: model.ScopeGlobal}}))
	}()
	<-tree.entered

	// The tree changes while the flag-driven recompute still holds the old one.
	tree.Set(navtree.NewTree(cache.DefaultScope, newRoots))
	close(tree.release)
	<-done

	assert.Eventually(t, func() bool {
		v := engine.Visible()
		return len(v) == 1 && v[0].ID == "new"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"new"}, ids(engine.Visible()))
}

func TestParallelInputChangesSettleOnFinalState(t *testing.T) {
	roots := []model.NavNode{
		{ID: "home", Label: "Home", Route: "/home"},
		{ID: "work", Label: "Work", Route: "/work", FeatureKey: "work"},
		{ID: "admin", Label: "Admin", Route: "/admin", VisibleWhen: model.VisibleOrgAdmin},
	}
	h := newHarness(t, roots)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			h.flags.Set(flags.NewSet("org-1", []model.FeatureFlag{{Key: "work", Enabled: i%2 == 1, Scope: model.ScopeOrganization}}))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			role := model.RoleMember
			if i%2 == 1 {
				role = model.RoleAdmin
			}
			h.org.Set(orgctx.State{Phase: orgctx.Active, Role: role})
		}
	}()
	wg.Wait()

	assert.Equal(t, []string{"home", "work", "admin"}, ids(h.engine.Visible()))
}
