package navigator

import (
	"log/slog"

	"github.com/jmcleod/ebm/model"
)

// Guard is the verdict for entering a route.
type Guard struct {
	Allowed bool
	// Redirect is set when Allowed is false.
	Redirect string
}

var allow = Guard{Allowed: true}

// CanEnter checks the route guards of every node on the path to route. A
// disabled feature redirects to the root, a missing session to the login
// route and a missing admin role to the unauthorized route. Routes that are
// not in the tree are not guarded.
func (e *Engine) CanEnter(route string) Guard {
	path := e.tree.Current().PathToRoute(route)
	if path == nil {
		return allow
	}
	policy := e.policy()
	for _, n := range path {
		if g := policy.guard(n); !g.Allowed {
			return g
		}
	}
	return allow
}

func (v visibility) guard(n model.NavNode) Guard {
	switch {
	case n.FeatureKey != "" && !v.flags.IsEnabled(n.FeatureKey):
		return Guard{Redirect: RootRoute}
	case n.RequiresAuth && !v.authenticated:
		return Guard{Redirect: LoginRoute}
	case n.RequiresOrgAdmin && !v.orgAdmin:
		return Guard{Redirect: UnauthorizedRoute}
	}
	return allow
}

// Enter navigates to route, or to the guard's redirect when entry is
// refused. It returns the verdict.
func (e *Engine) Enter(route string) Guard {
	g := e.CanEnter(route)
	if g.Allowed {
		e.navigate(route)
	} else {
		e.logger.Debug("route guarded", slog.String("route", route), slog.String("redirect", g.Redirect))
		e.navigate(g.Redirect)
	}
	return g
}
