package navtree

import "github.com/jmcleod/ebm/model"

// DefaultTree returns the built-in navigation used when neither the network
// nor the cache can provide one. Each call builds a fresh value.
func DefaultTree() []model.NavNode {
	order := func(n int) *model.NavMetadata {
		return &model.NavMetadata{Order: model.IntPtr(n)}
	}
	return []model.NavNode{
		{
			ID: "home", Label: "Home", Icon: "home", Route: "/home",
			VisibleWhen: model.VisibleAlways, Metadata: order(1),
			Children: []model.NavNode{
				{ID: "home-market", Label: "Market", Icon: "storefront", Route: "/home/market", FeatureKey: "market", Metadata: order(1)},
				{ID: "home-job", Label: "Jobs", Icon: "briefcase", Route: "/home/job", FeatureKey: "job", Metadata: order(2)},
				{ID: "home-visit", Label: "Visit", Icon: "location", Route: "/home/visit", FeatureKey: "visit", Metadata: order(3)},
			},
		},
		{
			ID: "market", Label: "Market", Icon: "storefront", Route: "/market",
			FeatureKey: "market", VisibleWhen: model.VisibleAlways, Metadata: order(2),
			Children: []model.NavNode{
				{ID: "market-goods", Label: "Goods", Icon: "cube", Route: "/market/goods", Metadata: order(1)},
				{ID: "market-services", Label: "Services", Icon: "construct", Route: "/market/services", Metadata: order(2)},
				{ID: "market-rentals", Label: "Rentals", Icon: "key", Route: "/market/rentals", Metadata: order(3)},
				{ID: "market-needs", Label: "Needs", Icon: "help-buoy", Route: "/market/needs", Metadata: order(4)},
			},
		},
		{
			ID: "activities", Label: "Activities", Icon: "calendar", Route: "/activities",
			VisibleWhen: model.VisibleAlways, Metadata: order(3),
			Children: []model.NavNode{
				{ID: "activities-vacancies", Label: "Vacancies", Icon: "briefcase", Route: "/activities/vacancies", FeatureKey: "job", Metadata: order(1)},
				{ID: "activities-appointments", Label: "Appointments", Icon: "time", Route: "/activities/appointments", RequiresAuth: true, Metadata: order(2)},
			},
		},
		{
			ID: "work", Label: "Work", Icon: "business", Route: "/work",
			FeatureKey: "work", RequiresAuth: true, VisibleWhen: model.VisibleAuthenticated, Metadata: order(4),
			Children: []model.NavNode{
				{ID: "work-dashboard", Label: "Dashboard", Icon: "speedometer", Route: "/work/dashboard", FeatureKey: "work_dashboard", RequiresAuth: true, Metadata: order(1)},
				{ID: "work-processes", Label: "Processes", Icon: "git-network", Route: "/work/processes", FeatureKey: "work_processes", RequiresAuth: true, Metadata: order(2)},
				{ID: "work-tasks", Label: "Tasks", Icon: "checkbox", Route: "/work/tasks", FeatureKey: "work_tasks", RequiresAuth: true, Metadata: order(3)},
				{ID: "work-analytics", Label: "Analytics", Icon: "analytics", Route: "/work/analytics", FeatureKey: "work_analytics", RequiresAuth: true, RequiresOrgAdmin: true, VisibleWhen: model.VisibleOrgAdmin, Metadata: order(4)},
			},
		},
		{
			ID: "my", Label: "My", Icon: "person", Route: "/my",
			RequiresAuth: true, VisibleWhen: model.VisibleAuthenticated, Metadata: order(5),
		},
		{
			ID: "account", Label: "Account", Icon: "log-in", Route: "/account",
			VisibleWhen: model.VisibleUnauthenticated, Metadata: order(6),
			Children: []model.NavNode{
				{ID: "account-login", Label: "Login", Route: "/account/login", VisibleWhen: model.VisibleUnauthenticated},
				{ID: "account-join", Label: "Join", Route: "/account/join", VisibleWhen: model.VisibleUnauthenticated},
			},
		},
	}
}
