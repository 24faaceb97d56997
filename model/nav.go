// Package model defines the data shared by the resolvers, the HTTP client
// and the reference backend.
package model

// Visibility controls when a navigation node is shown.
type Visibility string

const (
	VisibleAlways          Visibility = "always"
	VisibleAuthenticated   Visibility = "authenticated"
	VisibleUnauthenticated Visibility = "unauthenticated"
	VisibleOrgAdmin        Visibility = "orgAdmin"
)

// Valid reports whether v is a known visibility. The empty value means
// VisibleAlways.
func (v Visibility) Valid() bool {
	switch v {
	case "", VisibleAlways, VisibleAuthenticated, VisibleUnauthenticated, VisibleOrgAdmin:
		return true
	}
	return false
}

// NavMetadata holds the optional presentation hints of a node. Extra is
// opaque to the resolvers and is carried through unchanged.
type NavMetadata struct {
	Order *int           `json:"order,omitempty"`
	Badge string         `json:"badge,omitempty"`
	Extra map[string]any `json:"customData,omitempty"`
}

// NavNode is one node of the navigation tree. IDs are unique across the
// whole tree.
type NavNode struct {
	ID               string       `json:"id"`
	Label            string       `json:"label"`
	Icon             string       `json:"icon,omitempty"`
	Route            string       `json:"route,omitempty"`
	FeatureKey       string       `json:"featureKey,omitempty"`
	RequiresAuth     bool         `json:"requiresAuth,omitempty"`
	RequiresOrgAdmin bool         `json:"requiresOrgAdmin,omitempty"`
	VisibleWhen      Visibility   `json:"visibleWhen,omitempty"`
	Children         []NavNode    `json:"children,omitempty"`
	Metadata         *NavMetadata `json:"metadata,omitempty"`
}

// Order returns the explicit sort order of the node, if any.
func (n NavNode) Order() (int, bool) {
	if n.Metadata == nil || n.Metadata.Order == nil {
		return 0, false
	}
	return *n.Metadata.Order, true
}

// HasChildren reports whether the node has at least one child.
func (n NavNode) HasChildren() bool {
	return len(n.Children) > 0
}

// NavigationStack is derived from the current route and never stored.
// Depth is 1-based; Breadcrumbs runs from the root to CurrentNode.
type NavigationStack struct {
	CurrentNode NavNode   `json:"currentNode"`
	ParentNode  *NavNode  `json:"parentNode,omitempty"`
	Depth       int       `json:"depth"`
	Breadcrumbs []NavNode `json:"breadcrumbs"`
}

// NavigationResponse is the body of GET /navigation.
type NavigationResponse struct {
	Tree []NavNode `json:"tree"`
}

// IntPtr is a helper for building NavMetadata literals.
func IntPtr(v int) *int { return &v }
