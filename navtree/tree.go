package navtree

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/jmcleod/ebm/model"
)

// NormalizeRoute strips the query string, the fragment and a single trailing
// slash (except for the root "/") and puts the result in Unicode NFC.
func NormalizeRoute(route string) string {
	if i := strings.IndexAny(route, "?#"); i >= 0 {
		route = route[:i]
	}
	if len(route) > 1 && strings.HasSuffix(route, "/") {
		route = route[:len(route)-1]
	}
	if route == "" {
		return "/"
	}
	return norm.NFC.String(route)
}

// Tree is an immutable navigation tree snapshot.
//
// Lookups walk the whole tree. Trees are expected to hold tens of nodes, so
// no id or route index is maintained.
type Tree struct {
	scope string
	roots []model.NavNode
}

// NewTree wraps roots for the given scope key.
func NewTree(scope string, roots []model.NavNode) Tree {
	return Tree{scope: scope, roots: roots}
}

// Scope returns the scope key the tree was resolved for.
func (t Tree) Scope() string { return t.scope }

// Roots returns the root-level nodes.
func (t Tree) Roots() []model.NavNode { return t.roots }

// FindByID returns the node with the given id.
func (t Tree) FindByID(id string) (model.NavNode, bool) {
	path := t.pathWhere(func(n *model.NavNode) bool { return n.ID == id })
	if path == nil {
		return model.NavNode{}, false
	}
	return path[len(path)-1], true
}

// FindByRoute returns the first node, in depth-first order, whose normalized
// route equals the normalized form of route.
func (t Tree) FindByRoute(route string) (model.NavNode, bool) {
	path := t.PathToRoute(route)
	if path == nil {
		return model.NavNode{}, false
	}
	return path[len(path)-1], true
}

// PathTo returns the nodes from the root to the node with the given id, or
// nil.
func (t Tree) PathTo(id string) []model.NavNode {
	return t.pathWhere(func(n *model.NavNode) bool { return n.ID == id })
}

// PathToRoute returns the nodes from the root to the node matching route,
// or nil.
func (t Tree) PathToRoute(route string) []model.NavNode {
	target := NormalizeRoute(route)
	return t.pathWhere(func(n *model.NavNode) bool {
		return n.Route != "" && NormalizeRoute(n.Route) == target
	})
}

// pathWhere runs one pre-order depth-first traversal and returns the path to
// the first node satisfying match. Nodes below model.MaxTreeDepth are not
// visited.
func (t Tree) pathWhere(match func(*model.NavNode) bool) []model.NavNode {
	type frame struct {
		node  *model.NavNode
		depth int
	}

	stack := make([]frame, 0, len(t.roots))
	for i := len(t.roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: &t.roots[i], depth: 1})
	}
	path := make([]*model.NavNode, 0, 8)
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		path = append(path[:f.depth-1], f.node)
		if match(f.node) {
			out := make([]model.NavNode, len(path))
			for i, n := range path {
				out[i] = *n
			}
			return out
		}
		if f.depth >= model.MaxTreeDepth {
			continue
		}
		for i := len(f.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: &f.node.Children[i], depth: f.depth + 1})
		}
	}
	return nil
}
