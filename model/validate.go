package model

import (
	"errors"
	"fmt"
)

// MaxTreeDepth bounds the nesting accepted from the server.
const MaxTreeDepth = 32

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid server data")

// ValidateTree checks that ids are present and unique, labels are set,
// visibilities are known and the tree is no deeper than MaxTreeDepth.
func ValidateTree(tree []NavNode) error {
	type frame struct {
		node  *NavNode
		depth int
	}

	seen := make(map[string]struct{})
	stack := make([]frame, 0, len(tree))
	for i := len(tree) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: &tree[i], depth: 1})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := f.node

		if f.depth > MaxTreeDepth {
			return fmt.Errorf("%w: tree deeper than %d at %q", ErrInvalid, MaxTreeDepth, n.ID)
		}
		if n.ID == "" {
			return fmt.Errorf("%w: node without id (label %q)", ErrInvalid, n.Label)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalid, n.ID)
		}
		seen[n.ID] = struct{}{}
		if n.Label == "" {
			return fmt.Errorf("%w: node %q has no label", ErrInvalid, n.ID)
		}
		if !n.VisibleWhen.Valid() {
			return fmt.Errorf("%w: node %q has unknown visibility %q", ErrInvalid, n.ID, n.VisibleWhen)
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: &n.Children[i], depth: f.depth + 1})
		}
	}
	return nil
}

// ValidateFlags checks that keys are present and unique and scopes are known.
func ValidateFlags(flags []FeatureFlag) error {
	seen := make(map[string]struct{}, len(flags))
	for _, f := range flags {
		if f.Key == "" {
			return fmt.Errorf("%w: flag without key (name %q)", ErrInvalid, f.Name)
		}
		if _, dup := seen[f.Key]; dup {
			return fmt.Errorf("%w: duplicate flag key %q", ErrInvalid, f.Key)
		}
		seen[f.Key] = struct{}{}
		if !f.Scope.Valid() {
			return fmt.Errorf("%w: flag %q has unknown scope %q", ErrInvalid, f.Key, f.Scope)
		}
	}
	return nil
}

// ValidateOrganizations checks that ids are present and unique.
func ValidateOrganizations(orgs []Organization) error {
	seen := make(map[string]struct{}, len(orgs))
	for _, o := range orgs {
		if o.ID == "" {
			return fmt.Errorf("%w: organization without id (name %q)", ErrInvalid, o.Name)
		}
		if _, dup := seen[o.ID]; dup {
			return fmt.Errorf("%w: duplicate organization id %q", ErrInvalid, o.ID)
		}
		seen[o.ID] = struct{}{}
	}
	return nil
}
