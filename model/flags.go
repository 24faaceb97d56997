package model

import "time"

// FlagScope is the level a flag was resolved at.
type FlagScope string

const (
	ScopeGlobal       FlagScope = "global"
	ScopeOrganization FlagScope = "organization"
	ScopeUser         FlagScope = "user"
)

// Valid reports whether s is a known scope.
func (s FlagScope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeOrganization, ScopeUser:
		return true
	}
	return false
}

// FlagMetadata carries optional descriptive fields of a flag.
type FlagMetadata struct {
	Module       string `json:"module,omitempty"`
	RequiredRole Role   `json:"requiredRole,omitempty"`
	BetaFeature  bool   `json:"betaFeature,omitempty"`
}

// FeatureFlag is a single resolved flag.
type FeatureFlag struct {
	Key         string        `json:"key"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Enabled     bool          `json:"enabled"`
	Scope       FlagScope     `json:"scope"`
	Metadata    *FlagMetadata `json:"metadata,omitempty"`
}

// FeatureFlagConfig is the body of GET /feature-flags and the snapshot
// persisted per scope.
type FeatureFlagConfig struct {
	Flags       []FeatureFlag `json:"flags"`
	LastUpdated time.Time     `json:"lastUpdated"`
}
