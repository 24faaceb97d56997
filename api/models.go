package api

import "github.com/jmcleod/ebm/model"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// LogoutResponse is returned from POST /auth/logout.
type LogoutResponse struct {
	Success bool `json:"success"`
}

// FlagCheckRequest is the JSON body for POST /feature-flags/check.
type FlagCheckRequest struct {
	FeatureKey     string `json:"featureKey"`
	OrganizationID string `json:"organizationId,omitempty"`
}

// FlagCheckResponse is returned from POST /feature-flags/check.
type FlagCheckResponse struct {
	FeatureKey string `json:"featureKey"`
	Enabled    bool   `json:"enabled"`
}

// UpdateFlagRequest is the JSON body for PUT /feature-flags/{key}.
type UpdateFlagRequest struct {
	Enabled        bool   `json:"enabled"`
	OrganizationID string `json:"organizationId,omitempty"`
}

// OrganizationFlagsResponse is returned from
// GET /organizations/{organizationID}/feature-flags.
type OrganizationFlagsResponse struct {
	OrganizationID string   `json:"organizationId"`
	FeatureFlags   []string `json:"featureFlags"`
}

// NavigationResponse is returned from GET /navigation.
type NavigationResponse = model.NavigationResponse
