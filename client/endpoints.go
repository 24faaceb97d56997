package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmcleod/ebm/model"
)

// FeatureFlags fetches the flags of one scope. An empty organizationID
// selects the global scope.
func (c *Client) FeatureFlags(ctx context.Context, organizationID string) (*model.FeatureFlagConfig, error) {
	var body struct {
		Flags       *[]model.FeatureFlag `json:"flags"`
		LastUpdated time.Time            `json:"lastUpdated"`
	}
	err := c.do(ctx, request{method: http.MethodGet, path: "/feature-flags", query: scopeQuery(organizationID)}, &body)
	if err != nil {
		return nil, err
	}
	if body.Flags == nil {
		return nil, fmt.Errorf("GET /feature-flags: %w: missing flags", ErrMalformedResponse)
	}
	if err := model.ValidateFlags(*body.Flags); err != nil {
		return nil, fmt.Errorf("GET /feature-flags: %w: %w", ErrMalformedResponse, err)
	}
	return &model.FeatureFlagConfig{Flags: *body.Flags, LastUpdated: body.LastUpdated}, nil
}

// Navigation fetches the navigation tree of one scope.
func (c *Client) Navigation(ctx context.Context, organizationID string) ([]model.NavNode, error) {
	var body struct {
		Tree *[]model.NavNode `json:"tree"`
	}
	err := c.do(ctx, request{method: http.MethodGet, path: "/navigation", query: scopeQuery(organizationID)}, &body)
	if err != nil {
		return nil, err
	}
	if body.Tree == nil {
		return nil, fmt.Errorf("GET /navigation: %w: missing tree", ErrMalformedResponse)
	}
	if err := model.ValidateTree(*body.Tree); err != nil {
		return nil, fmt.Errorf("GET /navigation: %w: %w", ErrMalformedResponse, err)
	}
	return *body.Tree, nil
}

// Organizations batch-fetches organization details.
func (c *Client) Organizations(ctx context.Context, ids []string) ([]model.Organization, error) {
	var orgs []model.Organization
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/organizations/batch",
		body:   model.OrganizationBatchRequest{IDs: ids},
	}, &orgs)
	if err != nil {
		return nil, err
	}
	if err := model.ValidateOrganizations(orgs); err != nil {
		return nil, fmt.Errorf("POST /organizations/batch: %w: %w", ErrMalformedResponse, err)
	}
	return orgs, nil
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*model.AuthToken, error) {
	var tok model.AuthToken
	err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/auth/login",
		body:      model.LoginRequest{Email: email, Password: password},
		anonymous: true,
	}, &tok)
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("POST /auth/login: %w: missing access token", ErrMalformedResponse)
	}
	return &tok, nil
}

// Refresh exchanges a refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*model.AuthToken, error) {
	var tok model.AuthToken
	err := c.do(ctx, request{
		method:    http.MethodPost,
		path:      "/auth/refresh",
		body:      model.RefreshRequest{RefreshToken: refreshToken},
		anonymous: true,
	}, &tok)
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("POST /auth/refresh: %w: missing access token", ErrMalformedResponse)
	}
	return &tok, nil
}

// Logout invalidates the session server-side.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, request{method: http.MethodPost, path: "/auth/logout", body: struct{}{}}, nil)
}

// CurrentUser fetches the authenticated user.
func (c *Client) CurrentUser(ctx context.Context) (*model.User, error) {
	var u model.User
	if err := c.do(ctx, request{method: http.MethodGet, path: "/users/me"}, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, fmt.Errorf("GET /users/me: %w: missing user id", ErrMalformedResponse)
	}
	return &u, nil
}

// Health probes backend reachability.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, request{method: http.MethodGet, path: "/health", anonymous: true}, nil)
}
