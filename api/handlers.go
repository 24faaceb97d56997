package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/ebm/model"
)

// Run sweeps expired rate-limit records until ctx is done.
func (a *API) Run(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.rateLimiter.sweep()
		}
	}
}

// Health handles GET /health.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Login handles POST /auth/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, "email and a password of at least 6 characters are required")
		return
	}
	if blocked, retryAfter := a.rateLimiter.check(req.Email); blocked {
		writeRateLimited(w, retryAfter)
		return
	}

	user, err := a.store.authenticate(req.Email, req.Password)
	if err != nil {
		a.rateLimiter.recordFailure(req.Email)
		a.metrics.recordLoginFailure()
		a.logger.Info("login failed", slog.String("email", req.Email))
		mapError(w, err)
		return
	}
	a.rateLimiter.recordSuccess(req.Email)

	tok, err := a.issue(user)
	if err != nil {
		mapError(w, err)
		return
	}
	a.logger.Info("login succeeded", slog.String("user_id", user.ID))
	writeJSON(w, http.StatusOK, tok)
}

// Refresh handles POST /auth/refresh. Refresh tokens are single use.
func (a *API) Refresh(w http.ResponseWriter, r *http.Request) {
	var req model.RefreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	claims, err := a.tokens.verify(req.RefreshToken, true)
	if err != nil || !a.store.refreshTokenMatches(claims.UserID, req.RefreshToken) {
		mapError(w, ErrInvalidRefreshToken)
		return
	}
	user, err := a.store.user(claims.UserID)
	if err != nil {
		mapError(w, ErrInvalidRefreshToken)
		return
	}
	tok, err := a.issue(user)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (a *API) issue(user model.User) (*model.AuthToken, error) {
	tok, err := a.tokens.issue(user)
	if err != nil {
		return nil, err
	}
	if err := a.store.setRefreshToken(user.ID, tok.RefreshToken); err != nil {
		return nil, err
	}
	return tok, nil
}

// Logout handles POST /auth/logout by revoking the refresh token.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if err := a.store.setRefreshToken(user.ID, ""); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LogoutResponse{Success: true})
}

// CurrentUser handles GET /users/me.
func (a *API) CurrentUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFromContext(r.Context()))
}

// UserOrganizations handles GET /users/organizations.
func (a *API) UserOrganizations(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	memberships := user.Organizations
	if memberships == nil {
		memberships = []model.UserOrganization{}
	}
	writeJSON(w, http.StatusOK, memberships)
}

// OrganizationsBatch handles POST /organizations/batch. Only organizations
// the caller belongs to are returned.
func (a *API) OrganizationsBatch(w http.ResponseWriter, r *http.Request) {
	var req model.OrganizationBatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, a.store.organizations(userFromContext(r.Context()), req.IDs))
}

// OrganizationFeatureFlags handles
// GET /organizations/{organizationID}/feature-flags.
func (a *API) OrganizationFeatureFlags(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "organizationID")
	user := userFromContext(r.Context())
	if _, ok := user.Membership(id); !ok {
		writeError(w, http.StatusNotFound, "organization not found")
		return
	}
	org, err := a.store.organization(id)
	if err != nil {
		mapError(w, err)
		return
	}
	keys := org.FeatureFlags
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, OrganizationFlagsResponse{OrganizationID: id, FeatureFlags: keys})
}

// ListFeatureFlags handles GET /feature-flags.
func (a *API) ListFeatureFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := a.store.resolveFlags(r.URL.Query().Get("organizationId"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.FeatureFlagConfig{Flags: flags, LastUpdated: a.now().UTC()})
}

// CheckFeatureFlag handles POST /feature-flags/check.
func (a *API) CheckFeatureFlag(w http.ResponseWriter, r *http.Request) {
	var req FlagCheckRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FeatureKey == "" {
		writeError(w, http.StatusBadRequest, "featureKey is required")
		return
	}
	writeJSON(w, http.StatusOK, FlagCheckResponse{
		FeatureKey: req.FeatureKey,
		Enabled:    a.store.flagEnabled(req.FeatureKey, req.OrganizationID),
	})
}

// UpdateFeatureFlag handles PUT /feature-flags/{key}.
func (a *API) UpdateFeatureFlag(w http.ResponseWriter, r *http.Request) {
	var req UpdateFlagRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	key := chi.URLParam(r, "key")
	user := userFromContext(r.Context())
	if err := a.store.setFlag(user, key, req.OrganizationID, req.Enabled); err != nil {
		mapError(w, err)
		return
	}
	a.metrics.recordFlagChange()
	a.logger.Info("feature flag updated",
		slog.String("key", key),
		slog.String("organization_id", req.OrganizationID),
		slog.Bool("enabled", req.Enabled),
		slog.String("user_id", user.ID),
	)
	w.WriteHeader(http.StatusNoContent)
}

// Navigation handles GET /navigation. With an organization the tree is
// pruned to the features the organization enables.
func (a *API) Navigation(w http.ResponseWriter, r *http.Request) {
	tree := a.tree()
	if id := r.URL.Query().Get("organizationId"); id != "" {
		org, err := a.store.organization(id)
		if err != nil {
			mapError(w, err)
			return
		}
		tree = filterTree(tree, mapset.NewThreadUnsafeSet(org.FeatureFlags...))
	}
	writeJSON(w, http.StatusOK, NavigationResponse{Tree: tree})
}

// filterTree drops nodes whose feature key is not enabled, recursively.
func filterTree(nodes []model.NavNode, enabled mapset.Set[string]) []model.NavNode {
	out := make([]model.NavNode, 0, len(nodes))
	for _, n := range nodes {
		if n.FeatureKey != "" && !enabled.Contains(n.FeatureKey) {
			continue
		}
		if n.Children != nil {
			n.Children = filterTree(n.Children, enabled)
		}
		out = append(out, n)
	}
	return out
}
