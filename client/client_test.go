package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ebm/model"
)

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, opts...)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type staticAuth struct {
	token     atomic.Value
	refreshes atomic.Int32
	next      string
	fail      bool
}

func newStaticAuth(token, next string) *staticAuth {
	a := &staticAuth{next: next}
	a.token.Store(token)
	return a
}

func (a *staticAuth) AccessToken() string { return a.token.Load().(string) }

func (a *staticAuth) RefreshAccessToken(context.Context) error {
	a.refreshes.Add(1)
	if a.fail {
		return errors.New("refresh rejected")
	}
	a.token.Store(a.next)
	return nil
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New("/api")
	assert.Error(t, err)
}

func TestFeatureFlagsScopeQuery(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/feature-flags", r.URL.Path)
		gotQuery = r.URL.Query().Get("organizationId")
		writeJSON(w, http.StatusOK, map[string]any{
			"flags":       []model.FeatureFlag{{Key: "work", Name: "Work", Enabled: true, Scope: model.ScopeOrganization}},
			"lastUpdated": time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		})
	}))

	cfg, err := c.FeatureFlags(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, "org-1", gotQuery)
	require.Len(t, cfg.Flags, 1)
	assert.True(t, cfg.Flags[0].Enabled)

	_, err = c.FeatureFlags(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, gotQuery)
}

func TestFeatureFlagsMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"missing flags", `{"lastUpdated":"2026-01-01T00:00:00Z"}`},
		{"duplicate keys", `{"flags":[{"key":"a","scope":"global"},{"key":"a","scope":"global"}]}`},
		{"empty body", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			_, err := c.FeatureFlags(context.Background(), "")
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestNavigation(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "org-2", r.URL.Query().Get("organizationId"))
		writeJSON(w, http.StatusOK, model.NavigationResponse{Tree: []model.NavNode{
			{ID: "home", Label: "Home", Route: "/home"},
		}})
	}))

	tree, err := c.Navigation(context.Background(), "org-2")
	require.NoError(t, err)
	require.Len(t, tree, 1)
	assert.Equal(t, "/home", tree[0].Route)
}

func TestNavigationInvalidTree(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"tree": []map[string]any{{"label": "no id"}}})
	}))

	_, err := c.Navigation(context.Background(), "")
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.ErrorIs(t, err, model.ErrInvalid)
}

func TestOrganizationsBatch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req model.OrganizationBatchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"o1", "o2"}, req.IDs)
		writeJSON(w, http.StatusOK, []model.Organization{{ID: "o1", Name: "One"}, {ID: "o2", Name: "Two"}})
	}))

	orgs, err := c.Organizations(context.Background(), []string{"o1", "o2"})
	require.NoError(t, err)
	assert.Len(t, orgs, 2)
}

func TestStatusError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "boom"})
	}))

	_, err := c.Navigation(context.Background(), "")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, "boom", se.Message)
	assert.True(t, IsStatus(err, http.StatusInternalServerError))
}

func TestBearerTokenAndRefreshRetry(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "expired"})
			return
		}
		writeJSON(w, http.StatusOK, model.User{ID: "u1", Email: "a@b.c"})
	}))
	auth := newStaticAuth("stale", "fresh")
	c.SetAuthenticator(auth)

	u, err := c.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, int32(1), auth.refreshes.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestRefreshFailureSurfaces(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "expired"})
	}))
	auth := newStaticAuth("stale", "")
	auth.fail = true
	c.SetAuthenticator(auth)

	_, err := c.CurrentUser(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh rejected")
	assert.Equal(t, int32(1), auth.refreshes.Load())
}

func TestAnonymousCallsSkipRefresh(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad credentials"})
	}))
	auth := newStaticAuth("tok", "tok2")
	c.SetAuthenticator(auth)

	_, err := c.Login(context.Background(), "a@b.c", "wrong")
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.Equal(t, int32(0), auth.refreshes.Load())
}

func TestLoginAndRefresh(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			var req model.LoginRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "demo@ebm.dev", req.Email)
			writeJSON(w, http.StatusOK, model.AuthToken{AccessToken: "a1", RefreshToken: "r1", ExpiresIn: 3600, TokenType: "Bearer"})
		case "/auth/refresh":
			var req model.RefreshRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "r1", req.RefreshToken)
			writeJSON(w, http.StatusOK, model.AuthToken{AccessToken: "a2", RefreshToken: "r2", ExpiresIn: 3600, TokenType: "Bearer"})
		default:
			http.NotFound(w, r)
		}
	}))

	tok, err := c.Login(context.Background(), "demo@ebm.dev", "pw")
	require.NoError(t, err)
	assert.Equal(t, "a1", tok.AccessToken)

	tok, err = c.Refresh(context.Background(), tok.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "r2", tok.RefreshToken)
}

func TestTimeoutIsNetworkFailure(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}), WithTimeout(20*time.Millisecond))

	err := c.Health(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedResponse)
}
