package app

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ebm/api"
	"github.com/jmcleod/ebm/config"
	"github.com/jmcleod/ebm/orgctx"
	"github.com/jmcleod/ebm/storage/memory"
)

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	a, err := api.New(api.WithSecret([]byte("app-test")))
	require.NoError(t, err)
	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.APIURL = url
	cfg.Storage.Backend = config.BackendMemory
	cfg.Storage.Secret = "seal-me"
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, repo *memory.Repository) *App {
	t.Helper()
	a, err := New(context.Background(), cfg,
		WithRepository(repo),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestSignInSwitchAndSync(t *testing.T) {
	srv := newBackend(t)
	repo := memory.NewRepository()
	a := newApp(t, testConfig(srv.URL), repo)
	ctx := context.Background()

	a.Start(ctx)
	assert.False(t, a.Session.IsAuthenticated())
	assert.True(t, a.Flags.IsEnabled("job"), "global flags loaded at start")

	require.NoError(t, a.Session.Login(ctx, "demo@example.com", api.DemoPassword))
	a.Orgs.HandleSession(ctx, a.Session.State())
	assert.Equal(t, orgctx.NoOrganization, a.Orgs.State().Phase)
	assert.Len(t, a.Orgs.Organizations(), 2)

	require.True(t, a.Orgs.SwitchOrganization(ctx, "org-2"))
	assert.False(t, a.Flags.IsEnabled("job"))
	assert.True(t, a.Flags.IsEnabled("market"))
	_, ok := a.Nav.FindByID("home-job")
	assert.False(t, ok, "tree is pruned for org-2")

	res := a.Sync.SyncAll(ctx)
	require.NoError(t, res.Err)
	assert.True(t, res.Complete)
	assert.False(t, a.Sync.LastSync().IsZero())

	a.Navigator.Start()
	defer a.Navigator.Stop()
	a.Navigator.Push(a.Nav.Current().Roots()[0])
	assert.Equal(t, "/home", a.History.Current())
	require.NotNil(t, a.Navigator.Stack())
	assert.Equal(t, "home", a.Navigator.Stack().CurrentNode.ID)
}

func TestRestartRestoresContext(t *testing.T) {
	srv := newBackend(t)
	repo := memory.NewRepository()
	cfg := testConfig(srv.URL)
	ctx := context.Background()

	first := newApp(t, cfg, repo)
	first.Start(ctx)
	require.NoError(t, first.Session.Login(ctx, "demo@example.com", api.DemoPassword))
	first.Orgs.HandleSession(ctx, first.Session.State())
	require.True(t, first.Orgs.SwitchOrganization(ctx, "org-1"))
	require.NoError(t, first.Close())

	second := newApp(t, cfg, repo)
	second.Start(ctx)
	assert.True(t, second.Session.IsAuthenticated())
	assert.Equal(t, "org-1", second.Orgs.ActiveOrganizationID())
	assert.True(t, second.Orgs.IsOrgAdmin())
	assert.True(t, second.Flags.IsEnabled("work_analytics"))
}

func TestOfflineStartServesDefaults(t *testing.T) {
	srv := newBackend(t)
	cfg := testConfig(srv.URL)
	srv.Close()

	a := newApp(t, cfg, memory.NewRepository())
	a.Start(context.Background())

	assert.False(t, a.Session.IsAuthenticated())
	_, ok := a.Nav.FindByID("home")
	assert.True(t, ok, "built-in tree is served")
	assert.Empty(t, a.Flags.Current().All())
}

func TestOpenConfiguredRepository(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Storage.Backend = config.BackendBbolt
	cfg.DataDir = t.TempDir()

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, a.Cache.Put("probe", "value", 0))
	var got string
	assert.True(t, a.Cache.Get("probe", &got))
	assert.Equal(t, "value", got)
	require.NoError(t, a.Close())
}
