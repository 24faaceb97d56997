package cmd

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ebm/api"
)

func run(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

func TestClientCommandsShareState(t *testing.T) {
	backend, err := api.New(api.WithSecret([]byte("cli-test")))
	require.NoError(t, err)
	srv := httptest.NewServer(backend.Router())
	defer srv.Close()

	t.Setenv("EBM_API_URL", srv.URL)
	t.Setenv("EBM_DATA_DIR", t.TempDir())
	t.Setenv("EBM_LOG_LEVEL", "error")

	require.NoError(t, run(t, "login", "--email", "demo@example.com", "--password", api.DemoPassword))
	require.NoError(t, run(t, "switch", "org-1"))
	require.NoError(t, run(t, "status"))
	require.NoError(t, run(t, "orgs"))
	require.NoError(t, run(t, "nav", "/work/analytics"))
	require.NoError(t, run(t, "nav", "--tree"))
	require.NoError(t, run(t, "sync"))

	assert.Error(t, run(t, "switch", "org-unknown"))

	require.NoError(t, run(t, "logout"))
	assert.Error(t, run(t, "switch", "org-1"), "signed out")
}

func TestLoginRequiresCredentials(t *testing.T) {
	t.Setenv("EBM_STORAGE_BACKEND", "memory")
	email, password = "", ""
	assert.Error(t, run(t, "login"))
}
