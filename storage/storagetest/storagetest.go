// Package storagetest holds the behaviour suite every storage.Repository must pass.
package storagetest

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ebm/storage"
)

// Run exercises repo against the common repository contract.
func Run(t *testing.T, repo storage.Repository) {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Millisecond)
	entry := func(key, value string) *storage.Entry {
		return &storage.Entry{Key: key, Value: []byte(value), StoredAt: now}
	}

	t.Run("PutGet", func(t *testing.T) {
		require.NoError(t, repo.Put("cache", "k1", entry("k1", `"v1"`)))

		got, err := repo.Get("cache", "k1")
		require.NoError(t, err)
		assert.Equal(t, "k1", got.Key)
		assert.Equal(t, []byte(`"v1"`), got.Value)
		assert.True(t, got.StoredAt.Equal(now))
		assert.True(t, got.ExpiresAt.IsZero())
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, repo.Put("cache", "ow", entry("ow", "1")))
		require.NoError(t, repo.Put("cache", "ow", entry("ow", "2")))

		got, err := repo.Get("cache", "ow")
		require.NoError(t, err)
		assert.Equal(t, []byte("2"), got.Value)
	})

	t.Run("ExpiryRoundTrip", func(t *testing.T) {
		e := entry("ttl", "x")
		e.ExpiresAt = now.Add(time.Hour)
		require.NoError(t, repo.Put("cache", "ttl", e))

		got, err := repo.Get("cache", "ttl")
		require.NoError(t, err)
		assert.True(t, got.ExpiresAt.Equal(e.ExpiresAt), "expires_at %v != %v", got.ExpiresAt, e.ExpiresAt)
	})

	t.Run("GetMissingKey", func(t *testing.T) {
		_, err := repo.Get("cache", "nope")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	})

	t.Run("GetMissingTable", func(t *testing.T) {
		_, err := repo.Get("no_such_table", "k")
		assert.True(t, errors.Is(err, storage.ErrTableNotFound), "got %v", err)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Put("cache", "del", entry("del", "x")))
		require.NoError(t, repo.Delete("cache", "del"))

		_, err := repo.Get("cache", "del")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		err := repo.Delete("cache", "never-existed")
		assert.Error(t, err)
	})

	t.Run("TablesAreIsolated", func(t *testing.T) {
		require.NoError(t, repo.Put("feature_flags", "default", entry("default", "flags")))
		require.NoError(t, repo.Put("navigation_config", "default", entry("default", "tree")))

		flags, err := repo.Get("feature_flags", "default")
		require.NoError(t, err)
		nav, err := repo.Get("navigation_config", "default")
		require.NoError(t, err)
		assert.Equal(t, []byte("flags"), flags.Value)
		assert.Equal(t, []byte("tree"), nav.Value)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, repo.Put("listing", "a", entry("a", "1")))
		require.NoError(t, repo.Put("listing", "b", entry("b", "2")))

		keys, err := repo.List("listing")
		require.NoError(t, err)
		sort.Strings(keys)
		assert.Equal(t, []string{"a", "b"}, keys)
	})

	t.Run("ListMissingTable", func(t *testing.T) {
		keys, err := repo.List("never-written")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("Clear", func(t *testing.T) {
		require.NoError(t, repo.Put("clearing", "a", entry("a", "1")))
		require.NoError(t, repo.Put("clearing", "b", entry("b", "2")))
		require.NoError(t, repo.Put("kept", "a", entry("a", "1")))

		require.NoError(t, repo.Clear("clearing"))

		keys, err := repo.List("clearing")
		require.NoError(t, err)
		assert.Empty(t, keys)

		_, err = repo.Get("kept", "a")
		assert.NoError(t, err)
	})

	t.Run("ClearMissingTable", func(t *testing.T) {
		assert.NoError(t, repo.Clear("never-written-either"))
	})
}
