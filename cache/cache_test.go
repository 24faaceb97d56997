package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ebm/storage"
	"github.com/jmcleod/ebm/storage/memory"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newStore(t *testing.T, opts ...Option) (*Store, *memory.Repository, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	repo := memory.NewRepository()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(repo, opts...), repo, clock
}

func TestStorePutGet(t *testing.T) {
	s, _, _ := newStore(t)

	require.NoError(t, s.Put(KeyActiveOrganization, "org-1", 0))

	var got string
	require.True(t, s.Get(KeyActiveOrganization, &got))
	assert.Equal(t, "org-1", got)
}

func TestStoreGetMissing(t *testing.T) {
	s, _, _ := newStore(t)

	var got string
	assert.False(t, s.Get("nope", &got))
	assert.Empty(t, got)
}

func TestStoreExpiredEntryIsAbsentAndPurged(t *testing.T) {
	s, repo, clock := newStore(t)

	require.NoError(t, s.Put(KeyCurrentUser, map[string]string{"id": "u1"}, time.Minute))
	clock.Advance(2 * time.Minute)

	var got map[string]string
	assert.False(t, s.Get(KeyCurrentUser, &got))

	_, err := repo.Get(TableCache, KeyCurrentUser)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "expired entry should be purged on read, got %v", err)
}

func TestStoreNoTTLNeverExpires(t *testing.T) {
	s, _, clock := newStore(t)

	require.NoError(t, s.Put(KeyLastSync, clock.Now(), 0))
	clock.Advance(365 * 24 * time.Hour)

	var got time.Time
	assert.True(t, s.Get(KeyLastSync, &got))
}

func TestStoreDeleteAndClear(t *testing.T) {
	s, _, _ := newStore(t)

	require.NoError(t, s.Put("a", 1, 0))
	require.NoError(t, s.Put("b", 2, 0))

	s.Delete("a")
	s.Delete("never-written")

	var v int
	assert.False(t, s.Get("a", &v))
	assert.True(t, s.Get("b", &v))

	s.Clear()
	assert.False(t, s.Get("b", &v))
}

func TestStoreUndecodableIsMiss(t *testing.T) {
	s, _, _ := newStore(t)

	require.NoError(t, s.Put("k", "a string", 0))

	var n int
	assert.False(t, s.Get("k", &n))
}

type failingRepo struct{ storage.Repository }

func (failingRepo) Get(string, string) (*storage.Entry, error) { return nil, errors.New("disk on fire") }
func (failingRepo) Put(string, string, *storage.Entry) error   { return errors.New("disk on fire") }

func TestStoreFailuresAreMisses(t *testing.T) {
	s := New(failingRepo{Repository: memory.NewRepository()})

	assert.Error(t, s.Put("k", 1, 0))

	var v int
	assert.False(t, s.Get("k", &v))
}

func TestStoreSealedTable(t *testing.T) {
	sealer, err := storage.NewSealer([]byte("device-secret"))
	require.NoError(t, err)

	s, repo, _ := newStore(t, WithSealer(sealer, TableCache))
	require.NoError(t, s.Put(KeyAuthToken, "eyJhbGciOi.secret", 0))

	raw, err := repo.Get(TableCache, KeyAuthToken)
	require.NoError(t, err)
	assert.True(t, raw.Sealed)
	assert.NotContains(t, string(raw.Value), "secret")

	var got string
	require.True(t, s.Get(KeyAuthToken, &got))
	assert.Equal(t, "eyJhbGciOi.secret", got)
}

func TestStoreSealedEntryWithWrongKeyIsDropped(t *testing.T) {
	a, err := storage.NewSealer([]byte("one"))
	require.NoError(t, err)
	b, err := storage.NewSealer([]byte("two"))
	require.NoError(t, err)

	repo := memory.NewRepository()
	require.NoError(t, New(repo, WithSealer(a, TableCache)).Put(KeyRefreshToken, "r1", 0))

	s := New(repo, WithSealer(b, TableCache))
	var got string
	assert.False(t, s.Get(KeyRefreshToken, &got))

	_, err = repo.Get(TableCache, KeyRefreshToken)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestStoreClearExpired(t *testing.T) {
	s, _, clock := newStore(t)

	require.NoError(t, s.Put("short", 1, time.Minute))
	require.NoError(t, s.Put("long", 2, time.Hour))
	flagTable := NewTable[[]string](s, TableFeatureFlags)
	require.NoError(t, flagTable.Put("org-1", []string{"market"}, time.Minute))

	clock.Advance(10 * time.Minute)

	assert.Equal(t, 2, s.ClearExpired(context.Background()))

	var v int
	assert.True(t, s.Get("long", &v))
	assert.Equal(t, 2, v)
}

func TestTableScopes(t *testing.T) {
	s, _, _ := newStore(t)
	tbl := NewTable[[]string](s, TableNavigationConfig)

	require.NoError(t, tbl.Put(DefaultScope, []string{"home"}, 0))
	require.NoError(t, tbl.Put("org-1", []string{"home", "work"}, 0))

	got, ok := tbl.Get(ScopeKey(""))
	require.True(t, ok)
	assert.Equal(t, []string{"home"}, got)

	got, ok = tbl.Get(ScopeKey("org-1"))
	require.True(t, ok)
	assert.Equal(t, []string{"home", "work"}, got)

	tbl.Delete("org-1")
	_, ok = tbl.Get("org-1")
	assert.False(t, ok)

	_, ok = tbl.Get("org-2")
	assert.False(t, ok)
}

func TestScopeKey(t *testing.T) {
	assert.Equal(t, DefaultScope, ScopeKey(""))
	assert.Equal(t, "org-9", ScopeKey("org-9"))
}
