// Package cache implements the persistent cache contract used by every
// resolver: keyed values with optional TTL plus typed tables keyed by scope.
//
// Storage failures never reach callers as errors they must handle; a failed
// read is reported as a miss and logged.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmcleod/ebm/storage"
)

// Table names.
const (
	TableCache            = "cache"
	TableFeatureFlags     = "feature_flags"
	TableNavigationConfig = "navigation_config"
)

// Keys in the generic cache table.
const (
	KeyActiveOrganization = "active_organization"
	KeyUserOrganizations  = "user_organizations"
	KeyAuthToken          = "auth_token"
	KeyRefreshToken       = "refresh_token"
	KeyCurrentUser        = "current_user"
	KeyLastSync           = "last_sync"
)

// DefaultScope is the scope key used for global (no organization) snapshots.
const DefaultScope = "default"

// ScopeKey maps an organization id to its table key.
func ScopeKey(organizationID string) string {
	if organizationID == "" {
		return DefaultScope
	}
	return organizationID
}

// purger is implemented by repositories that can drop expired rows in bulk.
type purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Store is the persistent cache. It is safe for concurrent use as long as
// the underlying repository is.
type Store struct {
	repo         storage.Repository
	sealer       *storage.Sealer
	sealedTables map[string]bool
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for cache failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time source used for TTL handling.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithSealer encrypts values written to the given tables.
func WithSealer(sealer *storage.Sealer, tables ...string) Option {
	return func(s *Store) {
		s.sealer = sealer
		for _, t := range tables {
			s.sealedTables[t] = true
		}
	}
}

// New returns a Store over repo.
func New(repo storage.Repository, opts ...Option) *Store {
	s := &Store{
		repo:         repo,
		sealedTables: make(map[string]bool),
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores value under key in the generic cache table. A ttl of zero
// stores the value without expiry.
func (s *Store) Put(key string, value any, ttl time.Duration) error {
	return s.put(TableCache, key, value, ttl)
}

// Get decodes the value stored under key into dst. It reports false when the
// key is absent, expired, unreadable, or the store failed.
func (s *Store) Get(key string, dst any) bool {
	return s.get(TableCache, key, dst)
}

// Delete removes key from the generic cache table.
func (s *Store) Delete(key string) {
	s.delete(TableCache, key)
}

// Clear removes every entry of the generic cache table.
func (s *Store) Clear() {
	if err := s.repo.Clear(TableCache); err != nil {
		s.logger.Warn("cache clear failed", slog.String("table", TableCache), slog.Any("error", err))
	}
}

// ClearExpired removes every expired entry across all known tables and
// returns how many were dropped.
func (s *Store) ClearExpired(ctx context.Context) int {
	now := s.now()
	if p, ok := s.repo.(purger); ok {
		n, err := p.PurgeExpired(ctx, now)
		if err != nil {
			s.logger.Warn("cache purge failed", slog.Any("error", err))
			return 0
		}
		return int(n)
	}

	removed := 0
	for _, table := range []string{TableCache, TableFeatureFlags, TableNavigationConfig} {
		keys, err := s.repo.List(table)
		if err != nil {
			s.logger.Warn("cache list failed", slog.String("table", table), slog.Any("error", err))
			continue
		}
		for _, key := range keys {
			entry, err := s.repo.Get(table, key)
			if err != nil || !entry.Expired(now) {
				continue
			}
			if err := s.repo.Delete(table, key); err == nil {
				removed++
			}
		}
	}
	return removed
}

func (s *Store) put(table, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", table, key, err)
	}
	now := s.now()
	entry := &storage.Entry{Key: key, Value: data, StoredAt: now}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	if s.sealer != nil && s.sealedTables[table] {
		sealed, err := s.sealer.Seal(table, key, data)
		if err != nil {
			return fmt.Errorf("sealing %s/%s: %w", table, key, err)
		}
		entry.Value = sealed
		entry.Sealed = true
	}
	if err := s.repo.Put(table, key, entry); err != nil {
		s.logger.Warn("cache write failed",
			slog.String("table", table),
			slog.String("key", key),
			slog.Any("error", err))
		return err
	}
	return nil
}

func (s *Store) get(table, key string, dst any) bool {
	entry, err := s.repo.Get(table, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrTableNotFound) {
			s.logger.Warn("cache read failed",
				slog.String("table", table),
				slog.String("key", key),
				slog.Any("error", err))
		}
		return false
	}
	if entry.Expired(s.now()) {
		s.delete(table, key)
		return false
	}

	data := entry.Value
	if entry.Sealed {
		if s.sealer == nil {
			s.logger.Warn("sealed cache entry without sealer", slog.String("table", table), slog.String("key", key))
			return false
		}
		data, err = s.sealer.Open(table, key, entry.Value)
		if err != nil {
			s.logger.Warn("cache entry unreadable, dropping",
				slog.String("table", table),
				slog.String("key", key),
				slog.Any("error", err))
			s.delete(table, key)
			return false
		}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.logger.Warn("cache entry undecodable",
			slog.String("table", table),
			slog.String("key", key),
			slog.Any("error", err))
		return false
	}
	return true
}

func (s *Store) delete(table, key string) {
	err := s.repo.Delete(table, key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrTableNotFound) {
		s.logger.Warn("cache delete failed",
			slog.String("table", table),
			slog.String("key", key),
			slog.Any("error", err))
	}
}

// Table is a typed view over one scope-keyed table.
type Table[T any] struct {
	store *Store
	name  string
}

// NewTable returns a typed view of the named table.
func NewTable[T any](store *Store, name string) *Table[T] {
	return &Table[T]{store: store, name: name}
}

// Get returns the snapshot stored for scope.
func (t *Table[T]) Get(scope string) (T, bool) {
	var v T
	if !t.store.get(t.name, scope, &v) {
		var zero T
		return zero, false
	}
	return v, true
}

// Put stores a snapshot for scope. A ttl of zero stores it without expiry.
func (t *Table[T]) Put(scope string, v T, ttl time.Duration) error {
	return t.store.put(t.name, scope, v, ttl)
}

// Delete drops the snapshot for scope.
func (t *Table[T]) Delete(scope string) {
	t.store.delete(t.name, scope)
}
