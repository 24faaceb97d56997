// Package postgres implements storage.Repository backed by PostgreSQL.
//
// The cache_entries table uses a composite primary key (tbl, key) that
// mirrors the key space used by the BBolt and in-memory backends. This
// backend suits shared kiosk devices whose cache lives on a local server.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/ebm/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Put(table, key string, entry *storage.Entry) error {
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO cache_entries (tbl, key, value, stored_at, expires_at, sealed)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (tbl, key)
		 DO UPDATE SET value = $3, stored_at = $4, expires_at = $5, sealed = $6`,
		table, key, entry.Value, entry.StoredAt, nullableTime(entry.ExpiresAt), entry.Sealed)
	return err
}

func (s *Store) Get(table, key string) (*storage.Entry, error) {
	entry := storage.Entry{Key: key}
	var expiresAt *time.Time
	err := s.pool.QueryRow(context.Background(),
		`SELECT value, stored_at, expires_at, sealed
		 FROM cache_entries WHERE tbl = $1 AND key = $2`,
		table, key).Scan(&entry.Value, &entry.StoredAt, &expiresAt, &entry.Sealed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundError(context.Background(), s.pool, table, key)
	}
	if err != nil {
		return nil, err
	}
	if expiresAt != nil {
		entry.ExpiresAt = *expiresAt
	}
	return &entry, nil
}

func (s *Store) List(table string) ([]string, error) {
	rows, err := s.pool.Query(context.Background(),
		`SELECT key FROM cache_entries WHERE tbl = $1 ORDER BY key`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) Delete(table, key string) error {
	tag, err := s.pool.Exec(context.Background(),
		`DELETE FROM cache_entries WHERE tbl = $1 AND key = $2`, table, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFoundError(context.Background(), s.pool, table, key)
	}
	return nil
}

func (s *Store) Clear(table string) error {
	_, err := s.pool.Exec(context.Background(),
		`DELETE FROM cache_entries WHERE tbl = $1`, table)
	return err
}

// PurgeExpired removes every entry whose expiry lies before now.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// querier abstracts both *pgxpool.Pool and pgx.Tx for shared queries.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// notFoundError distinguishes a table that was never written from a missing
// key, preserving the BBolt semantic of ErrTableNotFound vs ErrNotFound.
func notFoundError(ctx context.Context, q querier, table, key string) error {
	var exists bool
	_ = q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM cache_entries WHERE tbl = $1 LIMIT 1)`,
		table).Scan(&exists)
	if !exists {
		return fmt.Errorf("%s: %w", table, storage.ErrTableNotFound)
	}
	return fmt.Errorf("%s/%s: %w", table, key, storage.ErrNotFound)
}
