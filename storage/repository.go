// Package storage provides the storage abstraction layer for cached client snapshots.
package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist in a table.
	ErrNotFound = errors.New("entry not found")
	// ErrTableNotFound is returned when a table has never been written.
	ErrTableNotFound = errors.New("table not found")
)

// Entry is a single cached value. A zero ExpiresAt means the entry never expires.
type Entry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	Sealed    bool      `json:"sealed,omitempty"`
}

// Expired reports whether the entry's expiry lies strictly before now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && e.ExpiresAt.Before(now)
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Value = append([]byte(nil), e.Value...)
	return &cp
}

// Repository defines the interface for durable key/value tables.
type Repository interface {
	Put(table string, key string, entry *Entry) error
	Get(table string, key string) (*Entry, error)
	Delete(table string, key string) error
	List(table string) ([]string, error)
	Clear(table string) error
}
