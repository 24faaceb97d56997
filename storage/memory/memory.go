// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/jmcleod/ebm/storage"
)

// Repository is an in-memory storage.Repository backed by ttlcache. Entries
// with an expiry are evicted by the cache itself once it is started.
// Suitable for testing, demos, and sessions that must not touch disk.
type Repository struct {
	mu     sync.Mutex
	items  *ttlcache.Cache[string, *storage.Entry]
	tables map[string]struct{}
	now    func() time.Time
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{
		items: ttlcache.New(
			ttlcache.WithDisableTouchOnHit[string, *storage.Entry](),
		),
		tables: make(map[string]struct{}),
		now:    time.Now,
	}
}

// Start runs the expiry loop until Close is called.
func (r *Repository) Start() {
	go r.items.Start()
}

// Close stops the expiry loop.
func (r *Repository) Close() {
	r.items.Stop()
}

func makeKey(table, key string) string {
	return table + ":" + key
}

func (r *Repository) Put(table, key string, entry *storage.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ttl := ttlcache.NoTTL
	if !entry.ExpiresAt.IsZero() {
		// Relative to StoredAt so callers with their own clock keep their TTL.
		from := entry.StoredAt
		if from.IsZero() {
			from = r.now()
		}
		ttl = entry.ExpiresAt.Sub(from)
		if ttl <= 0 {
			// Already expired; keep it so the reader observes and purges it.
			ttl = time.Millisecond
		}
	}
	r.tables[table] = struct{}{}
	r.items.Set(makeKey(table, key), entry.Clone(), ttl)
	return nil
}

func (r *Repository) Get(table, key string) (*storage.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tables[table]; !ok {
		return nil, fmt.Errorf("%s: %w", table, storage.ErrTableNotFound)
	}
	item := r.items.Get(makeKey(table, key))
	if item == nil {
		return nil, fmt.Errorf("%s/%s: %w", table, key, storage.ErrNotFound)
	}
	return item.Value().Clone(), nil
}

func (r *Repository) Delete(table, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := makeKey(table, key)
	if !r.items.Has(k) {
		return fmt.Errorf("%s/%s: %w", table, key, storage.ErrNotFound)
	}
	r.items.Delete(k)
	return nil
}

func (r *Repository) List(table string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := table + ":"
	var keys []string
	for _, k := range r.items.Keys() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k[len(prefix):])
		}
	}
	return keys, nil
}

func (r *Repository) Clear(table string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := table + ":"
	for _, k := range r.items.Keys() {
		if strings.HasPrefix(k, prefix) {
			r.items.Delete(k)
		}
	}
	return nil
}
