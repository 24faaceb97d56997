package bbolt

import (
	"path/filepath"
	"testing"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/ebm/storage"
	"github.com/jmcleod/ebm/storage/storagetest"
)

func newTestDB(t *testing.T) *bbolt.DB {
	t.Helper()
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "cache.db"), 0600, nil)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBBoltStorage(t *testing.T) {
	storagetest.Run(t, NewRepository(newTestDB(t)))
}

func TestBBoltSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := NewRepositoryFromFile(path, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	e := &storage.Entry{Key: "active_organization", Value: []byte(`"org-1"`), StoredAt: time.Now()}
	if err := s.Put("cache", "active_organization", e); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = NewRepositoryFromFile(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	got, err := s.Get("cache", "active_organization")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(got.Value) != `"org-1"` {
		t.Errorf("expected %q, got %q", `"org-1"`, got.Value)
	}
}
