package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pkordes/triplog/internal/repo"
)

// NewLocalCache opens a migrated SQLite cache in a per-test temp directory.
// Unlike NewPool it never skips: SQLite needs no external service.
func NewLocalCache(t *testing.T) *repo.LocalCache {
	t.Helper()

	c, err := repo.OpenLocalCache(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("testutil.NewLocalCache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}
