package testsupport

import (
	"os"
	"testing"

	"curio/internal/config"
	"curio/internal/entrystore"
	"curio/internal/jobqueue"
)

// MustOpenStore opens the configured entry store and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) entrystore.Gateway {
	t.Helper()

	store, err := entrystore.Open(cfg)
	if err != nil {
		t.Fatalf("open entry store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close entry store: %v", err)
		}
	})
	return store
}

// MustOpenQueue opens the SQLite job queue under the config's data dir and
// registers cleanup.
func MustOpenQueue(t testing.TB, cfg *config.Config) jobqueue.Queue {
	t.Helper()

	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		t.Fatalf("create data dir: %v", err)
	}
	queue, err := jobqueue.OpenSQLite(cfg)
	if err != nil {
		t.Fatalf("open job queue: %v", err)
	}
	t.Cleanup(func() {
		if err := queue.Close(); err != nil {
			t.Errorf("close job queue: %v", err)
		}
	})
	return queue
}
