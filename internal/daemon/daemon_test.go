package daemon_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"curio/internal/config"
	"curio/internal/daemon"
	"curio/internal/entry"
	"curio/internal/entrystore"
	"curio/internal/jobqueue"
	"curio/internal/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Ingest.MinFreeSpaceGiB = 0
	cfg.Ingest.WatchRoots = []config.WatchRoot{
		{Name: "notes", Path: filepath.Join(base, "notes"), Lane: "document"},
	}
	cfg.Notifications.NtfyTopic = ""
	return &cfg
}

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	store := entrystore.NewMemory()
	queue := jobqueue.NewMemory(time.Minute, 3)
	d, err := daemon.New(cfg, store, queue, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testConfig(t)
	d := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status, err := d.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.LockFilePath != cfg.LockPath() {
		t.Fatalf("unexpected lock path %q", status.LockFilePath)
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status, err = d.Status(ctx)
	if err != nil {
		t.Fatalf("Status after stop: %v", err)
	}
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonLockExcludesSecondInstance(t *testing.T) {
	cfg := testConfig(t)
	first := newDaemon(t, cfg)
	second := newDaemon(t, cfg)

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		t.Fatal("expected second instance to be refused the lock")
	}
	first.Stop()

	if err := second.Start(ctx); err != nil {
		t.Fatalf("second Start after release failed: %v", err)
	}
	second.Stop()
}

func TestDaemonRefusesToStartOnFailedPreflight(t *testing.T) {
	cfg := testConfig(t)
	// An absurd free-space floor guarantees a preflight failure.
	cfg.Ingest.MinFreeSpaceGiB = 1 << 20

	d := newDaemon(t, cfg)
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("expected preflight failure to abort start")
	}
}

func TestDaemonProcessesWatchedDocument(t *testing.T) {
	cfg := testConfig(t)
	store := entrystore.NewMemory()
	queue := jobqueue.NewMemory(time.Minute, 3)
	d, err := daemon.New(cfg, store, queue, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	incoming := filepath.Join(cfg.Ingest.WatchRoots[0].Path, "incoming")
	if err := os.MkdirAll(incoming, 0o755); err != nil {
		t.Fatalf("mkdir incoming: %v", err)
	}
	body := "Quarterly planning notes.\n\nReview the roadmap with the team."
	if err := os.WriteFile(filepath.Join(incoming, "notes.md"), []byte(body), 0o644); err != nil {
		t.Fatalf("write document: %v", err)
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	deadline := time.Now().Add(10 * time.Second)
	for {
		records, err := store.SearchEntries(ctx, entrystore.SearchQuery{
			IngestStates: []entry.State{entry.StateProcessed},
		})
		if err != nil {
			t.Fatalf("SearchEntries: %v", err)
		}
		if len(records) == 1 {
			record := records[0]
			if record.PipelineStatus != entry.StatusSemanticComplete {
				t.Fatalf("unexpected pipeline status %q", record.PipelineStatus)
			}
			if record.Summary == "" {
				t.Fatal("expected fallback summary")
			}
			return
		}
		if time.Now().After(deadline) {
			all, _ := store.SearchEntries(ctx, entrystore.SearchQuery{})
			t.Fatalf("document never reached processed state; entries: %+v", all)
		}
		time.Sleep(25 * time.Millisecond)
	}
}
