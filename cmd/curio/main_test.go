package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"curio/internal/capture"
	"curio/internal/config"
	"curio/internal/entry"
	"curio/internal/entrystore"
	"curio/internal/jobqueue"
	"curio/internal/testsupport"
)

type cliTestEnv struct {
	cfg   *config.Config
	store entrystore.Gateway
	queue jobqueue.Queue
	ctx   *commandContext
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Ingest.MinFreeSpaceGiB = 0
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	store := entrystore.NewMemory()
	queue := jobqueue.NewMemory(time.Minute, 3)

	ctx := &commandContext{
		openStores: func(*config.Config) (entrystore.Gateway, jobqueue.Queue, error) {
			return store, queue, nil
		},
	}
	ctx.config = cfg
	ctx.configOnce.Do(func() {})

	return &cliTestEnv{cfg: cfg, store: store, queue: queue, ctx: ctx}
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var configFlag string
	root := buildRootCommand(env.ctx, &configFlag)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

func TestAddCommandCapturesText(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "add", "--title", "Groceries", "Buy milk and eggs.")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	requireContains(t, out, "Captured entry")

	records, err := env.store.SearchEntries(context.Background(), entrystore.SearchQuery{})
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one entry, got %d (%v)", len(records), err)
	}
	if records[0].DisplayTitle != "Groceries" {
		t.Fatalf("unexpected title %q", records[0].DisplayTitle)
	}
	if records[0].PipelineStatus != entry.StatusQueuedForExtraction {
		t.Fatalf("unexpected status %q", records[0].PipelineStatus)
	}
}

func TestAddCommandRejectsDuplicate(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := env.run(t, "add", "Same body."); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := env.run(t, "add", "Same body."); err == nil {
		t.Fatal("expected duplicate body to be rejected")
	}
}

func TestEntriesListAndShow(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	record, err := capture.NewManual(env.store, env.queue).Capture(ctx, "Plan the launch.", "Launch plan")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	out, err := env.run(t, "entries", "list")
	if err != nil {
		t.Fatalf("entries list: %v", err)
	}
	requireContains(t, out, "Launch plan")
	requireContains(t, out, "queued_for_extraction")

	out, err = env.run(t, "entries", "list", "--term", "nothing-matches-this")
	if err != nil {
		t.Fatalf("entries list --term: %v", err)
	}
	requireContains(t, out, "No entries matched")

	out, err = env.run(t, "entries", "show", record.EntryID)
	if err != nil {
		t.Fatalf("entries show: %v", err)
	}
	requireContains(t, out, record.EntryID)
	requireContains(t, out, "Launch plan")
}

func TestRetryCommandResubmitsFailedManualEntry(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	record, err := capture.NewManual(env.store, env.queue).Capture(ctx, "Retry me.", "")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	for _, status := range []entry.Status{entry.StatusExtractionInProgress, entry.StatusExtractionFailed} {
		if _, err := env.store.UpdatePipelineStatus(ctx, record.EntryID, status); err != nil {
			t.Fatalf("advance to %s: %v", status, err)
		}
	}

	out, err := env.run(t, "retry", record.EntryID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	requireContains(t, out, "Resubmitted manual body")
}

func TestRetryCommandRejectsActiveEntry(t *testing.T) {
	env := setupCLITestEnv(t)

	record, err := capture.NewManual(env.store, env.queue).Capture(context.Background(), "Active.", "")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if _, err := env.run(t, "retry", record.EntryID); err == nil {
		t.Fatal("expected retry of active entry to fail")
	}
}

func TestStatusCommandRendersSections(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := capture.NewManual(env.store, env.queue).Capture(context.Background(), "Status test.", ""); err != nil {
		t.Fatalf("Capture: %v", err)
	}

	out, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Daemon ==")
	requireContains(t, out, "== Entries ==")
	requireContains(t, out, "queued_for_extraction")
	requireContains(t, out, "== Queue ==")
	requireContains(t, out, "Pending")
	requireContains(t, out, "== Checks ==")
}
