package capture_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"curio/internal/capture"
	"curio/internal/config"
	"curio/internal/entry"
	"curio/internal/entrystore"
	"curio/internal/jobqueue"
)

func failEntry(t *testing.T, store entrystore.Gateway, entryID string, statuses ...entry.Status) {
	t.Helper()
	for _, status := range statuses {
		if _, err := store.UpdatePipelineStatus(context.Background(), entryID, status); err != nil {
			t.Fatalf("advance to %s: %v", status, err)
		}
	}
}

func TestRetryManualEntry(t *testing.T) {
	store := entrystore.NewMemory()
	queue := jobqueue.NewMemory(time.Minute, 3)
	ctx := context.Background()

	record, err := capture.NewManual(store, queue).Capture(ctx, "Call the dentist tomorrow.", "Dentist")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	failEntry(t, store, record.EntryID, entry.StatusExtractionInProgress, entry.StatusExtractionFailed)

	outcome, err := capture.Retry(ctx, store, queue, record.EntryID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if outcome.NewEntryID == "" || outcome.NewEntryID == record.EntryID {
		t.Fatalf("expected a fresh entry id, got %q", outcome.NewEntryID)
	}

	fresh, err := store.GetEntry(ctx, outcome.NewEntryID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if fresh.PipelineStatus != entry.StatusQueuedForExtraction {
		t.Fatalf("unexpected status %q", fresh.PipelineStatus)
	}
	if fresh.Fingerprint() != record.Fingerprint() {
		t.Fatal("retry must preserve the fingerprint")
	}
}

func TestRetryFileEntryReturnsParkedFile(t *testing.T) {
	store := entrystore.NewMemory()
	queue := jobqueue.NewMemory(time.Minute, 3)
	ctx := context.Background()
	root := config.WatchRoot{Name: "voice_memos", Path: t.TempDir(), Lane: "audio"}
	scanner, _ := newScanner(t, store, queue, root)

	writeIncoming(t, root.Path, "memo.wav", "RIFF")
	scanner.ScanOnce(ctx)

	records, err := store.SearchEntries(ctx, entrystore.SearchQuery{})
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one entry, got %d (%v)", len(records), err)
	}
	record := records[0]
	failEntry(t, store, record.EntryID, entry.StatusTranscriptionInProgress, entry.StatusTranscriptionFailed)
	// Park the processing file the way a failed stage does.
	if _, err := capture.RollFile(record.SourcePath, capture.DirFailed); err != nil {
		t.Fatalf("park file: %v", err)
	}

	outcome, err := capture.Retry(ctx, store, queue, record.EntryID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	want := filepath.Join(root.Path, capture.DirIncoming, "memo.wav")
	if outcome.RequeuedPath != want {
		t.Fatalf("expected file at %q, got %q", want, outcome.RequeuedPath)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("requeued file missing: %v", err)
	}

	// The next sweep re-captures it; the guard allows failed fingerprints.
	scanner.ScanOnce(ctx)
	records, err = store.SearchEntries(ctx, entrystore.SearchQuery{})
	if err != nil {
		t.Fatalf("SearchEntries: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected re-capture to create a second entry, got %d", len(records))
	}
}

func TestRetryRejectsActiveEntry(t *testing.T) {
	store := entrystore.NewMemory()
	queue := jobqueue.NewMemory(time.Minute, 3)
	ctx := context.Background()

	record, err := capture.NewManual(store, queue).Capture(ctx, "Still running.", "")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if _, err := capture.Retry(ctx, store, queue, record.EntryID); err == nil {
		t.Fatal("expected retry of an active entry to be rejected")
	}
}
