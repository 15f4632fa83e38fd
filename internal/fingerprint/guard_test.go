package fingerprint_test

import (
	"context"
	"testing"

	"curio/internal/entry"
	"curio/internal/entrystore"
	"curio/internal/fingerprint"
	"curio/internal/testsupport"
)

func seedEntry(t *testing.T, store entrystore.Gateway, fp, channel string, statuses ...entry.Status) entry.Entry {
	t.Helper()
	record, err := store.CreateEntry(context.Background(), entry.NewParams{
		SourceType:    "audio",
		SourceChannel: channel,
		Metadata: map[string]any{
			entry.MetadataKeyFingerprint:     fp,
			entry.MetadataKeyFingerprintAlgo: fingerprint.FileAlgorithm,
		},
	})
	if err != nil {
		t.Fatalf("CreateEntry failed: %v", err)
	}
	for _, status := range statuses {
		if record, err = store.UpdatePipelineStatus(context.Background(), record.EntryID, status); err != nil {
			t.Fatalf("UpdatePipelineStatus(%s) failed: %v", status, err)
		}
	}
	return record
}

func TestGuardNoExistingEntry(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t, testsupport.WithStoreBackend("memory")))
	guard := fingerprint.NewGuard(store)

	decision, err := guard.Evaluate(context.Background(), "fp-none", "watch:voice")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !decision.ShouldProcess || decision.Reason != fingerprint.ReasonNoExistingEntry {
		t.Fatalf("unexpected decision: %#v", decision)
	}
}

func TestGuardBlocksActiveEntry(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t, testsupport.WithStoreBackend("memory")))
	guard := fingerprint.NewGuard(store)
	record := seedEntry(t, store, "fp-active", "watch:voice", entry.StatusQueuedForTranscription)

	decision, err := guard.Evaluate(context.Background(), "fp-active", "watch:voice")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.ShouldProcess {
		t.Fatalf("active entry should block re-capture: %#v", decision)
	}
	if decision.Reason != fingerprint.ReasonActiveOrCompleted || decision.ExistingEntryID != record.EntryID {
		t.Fatalf("unexpected decision: %#v", decision)
	}
}

func TestGuardBlocksProcessedEntry(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t, testsupport.WithStoreBackend("memory")))
	guard := fingerprint.NewGuard(store)
	seedEntry(t, store, "fp-done", "watch:voice",
		entry.StatusQueuedForTranscription,
		entry.StatusTranscriptionInProgress,
		entry.StatusTranscriptionComplete,
		entry.StatusNormalizationInProgress,
		entry.StatusNormalizationComplete,
		entry.StatusSemanticInProgress,
		entry.StatusSemanticComplete,
	)

	decision, err := guard.Evaluate(context.Background(), "fp-done", "watch:voice")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.ShouldProcess || decision.Reason != fingerprint.ReasonActiveOrCompleted {
		t.Fatalf("processed entry should block re-capture: %#v", decision)
	}
}

func TestGuardAllowsRetryAfterFailure(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t, testsupport.WithStoreBackend("memory")))
	guard := fingerprint.NewGuard(store)
	record := seedEntry(t, store, "fp-failed", "watch:voice",
		entry.StatusQueuedForTranscription,
		entry.StatusTranscriptionInProgress,
		entry.StatusTranscriptionFailed,
	)

	decision, err := guard.Evaluate(context.Background(), "fp-failed", "watch:voice")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !decision.ShouldProcess || decision.Reason != fingerprint.ReasonRetryAllowed {
		t.Fatalf("failed entry should allow retry: %#v", decision)
	}
	if decision.ExistingEntryID != record.EntryID {
		t.Fatalf("expected existing entry id, got %#v", decision)
	}
}

func TestGuardScopedToChannel(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t, testsupport.WithStoreBackend("memory")))
	guard := fingerprint.NewGuard(store)
	seedEntry(t, store, "fp-chan", "watch:voice", entry.StatusQueuedForTranscription)

	decision, err := guard.Evaluate(context.Background(), "fp-chan", "watch:documents")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !decision.ShouldProcess || decision.Reason != fingerprint.ReasonNoExistingEntry {
		t.Fatalf("dedup leaked across channels: %#v", decision)
	}
}
