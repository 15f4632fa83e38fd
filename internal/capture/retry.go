package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"curio/internal/entry"
	"curio/internal/entrystore"
	"curio/internal/jobqueue"
)

// RetryOutcome describes what a retry did so callers can report it.
type RetryOutcome struct {
	// NewEntryID is set when a manual body was re-captured immediately.
	NewEntryID string
	// RequeuedPath is set when a parked file was returned to incoming/
	// for the scanner to pick up.
	RequeuedPath string
}

// Retry re-captures a failed entry. Manual bodies are resubmitted directly;
// file-backed entries have their parked file moved from failed/ back to
// incoming/, where the next scan re-captures it. The fingerprint guard
// permits this because failed statuses never block re-capture.
func Retry(ctx context.Context, store entrystore.Gateway, queue jobqueue.Enqueuer, entryID string) (RetryOutcome, error) {
	snapshot, err := store.GetEntry(ctx, entryID)
	if err != nil {
		return RetryOutcome{}, err
	}
	if snapshot.IngestState() != entry.StateFailed {
		return RetryOutcome{}, fmt.Errorf("entry %s is in state %q, only failed entries can be retried",
			entryID, snapshot.IngestState())
	}

	if snapshot.SourceChannel == ManualChannel {
		return retryManual(ctx, store, queue, snapshot)
	}
	return retryFile(snapshot)
}

func retryManual(ctx context.Context, store entrystore.Gateway, queue jobqueue.Enqueuer, snapshot entry.Entry) (RetryOutcome, error) {
	body, _ := snapshot.Metadata[entry.MetadataKeyManualTextBody].(string)
	if body == "" {
		return RetryOutcome{}, fmt.Errorf("entry %s has no stored manual body to resubmit", snapshot.EntryID)
	}
	record, err := NewManual(store, queue).Capture(ctx, body, snapshot.DisplayTitle)
	if err != nil {
		return RetryOutcome{}, fmt.Errorf("resubmit manual body: %w", err)
	}
	return RetryOutcome{NewEntryID: record.EntryID}, nil
}

func retryFile(snapshot entry.Entry) (RetryOutcome, error) {
	if snapshot.SourcePath == "" {
		return RetryOutcome{}, fmt.Errorf("entry %s has no source path to retry", snapshot.EntryID)
	}
	root := filepath.Dir(filepath.Dir(snapshot.SourcePath))
	parked := filepath.Join(root, DirFailed, filepath.Base(snapshot.SourcePath))
	if _, err := os.Stat(parked); err != nil {
		return RetryOutcome{}, fmt.Errorf("parked file for entry %s not found: %w", snapshot.EntryID, err)
	}
	moved, err := RollFile(parked, DirIncoming)
	if err != nil {
		return RetryOutcome{}, fmt.Errorf("return file to incoming: %w", err)
	}
	return RetryOutcome{RequeuedPath: moved}, nil
}
