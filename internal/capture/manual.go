package capture

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"curio/internal/entry"
	"curio/internal/entrystore"
	"curio/internal/fingerprint"
	"curio/internal/jobqueue"
	"curio/internal/services"
)

// ManualChannel is the source channel for text submitted directly.
const ManualChannel = "manual"

// Manual captures text bodies submitted without a file, as the CLI's add
// command does. The body travels inline in entry metadata and is picked up
// by the extraction stage.
type Manual struct {
	store entrystore.Gateway
	queue jobqueue.Enqueuer
}

// NewManual wires manual capture.
func NewManual(store entrystore.Gateway, queue jobqueue.Enqueuer) *Manual {
	return &Manual{store: store, queue: queue}
}

// Capture fingerprints the trimmed body, creates the entry at "captured",
// advances it into the extraction queue, and enqueues the job. A body whose
// content was already captured returns entrystore.ErrDuplicateFingerprint.
func (m *Manual) Capture(ctx context.Context, body, title string) (entry.Entry, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return entry.Entry{}, services.Wrap(services.ErrValidation, "capture", "manual",
			"text body is empty", nil)
	}

	fp, algo := fingerprint.ComputeText(trimmed)
	guard := fingerprint.NewGuard(m.store)
	decision, err := guard.Evaluate(ctx, fp, ManualChannel)
	if err != nil {
		return entry.Entry{}, err
	}
	if !decision.ShouldProcess {
		return entry.Entry{}, entrystore.ErrDuplicateFingerprint
	}

	record, err := m.store.CreateEntry(ctx, entry.NewParams{
		SourceType:     "text",
		SourceChannel:  ManualChannel,
		PipelineStatus: entry.StatusCaptured,
		DisplayTitle:   strings.TrimSpace(title),
		Metadata: map[string]any{
			entry.MetadataKeyFingerprint:      fp,
			entry.MetadataKeyFingerprintAlgo:  algo,
			entry.MetadataKeyManualTextBody:   trimmed,
			entry.MetadataKeyManualTextLength: utf8.RuneCountInString(trimmed),
		},
	})
	if err != nil {
		return entry.Entry{}, err
	}

	record, err = m.store.UpdatePipelineStatus(ctx, record.EntryID, entry.StatusQueuedForExtraction)
	if err != nil {
		return entry.Entry{}, err
	}

	if _, err := m.queue.Enqueue(ctx, jobqueue.TypeExtractEntry, jobqueue.Payload{
		jobqueue.PayloadEntryID:       record.EntryID,
		jobqueue.PayloadCorrelationID: uuid.NewString(),
		jobqueue.PayloadFingerprint:   fp,
	}); err != nil {
		return record, err
	}
	return record, nil
}
