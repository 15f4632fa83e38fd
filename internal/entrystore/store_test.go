package entrystore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"curio/internal/entry"
	"curio/internal/entrystore"
	"curio/internal/testsupport"
)

func forEachBackend(t *testing.T, run func(t *testing.T, store entrystore.Gateway)) {
	t.Helper()
	backends := []string{"memory", "sqlite"}
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			cfg := testsupport.NewConfig(t, testsupport.WithStoreBackend(backend))
			run(t, testsupport.MustOpenStore(t, cfg))
		})
	}
}

func newParams(fingerprint, channel string) entry.NewParams {
	return entry.NewParams{
		SourceType:    "audio",
		SourceChannel: channel,
		SourcePath:    "/captures/" + fingerprint + ".wav",
		Metadata: map[string]any{
			entry.MetadataKeyFingerprint:     fingerprint,
			entry.MetadataKeyFingerprintAlgo: "sha256(name|size|mtime_ns)",
		},
	}
}

func mustCreate(t *testing.T, store entrystore.Gateway, fingerprint, channel string) entry.Entry {
	t.Helper()
	record, err := store.CreateEntry(context.Background(), newParams(fingerprint, channel))
	if err != nil {
		t.Fatalf("CreateEntry failed: %v", err)
	}
	return record
}

func advance(t *testing.T, store entrystore.Gateway, entryID string, statuses ...entry.Status) entry.Entry {
	t.Helper()
	var record entry.Entry
	var err error
	for _, status := range statuses {
		record, err = store.UpdatePipelineStatus(context.Background(), entryID, status)
		if err != nil {
			t.Fatalf("UpdatePipelineStatus(%s) failed: %v", status, err)
		}
	}
	return record
}

func TestCreateEntryBootstrapsState(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store entrystore.Gateway) {
		record := mustCreate(t, store, "fp-create", "watch:voice")
		if record.EntryID == "" {
			t.Fatal("expected entry id to be assigned")
		}
		if record.PipelineStatus != entry.StatusIngested {
			t.Fatalf("unexpected default status %q", record.PipelineStatus)
		}
		if record.IngestState() != entry.StateCaptured {
			t.Fatalf("unexpected ingest state %q", record.IngestState())
		}
		if len(record.PipelineHistory()) != 1 {
			t.Fatalf("expected exactly one bootstrap history record, got %d", len(record.PipelineHistory()))
		}

		fetched, err := store.GetEntry(context.Background(), record.EntryID)
		if err != nil {
			t.Fatalf("GetEntry failed: %v", err)
		}
		if fetched.Fingerprint() != "fp-create" {
			t.Fatalf("fingerprint lost on round trip: %q", fetched.Fingerprint())
		}
		if fetched.IngestState() != entry.StateCaptured {
			t.Fatalf("ingest state lost on round trip: %q", fetched.IngestState())
		}
	})
}

func TestCreateEntryRequiresFingerprint(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store entrystore.Gateway) {
		params := newParams("fp-x", "watch:voice")
		params.Metadata = map[string]any{}
		if _, err := store.CreateEntry(context.Background(), params); !errors.Is(err, entrystore.ErrMissingFingerprint) {
			t.Fatalf("expected ErrMissingFingerprint, got %v", err)
		}
	})
}

func TestCreateEntryRejectsActiveDuplicate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store entrystore.Gateway) {
		mustCreate(t, store, "fp-dup", "watch:voice")
		if _, err := store.CreateEntry(context.Background(), newParams("fp-dup", "watch:voice")); !errors.Is(err, entrystore.ErrDuplicateFingerprint) {
			t.Fatalf("expected ErrDuplicateFingerprint, got %v", err)
		}
		// Same fingerprint on a different channel is a distinct capture.
		if _, err := store.CreateEntry(context.Background(), newParams("fp-dup", "watch:documents")); err != nil {
			t.Fatalf("cross-channel create failed: %v", err)
		}
	})
}

func TestCreateEntryAllowsRetryAfterFailure(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store entrystore.Gateway) {
		first := mustCreate(t, store, "fp-retry", "watch:voice")
		advance(t, store, first.EntryID,
			entry.StatusQueuedForTranscription,
			entry.StatusTranscriptionInProgress,
			entry.StatusTranscriptionFailed,
		)

		second, err := store.CreateEntry(context.Background(), newParams("fp-retry", "watch:voice"))
		if err != nil {
			t.Fatalf("re-capture after failure rejected: %v", err)
		}
		if second.EntryID == first.EntryID {
			t.Fatal("expected a fresh entry id")
		}

		found, err := store.FindByFingerprint(context.Background(), "fp-retry", "watch:voice")
		if err != nil {
			t.Fatalf("FindByFingerprint failed: %v", err)
		}
		if found == nil || found.EntryID != second.EntryID {
			t.Fatalf("expected most recent capture, got %#v", found)
		}
	})
}

func TestUnknownEntryID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store entrystore.Gateway) {
		ctx := context.Background()
		if _, err := store.GetEntry(ctx, "missing"); !errors.Is(err, entrystore.ErrEntryNotFound) {
			t.Fatalf("GetEntry: expected ErrEntryNotFound, got %v", err)
		}
		if _, err := store.UpdatePipelineStatus(ctx, "missing", entry.StatusQueuedForTranscription); !errors.Is(err, entrystore.ErrEntryNotFound) {
			t.Fatalf("UpdatePipelineStatus: expected ErrEntryNotFound, got %v", err)
		}
		if _, err := store.SaveSummary(ctx, "missing", entry.SummaryResult{Summary: "s"}); !errors.Is(err, entrystore.ErrEntryNotFound) {
			t.Fatalf("SaveSummary: expected ErrEntryNotFound, got %v", err)
		}
	})
}

func TestUpdatePipelineStatusAppendsHistory(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store entrystore.Gateway) {
		record := mustCreate(t, store, "fp-history", "watch:voice")
		updated := advance(t, store, record.EntryID,
			entry.StatusQueuedForTranscription,
			entry.StatusTranscriptionInProgress,
		)

		if updated.IngestState() != entry.StateProcessingTranscription {
			t.Fatalf("unexpected ingest state %q", updated.IngestState())
		}
		history := updated.PipelineHistory()
		if len(history) != 3 {
			t.Fatalf("expected 3 history records, got %d", len(history))
		}
		last := history[len(history)-1]
		if last["pipeline_status"] != string(entry.StatusTranscriptionInProgress) {
			t.Fatalf("unexpected last history record: %#v", last)
		}

		var transitionEvents int
		for _, event := range updated.CaptureEvents() {
			if event["type"] == entry.PipelineTransitionEvent {
				transitionEvents++
			}
		}
		if transitionEvents != 2 {
			t.Fatalf("expected 2 transition events, got %d", transitionEvents)
		}
	})
}

func TestUpdatePipelineStatusIllegalLeavesRowUntouched(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store entrystore.Gateway) {
		record := mustCreate(t, store, "fp-illegal", "watch:voice")

		_, err := store.UpdatePipelineStatus(context.Background(), record.EntryID, entry.StatusSemanticComplete)
		if !errors.Is(err, entry.ErrIllegalTransition) {
			t.Fatalf("expected ErrIllegalTransition, got %v", err)
		}

		fetched, err := store.GetEntry(context.Background(), record.EntryID)
		if err != nil {
			t.Fatalf("GetEntry failed: %v", err)
		}
		if fetched.PipelineStatus != entry.StatusIngested {
			t.Fatalf("rejected transition mutated the row: %q", fetched.PipelineStatus)
		}
		if len(fetched.PipelineHistory()) != 1 {
			t.Fatalf("rejected transition appended history: %d records", len(fetched.PipelineHistory()))
		}
	})
}

func TestFindByFingerprintMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store entrystore.Gateway) {
		found, err := store.FindByFingerprint(context.Background(), "nope", "watch:voice")
		if err != nil {
			t.Fatalf("FindByFingerprint failed: %v", err)
		}
		if found != nil {
			t.Fatalf("expected nil for unknown fingerprint, got %#v", found)
		}
	})
}

func TestRecordTranscriptionResultRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store entrystore.Gateway) {
		record := mustCreate(t, store, "fp-stt", "watch:voice")
		result := entry.StageResult{
			Text: "hello from the recorder",
			Segments: []map[string]any{
				{"index": float64(0), "text": "hello from the recorder", "start": 0.0, "end": 2.4},
			},
			Metadata:        map[string]any{"model": "base.en", "duration_s": 2.4},
			VerbatimPath:    "/data/verbatim/fp-stt.txt",
			VerbatimPreview: "hello from the recorder",
			ContentLang:     "en",
		}
		if _, err := store.RecordTranscriptionResult(context.Background(), record.EntryID, result); err != nil {
			t.Fatalf("RecordTranscriptionResult failed: %v", err)
		}

		fetched, err := store.GetEntry(context.Background(), record.EntryID)
		if err != nil {
			t.Fatalf("GetEntry failed: %v", err)
		}
		if fetched.TranscriptionText != result.Text {
			t.Fatalf("text lost on round trip: %q", fetched.TranscriptionText)
		}
		if len(fetched.TranscriptionSegments) != 1 || fetched.TranscriptionSegments[0]["text"] != "hello from the recorder" {
			t.Fatalf("segments lost on round trip: %#v", fetched.TranscriptionSegments)
		}
		if fetched.TranscriptionMetadata["model"] != "base.en" {
			t.Fatalf("stage metadata lost on round trip: %#v", fetched.TranscriptionMetadata)
		}
		if fetched.VerbatimPath != result.VerbatimPath || fetched.ContentLang != "en" {
			t.Fatalf("verbatim fields lost: %#v", fetched)
		}
		if fetched.TranscriptionError != nil {
			t.Fatalf("unexpected error on success: %#v", fetched.TranscriptionError)
		}
	})
}

func TestRecordFailureThenResultClearsError(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store entrystore.Gateway) {
		record := mustCreate(t, store, "fp-fail", "watch:documents")

		failure := entry.Failure{Code: "extractor_crashed", Message: "exit status 2", Retryable: true}
		if _, err := store.RecordExtractionFailure(context.Background(), record.EntryID, failure); err != nil {
			t.Fatalf("RecordExtractionFailure failed: %v", err)
		}
		fetched, err := store.GetEntry(context.Background(), record.EntryID)
		if err != nil {
			t.Fatalf("GetEntry failed: %v", err)
		}
		if fetched.ExtractionError == nil || fetched.ExtractionError.Code != "extractor_crashed" || !fetched.ExtractionError.Retryable {
			t.Fatalf("failure lost on round trip: %#v", fetched.ExtractionError)
		}

		if _, err := store.RecordExtractionResult(context.Background(), record.EntryID, entry.StageResult{Text: "recovered"}); err != nil {
			t.Fatalf("RecordExtractionResult failed: %v", err)
		}
		fetched, err = store.GetEntry(context.Background(), record.EntryID)
		if err != nil {
			t.Fatalf("GetEntry failed: %v", err)
		}
		if fetched.ExtractionError != nil {
			t.Fatalf("result did not clear prior failure: %#v", fetched.ExtractionError)
		}
		if fetched.ExtractedText != "recovered" {
			t.Fatalf("unexpected extracted text %q", fetched.ExtractedText)
		}
	})
}

func TestSaveSummaryAndTaxonomy(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store entrystore.Gateway) {
		record := mustCreate(t, store, "fp-sem", "watch:voice")

		if _, err := store.SaveSummary(context.Background(), record.EntryID, entry.SummaryResult{
			Summary:      "A short note about gardening.",
			DisplayTitle: "Gardening note",
			ModelUsed:    "test-model",
			SemanticTags: []string{"gardening", "notes"},
		}); err != nil {
			t.Fatalf("SaveSummary failed: %v", err)
		}

		updated, err := store.UpdateEntryTaxonomy(context.Background(), record.EntryID, entry.Taxonomy{
			TypeID:              "note",
			TypeLabel:           "Note",
			DomainID:            "personal",
			DomainLabel:         "Personal",
			ClassificationModel: "test-model",
		})
		if err != nil {
			t.Fatalf("UpdateEntryTaxonomy failed: %v", err)
		}
		if !updated.IsClassified {
			t.Fatal("expected entry to be classified")
		}

		fetched, err := store.GetEntry(context.Background(), record.EntryID)
		if err != nil {
			t.Fatalf("GetEntry failed: %v", err)
		}
		if fetched.Summary == "" || fetched.DisplayTitle != "Gardening note" {
			t.Fatalf("summary lost on round trip: %#v", fetched)
		}
		if len(fetched.SemanticTags) != 2 || fetched.SemanticTags[0] != "gardening" {
			t.Fatalf("tags lost on round trip: %#v", fetched.SemanticTags)
		}
		if fetched.TypeLabel != "Note" || fetched.DomainLabel != "Personal" || !fetched.IsClassified {
			t.Fatalf("taxonomy lost on round trip: %#v", fetched)
		}
	})
}

func TestRecordCaptureEventAndMergeMetadata(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store entrystore.Gateway) {
		record := mustCreate(t, store, "fp-meta", "watch:voice")

		if _, err := store.RecordCaptureEvent(context.Background(), record.EntryID, "file_moved", map[string]any{
			"destination": "/watch/voice/processing/a.wav",
		}); err != nil {
			t.Fatalf("RecordCaptureEvent failed: %v", err)
		}

		if _, err := store.MergeCaptureMetadata(context.Background(), record.EntryID, map[string]any{
			"transcription": map[string]any{"attempts": 1},
		}); err != nil {
			t.Fatalf("MergeCaptureMetadata failed: %v", err)
		}
		// Nil values in the patch keep whatever is stored.
		updated, err := store.MergeCaptureMetadata(context.Background(), record.EntryID, map[string]any{
			"transcription": map[string]any{"attempts": nil, "model": "base.en"},
		})
		if err != nil {
			t.Fatalf("MergeCaptureMetadata failed: %v", err)
		}

		events := updated.CaptureEvents()
		var moved bool
		for _, event := range events {
			if event["type"] == "file_moved" {
				moved = true
			}
		}
		if !moved {
			t.Fatalf("file_moved event missing: %#v", events)
		}

		capture, _ := updated.Metadata[entry.MetadataKeyCaptureMetadata].(map[string]any)
		stage, _ := capture["transcription"].(map[string]any)
		if stage["model"] != "base.en" {
			t.Fatalf("merge dropped new key: %#v", stage)
		}
		switch attempts := stage["attempts"].(type) {
		case int:
			if attempts != 1 {
				t.Fatalf("nil patch value overwrote attempts: %#v", stage)
			}
		case float64:
			if attempts != 1 {
				t.Fatalf("nil patch value overwrote attempts: %#v", stage)
			}
		default:
			t.Fatalf("attempts missing after nil patch: %#v", stage)
		}
	})
}

func TestSearchEntries(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store entrystore.Gateway) {
		ctx := context.Background()
		var voiceIDs []string
		for i := 0; i < 3; i++ {
			record := mustCreate(t, store, fmt.Sprintf("fp-search-%d", i), "watch:voice")
			voiceIDs = append(voiceIDs, record.EntryID)
			time.Sleep(2 * time.Millisecond)
		}
		docEntry := mustCreate(t, store, "fp-search-doc", "watch:documents")
		advance(t, store, docEntry.EntryID, entry.StatusQueuedForExtraction)

		byChannel, err := store.SearchEntries(ctx, entrystore.SearchQuery{SourceChannel: "watch:voice"})
		if err != nil {
			t.Fatalf("SearchEntries failed: %v", err)
		}
		if len(byChannel) != 3 {
			t.Fatalf("expected 3 voice entries, got %d", len(byChannel))
		}
		for i := 1; i < len(byChannel); i++ {
			if byChannel[i].CreatedAt.Before(byChannel[i-1].CreatedAt) {
				t.Fatal("expected ascending created_at order")
			}
		}

		newestFirst, err := store.SearchEntries(ctx, entrystore.SearchQuery{
			SourceChannel: "watch:voice",
			SortBy:        "created_at",
			Descending:    true,
			Limit:         1,
		})
		if err != nil {
			t.Fatalf("SearchEntries failed: %v", err)
		}
		if len(newestFirst) != 1 || newestFirst[0].EntryID != voiceIDs[2] {
			t.Fatalf("expected newest voice entry, got %#v", newestFirst)
		}

		queued, err := store.SearchEntries(ctx, entrystore.SearchQuery{
			IngestStates: []entry.State{entry.StateQueuedForExtraction},
		})
		if err != nil {
			t.Fatalf("SearchEntries failed: %v", err)
		}
		if len(queued) != 1 || queued[0].EntryID != docEntry.EntryID {
			t.Fatalf("state filter mismatch: %#v", queued)
		}

		if _, err := store.SearchEntries(ctx, entrystore.SearchQuery{SortBy: "summary"}); err == nil {
			t.Fatal("expected error for unsupported sort field")
		}
	})
}

func TestStatsByIngestState(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store entrystore.Gateway) {
		a := mustCreate(t, store, "fp-stats-a", "watch:voice")
		mustCreate(t, store, "fp-stats-b", "watch:voice")
		advance(t, store, a.EntryID, entry.StatusQueuedForTranscription)

		stats, err := store.StatsByIngestState(context.Background())
		if err != nil {
			t.Fatalf("StatsByIngestState failed: %v", err)
		}
		if stats[entry.StateCaptured] != 1 || stats[entry.StateQueuedForTranscription] != 1 {
			t.Fatalf("unexpected stats: %#v", stats)
		}
	})
}

func TestSearchEntriesTermAndTypeFilters(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store entrystore.Gateway) {
		voice := mustCreate(t, store, "fp-term-voice", "watch:voice")
		if _, err := store.SaveSummary(context.Background(), voice.EntryID, entry.SummaryResult{
			Summary:      "Notes about the garden fence",
			DisplayTitle: "Garden Fence",
			SemanticTags: []string{"garden", "home"},
		}); err != nil {
			t.Fatalf("SaveSummary failed: %v", err)
		}

		other, err := store.CreateEntry(context.Background(), entry.NewParams{
			SourceType:    "document",
			SourceChannel: "watch:papers",
			Metadata:      map[string]any{entry.MetadataKeyFingerprint: "fp-term-doc"},
		})
		if err != nil {
			t.Fatalf("CreateEntry failed: %v", err)
		}

		results, err := store.SearchEntries(context.Background(), entrystore.SearchQuery{Term: "garden"})
		if err != nil {
			t.Fatalf("SearchEntries failed: %v", err)
		}
		if len(results) != 1 || results[0].EntryID != voice.EntryID {
			t.Fatalf("term search wrong: %#v", results)
		}

		results, err = store.SearchEntries(context.Background(), entrystore.SearchQuery{SourceTypes: []string{"document"}})
		if err != nil {
			t.Fatalf("SearchEntries failed: %v", err)
		}
		if len(results) != 1 || results[0].EntryID != other.EntryID {
			t.Fatalf("source type filter wrong: %#v", results)
		}

		results, err = store.SearchEntries(context.Background(), entrystore.SearchQuery{
			CreatedBefore: time.Now().UTC().Add(-time.Hour),
		})
		if err != nil {
			t.Fatalf("SearchEntries failed: %v", err)
		}
		if len(results) != 0 {
			t.Fatalf("time window filter wrong: %#v", results)
		}
	})
}
