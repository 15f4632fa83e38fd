package extraction_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"curio/internal/capture"
	"curio/internal/config"
	"curio/internal/entry"
	"curio/internal/entrystore"
	"curio/internal/extraction"
	"curio/internal/jobqueue"
	"curio/internal/services"
	"curio/internal/stage"
)

func newWorker(store entrystore.Gateway, queue jobqueue.Enqueuer, maxBytes int64) *stage.Worker {
	s := extraction.NewStage(store, config.Extraction{MaxBytes: maxBytes}, nil)
	return stage.NewWorker(s, store, queue, nil)
}

func seedDocumentEntry(t *testing.T, store entrystore.Gateway, root string, contents []byte) (entry.Entry, string) {
	t.Helper()
	if err := capture.EnsureLayout(root); err != nil {
		t.Fatalf("EnsureLayout failed: %v", err)
	}
	sourcePath := filepath.Join(root, capture.DirProcessing, "notes.md")
	if err := os.WriteFile(sourcePath, contents, 0o644); err != nil {
		t.Fatalf("write document: %v", err)
	}
	record, err := store.CreateEntry(context.Background(), entry.NewParams{
		SourceType:    "document",
		SourceChannel: "watch:documents",
		SourcePath:    sourcePath,
		Metadata: map[string]any{
			entry.MetadataKeyFingerprint: "fp-doc-" + filepath.Base(root),
		},
	})
	if err != nil {
		t.Fatalf("CreateEntry failed: %v", err)
	}
	record, err = store.UpdatePipelineStatus(context.Background(), record.EntryID, entry.StatusQueuedForExtraction)
	if err != nil {
		t.Fatalf("queue for extraction failed: %v", err)
	}
	return record, sourcePath
}

func seedManualEntry(t *testing.T, store entrystore.Gateway, body string) entry.Entry {
	t.Helper()
	record, err := store.CreateEntry(context.Background(), entry.NewParams{
		SourceType:     "text",
		SourceChannel:  "manual",
		PipelineStatus: entry.StatusCaptured,
		Metadata: map[string]any{
			entry.MetadataKeyFingerprint:      "fp-manual",
			entry.MetadataKeyManualTextBody:   body,
			entry.MetadataKeyManualTextLength: len([]rune(body)),
		},
	})
	if err != nil {
		t.Fatalf("CreateEntry failed: %v", err)
	}
	record, err = store.UpdatePipelineStatus(context.Background(), record.EntryID, entry.StatusQueuedForExtraction)
	if err != nil {
		t.Fatalf("queue for extraction failed: %v", err)
	}
	return record
}

func TestStageExtractsDocumentAndRollsFile(t *testing.T) {
	store := entrystore.NewMemory()
	queue := jobqueue.NewMemory(time.Minute, 3)
	record, sourcePath := seedDocumentEntry(t, store, t.TempDir(), []byte("\uFEFF# Meeting notes\n\nShip it.\n"))

	worker := newWorker(store, queue, 1024)
	err := worker.Handle(context.Background(), jobqueue.Job{
		ID: 1, Type: jobqueue.TypeExtractEntry,
		Payload: jobqueue.Payload{jobqueue.PayloadEntryID: record.EntryID},
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	fetched, _ := store.GetEntry(context.Background(), record.EntryID)
	if fetched.PipelineStatus != entry.StatusExtractionComplete {
		t.Fatalf("expected extraction_complete, got %s", fetched.PipelineStatus)
	}
	if fetched.ExtractedText != "# Meeting notes\n\nShip it." {
		t.Fatalf("BOM or whitespace survived extraction: %q", fetched.ExtractedText)
	}
	if fetched.ExtractionMetadata["raw_source"] != "file" {
		t.Fatalf("raw_source wrong: %#v", fetched.ExtractionMetadata)
	}

	rolled := filepath.Join(filepath.Dir(filepath.Dir(sourcePath)), capture.DirProcessed, "notes.md")
	if _, err := os.Stat(rolled); err != nil {
		t.Fatalf("document not rolled to processed: %v", err)
	}

	next, _ := queue.Claim(context.Background())
	if next == nil || next.Type != jobqueue.TypeNormalizeEntry || next.Payload["source"] != "document" {
		t.Fatalf("wrong successor job: %#v", next)
	}
}

func TestStageExtractsManualBodyWithoutFilesystem(t *testing.T) {
	store := entrystore.NewMemory()
	queue := jobqueue.NewMemory(time.Minute, 3)
	record := seedManualEntry(t, store, "  remember the milk  ")

	worker := newWorker(store, queue, 1024)
	err := worker.Handle(context.Background(), jobqueue.Job{
		ID: 1, Type: jobqueue.TypeExtractEntry,
		Payload: jobqueue.Payload{jobqueue.PayloadEntryID: record.EntryID},
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	fetched, _ := store.GetEntry(context.Background(), record.EntryID)
	if fetched.ExtractedText != "remember the milk" {
		t.Fatalf("manual body not extracted: %q", fetched.ExtractedText)
	}
	if fetched.ExtractionMetadata["raw_source"] != "manual" {
		t.Fatalf("raw_source wrong: %#v", fetched.ExtractionMetadata)
	}
	if fetched.PipelineStatus != entry.StatusExtractionComplete {
		t.Fatalf("expected extraction_complete, got %s", fetched.PipelineStatus)
	}
}

func TestStageRejectsOversizedDocument(t *testing.T) {
	store := entrystore.NewMemory()
	queue := jobqueue.NewMemory(time.Minute, 3)
	record, sourcePath := seedDocumentEntry(t, store, t.TempDir(), bytes.Repeat([]byte("a"), 64))

	worker := newWorker(store, queue, 16)
	err := worker.Handle(context.Background(), jobqueue.Job{
		ID: 1, Type: jobqueue.TypeExtractEntry,
		Payload: jobqueue.Payload{jobqueue.PayloadEntryID: record.EntryID},
	})
	var stageErr *services.StageError
	if !errors.As(err, &stageErr) || stageErr.Code != "document_too_large" || stageErr.Retryable {
		t.Fatalf("expected terminal document_too_large, got %v", err)
	}

	fetched, _ := store.GetEntry(context.Background(), record.EntryID)
	if fetched.PipelineStatus != entry.StatusExtractionFailed {
		t.Fatalf("expected extraction_failed, got %s", fetched.PipelineStatus)
	}
	if fetched.ExtractionError == nil || fetched.ExtractionError.Code != "document_too_large" {
		t.Fatalf("failure column not written: %#v", fetched.ExtractionError)
	}
	parked := filepath.Join(filepath.Dir(filepath.Dir(sourcePath)), capture.DirFailed, "notes.md")
	if _, err := os.Stat(parked); err != nil {
		t.Fatalf("document not parked in failed: %v", err)
	}
}

func TestStageRejectsBinaryDocument(t *testing.T) {
	store := entrystore.NewMemory()
	queue := jobqueue.NewMemory(time.Minute, 3)
	record, _ := seedDocumentEntry(t, store, t.TempDir(), []byte{0xff, 0xfe, 0x00, 0x01})

	worker := newWorker(store, queue, 1024)
	err := worker.Handle(context.Background(), jobqueue.Job{
		ID: 1, Type: jobqueue.TypeExtractEntry,
		Payload: jobqueue.Payload{jobqueue.PayloadEntryID: record.EntryID},
	})
	var stageErr *services.StageError
	if !errors.As(err, &stageErr) || stageErr.Code != "document_not_text" {
		t.Fatalf("expected document_not_text, got %v", err)
	}
}
