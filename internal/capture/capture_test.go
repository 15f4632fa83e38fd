package capture_test

import (
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
	"curio/internal/fingerprint"
	"curio/internal/jobqueue"
	"curio/internal/services"
)

type recordingListener struct {
	captured []entry.Entry
}

func (l *recordingListener) EntryCaptured(ctx context.Context, record entry.Entry) {
	l.captured = append(l.captured, record)
}

func newScanner(t *testing.T, store entrystore.Gateway, queue jobqueue.Enqueuer, roots ...config.WatchRoot) (*capture.Scanner, *recordingListener) {
	t.Helper()
	listener := &recordingListener{}
	cfg := config.Ingest{WatchRoots: roots, PollInterval: 1}
	scanner := capture.NewScanner(store, queue, cfg, listener, nil)
	for _, root := range roots {
		if err := capture.EnsureLayout(root.Path); err != nil {
			t.Fatalf("EnsureLayout failed: %v", err)
		}
	}
	return scanner, listener
}

func writeIncoming(t *testing.T, root, name, contents string) string {
	t.Helper()
	path := filepath.Join(root, capture.DirIncoming, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write incoming file: %v", err)
	}
	return path
}

func TestScannerCapturesAudioFile(t *testing.T) {
	store := entrystore.NewMemory()
	queue := jobqueue.NewMemory(time.Minute, 3)
	root := config.WatchRoot{Name: "voice_memos", Path: t.TempDir(), Lane: "audio"}
	scanner, listener := newScanner(t, store, queue, root)

	writeIncoming(t, root.Path, "memo.wav", "RIFF")
	scanner.ScanOnce(context.Background())

	results, err := store.SearchEntries(context.Background(), entrystore.SearchQuery{})
	if err != nil || len(results) != 1 {
		t.Fatalf("expected one entry, got %d (%v)", len(results), err)
	}
	record := results[0]
	if record.PipelineStatus != entry.StatusQueuedForTranscription {
		t.Fatalf("expected queued_for_transcription, got %s", record.PipelineStatus)
	}
	if record.SourceType != "voice" || record.SourceChannel != "watch:voice_memos" {
		t.Fatalf("wrong capture identity: %#v", record)
	}
	if record.Fingerprint() == "" || record.Metadata[entry.MetadataKeyFingerprintAlgo] != fingerprint.FileAlgorithm {
		t.Fatalf("fingerprint provenance wrong: %#v", record.Metadata)
	}

	processing := filepath.Join(root.Path, capture.DirProcessing, "memo.wav")
	if record.SourcePath != processing {
		t.Fatalf("source path not in processing: %q", record.SourcePath)
	}
	if _, err := os.Stat(processing); err != nil {
		t.Fatalf("file not moved to processing: %v", err)
	}

	job, err := queue.Claim(context.Background())
	if err != nil || job == nil || job.Type != jobqueue.TypeTranscribeEntry {
		t.Fatalf("transcribe job missing: %v %#v", err, job)
	}
	if job.Payload.EntryID() != record.EntryID || job.Payload.CorrelationID() == "" {
		t.Fatalf("job payload wrong: %#v", job.Payload)
	}
	if job.Payload.String(jobqueue.PayloadSourcePath) != processing {
		t.Fatalf("source path not forwarded: %#v", job.Payload)
	}

	if len(listener.captured) != 1 {
		t.Fatalf("listener not notified: %#v", listener.captured)
	}
}

func TestScannerRoutesDocumentLane(t *testing.T) {
	store := entrystore.NewMemory()
	queue := jobqueue.NewMemory(time.Minute, 3)
	root := config.WatchRoot{Name: "papers", Path: t.TempDir(), Lane: "document"}
	scanner, _ := newScanner(t, store, queue, root)

	writeIncoming(t, root.Path, "notes.md", "# heading")
	scanner.ScanOnce(context.Background())

	results, _ := store.SearchEntries(context.Background(), entrystore.SearchQuery{})
	if len(results) != 1 || results[0].PipelineStatus != entry.StatusQueuedForExtraction {
		t.Fatalf("document lane not queued for extraction: %#v", results)
	}
	job, _ := queue.Claim(context.Background())
	if job == nil || job.Type != jobqueue.TypeExtractEntry {
		t.Fatalf("extract job missing: %#v", job)
	}
}

func TestScannerParksDuplicates(t *testing.T) {
	store := entrystore.NewMemory()
	queue := jobqueue.NewMemory(time.Minute, 3)
	root := config.WatchRoot{Name: "voice_memos", Path: t.TempDir(), Lane: "audio"}
	scanner, _ := newScanner(t, store, queue, root)

	first := writeIncoming(t, root.Path, "memo.wav", "RIFF")
	info, err := os.Stat(first)
	if err != nil {
		t.Fatalf("stat incoming file: %v", err)
	}
	scanner.ScanOnce(context.Background())

	// Same name, size, and mtime produce the same fingerprint.
	second := writeIncoming(t, root.Path, "memo.wav", "RIFF")
	if err := os.Chtimes(second, info.ModTime(), info.ModTime()); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	scanner.ScanOnce(context.Background())

	results, _ := store.SearchEntries(context.Background(), entrystore.SearchQuery{})
	if len(results) != 1 {
		t.Fatalf("duplicate produced a second entry: %d", len(results))
	}
	parked := filepath.Join(root.Path, capture.DirFailed, "memo.wav")
	if _, err := os.Stat(parked); err != nil {
		t.Fatalf("duplicate not parked: %v", err)
	}
}

func TestScannerSkipsPartialFiles(t *testing.T) {
	store := entrystore.NewMemory()
	queue := jobqueue.NewMemory(time.Minute, 3)
	root := config.WatchRoot{Name: "voice_memos", Path: t.TempDir(), Lane: "audio"}
	scanner, _ := newScanner(t, store, queue, root)

	writeIncoming(t, root.Path, "download.wav.part", "partial")
	writeIncoming(t, root.Path, ".hidden.wav", "dotfile")
	scanner.ScanOnce(context.Background())

	results, _ := store.SearchEntries(context.Background(), entrystore.SearchQuery{})
	if len(results) != 0 {
		t.Fatalf("partial files captured: %#v", results)
	}
}

func TestManualCapture(t *testing.T) {
	store := entrystore.NewMemory()
	queue := jobqueue.NewMemory(time.Minute, 3)
	manual := capture.NewManual(store, queue)

	record, err := manual.Capture(context.Background(), "  remember the milk  ", "Groceries")
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if record.PipelineStatus != entry.StatusQueuedForExtraction {
		t.Fatalf("expected queued_for_extraction, got %s", record.PipelineStatus)
	}
	if record.SourceChannel != capture.ManualChannel || record.SourceType != "text" {
		t.Fatalf("wrong capture identity: %#v", record)
	}
	if record.DisplayTitle != "Groceries" {
		t.Fatalf("title not kept: %q", record.DisplayTitle)
	}
	if record.Metadata[entry.MetadataKeyManualTextBody] != "remember the milk" {
		t.Fatalf("body not trimmed into metadata: %#v", record.Metadata)
	}
	if record.Fingerprint() == "" || record.Metadata[entry.MetadataKeyFingerprintAlgo] != fingerprint.TextAlgorithm {
		t.Fatalf("fingerprint provenance wrong: %#v", record.Metadata)
	}

	job, _ := queue.Claim(context.Background())
	if job == nil || job.Type != jobqueue.TypeExtractEntry || job.Payload.EntryID() != record.EntryID {
		t.Fatalf("extract job missing: %#v", job)
	}
}

func TestManualCaptureRejectsDuplicateBody(t *testing.T) {
	store := entrystore.NewMemory()
	queue := jobqueue.NewMemory(time.Minute, 3)
	manual := capture.NewManual(store, queue)

	if _, err := manual.Capture(context.Background(), "same body", ""); err != nil {
		t.Fatalf("first capture failed: %v", err)
	}
	_, err := manual.Capture(context.Background(), "  same body  ", "")
	if !errors.Is(err, entrystore.ErrDuplicateFingerprint) {
		t.Fatalf("expected ErrDuplicateFingerprint, got %v", err)
	}
}

func TestManualCaptureRejectsEmptyBody(t *testing.T) {
	store := entrystore.NewMemory()
	queue := jobqueue.NewMemory(time.Minute, 3)
	manual := capture.NewManual(store, queue)

	_, err := manual.Capture(context.Background(), "   \n\t  ", "")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
