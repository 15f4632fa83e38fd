// Package extraction pulls raw text out of captured documents and manual
// submissions and runs the extraction pipeline stage.
package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"curio/internal/capture"
	"curio/internal/config"
	"curio/internal/entry"
	"curio/internal/entrystore"
	"curio/internal/jobqueue"
	"curio/internal/logging"
	"curio/internal/services"
	"curio/internal/stage"
)

const stageName = "extraction"

// Stage runs the extraction step. Manual captures carry their body inline
// in entry metadata; watch-folder captures are read from processing/.
type Stage struct {
	store    entrystore.Gateway
	maxBytes int64
	logger   *slog.Logger
}

// NewStage wires the extraction stage.
func NewStage(store entrystore.Gateway, cfg config.Extraction, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{
		store:    store,
		maxBytes: cfg.MaxBytes,
		logger:   logging.NewComponentLogger(logger, stageName),
	}
}

// Definition names the stage and its status arc.
func (s *Stage) Definition() stage.Definition {
	return stage.Definition{
		Name:          stageName,
		ProvenanceKey: "document",
		InProgress:    entry.StatusExtractionInProgress,
		Complete:      entry.StatusExtractionComplete,
		Failed:        entry.StatusExtractionFailed,
		NextType:      jobqueue.TypeNormalizeEntry,
	}
}

// Precondition requires either an inline manual body or a readable file.
func (s *Stage) Precondition(snapshot entry.Entry, job jobqueue.Job) error {
	if _, ok := manualBody(snapshot); ok {
		return nil
	}
	path := sourcePath(snapshot, job)
	if path == "" {
		return services.NewStageError(stageName, "source_missing", "no manual body and no source path")
	}
	if _, err := os.Stat(path); err != nil {
		return services.NewStageError(stageName, "source_missing",
			fmt.Sprintf("document unreadable: %v", err))
	}
	return nil
}

// Execute extracts the raw text and prepares the persisted result.
func (s *Stage) Execute(ctx context.Context, snapshot entry.Entry, job jobqueue.Job) (*stage.Outcome, error) {
	if body, ok := manualBody(snapshot); ok {
		return s.manualOutcome(snapshot, body), nil
	}
	return s.fileOutcome(snapshot, job)
}

func (s *Stage) manualOutcome(snapshot entry.Entry, body string) *stage.Outcome {
	text := strings.TrimSpace(body)
	charCount := utf8.RuneCountInString(text)
	return &stage.Outcome{
		Persist: func(ctx context.Context) error {
			_, err := s.store.RecordExtractionResult(ctx, snapshot.EntryID, entry.StageResult{
				Text: text,
				Metadata: map[string]any{
					"raw_source": "manual",
					"char_count": charCount,
				},
				VerbatimPreview: preview(text),
			})
			return err
		},
		EventData: map[string]any{
			"raw_source": "manual",
			"char_count": charCount,
		},
		Provenance: map[string]any{
			"raw_source": "manual",
			"char_count": charCount,
		},
		NextPayload: jobqueue.Payload{"source": "document"},
	}
}

func (s *Stage) fileOutcome(snapshot entry.Entry, job jobqueue.Job) (*stage.Outcome, error) {
	path := sourcePath(snapshot, job)

	info, err := os.Stat(path)
	if err != nil {
		return nil, services.NewStageError(stageName, "source_missing",
			fmt.Sprintf("document unreadable: %v", err))
	}
	if s.maxBytes > 0 && info.Size() > s.maxBytes {
		return nil, services.NewStageError(stageName, "document_too_large",
			fmt.Sprintf("document is %d bytes, cap is %d", info.Size(), s.maxBytes))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, services.NewStageError(stageName, "read_failed",
			fmt.Sprintf("reading document: %v", err))
	}
	if !utf8.Valid(raw) {
		return nil, services.NewStageError(stageName, "document_not_text", "document is not valid UTF-8")
	}

	text := strings.TrimSpace(strings.TrimPrefix(string(raw), "\uFEFF"))
	if text == "" {
		return nil, services.NewStageError(stageName, "document_empty", "document contains no text")
	}
	byteCount := len(raw)
	charCount := utf8.RuneCountInString(text)

	return &stage.Outcome{
		Persist: func(ctx context.Context) error {
			_, err := s.store.RecordExtractionResult(ctx, snapshot.EntryID, entry.StageResult{
				Text: text,
				Metadata: map[string]any{
					"raw_source": "file",
					"byte_count": byteCount,
					"char_count": charCount,
				},
				VerbatimPath:    path,
				VerbatimPreview: preview(text),
			})
			return err
		},
		EventData: map[string]any{
			"raw_source": "file",
			"byte_count": byteCount,
			"char_count": charCount,
		},
		Provenance: map[string]any{
			"raw_source": "file",
			"byte_count": byteCount,
			"char_count": charCount,
		},
		NextPayload: jobqueue.Payload{"source": "document"},
		Finalize: func(ctx context.Context) {
			s.rollCapture(ctx, snapshot.EntryID, path, capture.DirProcessed)
		},
	}, nil
}

// RecordFailure persists the failure on the entry's extraction column.
func (s *Stage) RecordFailure(ctx context.Context, entryID string, failure entry.Failure) error {
	_, err := s.store.RecordExtractionFailure(ctx, entryID, failure)
	return err
}

// FinalizeFailure parks file-based captures in failed/. Manual captures
// have no file to park.
func (s *Stage) FinalizeFailure(ctx context.Context, snapshot entry.Entry, job jobqueue.Job) {
	if _, ok := manualBody(snapshot); ok {
		return
	}
	path := sourcePath(snapshot, job)
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	s.rollCapture(ctx, snapshot.EntryID, path, capture.DirFailed)
}

func (s *Stage) rollCapture(ctx context.Context, entryID, path, destDir string) {
	destination, err := capture.RollFile(path, destDir)
	if err != nil {
		s.logger.Error("failed to roll document",
			logging.Error(err),
			logging.String("entry_id", entryID),
		)
		return
	}
	if _, err := s.store.RecordCaptureEvent(ctx, entryID, "document_file_rolled", map[string]any{
		"destination_path": destination,
		"target_stage":     "normalize",
	}); err != nil {
		s.logger.Error("failed to record file roll event",
			logging.Error(err),
			logging.String("entry_id", entryID),
		)
	}
}

func manualBody(snapshot entry.Entry) (string, bool) {
	body, ok := snapshot.Metadata[entry.MetadataKeyManualTextBody].(string)
	if !ok || strings.TrimSpace(body) == "" {
		return "", false
	}
	return body, true
}

func sourcePath(snapshot entry.Entry, job jobqueue.Job) string {
	if path := job.Payload.String(jobqueue.PayloadSourcePath); path != "" {
		return path
	}
	return snapshot.SourcePath
}

func preview(text string) string {
	const maxPreview = 240
	runes := []rune(text)
	if len(runes) <= maxPreview {
		return text
	}
	return string(runes[:maxPreview])
}
