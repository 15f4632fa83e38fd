package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"curio/internal/capture"
	"curio/internal/config"
	"curio/internal/entry"
	"curio/internal/entrystore"
	"curio/internal/jobqueue"
	"curio/internal/logging"
	"curio/internal/services"
	"curio/internal/stage"
)

const stageName = "transcription"

// Stage runs the transcription step of the pipeline. It satisfies
// stage.Stage plus the announcer, failure-recorder, and finalizer hooks.
type Stage struct {
	store       entrystore.Gateway
	transcriber Transcriber
	model       string
	language    string
	logger      *slog.Logger
}

// NewStage wires the transcription stage.
func NewStage(store entrystore.Gateway, transcriber Transcriber, cfg config.Transcription, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{
		store:       store,
		transcriber: transcriber,
		model:       cfg.Model,
		language:    cfg.Language,
		logger:      logging.NewComponentLogger(logger, stageName),
	}
}

// Definition names the stage and its status arc.
func (s *Stage) Definition() stage.Definition {
	return stage.Definition{
		Name:          stageName,
		ProvenanceKey: "transcription",
		InProgress:    entry.StatusTranscriptionInProgress,
		Complete:      entry.StatusTranscriptionComplete,
		Failed:        entry.StatusTranscriptionFailed,
		NextType:      jobqueue.TypeNormalizeEntry,
	}
}

// StartProvenance records what is known about the capture before the
// transform runs.
func (s *Stage) StartProvenance(job jobqueue.Job) map[string]any {
	prov := map[string]any{
		"model":      s.model,
		"started_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if path := job.Payload.String(jobqueue.PayloadSourcePath); path != "" {
		prov["source_path"] = path
	}
	if fp := job.Payload.String(jobqueue.PayloadFingerprint); fp != "" {
		prov["fingerprint"] = fp
	}
	if s.language != "" {
		prov["language_hint"] = s.language
	}
	return map[string]any{"transcription": prov}
}

// StartEventData extends the transcription_started capture event.
func (s *Stage) StartEventData(job jobqueue.Job) map[string]any {
	data := map[string]any{"model": s.model}
	if path := job.Payload.String(jobqueue.PayloadSourcePath); path != "" {
		data["source_path"] = path
	}
	return data
}

// Precondition requires a readable capture file.
func (s *Stage) Precondition(snapshot entry.Entry, job jobqueue.Job) error {
	path := sourcePath(snapshot, job)
	if path == "" {
		return services.NewStageError(stageName, "source_missing", "no source path on entry or job payload")
	}
	if _, err := os.Stat(path); err != nil {
		return services.NewStageError(stageName, "source_missing",
			fmt.Sprintf("capture file unreadable: %v", err))
	}
	return nil
}

// Execute transcribes the capture file and prepares the persisted result.
func (s *Stage) Execute(ctx context.Context, snapshot entry.Entry, job jobqueue.Job) (*stage.Outcome, error) {
	path := sourcePath(snapshot, job)

	result, err := s.transcriber.Transcribe(ctx, path)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return nil, services.NewStageError(stageName, "empty_transcript", "tool produced no text")
	}

	segments := make([]map[string]any, 0, len(result.Segments))
	for i, seg := range result.Segments {
		segments = append(segments, map[string]any{
			"index": i,
			"start": seg.Start,
			"end":   seg.End,
			"text":  seg.Text,
		})
	}

	contentLang := result.Language
	if contentLang == "" {
		contentLang = s.language
	}

	outcome := &stage.Outcome{
		Persist: func(ctx context.Context) error {
			_, err := s.store.RecordTranscriptionResult(ctx, snapshot.EntryID, entry.StageResult{
				Text:     text,
				Segments: segments,
				Metadata: map[string]any{
					"model":         s.model,
					"segment_count": len(segments),
				},
				VerbatimPath:    path,
				VerbatimPreview: preview(text),
				ContentLang:     contentLang,
			})
			return err
		},
		EventData: map[string]any{
			"segment_count": len(segments),
		},
		Provenance: map[string]any{
			"segment_count": len(segments),
			"char_count":    len([]rune(text)),
			"content_lang":  contentLang,
		},
		NextPayload: jobqueue.Payload{
			"source":                    stageName,
			jobqueue.PayloadContentLang: contentLang,
		},
		Finalize: func(ctx context.Context) {
			s.rollCapture(ctx, snapshot.EntryID, path, capture.DirProcessed)
		},
	}
	return outcome, nil
}

// RecordFailure persists the failure on the entry's transcription column.
func (s *Stage) RecordFailure(ctx context.Context, entryID string, failure entry.Failure) error {
	_, err := s.store.RecordTranscriptionFailure(ctx, entryID, failure)
	return err
}

// FinalizeFailure parks the capture file in failed/ so the watch root does
// not reprocess it.
func (s *Stage) FinalizeFailure(ctx context.Context, snapshot entry.Entry, job jobqueue.Job) {
	path := sourcePath(snapshot, job)
	if path == "" {
		return
	}
	s.rollCapture(ctx, snapshot.EntryID, path, capture.DirFailed)
}

func (s *Stage) rollCapture(ctx context.Context, entryID, path, destDir string) {
	destination, err := capture.RollFile(path, destDir)
	if err != nil {
		s.logger.Error("failed to roll capture file",
			logging.Error(err),
			logging.String("entry_id", entryID),
		)
		return
	}
	if _, err := s.store.RecordCaptureEvent(ctx, entryID, "transcription_file_rolled", map[string]any{
		"destination_path": destination,
		"target_stage":     "normalize",
	}); err != nil {
		s.logger.Error("failed to record file roll event",
			logging.Error(err),
			logging.String("entry_id", entryID),
		)
	}
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
