package normalization

import (
	"context"

	"curio/internal/config"
	"curio/internal/entry"
	"curio/internal/entrystore"
	"curio/internal/jobqueue"
	"curio/internal/services"
	"curio/internal/stage"
)

const stageName = "normalization"

// Stage runs the normalization step. The transform is pure text work, so
// the stage holds no collaborators beyond the store.
type Stage struct {
	store        entrystore.Gateway
	maxChars     int
	emitSegments bool
}

// NewStage wires the normalization stage.
func NewStage(store entrystore.Gateway, cfg config.Normalization) *Stage {
	return &Stage{
		store:        store,
		maxChars:     cfg.MaxChars,
		emitSegments: cfg.EmitSegments,
	}
}

// Definition names the stage and its status arc.
func (s *Stage) Definition() stage.Definition {
	return stage.Definition{
		Name:          stageName,
		ProvenanceKey: "normalization",
		InProgress:    entry.StatusNormalizationInProgress,
		Complete:      entry.StatusNormalizationComplete,
		Failed:        entry.StatusNormalizationFailed,
		NextType:      jobqueue.TypeSemanticEnrich,
	}
}

// Precondition requires raw text from an upstream stage.
func (s *Stage) Precondition(snapshot entry.Entry, job jobqueue.Job) error {
	if raw, _ := rawText(snapshot, job); raw == "" {
		return services.NewStageError(stageName, "raw_text_missing", "no upstream text to normalize")
	}
	return nil
}

// Execute runs the rule chain and prepares the persisted result.
func (s *Stage) Execute(ctx context.Context, snapshot entry.Entry, job jobqueue.Job) (*stage.Outcome, error) {
	raw, rawSource := rawText(snapshot, job)
	profile := profileFor(rawSource)
	inputChars := len([]rune(raw))

	normalized, applied := Normalize(raw, profile)
	if normalized == "" {
		return nil, services.NewStageError(stageName, "normalization_no_content", "rule chain produced no text")
	}

	truncated := false
	if s.maxChars > 0 {
		if runes := []rune(normalized); len(runes) > s.maxChars {
			normalized = string(runes[:s.maxChars])
			truncated = true
		}
	}

	var segments []map[string]any
	if s.emitSegments {
		for _, seg := range SplitSegments(normalized) {
			segments = append(segments, map[string]any{
				"index":      seg.Index,
				"text":       seg.Text,
				"char_count": seg.CharCount,
				"type":       seg.Type,
			})
		}
	}
	outputChars := len([]rune(normalized))

	appliedRules := make([]any, len(applied))
	for i, name := range applied {
		appliedRules[i] = name
	}

	return &stage.Outcome{
		Persist: func(ctx context.Context) error {
			_, err := s.store.RecordNormalizationResult(ctx, snapshot.EntryID, entry.StageResult{
				Text:     normalized,
				Segments: segments,
				Metadata: map[string]any{
					"raw_source":        rawSource,
					"profile":           profile.Name,
					"applied_rules":     appliedRules,
					"input_char_count":  inputChars,
					"output_char_count": outputChars,
					"segment_count":     len(segments),
					"truncated":         truncated,
				},
			})
			return err
		},
		EventData: map[string]any{
			"segment_count":     len(segments),
			"output_char_count": outputChars,
		},
		Provenance: map[string]any{
			"raw_source":        rawSource,
			"profile":           profile.Name,
			"input_char_count":  inputChars,
			"output_char_count": outputChars,
			"segment_count":     len(segments),
			"truncated":         truncated,
		},
		NextPayload: nextPayload(snapshot, job),
	}, nil
}

// RecordFailure persists the failure on the entry's normalization column.
func (s *Stage) RecordFailure(ctx context.Context, entryID string, failure entry.Failure) error {
	_, err := s.store.RecordNormalizationFailure(ctx, entryID, failure)
	return err
}

// rawText resolves the upstream text. The job payload's source wins; absent
// that, transcript text takes priority over extracted text.
func rawText(snapshot entry.Entry, job jobqueue.Job) (string, string) {
	switch job.Payload.String("source") {
	case "transcription":
		return snapshot.TranscriptionText, "transcription"
	case "document":
		return snapshot.ExtractedText, "document"
	}
	if snapshot.TranscriptionText != "" {
		return snapshot.TranscriptionText, "transcription"
	}
	return snapshot.ExtractedText, "document"
}

func profileFor(rawSource string) Profile {
	if rawSource == "transcription" {
		return VoiceProfile
	}
	return DocumentProfile
}

func nextPayload(snapshot entry.Entry, job jobqueue.Job) jobqueue.Payload {
	payload := jobqueue.Payload{}
	lang := job.Payload.String(jobqueue.PayloadContentLang)
	if lang == "" {
		lang = snapshot.ContentLang
	}
	if lang != "" {
		payload[jobqueue.PayloadContentLang] = lang
	}
	return payload
}
