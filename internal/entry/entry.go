package entry

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Failure captures a terminal stage error persisted on the entry.
type Failure struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Entry is the aggregate shared by capture, the stores, and the stage
// workers. Mutation helpers return a modified copy.
type Entry struct {
	EntryID         string
	SourceType      string
	SourceChannel   string
	SourcePath      string
	PipelineStatus  Status
	CognitiveStatus string
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time

	VerbatimPath    string
	VerbatimPreview string
	ContentLang     string

	TranscriptionText     string
	TranscriptionSegments []map[string]any
	TranscriptionMetadata map[string]any
	TranscriptionError    *Failure

	ExtractedText       string
	ExtractionSegments  []map[string]any
	ExtractionMetadata  map[string]any
	ExtractionError     *Failure

	NormalizedText        string
	NormalizedSegments    []map[string]any
	NormalizationMetadata map[string]any
	NormalizationError    *Failure

	Summary      string
	DisplayTitle string
	SummaryModel string
	SemanticTags []string

	TypeID              string
	TypeLabel           string
	DomainID            string
	DomainLabel         string
	ClassificationModel string
	IsClassified        bool
}

// NewParams configures New.
type NewParams struct {
	SourceType      string
	SourceChannel   string
	SourcePath      string
	Metadata        map[string]any
	PipelineStatus  Status
	CognitiveStatus string
	DisplayTitle    string
	Timestamp       time.Time
}

// New builds an Entry with defaults applied and pipeline bookkeeping
// bootstrapped: capture_metadata records the resolved initial ingest state
// and pipeline_history holds exactly one record whose from state is null.
func New(params NewParams) (Entry, error) {
	status := params.PipelineStatus
	if status == "" {
		status = StatusIngested
	}
	cognitive := params.CognitiveStatus
	if cognitive == "" {
		cognitive = "unreviewed"
	}
	ts := params.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	record := Entry{
		EntryID:         uuid.NewString(),
		SourceType:      params.SourceType,
		SourceChannel:   params.SourceChannel,
		SourcePath:      params.SourcePath,
		PipelineStatus:  status,
		CognitiveStatus: cognitive,
		DisplayTitle:    params.DisplayTitle,
		Metadata:        CloneTree(params.Metadata),
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
	if record.Metadata == nil {
		record.Metadata = map[string]any{}
	}
	return bootstrapCaptureMetadata(record)
}

func bootstrapCaptureMetadata(record Entry) (Entry, error) {
	if meta := captureMetadataOf(record.Metadata); meta != nil {
		if state, ok := meta[MetadataKeyIngestState].(string); ok && state != "" {
			return record, nil
		}
	}
	state, err := ResolveNextState(DefaultIngestState, record.PipelineStatus)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid initial pipeline_status %q for entry %s: %w", record.PipelineStatus, record.EntryID, err)
	}
	transition := Transition{
		ToIngestState:  state,
		PipelineStatus: record.PipelineStatus,
		OccurredAt:     record.UpdatedAt,
	}
	record = record.WithCaptureMetadata(map[string]any{
		MetadataKeyIngestState:     string(state),
		MetadataKeyPipelineStatus:  string(record.PipelineStatus),
		MetadataKeyPipelineHistory: []any{transition.asMap()},
		MetadataKeyLastTransition:  transition.asMap(),
	}, record.UpdatedAt)
	return record, nil
}

// IngestState returns the persisted coarse state, defaulting to captured.
func (e Entry) IngestState() State {
	if meta := captureMetadataOf(e.Metadata); meta != nil {
		if state, ok := meta[MetadataKeyIngestState].(string); ok && state != "" {
			return State(state)
		}
	}
	return DefaultIngestState
}

// Fingerprint returns the capture fingerprint recorded at ingest.
func (e Entry) Fingerprint() string {
	return FingerprintOf(e.Metadata)
}

// PipelineHistory returns the recorded transition trail, oldest first.
func (e Entry) PipelineHistory() []map[string]any {
	meta := captureMetadataOf(e.Metadata)
	if meta == nil {
		return nil
	}
	raw, ok := meta[MetadataKeyPipelineHistory].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if record, ok := item.(map[string]any); ok {
			out = append(out, record)
		}
	}
	return out
}

// CaptureEvents returns the recorded event trail, oldest first.
func (e Entry) CaptureEvents() []map[string]any {
	if e.Metadata == nil {
		return nil
	}
	raw, ok := e.Metadata[MetadataKeyCaptureEvents].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if event, ok := item.(map[string]any); ok {
			out = append(out, event)
		}
	}
	return out
}

// Transition is one pipeline_history record.
type Transition struct {
	FromIngestState        State
	ToIngestState          State
	PipelineStatus         Status
	PreviousPipelineStatus Status
	OccurredAt             time.Time
}

func (t Transition) asMap() map[string]any {
	record := map[string]any{
		"to_ingest_state": string(t.ToIngestState),
		"pipeline_status": string(t.PipelineStatus),
		"occurred_at":     t.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	// Bootstrap transitions have no predecessor; persist explicit nulls so
	// readers can tell "first record" from "missing field".
	if t.FromIngestState == "" {
		record["from_ingest_state"] = nil
	} else {
		record["from_ingest_state"] = string(t.FromIngestState)
	}
	if t.PreviousPipelineStatus == "" {
		record["previous_pipeline_status"] = nil
	} else {
		record["previous_pipeline_status"] = string(t.PreviousPipelineStatus)
	}
	return record
}

// ApplyPipelineStatus validates the status against the transition table and
// returns the updated entry. Re-applying the entry's current status with no
// state change is an idempotent no-op returning the entry unchanged, with no
// history record, no event, and no timestamp bump.
func (e Entry) ApplyPipelineStatus(status Status) (Entry, error) {
	current := e.IngestState()
	next, err := ResolveNextState(current, status)
	if err != nil {
		return Entry{}, fmt.Errorf("entry %s: %w", e.EntryID, err)
	}

	if status == e.PipelineStatus && next == current {
		return e, nil
	}

	now := time.Now().UTC()
	transition := Transition{
		FromIngestState:        current,
		ToIngestState:          next,
		PipelineStatus:         status,
		PreviousPipelineStatus: e.PipelineStatus,
		OccurredAt:             now,
	}

	history := make([]any, 0, len(e.PipelineHistory())+1)
	if meta := captureMetadataOf(e.Metadata); meta != nil {
		if raw, ok := meta[MetadataKeyPipelineHistory].([]any); ok {
			history = append(history, raw...)
		}
	}
	history = append(history, transition.asMap())

	updated := e
	updated.PipelineStatus = status
	updated.UpdatedAt = now
	updated = updated.WithCaptureMetadata(map[string]any{
		MetadataKeyIngestState:     string(next),
		MetadataKeyPipelineStatus:  string(status),
		MetadataKeyPipelineHistory: history,
		MetadataKeyLastTransition:  transition.asMap(),
	}, now)
	updated = updated.WithCaptureEvent(PipelineTransitionEvent, transition.asMap(), now)
	return updated, nil
}

// WithCaptureEvent appends an event to the append-only trail.
func (e Entry) WithCaptureEvent(eventType string, data map[string]any, ts time.Time) Entry {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	metadata := CloneTree(e.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	var events []any
	if raw, ok := metadata[MetadataKeyCaptureEvents].([]any); ok {
		events = append(events, raw...)
	}
	event := map[string]any{
		"type":      eventType,
		"timestamp": ts.UTC().Format(time.RFC3339Nano),
	}
	if len(data) > 0 {
		event["data"] = data
	}
	events = append(events, event)
	metadata[MetadataKeyCaptureEvents] = events

	updated := e
	updated.Metadata = metadata
	updated.UpdatedAt = ts
	return updated
}

// WithCaptureMetadata deep-merges patch into the capture_metadata subtree.
func (e Entry) WithCaptureMetadata(patch map[string]any, ts time.Time) Entry {
	if len(patch) == 0 {
		return e
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	metadata := CloneTree(e.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	existing, _ := metadata[MetadataKeyCaptureMetadata].(map[string]any)
	metadata[MetadataKeyCaptureMetadata] = MergeTree(existing, patch)

	updated := e
	updated.Metadata = metadata
	updated.UpdatedAt = ts
	return updated
}

// MergeMetadata deep-merges patch into the top-level metadata tree.
func (e Entry) MergeMetadata(patch map[string]any, ts time.Time) Entry {
	if len(patch) == 0 {
		return e
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	updated := e
	updated.Metadata = MergeTree(e.Metadata, patch)
	updated.UpdatedAt = ts
	return updated
}

// StageResult carries the output of a transcription or extraction transform.
type StageResult struct {
	Text            string
	Segments        []map[string]any
	Metadata        map[string]any
	VerbatimPath    string
	VerbatimPreview string
	ContentLang     string
}

// WithTranscriptionResult records a successful transcription and clears any
// prior transcription failure.
func (e Entry) WithTranscriptionResult(result StageResult, ts time.Time) Entry {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	updated := e
	updated.TranscriptionText = result.Text
	updated.TranscriptionSegments = result.Segments
	updated.TranscriptionMetadata = MergeTree(e.TranscriptionMetadata, result.Metadata)
	updated.TranscriptionError = nil
	if result.VerbatimPath != "" {
		updated.VerbatimPath = result.VerbatimPath
	}
	if result.VerbatimPreview != "" {
		updated.VerbatimPreview = result.VerbatimPreview
	}
	if result.ContentLang != "" {
		updated.ContentLang = result.ContentLang
	}
	updated.UpdatedAt = ts
	return updated
}

// WithTranscriptionFailure records a terminal transcription error.
func (e Entry) WithTranscriptionFailure(failure Failure, ts time.Time) Entry {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	updated := e
	f := failure
	updated.TranscriptionError = &f
	updated.UpdatedAt = ts
	return updated
}

// WithExtractionResult records a successful extraction and clears any prior
// extraction failure.
func (e Entry) WithExtractionResult(result StageResult, ts time.Time) Entry {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	updated := e
	updated.ExtractedText = result.Text
	updated.ExtractionSegments = result.Segments
	updated.ExtractionMetadata = MergeTree(e.ExtractionMetadata, result.Metadata)
	updated.ExtractionError = nil
	if result.VerbatimPath != "" {
		updated.VerbatimPath = result.VerbatimPath
	}
	if result.VerbatimPreview != "" {
		updated.VerbatimPreview = result.VerbatimPreview
	}
	if result.ContentLang != "" {
		updated.ContentLang = result.ContentLang
	}
	updated.UpdatedAt = ts
	return updated
}

// WithExtractionFailure records a terminal extraction error.
func (e Entry) WithExtractionFailure(failure Failure, ts time.Time) Entry {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	updated := e
	f := failure
	updated.ExtractionError = &f
	updated.UpdatedAt = ts
	return updated
}

// WithNormalizationResult records a successful normalization and clears any
// prior normalization failure.
func (e Entry) WithNormalizationResult(result StageResult, ts time.Time) Entry {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	updated := e
	updated.NormalizedText = result.Text
	updated.NormalizedSegments = result.Segments
	updated.NormalizationMetadata = MergeTree(e.NormalizationMetadata, result.Metadata)
	updated.NormalizationError = nil
	updated.UpdatedAt = ts
	return updated
}

// WithNormalizationFailure records a terminal normalization error.
func (e Entry) WithNormalizationFailure(failure Failure, ts time.Time) Entry {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	updated := e
	f := failure
	updated.NormalizationError = &f
	updated.UpdatedAt = ts
	return updated
}

// SummaryResult carries semantic summarization output.
type SummaryResult struct {
	Summary      string
	DisplayTitle string
	ModelUsed    string
	SemanticTags []string
}

// WithSummaryResult records summarization output. Empty DisplayTitle,
// ModelUsed, and nil SemanticTags keep the existing values.
func (e Entry) WithSummaryResult(result SummaryResult, ts time.Time) Entry {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	updated := e
	updated.Summary = result.Summary
	if result.DisplayTitle != "" {
		updated.DisplayTitle = result.DisplayTitle
	}
	if result.ModelUsed != "" {
		updated.SummaryModel = result.ModelUsed
	}
	if result.SemanticTags != nil {
		tags := make([]string, len(result.SemanticTags))
		copy(tags, result.SemanticTags)
		updated.SemanticTags = tags
	}
	updated.UpdatedAt = ts
	return updated
}

// Taxonomy carries classification labels.
type Taxonomy struct {
	TypeID              string
	TypeLabel           string
	DomainID            string
	DomainLabel         string
	ClassificationModel string
}

// WithTaxonomy replaces classification labels and derives IsClassified.
// An empty ClassificationModel keeps the existing value.
func (e Entry) WithTaxonomy(taxonomy Taxonomy, ts time.Time) Entry {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	updated := e
	updated.TypeID = taxonomy.TypeID
	updated.TypeLabel = taxonomy.TypeLabel
	updated.DomainID = taxonomy.DomainID
	updated.DomainLabel = taxonomy.DomainLabel
	if taxonomy.ClassificationModel != "" {
		updated.ClassificationModel = taxonomy.ClassificationModel
	}
	updated.IsClassified = taxonomy.TypeLabel != "" && taxonomy.DomainLabel != ""
	updated.UpdatedAt = ts
	return updated
}
