package entry

// Status is the fine-grained pipeline status reported by capture and the
// stage workers.
type Status string

const (
	StatusCaptured Status = "captured"
	StatusIngested Status = "ingested"

	StatusQueuedForTranscription  Status = "queued_for_transcription"
	StatusTranscriptionInProgress Status = "transcription_in_progress"
	StatusTranscriptionComplete   Status = "transcription_complete"
	StatusTranscriptionFailed     Status = "transcription_failed"

	StatusQueuedForExtraction  Status = "queued_for_extraction"
	StatusExtractionInProgress Status = "extraction_in_progress"
	StatusExtractionComplete   Status = "extraction_complete"
	StatusExtractionFailed     Status = "extraction_failed"

	StatusQueuedForNormalization  Status = "queued_for_normalization"
	StatusNormalizationInProgress Status = "normalization_in_progress"
	StatusNormalizationComplete   Status = "normalization_complete"
	StatusNormalizationFailed     Status = "normalization_failed"

	StatusQueuedForSemantics Status = "queued_for_semantics"
	StatusSemanticInProgress Status = "semantic_in_progress"
	StatusSemanticComplete   Status = "semantic_complete"
	StatusSemanticFailed     Status = "semantic_failed"
)

// State is the coarse ingest state derived from accepted pipeline statuses.
type State string

const (
	StateCaptured                State = "captured"
	StateQueuedForTranscription  State = "queued_for_transcription"
	StateProcessingTranscription State = "processing_transcription"
	StateQueuedForExtraction     State = "queued_for_extraction"
	StateProcessingExtraction    State = "processing_extraction"
	StateProcessingNormalization State = "processing_normalization"
	StateProcessingSemantic      State = "processing_semantic"
	StateProcessed               State = "processed"
	StateFailed                  State = "failed"
)

// DefaultIngestState is the state assumed for entries with no recorded state.
const DefaultIngestState = StateCaptured

var allStatuses = []Status{
	StatusCaptured,
	StatusIngested,
	StatusQueuedForTranscription,
	StatusTranscriptionInProgress,
	StatusTranscriptionComplete,
	StatusTranscriptionFailed,
	StatusQueuedForExtraction,
	StatusExtractionInProgress,
	StatusExtractionComplete,
	StatusExtractionFailed,
	StatusQueuedForNormalization,
	StatusNormalizationInProgress,
	StatusNormalizationComplete,
	StatusNormalizationFailed,
	StatusQueuedForSemantics,
	StatusSemanticInProgress,
	StatusSemanticComplete,
	StatusSemanticFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var failureStatuses = map[Status]struct{}{
	StatusTranscriptionFailed: {},
	StatusExtractionFailed:    {},
	StatusNormalizationFailed: {},
	StatusSemanticFailed:      {},
}

// AllStatuses returns the full pipeline status vocabulary.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// KnownStatus reports whether the value belongs to the status vocabulary.
func KnownStatus(status Status) bool {
	_, ok := statusSet[status]
	return ok
}

// IsFailureStatus reports whether the status marks a terminal stage failure.
func IsFailureStatus(status Status) bool {
	_, ok := failureStatuses[status]
	return ok
}

// ActiveOrCompleted reports whether an entry holding this status should
// refuse a duplicate capture. Every known status except the *_failed values
// qualifies: in-flight work and finished work both block re-ingestion, only
// failed entries may be captured again.
func ActiveOrCompleted(status Status) bool {
	if !KnownStatus(status) {
		return false
	}
	return !IsFailureStatus(status)
}

// AllStates returns the ingest state vocabulary.
func AllStates() []State {
	return []State{
		StateCaptured,
		StateQueuedForTranscription,
		StateProcessingTranscription,
		StateQueuedForExtraction,
		StateProcessingExtraction,
		StateProcessingNormalization,
		StateProcessingSemantic,
		StateProcessed,
		StateFailed,
	}
}

// TerminalState reports whether no further transitions leave the state
// except failure bookkeeping.
func TerminalState(state State) bool {
	return state == StateProcessed || state == StateFailed
}
