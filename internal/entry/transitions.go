package entry

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition marks a pipeline status that is not accepted from the
// entry's current ingest state. Callers must treat it as fatal: the work that
// produced the status is operating on stale assumptions.
var ErrIllegalTransition = errors.New("pipeline status not allowed from current ingest state")

// transitions maps each ingest state to the pipeline statuses it accepts and
// the state each accepted status resolves to.
var transitions = map[State]map[Status]State{
	StateCaptured: {
		StatusCaptured:               StateCaptured,
		StatusIngested:               StateCaptured,
		StatusQueuedForTranscription: StateQueuedForTranscription,
		StatusQueuedForExtraction:    StateQueuedForExtraction,
	},
	StateQueuedForTranscription: {
		StatusQueuedForTranscription:  StateQueuedForTranscription,
		StatusTranscriptionInProgress: StateProcessingTranscription,
		StatusTranscriptionFailed:     StateFailed,
	},
	StateProcessingTranscription: {
		StatusTranscriptionInProgress: StateProcessingTranscription,
		StatusTranscriptionFailed:     StateFailed,
		StatusTranscriptionComplete:   StateProcessingNormalization,
		StatusQueuedForNormalization:  StateProcessingNormalization,
		StatusQueuedForTranscription:  StateQueuedForTranscription,
	},
	StateQueuedForExtraction: {
		StatusQueuedForExtraction:  StateQueuedForExtraction,
		StatusExtractionInProgress: StateProcessingExtraction,
		StatusExtractionFailed:     StateFailed,
	},
	StateProcessingExtraction: {
		StatusExtractionInProgress:   StateProcessingExtraction,
		StatusExtractionFailed:       StateFailed,
		StatusExtractionComplete:     StateProcessingNormalization,
		StatusQueuedForNormalization: StateProcessingNormalization,
		StatusQueuedForExtraction:    StateQueuedForExtraction,
	},
	StateProcessingNormalization: {
		StatusTranscriptionComplete:   StateProcessingNormalization,
		StatusExtractionComplete:      StateProcessingNormalization,
		StatusQueuedForNormalization:  StateProcessingNormalization,
		StatusNormalizationInProgress: StateProcessingNormalization,
		StatusNormalizationComplete:   StateProcessingSemantic,
		StatusNormalizationFailed:     StateFailed,
	},
	StateProcessingSemantic: {
		StatusNormalizationComplete: StateProcessingSemantic,
		StatusQueuedForSemantics:    StateProcessingSemantic,
		StatusSemanticInProgress:    StateProcessingSemantic,
		StatusSemanticFailed:        StateFailed,
		StatusSemanticComplete:      StateProcessed,
	},
	StateProcessed: {
		StatusSemanticComplete:      StateProcessed,
		StatusNormalizationComplete: StateProcessed,
	},
	StateFailed: {
		StatusTranscriptionFailed: StateFailed,
		StatusExtractionFailed:    StateFailed,
		StatusNormalizationFailed: StateFailed,
		StatusSemanticFailed:      StateFailed,
	},
}

// ResolveNextState returns the ingest state reached by accepting status from
// current. The error wraps ErrIllegalTransition when the status is unknown or
// not accepted.
func ResolveNextState(current State, status Status) (State, error) {
	accepted, ok := transitions[current]
	if !ok {
		return "", fmt.Errorf("%w: unknown ingest state %q", ErrIllegalTransition, current)
	}
	next, ok := accepted[status]
	if !ok {
		return "", fmt.Errorf("%w: %q from %q", ErrIllegalTransition, status, current)
	}
	return next, nil
}

// AcceptedStatuses returns the statuses the given state accepts. Useful for
// diagnostics and tests.
func AcceptedStatuses(state State) []Status {
	accepted := transitions[state]
	out := make([]Status, 0, len(accepted))
	for _, status := range allStatuses {
		if _, ok := accepted[status]; ok {
			out = append(out, status)
		}
	}
	return out
}
