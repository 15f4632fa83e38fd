package entry_test

import (
	"errors"
	"testing"

	"curio/internal/entry"
)

func TestResolveNextStateAcceptedArcs(t *testing.T) {
	cases := []struct {
		from   entry.State
		status entry.Status
		want   entry.State
	}{
		{entry.StateCaptured, entry.StatusCaptured, entry.StateCaptured},
		{entry.StateCaptured, entry.StatusIngested, entry.StateCaptured},
		{entry.StateCaptured, entry.StatusQueuedForTranscription, entry.StateQueuedForTranscription},
		{entry.StateCaptured, entry.StatusQueuedForExtraction, entry.StateQueuedForExtraction},

		{entry.StateQueuedForTranscription, entry.StatusQueuedForTranscription, entry.StateQueuedForTranscription},
		{entry.StateQueuedForTranscription, entry.StatusTranscriptionInProgress, entry.StateProcessingTranscription},
		{entry.StateQueuedForTranscription, entry.StatusTranscriptionFailed, entry.StateFailed},

		{entry.StateProcessingTranscription, entry.StatusTranscriptionInProgress, entry.StateProcessingTranscription},
		{entry.StateProcessingTranscription, entry.StatusTranscriptionComplete, entry.StateProcessingNormalization},
		{entry.StateProcessingTranscription, entry.StatusQueuedForNormalization, entry.StateProcessingNormalization},
		{entry.StateProcessingTranscription, entry.StatusQueuedForTranscription, entry.StateQueuedForTranscription},
		{entry.StateProcessingTranscription, entry.StatusTranscriptionFailed, entry.StateFailed},

		{entry.StateQueuedForExtraction, entry.StatusExtractionInProgress, entry.StateProcessingExtraction},
		{entry.StateProcessingExtraction, entry.StatusExtractionComplete, entry.StateProcessingNormalization},
		{entry.StateProcessingExtraction, entry.StatusQueuedForExtraction, entry.StateQueuedForExtraction},
		{entry.StateProcessingExtraction, entry.StatusExtractionFailed, entry.StateFailed},

		{entry.StateProcessingNormalization, entry.StatusTranscriptionComplete, entry.StateProcessingNormalization},
		{entry.StateProcessingNormalization, entry.StatusExtractionComplete, entry.StateProcessingNormalization},
		{entry.StateProcessingNormalization, entry.StatusNormalizationInProgress, entry.StateProcessingNormalization},
		{entry.StateProcessingNormalization, entry.StatusNormalizationComplete, entry.StateProcessingSemantic},
		{entry.StateProcessingNormalization, entry.StatusNormalizationFailed, entry.StateFailed},

		{entry.StateProcessingSemantic, entry.StatusQueuedForSemantics, entry.StateProcessingSemantic},
		{entry.StateProcessingSemantic, entry.StatusSemanticInProgress, entry.StateProcessingSemantic},
		{entry.StateProcessingSemantic, entry.StatusSemanticComplete, entry.StateProcessed},
		{entry.StateProcessingSemantic, entry.StatusSemanticFailed, entry.StateFailed},

		{entry.StateProcessed, entry.StatusSemanticComplete, entry.StateProcessed},
		{entry.StateProcessed, entry.StatusNormalizationComplete, entry.StateProcessed},

		{entry.StateFailed, entry.StatusTranscriptionFailed, entry.StateFailed},
		{entry.StateFailed, entry.StatusSemanticFailed, entry.StateFailed},
	}
	for _, tc := range cases {
		got, err := entry.ResolveNextState(tc.from, tc.status)
		if err != nil {
			t.Fatalf("ResolveNextState(%s, %s) error: %v", tc.from, tc.status, err)
		}
		if got != tc.want {
			t.Fatalf("ResolveNextState(%s, %s) = %s, want %s", tc.from, tc.status, got, tc.want)
		}
	}
}

func TestResolveNextStateRejectsIllegalArcs(t *testing.T) {
	cases := []struct {
		from   entry.State
		status entry.Status
	}{
		{entry.StateCaptured, entry.StatusQueuedForNormalization},
		{entry.StateCaptured, entry.StatusTranscriptionInProgress},
		{entry.StateQueuedForTranscription, entry.StatusExtractionInProgress},
		{entry.StateQueuedForTranscription, entry.StatusTranscriptionComplete},
		{entry.StateProcessingNormalization, entry.StatusSemanticComplete},
		{entry.StateProcessingSemantic, entry.StatusTranscriptionComplete},
		{entry.StateProcessed, entry.StatusQueuedForTranscription},
		{entry.StateProcessed, entry.StatusSemanticInProgress},
		{entry.StateFailed, entry.StatusQueuedForTranscription},
		{entry.StateFailed, entry.StatusCaptured},
		{entry.StateCaptured, entry.Status("bogus")},
	}
	for _, tc := range cases {
		_, err := entry.ResolveNextState(tc.from, tc.status)
		if !errors.Is(err, entry.ErrIllegalTransition) {
			t.Fatalf("ResolveNextState(%s, %s): expected ErrIllegalTransition, got %v", tc.from, tc.status, err)
		}
	}
}

func TestActiveOrCompleted(t *testing.T) {
	for _, status := range entry.AllStatuses() {
		got := entry.ActiveOrCompleted(status)
		want := !entry.IsFailureStatus(status)
		if got != want {
			t.Fatalf("ActiveOrCompleted(%s) = %v, want %v", status, got, want)
		}
	}
	if entry.ActiveOrCompleted(entry.Status("bogus")) {
		t.Fatal("unknown status must not block re-capture")
	}
}
