package daemon

import (
	"context"
	"errors"
	"log/slog"

	"curio/internal/entry"
	"curio/internal/entrystore"
	"curio/internal/jobqueue"
	"curio/internal/logging"
	"curio/internal/notifications"
	"curio/internal/services"
)

// pipelineObserver translates dispatcher outcomes into notifications.
// Completion of the terminal semantic job means the whole pipeline finished;
// a dead-lettered job of any type means it did not.
type pipelineObserver struct {
	store    entrystore.Gateway
	notifier notifications.Service
	logger   *slog.Logger
}

func (o *pipelineObserver) JobCompleted(ctx context.Context, job jobqueue.Job) {
	if job.Type != jobqueue.TypeSemanticEnrich {
		return
	}
	record, err := o.store.GetEntry(ctx, job.Payload.EntryID())
	if err != nil {
		o.logger.Warn("entry lookup for completion notification failed", logging.Error(err))
		return
	}
	if err := o.notifier.NotifyPipelineCompleted(ctx, record); err != nil {
		o.logger.Warn("pipeline completion notification failed", logging.Error(err))
	}
}

func (o *pipelineObserver) JobDeadLettered(ctx context.Context, job jobqueue.Job, cause error) {
	record, err := o.store.GetEntry(ctx, job.Payload.EntryID())
	if err != nil {
		o.logger.Warn("entry lookup for failure notification failed", logging.Error(err))
		return
	}
	stage, code := failureDetails(job.Type, cause)
	if err := o.notifier.NotifyPipelineFailed(ctx, record, stage, code); err != nil {
		o.logger.Warn("pipeline failure notification failed", logging.Error(err))
	}
}

// failureDetails recovers the stage and error code from a dead-letter cause,
// falling back to the job type when the cause carries no stage error.
func failureDetails(jobType jobqueue.Type, cause error) (string, string) {
	var stageErr *services.StageError
	if errors.As(cause, &stageErr) {
		return stageErr.Stage, stageErr.Code
	}
	stage := stageForType(jobType)
	if errors.Is(cause, entry.ErrIllegalTransition) {
		return stage, "illegal_transition"
	}
	return stage, "unknown"
}

func stageForType(jobType jobqueue.Type) string {
	switch jobType {
	case jobqueue.TypeTranscribeEntry:
		return "transcription"
	case jobqueue.TypeExtractEntry:
		return "extraction"
	case jobqueue.TypeNormalizeEntry:
		return "normalization"
	case jobqueue.TypeSemanticEnrich:
		return "semantic"
	default:
		return string(jobType)
	}
}

// captureListener forwards new captures to the notifier.
type captureListener struct {
	notifier notifications.Service
	logger   *slog.Logger
}

func (l *captureListener) EntryCaptured(ctx context.Context, record entry.Entry) {
	if err := l.notifier.NotifyEntryCaptured(ctx, record); err != nil {
		l.logger.Warn("capture notification failed", logging.Error(err))
	}
}
