package stage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"curio/internal/entry"
	"curio/internal/entrystore"
	"curio/internal/jobqueue"
	"curio/internal/logging"
	"curio/internal/services"
)

// Definition describes one pipeline stage to the runner.
type Definition struct {
	// Name tags log lines, events, and error codes ("transcription", ...).
	Name string
	// ProvenanceKey is the capture_metadata subtree the stage writes its
	// provenance under.
	ProvenanceKey string

	InProgress entry.Status
	Complete   entry.Status
	Failed     entry.Status

	// NextType is the successor job enqueued on success. Zero for the
	// terminal stage.
	NextType jobqueue.Type
}

// Outcome is what a transform hands back on success.
type Outcome struct {
	// Persist records the stage result on the entry. Errors here are
	// infrastructure failures: the job is released for redelivery, the
	// entry is not marked failed.
	Persist func(ctx context.Context) error
	// EventData is merged into the <stage>_completed capture event.
	EventData map[string]any
	// Provenance is merged under capture_metadata.<ProvenanceKey>.
	Provenance map[string]any
	// NextPayload extends the successor job's payload beyond entry_id and
	// correlation_id.
	NextPayload jobqueue.Payload
	// Finalize runs after the entry reaches the complete status, for side
	// effects such as rolling the captured file out of processing/.
	Finalize func(ctx context.Context)
}

// Stage is implemented by each concrete pipeline stage.
type Stage interface {
	Definition() Definition
	// Precondition validates the fetched snapshot before transforming.
	Precondition(snapshot entry.Entry, job jobqueue.Job) error
	// Execute computes the stage result. It must not hold store
	// transactions; long external calls happen here.
	Execute(ctx context.Context, snapshot entry.Entry, job jobqueue.Job) (*Outcome, error)
}

// StartAnnouncer is implemented by stages that record provenance before the
// transform runs, so a crash mid-transform still leaves a trace.
type StartAnnouncer interface {
	StartProvenance(job jobqueue.Job) map[string]any
	StartEventData(job jobqueue.Job) map[string]any
}

// FailureRecorder persists a stage-specific failure record on the entry.
// Stages without a dedicated failure column can omit it; last_error is
// written either way.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, entryID string, failure entry.Failure) error
}

// FailureFinalizer runs side effects after a failure is fully audited, such
// as rolling the captured file into failed/.
type FailureFinalizer interface {
	FinalizeFailure(ctx context.Context, snapshot entry.Entry, job jobqueue.Job)
}

// Worker drives a Stage through the shared protocol. It implements
// jobqueue.Handler.
type Worker struct {
	stage  Stage
	def    Definition
	store  entrystore.Gateway
	queue  jobqueue.Enqueuer
	logger *slog.Logger
	clock  func() time.Time
}

// NewWorker wires a stage to its store and queue collaborators.
func NewWorker(s Stage, store entrystore.Gateway, queue jobqueue.Enqueuer, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	def := s.Definition()
	return &Worker{
		stage:  s,
		def:    def,
		store:  store,
		queue:  queue,
		logger: logging.NewComponentLogger(logger, def.Name),
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes one delivered job through the stage protocol.
func (w *Worker) Handle(ctx context.Context, job jobqueue.Job) error {
	entryID := job.Payload.EntryID()
	if entryID == "" {
		return services.NewStageError(w.def.Name, "payload_invalid", "job payload missing entry_id")
	}

	ctx = services.WithStage(ctx, w.def.Name)
	logger := logging.WithContext(ctx, w.logger)

	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_started"),
		logging.String(logging.FieldPipelineStatus, string(w.def.InProgress)),
	)

	if _, err := w.store.UpdatePipelineStatus(ctx, entryID, w.def.InProgress); err != nil {
		if errors.Is(err, entrystore.ErrEntryNotFound) {
			return services.NewStageError(w.def.Name, "entry_not_found", "entry does not exist: "+entryID)
		}
		// Illegal transitions propagate untouched so the dispatcher
		// dead-letters the job.
		return err
	}

	w.recordEvent(ctx, logger, entryID, w.def.Name+"_started", w.def.InProgress, job, w.startEventData(job))
	if announcer, ok := w.stage.(StartAnnouncer); ok {
		if patch := announcer.StartProvenance(job); len(patch) > 0 {
			w.mergeProvenance(ctx, logger, entryID, patch)
		}
	}

	snapshot, err := w.store.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}

	if err := w.stage.Precondition(snapshot, job); err != nil {
		return w.fail(ctx, logger, snapshot, job, err, 0)
	}

	started := w.clock()
	outcome, err := w.stage.Execute(ctx, snapshot, job)
	processingMS := w.clock().Sub(started).Milliseconds()
	if err != nil {
		return w.fail(ctx, logger, snapshot, job, err, processingMS)
	}
	if outcome == nil {
		outcome = &Outcome{}
	}

	if outcome.Persist != nil {
		if err := outcome.Persist(ctx); err != nil {
			return err
		}
	}

	if _, err := w.store.UpdatePipelineStatus(ctx, entryID, w.def.Complete); err != nil {
		return err
	}

	eventData := map[string]any{"processing_ms": processingMS}
	for key, value := range outcome.EventData {
		eventData[key] = value
	}
	w.recordEvent(ctx, logger, entryID, w.def.Name+"_completed", w.def.Complete, job, eventData)

	provenance := map[string]any{
		"processed_at":  w.clock().Format(time.RFC3339Nano),
		"processing_ms": processingMS,
	}
	for key, value := range outcome.Provenance {
		provenance[key] = value
	}
	w.mergeProvenance(ctx, logger, entryID, map[string]any{w.def.ProvenanceKey: provenance})

	if outcome.Finalize != nil {
		outcome.Finalize(ctx)
	}

	if w.def.NextType != "" {
		payload := jobqueue.Payload{jobqueue.PayloadEntryID: entryID}
		if correlationID := job.Payload.CorrelationID(); correlationID != "" {
			payload[jobqueue.PayloadCorrelationID] = correlationID
		}
		for key, value := range outcome.NextPayload {
			payload[key] = value
		}
		if _, err := w.queue.Enqueue(ctx, w.def.NextType, payload); err != nil {
			return err
		}
	}

	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_completed"),
		logging.String(logging.FieldPipelineStatus, string(w.def.Complete)),
		logging.Int64("processing_ms", processingMS),
	)
	return nil
}

func (w *Worker) startEventData(job jobqueue.Job) map[string]any {
	if announcer, ok := w.stage.(StartAnnouncer); ok {
		return announcer.StartEventData(job)
	}
	return nil
}

// fail audits a stage failure: failure record, failed status, failed event,
// last_error provenance, then the classified error for the dispatcher.
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, snapshot entry.Entry, job jobqueue.Job, cause error, processingMS int64) error {
	stageErr := services.AsStageError(cause, w.def.Name)
	failure := entry.Failure{
		Code:      stageErr.Code,
		Message:   stageErr.Message,
		Retryable: stageErr.Retryable,
	}

	logger.Error("stage failed",
		logging.Error(stageErr),
		logging.String(logging.FieldEventType, "stage_failed"),
		logging.String(logging.FieldPipelineStatus, string(w.def.Failed)),
		logging.String("error_code", failure.Code),
		logging.Bool("retryable", failure.Retryable),
		logging.Int64("processing_ms", processingMS),
	)

	if recorder, ok := w.stage.(FailureRecorder); ok {
		if err := recorder.RecordFailure(ctx, snapshot.EntryID, failure); err != nil {
			logger.Error("failed to persist stage failure", logging.Error(err))
		}
	}

	audited := true
	if _, err := w.store.UpdatePipelineStatus(ctx, snapshot.EntryID, w.def.Failed); err != nil {
		logger.Error("failed to mark entry failed", logging.Error(err))
		audited = false
	}

	w.recordEvent(ctx, logger, snapshot.EntryID, w.def.Name+"_failed", w.def.Failed, job, map[string]any{
		"error_code": failure.Code,
		"retryable":  failure.Retryable,
	})
	w.mergeProvenance(ctx, logger, snapshot.EntryID, map[string]any{
		"last_error": map[string]any{
			"stage":     w.def.Name,
			"code":      failure.Code,
			"retryable": failure.Retryable,
		},
	})

	if finalizer, ok := w.stage.(FailureFinalizer); ok {
		finalizer.FinalizeFailure(ctx, snapshot, job)
	}

	// Once the failed status is durable, a redelivery can only trip the
	// transition guard, so the job dead-letters on this pass.
	if audited && stageErr.Retryable {
		terminal := *stageErr
		terminal.Retryable = false
		return &terminal
	}
	return stageErr
}

func (w *Worker) recordEvent(ctx context.Context, logger *slog.Logger, entryID, eventType string, status entry.Status, job jobqueue.Job, extra map[string]any) {
	data := map[string]any{"pipeline_status": string(status)}
	if correlationID := job.Payload.CorrelationID(); correlationID != "" {
		data["correlation_id"] = correlationID
	}
	for key, value := range extra {
		data[key] = value
	}
	if _, err := w.store.RecordCaptureEvent(ctx, entryID, eventType, data); err != nil {
		logger.Error("failed to record capture event",
			logging.Error(err),
			logging.String("capture_event", eventType),
		)
	}
}

func (w *Worker) mergeProvenance(ctx context.Context, logger *slog.Logger, entryID string, patch map[string]any) {
	if _, err := w.store.MergeCaptureMetadata(ctx, entryID, patch); err != nil {
		logger.Error("failed to merge capture metadata", logging.Error(err))
	}
}
