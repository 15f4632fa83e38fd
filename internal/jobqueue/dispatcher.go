package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"curio/internal/entry"
	"curio/internal/logging"
	"curio/internal/services"
)

// Handler consumes one delivered job.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }

// Observer is told how each dispatched job ended. Implementations must be
// fast; the dispatcher calls them inline between polls.
type Observer interface {
	JobCompleted(ctx context.Context, job Job)
	JobDeadLettered(ctx context.Context, job Job, cause error)
}

// Dispatcher polls the queue and routes claimed jobs to registered handlers.
// Outcome policy: success completes the job; an illegal pipeline transition
// or a non-retryable stage error dead-letters it; everything else releases
// it for redelivery.
type Dispatcher struct {
	queue    Queue
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	handlers map[Type]Handler
	observer Observer
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewDispatcher builds a dispatcher polling at the given interval.
func NewDispatcher(queue Queue, interval time.Duration, logger *slog.Logger) *Dispatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		queue:    queue,
		interval: interval,
		logger:   logging.NewComponentLogger(logger, "dispatcher"),
		handlers: make(map[Type]Handler),
	}
}

// SetObserver installs an outcome observer. Must happen before Start.
func (d *Dispatcher) SetObserver(observer Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = observer
}

// Register binds a handler to a job type. Registration must happen before
// Start.
func (d *Dispatcher) Register(jobType Type, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[jobType] = handler
}

// Start begins background polling.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("dispatcher already running")
	}
	if len(d.handlers) == 0 {
		return errors.New("no handlers registered")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.wg.Add(1)
	go d.run(runCtx)
	return nil
}

// Stop terminates polling and waits for the in-flight job to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := d.queue.Claim(ctx)
		if err != nil {
			d.logger.Error("failed to claim next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_claim_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			d.wait(ctx)
			continue
		}
		if job == nil {
			d.wait(ctx)
			continue
		}

		d.dispatch(ctx, *job)
	}
}

func (d *Dispatcher) wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(d.interval):
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, job Job) {
	d.mu.Lock()
	handler := d.handlers[job.Type]
	observer := d.observer
	d.mu.Unlock()

	logger := d.logger.With(
		logging.String(logging.FieldEntryID, job.Payload.EntryID()),
		logging.String(logging.FieldCorrelationID, job.Payload.CorrelationID()),
		logging.String("job_type", string(job.Type)),
		logging.Int64("job_id", job.ID),
	)

	if handler == nil {
		logger.Error("no handler for job type",
			logging.String(logging.FieldEventType, "job_unroutable"),
		)
		d.finish(ctx, logger, d.queue.DeadLetter(ctx, job.ID, fmt.Sprintf("no handler for job type %q", job.Type)))
		return
	}

	jobCtx := services.WithEntryID(ctx, job.Payload.EntryID())
	if correlationID := job.Payload.CorrelationID(); correlationID != "" {
		jobCtx = services.WithCorrelationID(jobCtx, correlationID)
	}

	err := handler.Handle(jobCtx, job)
	switch {
	case err == nil:
		d.finish(ctx, logger, d.queue.Complete(ctx, job.ID))
		if observer != nil {
			observer.JobCompleted(jobCtx, job)
		}
	case errors.Is(err, context.Canceled):
		// Shutdown mid-job: leave the lease to expire so another run
		// redelivers it.
	case isFatal(err):
		logger.Error("job failed permanently",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_dead_lettered"),
			logging.Int("attempts", job.Attempts),
		)
		d.finish(ctx, logger, d.queue.DeadLetter(ctx, job.ID, err.Error()))
		if observer != nil {
			observer.JobDeadLettered(jobCtx, job, err)
		}
	default:
		logger.Warn("job failed; releasing for redelivery",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_released"),
			logging.Int("attempts", job.Attempts),
		)
		d.finish(ctx, logger, d.queue.Release(ctx, job.ID, err.Error()))
	}
}

func (d *Dispatcher) finish(_ context.Context, logger *slog.Logger, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("queue bookkeeping failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "queue_update_failed"),
		)
	}
}

// isFatal reports whether redelivering the job could not possibly succeed.
func isFatal(err error) bool {
	if errors.Is(err, entry.ErrIllegalTransition) {
		return true
	}
	var stageErr *services.StageError
	if errors.As(err, &stageErr) {
		return !stageErr.Retryable
	}
	return false
}
