package jobqueue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"curio/internal/jobqueue"
	"curio/internal/services"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func startDispatcher(t *testing.T, queue jobqueue.Queue, jobType jobqueue.Type, handler jobqueue.Handler) {
	t.Helper()
	dispatcher := jobqueue.NewDispatcher(queue, 5*time.Millisecond, nil)
	dispatcher.Register(jobType, handler)
	if err := dispatcher.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(dispatcher.Stop)
}

func TestDispatcherCompletesSuccessfulJob(t *testing.T) {
	queue := jobqueue.NewMemory(time.Minute, 3)
	var handled atomic.Int64
	startDispatcher(t, queue, jobqueue.TypeTranscribeEntry, jobqueue.HandlerFunc(func(ctx context.Context, job jobqueue.Job) error {
		if job.Payload.EntryID() != "entry-1" {
			t.Errorf("unexpected payload: %#v", job.Payload)
		}
		if id, ok := services.EntryIDFromContext(ctx); !ok || id != "entry-1" {
			t.Errorf("entry id missing from context")
		}
		handled.Add(1)
		return nil
	}))

	if _, err := queue.Enqueue(context.Background(), jobqueue.TypeTranscribeEntry, jobqueue.Payload{jobqueue.PayloadEntryID: "entry-1"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		stats, err := queue.Stats(context.Background())
		return err == nil && stats.Pending == 0 && stats.Leased == 0 && handled.Load() == 1
	})
}

func TestDispatcherDeadLettersFatalError(t *testing.T) {
	queue := jobqueue.NewMemory(time.Minute, 5)
	startDispatcher(t, queue, jobqueue.TypeNormalizeEntry, jobqueue.HandlerFunc(func(context.Context, jobqueue.Job) error {
		return services.NewStageError("normalization", "empty_source_text", "nothing to normalize")
	}))

	if _, err := queue.Enqueue(context.Background(), jobqueue.TypeNormalizeEntry, jobqueue.Payload{jobqueue.PayloadEntryID: "entry-1"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		stats, err := queue.Stats(context.Background())
		return err == nil && stats.DeadLettered == 1
	})
}

func TestDispatcherReleasesRetryableError(t *testing.T) {
	queue := jobqueue.NewMemory(time.Minute, 10)
	var calls atomic.Int64
	startDispatcher(t, queue, jobqueue.TypeSemanticEnrich, jobqueue.HandlerFunc(func(context.Context, jobqueue.Job) error {
		if calls.Add(1) < 3 {
			return errors.New("store briefly unavailable")
		}
		return nil
	}))

	if _, err := queue.Enqueue(context.Background(), jobqueue.TypeSemanticEnrich, jobqueue.Payload{jobqueue.PayloadEntryID: "entry-1"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		stats, err := queue.Stats(context.Background())
		return err == nil && stats.Pending == 0 && stats.Leased == 0 && stats.DeadLettered == 0 && calls.Load() >= 3
	})
}

func TestDispatcherDeadLettersUnroutableJob(t *testing.T) {
	queue := jobqueue.NewMemory(time.Minute, 3)
	startDispatcher(t, queue, jobqueue.TypeTranscribeEntry, jobqueue.HandlerFunc(func(context.Context, jobqueue.Job) error {
		return nil
	}))

	if _, err := queue.Enqueue(context.Background(), jobqueue.TypeExtractEntry, jobqueue.Payload{jobqueue.PayloadEntryID: "entry-1"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		stats, err := queue.Stats(context.Background())
		return err == nil && stats.DeadLettered == 1
	})
}
