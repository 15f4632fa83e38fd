package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryQueue is the in-process broker used by tests and single-process runs.
type MemoryQueue struct {
	mu          sync.Mutex
	nextID      int64
	jobs        map[int64]*Job
	lease       time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewMemory returns an empty queue with the given lease window and attempt cap.
func NewMemory(lease time.Duration, maxAttempts int) *MemoryQueue {
	if lease <= 0 {
		lease = time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &MemoryQueue{
		jobs:        make(map[int64]*Job),
		lease:       lease,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, jobType Type, payload Payload) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	now := q.now()
	job := &Job{
		ID:          q.nextID,
		Type:        jobType,
		Payload:     clonePayload(payload),
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	q.jobs[job.ID] = job
	return job.ID, nil
}

func (q *MemoryQueue) Claim(_ context.Context) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()

	var oldest *Job
	for _, job := range q.jobs {
		if job.DeadLettered || job.AvailableAt.After(now) {
			continue
		}
		if !job.LeasedUntil.IsZero() && job.LeasedUntil.After(now) {
			continue
		}
		if oldest == nil || job.ID < oldest.ID {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, nil
	}

	oldest.Attempts++
	oldest.LeasedUntil = now.Add(q.lease)
	oldest.UpdatedAt = now
	claimed := *oldest
	claimed.Payload = clonePayload(oldest.Payload)
	return &claimed, nil
}

func (q *MemoryQueue) Complete(_ context.Context, jobID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[jobID]; !ok {
		return fmt.Errorf("complete job %d: unknown job", jobID)
	}
	delete(q.jobs, jobID)
	return nil
}

func (q *MemoryQueue) Release(_ context.Context, jobID int64, cause string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("release job %d: unknown job", jobID)
	}
	now := q.now()
	job.LastError = cause
	job.UpdatedAt = now
	if job.Attempts >= q.maxAttempts {
		job.DeadLettered = true
		return nil
	}
	job.LeasedUntil = time.Time{}
	job.AvailableAt = now
	return nil
}

func (q *MemoryQueue) DeadLetter(_ context.Context, jobID int64, cause string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("dead-letter job %d: unknown job", jobID)
	}
	job.DeadLettered = true
	job.LastError = cause
	job.UpdatedAt = q.now()
	return nil
}

func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var stats Stats
	for _, job := range q.jobs {
		switch {
		case job.DeadLettered:
			stats.DeadLettered++
		case !job.LeasedUntil.IsZero() && job.LeasedUntil.After(now):
			stats.Leased++
		default:
			stats.Pending++
		}
	}
	return stats, nil
}

// Close is a no-op for the in-memory broker.
func (q *MemoryQueue) Close() error { return nil }

func clonePayload(payload Payload) Payload {
	if payload == nil {
		return Payload{}
	}
	out := make(Payload, len(payload))
	for key, value := range payload {
		out[key] = value
	}
	return out
}
