package jobqueue

import (
	"context"
	"time"
)

// Type identifies which stage worker consumes a job.
type Type string

const (
	TypeTranscribeEntry Type = "transcribe_entry"
	TypeExtractEntry    Type = "extract_entry"
	TypeNormalizeEntry  Type = "normalize_entry"
	TypeSemanticEnrich  Type = "semantic_enrich"
)

// Payload is a flat map of primitives handed to the consuming worker.
type Payload map[string]any

// Payload keys used across producers and workers.
const (
	PayloadEntryID       = "entry_id"
	PayloadCorrelationID = "correlation_id"
	PayloadSourcePath    = "source_path"
	PayloadFingerprint   = "fingerprint"
	PayloadContentLang   = "content_lang"
)

// String returns the payload value for key when it is a string.
func (p Payload) String(key string) string {
	value, _ := p[key].(string)
	return value
}

// EntryID returns the entry the job refers to.
func (p Payload) EntryID() string { return p.String(PayloadEntryID) }

// CorrelationID returns the capture-scoped correlation id, if set.
func (p Payload) CorrelationID() string { return p.String(PayloadCorrelationID) }

// Job is one delivered unit of work.
type Job struct {
	ID           int64
	Type         Type
	Payload      Payload
	Attempts     int
	AvailableAt  time.Time
	LeasedUntil  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeadLettered bool
	LastError    string
}

// Enqueuer is the narrow contract producers need.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType Type, payload Payload) (int64, error)
}

// Stats summarizes queue depth for diagnostics.
type Stats struct {
	Pending      int
	Leased       int
	DeadLettered int
}

// Queue is the full broker contract shared by the memory and SQLite
// implementations.
type Queue interface {
	Enqueuer

	// Claim leases the oldest deliverable job, bumping its attempt count.
	// It returns nil when nothing is deliverable.
	Claim(ctx context.Context) (*Job, error)
	// Complete removes a finished job.
	Complete(ctx context.Context, jobID int64) error
	// Release returns a claimed job for redelivery, or dead-letters it
	// when its attempts are exhausted.
	Release(ctx context.Context, jobID int64, cause string) error
	// DeadLetter parks a job permanently, recording the cause.
	DeadLetter(ctx context.Context, jobID int64, cause string) error

	Stats(ctx context.Context) (Stats, error)
	Close() error
}
