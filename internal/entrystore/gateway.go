package entrystore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"curio/internal/config"
	"curio/internal/entry"
)

// Creator is the narrow contract capture needs to admit a new entry.
type Creator interface {
	CreateEntry(ctx context.Context, params entry.NewParams) (entry.Entry, error)
}

// FingerprintReader is the narrow contract the idempotency guard needs.
type FingerprintReader interface {
	FindByFingerprint(ctx context.Context, fingerprint, sourceChannel string) (*entry.Entry, error)
}

// Reader serves snapshot lookups.
type Reader interface {
	GetEntry(ctx context.Context, entryID string) (entry.Entry, error)
}

// Gateway is the full store contract. Each mutating operation is one atomic
// fetch, transform, write cycle and returns the new snapshot.
type Gateway interface {
	Creator
	FingerprintReader
	Reader

	UpdatePipelineStatus(ctx context.Context, entryID string, status entry.Status) (entry.Entry, error)

	RecordTranscriptionResult(ctx context.Context, entryID string, result entry.StageResult) (entry.Entry, error)
	RecordTranscriptionFailure(ctx context.Context, entryID string, failure entry.Failure) (entry.Entry, error)
	RecordExtractionResult(ctx context.Context, entryID string, result entry.StageResult) (entry.Entry, error)
	RecordExtractionFailure(ctx context.Context, entryID string, failure entry.Failure) (entry.Entry, error)
	RecordNormalizationResult(ctx context.Context, entryID string, result entry.StageResult) (entry.Entry, error)
	RecordNormalizationFailure(ctx context.Context, entryID string, failure entry.Failure) (entry.Entry, error)

	SaveSummary(ctx context.Context, entryID string, result entry.SummaryResult) (entry.Entry, error)
	UpdateEntryTaxonomy(ctx context.Context, entryID string, taxonomy entry.Taxonomy) (entry.Entry, error)

	RecordCaptureEvent(ctx context.Context, entryID, eventType string, data map[string]any) (entry.Entry, error)
	MergeCaptureMetadata(ctx context.Context, entryID string, patch map[string]any) (entry.Entry, error)

	SearchEntries(ctx context.Context, query SearchQuery) ([]entry.Entry, error)
	StatsByIngestState(ctx context.Context) (map[entry.State]int, error)

	Close() error
}

// SearchQuery filters, sorts, and paginates SearchEntries. Term matches
// case-insensitively over display title, summary, verbatim preview,
// normalized text, and semantic tags.
type SearchQuery struct {
	Term             string
	SourceChannel    string
	SourceTypes      []string
	IngestStates     []entry.State
	PipelineStatuses []entry.Status
	CreatedAfter     time.Time
	CreatedBefore    time.Time
	SortBy           string // created_at or updated_at
	Descending       bool
	Limit            int
	Offset           int
}

func (q SearchQuery) sortColumn() (string, error) {
	switch strings.TrimSpace(q.SortBy) {
	case "", "created_at":
		return "created_at", nil
	case "updated_at":
		return "updated_at", nil
	default:
		return "", fmt.Errorf("unsupported sort field %q", q.SortBy)
	}
}

// Open selects a backend from configuration.
func Open(cfg *config.Config) (Gateway, error) {
	switch cfg.Store.Backend {
	case "memory":
		return NewMemory(), nil
	case "sqlite", "":
		return OpenSQLite(cfg)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
