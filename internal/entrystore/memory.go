package entrystore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"curio/internal/entry"
)

// Memory is the in-process backend. All operations copy on the way in and
// out so callers never share mutable state with the store.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry.Entry
	// byFingerprint preserves insertion order per (fingerprint, channel)
	// so lookups can prefer the most recent capture.
	byFingerprint map[fingerprintKey][]string
}

type fingerprintKey struct {
	fingerprint string
	channel     string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries:       make(map[string]entry.Entry),
		byFingerprint: make(map[fingerprintKey][]string),
	}
}

func (m *Memory) CreateEntry(_ context.Context, params entry.NewParams) (entry.Entry, error) {
	fingerprint := entry.FingerprintOf(params.Metadata)
	if fingerprint == "" {
		return entry.Entry{}, ErrMissingFingerprint
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := fingerprintKey{fingerprint: fingerprint, channel: params.SourceChannel}
	for _, id := range m.byFingerprint[key] {
		if existing, ok := m.entries[id]; ok && entry.ActiveOrCompleted(existing.PipelineStatus) {
			return entry.Entry{}, ErrDuplicateFingerprint
		}
	}

	record, err := entry.New(params)
	if err != nil {
		return entry.Entry{}, err
	}
	m.entries[record.EntryID] = record.Clone()
	m.byFingerprint[key] = append(m.byFingerprint[key], record.EntryID)
	return record, nil
}

func (m *Memory) GetEntry(_ context.Context, entryID string) (entry.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.entries[entryID]
	if !ok {
		return entry.Entry{}, ErrEntryNotFound
	}
	return record.Clone(), nil
}

func (m *Memory) FindByFingerprint(_ context.Context, fingerprint, sourceChannel string) (*entry.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byFingerprint[fingerprintKey{fingerprint: fingerprint, channel: sourceChannel}]
	for i := len(ids) - 1; i >= 0; i-- {
		if record, ok := m.entries[ids[i]]; ok {
			clone := record.Clone()
			return &clone, nil
		}
	}
	return nil, nil
}

// mutate runs one fetch, transform, write cycle under the store lock. The
// stored row is untouched when the transform fails.
func (m *Memory) mutate(entryID string, transform func(entry.Entry) (entry.Entry, error)) (entry.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.entries[entryID]
	if !ok {
		return entry.Entry{}, ErrEntryNotFound
	}
	next, err := transform(record.Clone())
	if err != nil {
		return entry.Entry{}, err
	}
	m.entries[entryID] = next.Clone()
	return next, nil
}

func (m *Memory) UpdatePipelineStatus(_ context.Context, entryID string, status entry.Status) (entry.Entry, error) {
	return m.mutate(entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.ApplyPipelineStatus(status)
	})
}

func (m *Memory) RecordTranscriptionResult(_ context.Context, entryID string, result entry.StageResult) (entry.Entry, error) {
	return m.mutate(entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.WithTranscriptionResult(result, time.Now().UTC()), nil
	})
}

func (m *Memory) RecordTranscriptionFailure(_ context.Context, entryID string, failure entry.Failure) (entry.Entry, error) {
	return m.mutate(entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.WithTranscriptionFailure(failure, time.Now().UTC()), nil
	})
}

func (m *Memory) RecordExtractionResult(_ context.Context, entryID string, result entry.StageResult) (entry.Entry, error) {
	return m.mutate(entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.WithExtractionResult(result, time.Now().UTC()), nil
	})
}

func (m *Memory) RecordExtractionFailure(_ context.Context, entryID string, failure entry.Failure) (entry.Entry, error) {
	return m.mutate(entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.WithExtractionFailure(failure, time.Now().UTC()), nil
	})
}

func (m *Memory) RecordNormalizationResult(_ context.Context, entryID string, result entry.StageResult) (entry.Entry, error) {
	return m.mutate(entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.WithNormalizationResult(result, time.Now().UTC()), nil
	})
}

func (m *Memory) RecordNormalizationFailure(_ context.Context, entryID string, failure entry.Failure) (entry.Entry, error) {
	return m.mutate(entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.WithNormalizationFailure(failure, time.Now().UTC()), nil
	})
}

func (m *Memory) SaveSummary(_ context.Context, entryID string, result entry.SummaryResult) (entry.Entry, error) {
	return m.mutate(entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.WithSummaryResult(result, time.Now().UTC()), nil
	})
}

func (m *Memory) UpdateEntryTaxonomy(_ context.Context, entryID string, taxonomy entry.Taxonomy) (entry.Entry, error) {
	return m.mutate(entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.WithTaxonomy(taxonomy, time.Now().UTC()), nil
	})
}

func (m *Memory) RecordCaptureEvent(_ context.Context, entryID, eventType string, data map[string]any) (entry.Entry, error) {
	return m.mutate(entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.WithCaptureEvent(eventType, data, time.Now().UTC()), nil
	})
}

func (m *Memory) MergeCaptureMetadata(_ context.Context, entryID string, patch map[string]any) (entry.Entry, error) {
	return m.mutate(entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.WithCaptureMetadata(patch, time.Now().UTC()), nil
	})
}

func (m *Memory) SearchEntries(_ context.Context, query SearchQuery) ([]entry.Entry, error) {
	if _, err := query.sortColumn(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	matched := make([]entry.Entry, 0, len(m.entries))
	for _, record := range m.entries {
		if matchesQuery(record, query) {
			matched = append(matched, record.Clone())
		}
	}
	m.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := sortKey(matched[i], query), sortKey(matched[j], query)
		if query.Descending {
			return a.After(b)
		}
		return a.Before(b)
	})

	return paginate(matched, query.Offset, query.Limit), nil
}

func matchesQuery(record entry.Entry, query SearchQuery) bool {
	if query.SourceChannel != "" && record.SourceChannel != query.SourceChannel {
		return false
	}
	if len(query.SourceTypes) > 0 && !containsString(query.SourceTypes, record.SourceType) {
		return false
	}
	if len(query.IngestStates) > 0 && !containsState(query.IngestStates, record.IngestState()) {
		return false
	}
	if len(query.PipelineStatuses) > 0 && !containsStatus(query.PipelineStatuses, record.PipelineStatus) {
		return false
	}
	if !query.CreatedAfter.IsZero() && record.CreatedAt.Before(query.CreatedAfter) {
		return false
	}
	if !query.CreatedBefore.IsZero() && !record.CreatedAt.Before(query.CreatedBefore) {
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(query.Term)); term != "" && !matchesTerm(record, term) {
		return false
	}
	return true
}

// matchesTerm checks the searchable text surfaces for a lowercased term.
func matchesTerm(record entry.Entry, term string) bool {
	for _, field := range []string{
		record.DisplayTitle,
		record.Summary,
		record.VerbatimPreview,
		record.NormalizedText,
	} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	for _, tag := range record.SemanticTags {
		if strings.Contains(strings.ToLower(tag), term) {
			return true
		}
	}
	return false
}

func containsString(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}

func sortKey(record entry.Entry, query SearchQuery) time.Time {
	if query.SortBy == "updated_at" {
		return record.UpdatedAt
	}
	return record.CreatedAt
}

func containsState(states []entry.State, state entry.State) bool {
	for _, candidate := range states {
		if candidate == state {
			return true
		}
	}
	return false
}

func containsStatus(statuses []entry.Status, status entry.Status) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func paginate(records []entry.Entry, offset, limit int) []entry.Entry {
	if offset > 0 {
		if offset >= len(records) {
			return []entry.Entry{}
		}
		records = records[offset:]
	}
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}

func (m *Memory) StatsByIngestState(_ context.Context) (map[entry.State]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := make(map[entry.State]int)
	for _, record := range m.entries {
		stats[record.IngestState()]++
	}
	return stats, nil
}

// Close is a no-op for the in-memory backend.
func (m *Memory) Close() error { return nil }
