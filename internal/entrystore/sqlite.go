package entrystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"curio/internal/config"
	"curio/internal/entry"
)

// SQLite is the durable backend. Every mutation runs its fetch and write
// inside one transaction so concurrent callers on the same entry cannot
// lose updates.
type SQLite struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	sqliteConstraintCode    = 19
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// OpenSQLite initializes or connects to the entry database configured in cfg.
func OpenSQLite(cfg *config.Config) (*SQLite, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenSQLiteAt(cfg.DatabasePath())
}

// OpenSQLiteAt opens the entry database at an explicit path.
func OpenSQLiteAt(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLite{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *SQLite) Path() string { return s.path }

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()%256 == sqliteConstraintCode {
		return strings.Contains(err.Error(), "UNIQUE")
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *SQLite) CreateEntry(ctx context.Context, params entry.NewParams) (entry.Entry, error) {
	ctx = ensureContext(ctx)
	fingerprint := entry.FingerprintOf(params.Metadata)
	if fingerprint == "" {
		return entry.Entry{}, ErrMissingFingerprint
	}

	record, err := entry.New(params)
	if err != nil {
		return entry.Entry{}, err
	}

	args, err := entryArgs(record)
	if err != nil {
		return entry.Entry{}, err
	}
	if err := retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO entries (`+entryColumns+`) VALUES (`+entryPlaceholders+`)`,
			args...,
		)
		return execErr
	}); err != nil {
		if isUniqueViolation(err) {
			return entry.Entry{}, ErrDuplicateFingerprint
		}
		return entry.Entry{}, fmt.Errorf("insert entry: %w", err)
	}
	return record, nil
}

func (s *SQLite) GetEntry(ctx context.Context, entryID string) (entry.Entry, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE entry_id = ?`, entryID)
	record, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entry.Entry{}, ErrEntryNotFound
	}
	if err != nil {
		return entry.Entry{}, fmt.Errorf("get entry: %w", err)
	}
	return record, nil
}

func (s *SQLite) FindByFingerprint(ctx context.Context, fingerprint, sourceChannel string) (*entry.Entry, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries
         WHERE capture_fingerprint = ? AND source_channel = ?
         ORDER BY created_at DESC, entry_id DESC LIMIT 1`,
		fingerprint, sourceChannel,
	)
	record, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by fingerprint: %w", err)
	}
	return &record, nil
}

// mutate runs one fetch, transform, write cycle inside a transaction. The
// stored row is untouched when the transform fails.
func (s *SQLite) mutate(ctx context.Context, entryID string, transform func(entry.Entry) (entry.Entry, error)) (entry.Entry, error) {
	ctx = ensureContext(ctx)
	var result entry.Entry
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE entry_id = ?`, entryID)
		record, err := scanEntry(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("fetch entry: %w", err)
		}

		next, err := transform(record)
		if err != nil {
			return err
		}

		args, err := entryUpdateArgs(next)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE entries SET `+entryUpdateSet+` WHERE entry_id = ?`,
			append(args, entryID)...,
		); err != nil {
			return fmt.Errorf("update entry: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit entry update: %w", err)
		}
		result = next
		return nil
	})
	if err != nil {
		return entry.Entry{}, err
	}
	return result, nil
}

func (s *SQLite) UpdatePipelineStatus(ctx context.Context, entryID string, status entry.Status) (entry.Entry, error) {
	return s.mutate(ctx, entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.ApplyPipelineStatus(status)
	})
}

func (s *SQLite) RecordTranscriptionResult(ctx context.Context, entryID string, result entry.StageResult) (entry.Entry, error) {
	return s.mutate(ctx, entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.WithTranscriptionResult(result, time.Now().UTC()), nil
	})
}

func (s *SQLite) RecordTranscriptionFailure(ctx context.Context, entryID string, failure entry.Failure) (entry.Entry, error) {
	return s.mutate(ctx, entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.WithTranscriptionFailure(failure, time.Now().UTC()), nil
	})
}

func (s *SQLite) RecordExtractionResult(ctx context.Context, entryID string, result entry.StageResult) (entry.Entry, error) {
	return s.mutate(ctx, entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.WithExtractionResult(result, time.Now().UTC()), nil
	})
}

func (s *SQLite) RecordExtractionFailure(ctx context.Context, entryID string, failure entry.Failure) (entry.Entry, error) {
	return s.mutate(ctx, entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.WithExtractionFailure(failure, time.Now().UTC()), nil
	})
}

func (s *SQLite) RecordNormalizationResult(ctx context.Context, entryID string, result entry.StageResult) (entry.Entry, error) {
	return s.mutate(ctx, entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.WithNormalizationResult(result, time.Now().UTC()), nil
	})
}

func (s *SQLite) RecordNormalizationFailure(ctx context.Context, entryID string, failure entry.Failure) (entry.Entry, error) {
	return s.mutate(ctx, entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.WithNormalizationFailure(failure, time.Now().UTC()), nil
	})
}

func (s *SQLite) SaveSummary(ctx context.Context, entryID string, result entry.SummaryResult) (entry.Entry, error) {
	return s.mutate(ctx, entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.WithSummaryResult(result, time.Now().UTC()), nil
	})
}

func (s *SQLite) UpdateEntryTaxonomy(ctx context.Context, entryID string, taxonomy entry.Taxonomy) (entry.Entry, error) {
	return s.mutate(ctx, entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.WithTaxonomy(taxonomy, time.Now().UTC()), nil
	})
}

func (s *SQLite) RecordCaptureEvent(ctx context.Context, entryID, eventType string, data map[string]any) (entry.Entry, error) {
	return s.mutate(ctx, entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.WithCaptureEvent(eventType, data, time.Now().UTC()), nil
	})
}

func (s *SQLite) MergeCaptureMetadata(ctx context.Context, entryID string, patch map[string]any) (entry.Entry, error) {
	return s.mutate(ctx, entryID, func(record entry.Entry) (entry.Entry, error) {
		return record.WithCaptureMetadata(patch, time.Now().UTC()), nil
	})
}

func (s *SQLite) SearchEntries(ctx context.Context, query SearchQuery) ([]entry.Entry, error) {
	ctx = ensureContext(ctx)
	column, err := query.sortColumn()
	if err != nil {
		return nil, err
	}

	var (
		clauses []string
		args    []any
	)
	if query.SourceChannel != "" {
		clauses = append(clauses, "source_channel = ?")
		args = append(args, query.SourceChannel)
	}
	if len(query.IngestStates) > 0 {
		clauses = append(clauses, "ingest_state IN ("+makePlaceholders(len(query.IngestStates))+")")
		for _, state := range query.IngestStates {
			args = append(args, string(state))
		}
	}
	if len(query.PipelineStatuses) > 0 {
		clauses = append(clauses, "pipeline_status IN ("+makePlaceholders(len(query.PipelineStatuses))+")")
		for _, status := range query.PipelineStatuses {
			args = append(args, string(status))
		}
	}
	if len(query.SourceTypes) > 0 {
		clauses = append(clauses, "source_type IN ("+makePlaceholders(len(query.SourceTypes))+")")
		for _, sourceType := range query.SourceTypes {
			args = append(args, sourceType)
		}
	}
	if !query.CreatedAfter.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, query.CreatedAfter.UTC().Format(time.RFC3339Nano))
	}
	if !query.CreatedBefore.IsZero() {
		clauses = append(clauses, "created_at < ?")
		args = append(args, query.CreatedBefore.UTC().Format(time.RFC3339Nano))
	}
	if term := strings.ToLower(strings.TrimSpace(query.Term)); term != "" {
		clauses = append(clauses, `(
			lower(coalesce(display_title, '')) LIKE ?
			OR lower(coalesce(summary, '')) LIKE ?
			OR lower(coalesce(verbatim_preview, '')) LIKE ?
			OR lower(coalesce(normalized_text, '')) LIKE ?
			OR lower(coalesce(semantic_tags_json, '')) LIKE ?
		)`)
		pattern := "%" + term + "%"
		for i := 0; i < 5; i++ {
			args = append(args, pattern)
		}
	}

	sqlQuery := `SELECT ` + entryColumns + ` FROM entries`
	if len(clauses) > 0 {
		sqlQuery += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	sqlQuery += ` ORDER BY ` + column
	if query.Descending {
		sqlQuery += ` DESC`
	}
	limit := query.Limit
	if limit <= 0 {
		limit = -1
	}
	sqlQuery += ` LIMIT ? OFFSET ?`
	args = append(args, limit, max(query.Offset, 0))

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search entries: %w", err)
	}
	defer rows.Close()

	results := []entry.Entry{}
	for rows.Next() {
		record, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, record)
	}
	return results, rows.Err()
}

// StatsByIngestState returns a count of entries grouped by ingest state.
func (s *SQLite) StatsByIngestState(ctx context.Context) (map[entry.State]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT ingest_state, COUNT(1) FROM entries GROUP BY ingest_state`)
	if err != nil {
		return nil, fmt.Errorf("entry stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[entry.State]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[entry.State(state)] = count
	}
	return stats, rows.Err()
}

// CheckHealth reports whether the database file exists, answers queries, and
// holds the entries table.
func (s *SQLite) CheckHealth(ctx context.Context) error {
	ctx = ensureContext(ctx)
	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		return fmt.Errorf("ping entry database: %w", err)
	}

	var tableName string
	row := s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'entries'")
	if err := row.Scan(&tableName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.New("entries table missing")
		}
		return fmt.Errorf("query table info: %w", err)
	}
	return nil
}
