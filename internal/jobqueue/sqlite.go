package jobqueue

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"curio/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current queue schema version. Bump this when the
// schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the queue schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("queue schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLiteQueue is the durable broker. Jobs survive daemon restarts; claims
// run inside a transaction so two pollers cannot lease the same job.
type SQLiteQueue struct {
	db          *sql.DB
	path        string
	lease       time.Duration
	maxAttempts int
}

// OpenSQLite initializes or connects to the queue database configured in cfg.
func OpenSQLite(cfg *config.Config) (*SQLiteQueue, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	lease := time.Duration(cfg.Workflow.QueueLeaseSeconds) * time.Second
	return OpenSQLiteAt(filepath.Join(cfg.Paths.DataDir, "queue.db"), lease, cfg.Workflow.QueueMaxAttempts)
}

// OpenSQLiteAt opens the queue database at an explicit path.
func OpenSQLiteAt(dbPath string, lease time.Duration, maxAttempts int) (*SQLiteQueue, error) {
	if lease <= 0 {
		lease = time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	queue := &SQLiteQueue{db: db, path: dbPath, lease: lease, maxAttempts: maxAttempts}
	if err := queue.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return queue, nil
}

// Close closes the underlying database connection.
func (q *SQLiteQueue) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}

func (q *SQLiteQueue) initSchema(ctx context.Context) error {
	var tableExists int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		tx, err := q.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create queue schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record queue schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := q.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read queue schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the database to rebuild)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func queueIsBusy(err error) bool {
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

func (q *SQLiteQueue) retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !queueIsBusy(lastErr) || attempt == busyRetryAttempts-1 {
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

func (q *SQLiteQueue) Enqueue(ctx context.Context, jobType Type, payload Payload) (int64, error) {
	payloadJSON, err := json.Marshal(clonePayload(payload))
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var id int64
	err = q.retryOnBusy(ctx, func() error {
		res, execErr := q.db.ExecContext(ctx,
			`INSERT INTO jobs (job_type, payload_json, attempts, available_at, created_at, updated_at)
             VALUES (?, ?, 0, ?, ?, ?)`,
			string(jobType), string(payloadJSON), now, now, now,
		)
		if execErr != nil {
			return execErr
		}
		id, execErr = res.LastInsertId()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	return id, nil
}

func (q *SQLiteQueue) Claim(ctx context.Context) (*Job, error) {
	var claimed *Job
	err := q.retryOnBusy(ctx, func() error {
		tx, err := q.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin claim tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now().UTC()
		nowStr := now.Format(time.RFC3339Nano)
		row := tx.QueryRowContext(ctx,
			`SELECT id, job_type, payload_json, attempts, available_at, leased_until, created_at, updated_at, dead_lettered, last_error
             FROM jobs
             WHERE dead_lettered = 0
               AND available_at <= ?
               AND (leased_until IS NULL OR leased_until <= ?)
             ORDER BY id LIMIT 1`,
			nowStr, nowStr,
		)
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			claimed = nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetch claimable job: %w", err)
		}

		job.Attempts++
		job.LeasedUntil = now.Add(q.lease)
		job.UpdatedAt = now
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET attempts = ?, leased_until = ?, updated_at = ? WHERE id = ?`,
			job.Attempts, job.LeasedUntil.Format(time.RFC3339Nano), nowStr, job.ID,
		); err != nil {
			return fmt.Errorf("lease job: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit claim: %w", err)
		}
		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (q *SQLiteQueue) Complete(ctx context.Context, jobID int64) error {
	return q.retryOnBusy(ctx, func() error {
		res, err := q.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
		if err != nil {
			return fmt.Errorf("complete job %d: %w", jobID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("complete job %d: unknown job", jobID)
		}
		return nil
	})
}

func (q *SQLiteQueue) Release(ctx context.Context, jobID int64, cause string) error {
	return q.retryOnBusy(ctx, func() error {
		tx, err := q.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin release tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var attempts int
		if err := tx.QueryRowContext(ctx, `SELECT attempts FROM jobs WHERE id = ?`, jobID).Scan(&attempts); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("release job %d: unknown job", jobID)
			}
			return fmt.Errorf("release job %d: %w", jobID, err)
		}

		now := time.Now().UTC().Format(time.RFC3339Nano)
		if attempts >= q.maxAttempts {
			if _, err := tx.ExecContext(ctx,
				`UPDATE jobs SET dead_lettered = 1, last_error = ?, updated_at = ? WHERE id = ?`,
				cause, now, jobID,
			); err != nil {
				return fmt.Errorf("dead-letter exhausted job %d: %w", jobID, err)
			}
		} else {
			if _, err := tx.ExecContext(ctx,
				`UPDATE jobs SET leased_until = NULL, available_at = ?, last_error = ?, updated_at = ? WHERE id = ?`,
				now, cause, now, jobID,
			); err != nil {
				return fmt.Errorf("release job %d: %w", jobID, err)
			}
		}
		return tx.Commit()
	})
}

func (q *SQLiteQueue) DeadLetter(ctx context.Context, jobID int64, cause string) error {
	return q.retryOnBusy(ctx, func() error {
		now := time.Now().UTC().Format(time.RFC3339Nano)
		res, err := q.db.ExecContext(ctx,
			`UPDATE jobs SET dead_lettered = 1, last_error = ?, updated_at = ? WHERE id = ?`,
			cause, now, jobID,
		)
		if err != nil {
			return fmt.Errorf("dead-letter job %d: %w", jobID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("dead-letter job %d: unknown job", jobID)
		}
		return nil
	})
}

func (q *SQLiteQueue) Stats(ctx context.Context) (Stats, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	row := q.db.QueryRowContext(ctx,
		`SELECT
            SUM(CASE WHEN dead_lettered = 1 THEN 1 ELSE 0 END),
            SUM(CASE WHEN dead_lettered = 0 AND leased_until IS NOT NULL AND leased_until > ? THEN 1 ELSE 0 END),
            SUM(CASE WHEN dead_lettered = 0 AND (leased_until IS NULL OR leased_until <= ?) THEN 1 ELSE 0 END)
         FROM jobs`,
		now, now,
	)
	var dead, leased, pending sql.NullInt64
	if err := row.Scan(&dead, &leased, &pending); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{
		Pending:      int(pending.Int64),
		Leased:       int(leased.Int64),
		DeadLettered: int(dead.Int64),
	}, nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           int64
		jobType      string
		payloadJSON  string
		attempts     int
		availableRaw string
		leasedRaw    sql.NullString
		createdRaw   string
		updatedRaw   string
		deadLettered int
		lastError    sql.NullString
	)
	if err := scanner.Scan(
		&id, &jobType, &payloadJSON, &attempts, &availableRaw, &leasedRaw,
		&createdRaw, &updatedRaw, &deadLettered, &lastError,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:           id,
		Type:         Type(jobType),
		Attempts:     attempts,
		DeadLettered: deadLettered != 0,
		LastError:    lastError.String,
	}
	if err := json.Unmarshal([]byte(payloadJSON), &job.Payload); err != nil {
		return nil, fmt.Errorf("decode payload for job %d: %w", id, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, availableRaw); err == nil {
		job.AvailableAt = t
	}
	if leasedRaw.Valid {
		if t, err := time.Parse(time.RFC3339Nano, leasedRaw.String); err == nil {
			job.LeasedUntil = t
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		job.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedRaw); err == nil {
		job.UpdatedAt = t
	}
	return job, nil
}
