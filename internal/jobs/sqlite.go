package jobs

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/DrPeryCox/pres-gen-new/internal/pkg/errors"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
)

// SQLiteStore is the single node Store.
type SQLiteStore struct {
	db  *sql.DB
	log *logger.Logger
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(ctx context.Context, path string, log *logger.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, log: log.WithComponent("jobs")}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _migrations (name TEXT PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	list, err := migrations("sqlite")
	if err != nil {
		return err
	}
	for _, m := range list {
		var applied int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM _migrations WHERE name = ?`, m.name).Scan(&applied)
		if err == nil {
			continue
		}
		if !stderrors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", m.name, err)
		}
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("execute migration %s: %w", m.name, err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO _migrations (name, applied_at) VALUES (?, ?)`, m.name, timestamp(time.Now())); err != nil {
			return fmt.Errorf("record migration %s: %w", m.name, err)
		}
		s.log.Info("applied migration", "name", m.name)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, job *Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = StatusQueued
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, timeline_key, deck_key, narration_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.Status, job.Sources.TimelineKey, job.Sources.DeckKey, job.Sources.NarrationKey, timestamp(job.CreatedAt),
	)
	if err != nil {
		return errors.Wrap(err, "jobs.Create", "insert job")
	}
	return nil
}

const sqliteColumns = `id, status, COALESCE(phase,''), timeline_key, deck_key, narration_key,
	COALESCE(result_key,''), COALESCE(result_name,''), COALESCE(error_code,''), COALESCE(error_text,''),
	created_at, started_at, finished_at, COALESCE(worker_id,''), heartbeat_at`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanSQLiteJob(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "jobs.Get", "query job")
	}
	return job, nil
}

func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]Job, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if filter.Status != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+sqliteColumns+` FROM jobs WHERE status = ? ORDER BY created_at DESC LIMIT ?`,
			filter.Status, filter.limit())
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+sqliteColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`,
			filter.limit())
	}
	if err != nil {
		return nil, errors.Wrap(err, "jobs.List", "query jobs")
	}
	defer rows.Close()

	out := make([]Job, 0)
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "jobs.List", "scan job")
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkRunning(ctx context.Context, id, workerID string) error {
	now := timestamp(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, phase = NULL, started_at = ?, finished_at = NULL, error_code = NULL, error_text = NULL,
			worker_id = ?, heartbeat_at = ?
		WHERE id = ? AND status = ?`,
		StatusRunning, now, workerID, now, id, StatusQueued)
	if err != nil {
		return errors.Wrap(err, "jobs.MarkRunning", "update job")
	}
	return s.expectOne(ctx, res, id, "job is not queued")
}

func (s *SQLiteStore) Heartbeat(ctx context.Context, id, workerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET heartbeat_at = ? WHERE id = ? AND status = ? AND worker_id = ?`,
		timestamp(time.Now()), id, StatusRunning, workerID)
	if err != nil {
		return errors.Wrap(err, "jobs.Heartbeat", "update job")
	}
	return s.expectOne(ctx, res, id, "job is not running under this worker")
}

func (s *SQLiteStore) UpdatePhase(ctx context.Context, id, phase string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET phase = ? WHERE id = ? AND status = ?`, phase, id, StatusRunning)
	if err != nil {
		return errors.Wrap(err, "jobs.UpdatePhase", "update job")
	}
	return nil
}

func (s *SQLiteStore) MarkDone(ctx context.Context, id, resultKey, resultName string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, phase = NULL, result_key = ?, result_name = ?, finished_at = ?
		WHERE id = ? AND status = ?`,
		StatusDone, resultKey, resultName, timestamp(time.Now()), id, StatusRunning)
	if err != nil {
		return errors.Wrap(err, "jobs.MarkDone", "update job")
	}
	return s.expectOne(ctx, res, id, "job is not running")
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id, code, text string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_code = ?, error_text = ?, finished_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		StatusFailed, code, clipError(text), timestamp(time.Now()), id, StatusQueued, StatusRunning)
	if err != nil {
		return errors.Wrap(err, "jobs.MarkFailed", "update job")
	}
	return s.expectOne(ctx, res, id, "job already finished")
}

func (s *SQLiteStore) MarkCleaned(ctx context.Context, id string) (*Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE id = ? AND status = ?`, StatusCleaned, id, StatusDone)
	if err != nil {
		return nil, errors.Wrap(err, "jobs.MarkCleaned", "update job")
	}
	if err := s.expectOne(ctx, res, id, "only finished jobs can be cleaned"); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *SQLiteStore) MarkInterrupted(ctx context.Context, workerID string, staleBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_code = ?, finished_at = ?,
			error_text = CASE WHEN worker_id = ? THEN ? ELSE ? END
		WHERE status = ?
			AND (worker_id = ? OR worker_id IS NULL OR heartbeat_at IS NULL OR heartbeat_at < ?)`,
		StatusFailed, string(errors.CodeUnavailable), timestamp(time.Now()),
		workerID, InterruptedText, LeaseExpiredText,
		StatusRunning, workerID, timestamp(staleBefore))
	if err != nil {
		return 0, errors.Wrap(err, "jobs.MarkInterrupted", "update jobs")
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// expectOne turns a zero-row update into not found, or into a conflict when
// the job exists and conflict is set.
func (s *SQLiteStore) expectOne(ctx context.Context, res sql.Result, id, conflict string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if conflict == "" {
		conflict = "job state did not change"
	}
	return errors.Conflict(conflict).WithField("job_id", id).WithField("status", string(job.Status))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row rowScanner) (*Job, error) {
	var (
		job                          Job
		status, created              string
		started, finished, heartbeat sql.NullString
	)
	err := row.Scan(
		&job.ID, &status, &job.Phase,
		&job.Sources.TimelineKey, &job.Sources.DeckKey, &job.Sources.NarrationKey,
		&job.ResultKey, &job.ResultName, &job.ErrorCode, &job.ErrorText,
		&created, &started, &finished, &job.WorkerID, &heartbeat,
	)
	if err != nil {
		return nil, err
	}
	job.Status = Status(status)
	if job.CreatedAt, err = parseTimestamp(created); err != nil {
		return nil, err
	}
	if job.StartedAt, err = parseNullTimestamp(started); err != nil {
		return nil, err
	}
	if job.FinishedAt, err = parseNullTimestamp(finished); err != nil {
		return nil, err
	}
	if job.HeartbeatAt, err = parseNullTimestamp(heartbeat); err != nil {
		return nil, err
	}
	return &job, nil
}

// timeLayout has a fixed width so stored values sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func timestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTimestamp(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTimestamp(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
