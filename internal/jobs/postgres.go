package jobs

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DrPeryCox/pres-gen-new/internal/httpkit"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/errors"
	"github.com/DrPeryCox/pres-gen-new/internal/pkg/logger"
)

// PostgresStore is the Store shared by the api and worker deployments.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to databaseURL and applies pending migrations.
func OpenPostgres(ctx context.Context, databaseURL string, log *logger.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewPostgresStore(pool, log)
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing pool. It does not migrate.
func NewPostgresStore(pool *pgxpool.Pool, log *logger.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, log: log.WithComponent("jobs")}
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS _migrations (name TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	list, err := migrations("postgres")
	if err != nil {
		return err
	}
	for _, m := range list {
		var applied int
		err := s.pool.QueryRow(ctx, `SELECT 1 FROM _migrations WHERE name = $1`, m.name).Scan(&applied)
		if err == nil {
			continue
		}
		if !stderrors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", m.name, err)
		}
		if _, err := s.pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("execute migration %s: %w", m.name, err)
		}
		if _, err := s.pool.Exec(ctx, `INSERT INTO _migrations (name) VALUES ($1) ON CONFLICT DO NOTHING`, m.name); err != nil {
			return fmt.Errorf("record migration %s: %w", m.name, err)
		}
		s.log.Info("applied migration", "name", m.name)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, job *Job) error {
	if job.Status == "" {
		job.Status = StatusQueued
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, status, timeline_key, deck_key, narration_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		job.ID, job.Status, job.Sources.TimelineKey, job.Sources.DeckKey, job.Sources.NarrationKey,
	).Scan(&job.CreatedAt)
	if err != nil {
		if httpkit.IsUniqueViolation(err) {
			return errors.Conflict("job already exists").WithField("job_id", job.ID)
		}
		return errors.Wrap(err, "jobs.Create", "insert job")
	}
	return nil
}

const postgresColumns = `id, status, COALESCE(phase,''), timeline_key, deck_key, narration_key,
	COALESCE(result_key,''), COALESCE(result_name,''), COALESCE(error_code,''), COALESCE(error_text,''),
	created_at, started_at, finished_at, COALESCE(worker_id,''), heartbeat_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	job, err := scanPostgresJob(s.pool.QueryRow(ctx, `SELECT `+postgresColumns+` FROM jobs WHERE id = $1`, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "jobs.Get", "query job")
	}
	return job, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]Job, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if filter.Status != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+postgresColumns+` FROM jobs WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
			filter.Status, filter.limit())
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+postgresColumns+` FROM jobs ORDER BY created_at DESC LIMIT $1`,
			filter.limit())
	}
	if err != nil {
		return nil, errors.Wrap(err, "jobs.List", "query jobs")
	}
	defer rows.Close()

	out := make([]Job, 0)
	for rows.Next() {
		job, err := scanPostgresJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "jobs.List", "scan job")
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkRunning(ctx context.Context, id, workerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, phase = NULL, started_at = now(), finished_at = NULL, error_code = NULL, error_text = NULL,
			worker_id = $4, heartbeat_at = now()
		WHERE id = $1 AND status = $3`,
		id, StatusRunning, StatusQueued, workerID)
	if err != nil {
		return errors.Wrap(err, "jobs.MarkRunning", "update job")
	}
	return s.expectOne(ctx, tag, id, "job is not queued")
}

func (s *PostgresStore) Heartbeat(ctx context.Context, id, workerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET heartbeat_at = now() WHERE id = $1 AND status = $2 AND worker_id = $3`,
		id, StatusRunning, workerID)
	if err != nil {
		return errors.Wrap(err, "jobs.Heartbeat", "update job")
	}
	return s.expectOne(ctx, tag, id, "job is not running under this worker")
}

func (s *PostgresStore) UpdatePhase(ctx context.Context, id, phase string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE jobs SET phase = $2 WHERE id = $1 AND status = $3`, id, phase, StatusRunning); err != nil {
		return errors.Wrap(err, "jobs.UpdatePhase", "update job")
	}
	return nil
}

func (s *PostgresStore) MarkDone(ctx context.Context, id, resultKey, resultName string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, phase = NULL, result_key = $3, result_name = $4, finished_at = now()
		WHERE id = $1 AND status = $5`,
		id, StatusDone, resultKey, resultName, StatusRunning)
	if err != nil {
		return errors.Wrap(err, "jobs.MarkDone", "update job")
	}
	return s.expectOne(ctx, tag, id, "job is not running")
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, code, text string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, error_code = $3, error_text = $4, finished_at = now()
		WHERE id = $1 AND status IN ($5, $6)`,
		id, StatusFailed, code, clipError(text), StatusQueued, StatusRunning)
	if err != nil {
		return errors.Wrap(err, "jobs.MarkFailed", "update job")
	}
	return s.expectOne(ctx, tag, id, "job already finished")
}

func (s *PostgresStore) MarkCleaned(ctx context.Context, id string) (*Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET status = $2 WHERE id = $1 AND status = $3`, id, StatusCleaned, StatusDone)
	if err != nil {
		return nil, errors.Wrap(err, "jobs.MarkCleaned", "update job")
	}
	if err := s.expectOne(ctx, tag, id, "only finished jobs can be cleaned"); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *PostgresStore) MarkInterrupted(ctx context.Context, workerID string, staleBefore time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, error_code = $2, finished_at = now(),
			error_text = CASE WHEN worker_id = $5 THEN $3 ELSE $4 END
		WHERE status = $6
			AND (worker_id = $5 OR worker_id IS NULL OR heartbeat_at IS NULL OR heartbeat_at < $7)`,
		StatusFailed, string(errors.CodeUnavailable), InterruptedText, LeaseExpiredText,
		workerID, StatusRunning, staleBefore.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "jobs.MarkInterrupted", "update jobs")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) expectOne(ctx context.Context, tag pgconn.CommandTag, id, conflict string) error {
	if tag.RowsAffected() > 0 {
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

func scanPostgresJob(row pgx.Row) (*Job, error) {
	var (
		job     Job
		status  string
		created time.Time
	)
	err := row.Scan(
		&job.ID, &status, &job.Phase,
		&job.Sources.TimelineKey, &job.Sources.DeckKey, &job.Sources.NarrationKey,
		&job.ResultKey, &job.ResultName, &job.ErrorCode, &job.ErrorText,
		&created, &job.StartedAt, &job.FinishedAt, &job.WorkerID, &job.HeartbeatAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = Status(status)
	job.CreatedAt = created.UTC()
	return &job, nil
}
