package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/CurtWal/Touch/internal/models"
)

// JobRepository is the durable storage behind the scheduler. Jobs survive
// process restarts; the lease column (locked_until) is the only
// coordination between concurrently polling workers.
type JobRepository interface {
	// InsertUnique persists a one-shot job. When the job carries a
	// unique key and a pending job with that key already exists, the
	// call is a no-op.
	InsertUnique(ctx context.Context, job *models.Job) error
	// UpsertRecurring persists a recurring job keyed by unique key,
	// replacing payload, interval and next run on conflict.
	UpsertRecurring(ctx context.Context, job *models.Job) error
	// ClaimDue atomically leases up to limit due, unlocked jobs until
	// the given deadline and returns them. Two callers racing on the
	// same rows never receive the same job.
	ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*models.Job, error)
	// Release clears the lease so the job becomes eligible again.
	Release(ctx context.Context, id, lastError string) error
	Complete(ctx context.Context, id string) error
	// Reschedule clears the lease and moves run_at forward; used after
	// a recurring job succeeds.
	Reschedule(ctx context.Context, id string, next time.Time) error
	CancelByFilter(ctx context.Context, name string, payloadFilter map[string]any) error
}

type jobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) JobRepository {
	return &jobRepository{db: db}
}

const jobColumns = `id, name, payload, COALESCE(unique_key, ''), run_at, repeat_ms, locked_until, attempts, last_error, created_at, updated_at`

func (r *jobRepository) InsertUnique(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, name, payload, unique_key, run_at, repeat_ms)
		VALUES ($1, $2, $3::jsonb, NULLIF($4, ''), $5, $6)
		ON CONFLICT (unique_key) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, job.ID, job.Name, []byte(job.Payload), job.UniqueKey, job.RunAt, job.RepeatInterval.Milliseconds())
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *jobRepository) UpsertRecurring(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, name, payload, unique_key, run_at, repeat_ms)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6)
		ON CONFLICT (unique_key) DO UPDATE
		SET payload = EXCLUDED.payload,
			run_at = EXCLUDED.run_at,
			repeat_ms = EXCLUDED.repeat_ms,
			updated_at = now()
	`
	_, err := r.db.ExecContext(ctx, query, job.ID, job.Name, []byte(job.Payload), job.UniqueKey, job.RunAt, job.RepeatInterval.Milliseconds())
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *jobRepository) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]*models.Job, error) {
	query := `
		UPDATE jobs
		SET locked_until = $1, attempts = attempts + 1, updated_at = now()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE run_at <= $2 AND (locked_until IS NULL OR locked_until <= $2)
			ORDER BY run_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := r.db.QueryContext(ctx, query, leaseUntil, now, limit)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return jobs, nil
}

func (r *jobRepository) Release(ctx context.Context, id, lastError string) error {
	query := `UPDATE jobs SET locked_until = NULL, last_error = $1, updated_at = now() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, lastError, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *jobRepository) Complete(ctx context.Context, id string) error {
	query := `DELETE FROM jobs WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *jobRepository) Reschedule(ctx context.Context, id string, next time.Time) error {
	query := `UPDATE jobs SET run_at = $1, locked_until = NULL, last_error = '', updated_at = now() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, next, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// CancelByFilter deletes pending jobs of the given name whose payload
// contains payloadFilter (JSONB containment). Matching nothing is fine.
func (r *jobRepository) CancelByFilter(ctx context.Context, name string, payloadFilter map[string]any) error {
	encoded, err := json.Marshal(payloadFilter)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	query := `DELETE FROM jobs WHERE name = $1 AND payload @> $2::jsonb`
	_, err = r.db.ExecContext(ctx, query, name, encoded)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var payload []byte
	var repeatMs int64

	err := row.Scan(&job.ID, &job.Name, &payload, &job.UniqueKey, &job.RunAt,
		&repeatMs, &job.LockedUntil, &job.Attempts, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	job.Payload = json.RawMessage(payload)
	job.RepeatInterval = time.Duration(repeatMs) * time.Millisecond
	return &job, nil
}
