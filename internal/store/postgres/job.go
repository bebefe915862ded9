package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/causeway-ai/causeway/internal/domain"
)

type JobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

const selectJob = `SELECT id, workspace_id, turn_id, status, retries, max_retries, backoff_until,
	        priority, requested_context, started_at, finished_at, coalesce(error, ''), created_at, updated_at
	 FROM jobs`

func (r *JobRepo) Create(ctx context.Context, j *domain.Job) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO jobs (id, workspace_id, turn_id, status, retries, max_retries, backoff_until,
		                   priority, requested_context, started_at, finished_at, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		j.ID, j.WorkspaceID, j.TurnID, j.Status, j.Retries, j.MaxRetries, j.BackoffUntil,
		j.Priority, j.Context, j.StartedAt, j.FinishedAt, j.Error, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("jobRepo.Create: %w", domain.ErrConflict)
		}
		return fmt.Errorf("jobRepo.Create: %w", err)
	}

	return nil
}

func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, selectJob+` WHERE id = $1`, id), "jobRepo.GetByID")
}

func (r *JobRepo) GetByTurn(ctx context.Context, turnID uuid.UUID) (*domain.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, selectJob+` WHERE turn_id = $1`, turnID), "jobRepo.GetByTurn")
}

// Claim is the single-writer seam that makes duplicate queue deliveries
// harmless: only one caller wins the queued->running transition.
func (r *JobRepo) Claim(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, started_at = $2, backoff_until = NULL, updated_at = now()
		 WHERE id = $3 AND status = $4`,
		domain.JobStatusRunning, now, id, domain.JobStatusQueued,
	)
	if err != nil {
		return fmt.Errorf("jobRepo.Claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing job from a duplicate delivery.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return fmt.Errorf("jobRepo.Claim: %w", getErr)
		}
		return fmt.Errorf("jobRepo.Claim: %w", domain.ErrInvalidState)
	}

	return nil
}

func (r *JobRepo) Requeue(ctx context.Context, id uuid.UUID, retries int, backoffUntil time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, retries = $2, backoff_until = $3, updated_at = now()
		 WHERE id = $4 AND status = $5`,
		domain.JobStatusQueued, retries, backoffUntil, id, domain.JobStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("jobRepo.Requeue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("jobRepo.Requeue: %w", domain.ErrInvalidState)
	}

	return nil
}

// Finish records the terminal job status and the owning turn's terminal
// state in one transaction, so readers never observe a half-finished pair.
func (r *JobRepo) Finish(ctx context.Context, id uuid.UUID, status domain.JobStatus, jobErr string, turnStatus domain.TurnStatus, finalResponse string, now time.Time) error {
	if status != domain.JobStatusCompleted && status != domain.JobStatusFailed {
		return fmt.Errorf("jobRepo.Finish: status %q not terminal: %w", status, domain.ErrInvalidState)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("jobRepo.Finish: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var turnID uuid.UUID
	err = tx.QueryRow(ctx,
		`UPDATE jobs SET status = $1, error = $2, finished_at = $3, updated_at = now()
		 WHERE id = $4
		 RETURNING turn_id`,
		status, jobErr, now, id,
	).Scan(&turnID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("jobRepo.Finish: %w", domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("jobRepo.Finish: update job: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE chat_turns SET status = $1, final_response = $2, updated_at = now() WHERE id = $3`,
		turnStatus, finalResponse, turnID,
	)
	if err != nil {
		return fmt.Errorf("jobRepo.Finish: update turn: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("jobRepo.Finish: commit: %w", err)
	}

	return nil
}

// ResetStale recovers jobs orphaned by a crashed worker: running rows whose
// started_at predates the cutoff go back to queued with one more retry.
func (r *JobRepo) ResetStale(ctx context.Context, cutoff time.Time) ([]*domain.Job, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE jobs SET status = $1, retries = retries + 1, backoff_until = NULL, updated_at = now()
		 WHERE status = $2 AND started_at < $3
		 RETURNING id, workspace_id, turn_id, status, retries, max_retries, backoff_until,
		           priority, requested_context, started_at, finished_at, coalesce(error, ''), created_at, updated_at`,
		domain.JobStatusQueued, domain.JobStatusRunning, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("jobRepo.ResetStale: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, scanErr := scanJobRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("jobRepo.ResetStale: %w", scanErr)
		}
		jobs = append(jobs, j)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("jobRepo.ResetStale: rows: %w", rows.Err())
	}

	return jobs, nil
}

func scanJob(row pgx.Row, caller string) (*domain.Job, error) {
	j, err := scanJobRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", caller, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", caller, err)
	}
	return j, nil
}

func scanJobRow(row pgx.Row) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(
		&j.ID, &j.WorkspaceID, &j.TurnID, &j.Status, &j.Retries, &j.MaxRetries, &j.BackoffUntil,
		&j.Priority, &j.Context, &j.StartedAt, &j.FinishedAt, &j.Error, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
