package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusQueued       JobStatus = "queued"
	JobStatusRunning      JobStatus = "running"
	JobStatusWaitingInput JobStatus = "waiting_input"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
)

// DefaultMaxRetries is the retry budget for a job unless overridden.
const DefaultMaxRetries = 3

// JobContext is the opaque requested-context bag persisted with a job.
type JobContext struct {
	Query  string     `json:"query"`
	UserID *uuid.UUID `json:"user_id,omitempty"`
	// Hints carries integration hints from the admitting surface, e.g. a
	// Slack channel to scope log searches to.
	Hints map[string]string `json:"hints,omitempty"`
}

// Job is the durable unit of work behind one turn.
type Job struct {
	ID           uuid.UUID
	WorkspaceID  uuid.UUID
	TurnID       uuid.UUID
	Status       JobStatus
	Retries      int
	MaxRetries   int
	BackoffUntil *time.Time
	Priority     int32
	Context      JobContext
	StartedAt    *time.Time
	FinishedAt   *time.Time
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Retryable reports whether another attempt is allowed.
func (j *Job) Retryable() bool {
	return j.Retries < j.MaxRetries
}

// NextBackoff returns the delay before attempt retries+1 may run:
// base * 2^retries (60s, 120s, 240s with the default base).
func NextBackoff(base time.Duration, retries int) time.Duration {
	d := base
	for i := 0; i < retries; i++ {
		d *= 2
	}
	return d
}

type JobRepository interface {
	Create(ctx context.Context, j *Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)
	GetByTurn(ctx context.Context, turnID uuid.UUID) (*Job, error)

	// Claim performs the conditional queued->running transition, setting
	// started_at. Returns ErrInvalidState when the job is not queued, which
	// callers treat as a duplicate delivery.
	Claim(ctx context.Context, id uuid.UUID, now time.Time) error

	// Requeue returns a failed attempt to the queue with an incremented
	// retry counter and a backoff deadline.
	Requeue(ctx context.Context, id uuid.UUID, retries int, backoffUntil time.Time) error

	// Finish records a terminal status together with the owning turn's
	// terminal state in one transaction.
	Finish(ctx context.Context, id uuid.UUID, status JobStatus, jobErr string, turnStatus TurnStatus, finalResponse string, now time.Time) error

	// ResetStale returns running jobs whose started_at is older than the
	// cutoff back to queued with retries+1, and reports the affected jobs.
	ResetStale(ctx context.Context, cutoff time.Time) ([]*Job, error)
}
