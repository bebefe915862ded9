package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/causeway-ai/causeway/internal/domain"
)

type TurnRepo struct {
	pool *pgxpool.Pool
}

func NewTurnRepo(pool *pgxpool.Pool) *TurnRepo {
	return &TurnRepo{pool: pool}
}

func (r *TurnRepo) Create(ctx context.Context, t *domain.Turn) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_turns (id, session_id, workspace_id, user_message, final_response, status, job_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.SessionID, t.WorkspaceID, t.UserMessage, t.FinalResponse,
		t.Status, t.JobID, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("turnRepo.Create: %w", err)
	}

	return nil
}

func (r *TurnRepo) GetByID(ctx context.Context, workspaceID, id uuid.UUID) (*domain.Turn, error) {
	var t domain.Turn

	err := r.pool.QueryRow(ctx,
		`SELECT id, session_id, workspace_id, user_message, coalesce(final_response, ''), status, job_id, created_at, updated_at
		 FROM chat_turns WHERE workspace_id = $1 AND id = $2`,
		workspaceID, id,
	).Scan(
		&t.ID, &t.SessionID, &t.WorkspaceID, &t.UserMessage, &t.FinalResponse,
		&t.Status, &t.JobID, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("turnRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("turnRepo.GetByID: %w", err)
	}

	return &t, nil
}

func (r *TurnRepo) ListBySession(ctx context.Context, workspaceID, sessionID uuid.UUID) ([]*domain.Turn, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, workspace_id, user_message, coalesce(final_response, ''), status, job_id, created_at, updated_at
		 FROM chat_turns WHERE workspace_id = $1 AND session_id = $2
		 ORDER BY created_at
		 LIMIT 1000`,
		workspaceID, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("turnRepo.ListBySession: %w", err)
	}
	defer rows.Close()

	var turns []*domain.Turn
	for rows.Next() {
		var t domain.Turn
		if scanErr := rows.Scan(
			&t.ID, &t.SessionID, &t.WorkspaceID, &t.UserMessage, &t.FinalResponse,
			&t.Status, &t.JobID, &t.CreatedAt, &t.UpdatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("turnRepo.ListBySession: scan: %w", scanErr)
		}
		turns = append(turns, &t)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("turnRepo.ListBySession: rows: %w", rows.Err())
	}

	return turns, nil
}

func (r *TurnRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.TurnStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE chat_turns SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		to, id, from,
	)
	if err != nil {
		return fmt.Errorf("turnRepo.UpdateStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("turnRepo.UpdateStatus: %w", domain.ErrInvalidState)
	}

	return nil
}

func (r *TurnRepo) Finalize(ctx context.Context, id uuid.UUID, status domain.TurnStatus, finalResponse string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE chat_turns SET status = $1, final_response = $2, updated_at = now() WHERE id = $3`,
		status, finalResponse, id,
	)
	if err != nil {
		return fmt.Errorf("turnRepo.Finalize: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("turnRepo.Finalize: %w", domain.ErrNotFound)
	}

	return nil
}

// AppendStep inserts the step with the next gap-free sequence for the turn.
// The turn row is locked first so concurrent writers serialize and no two
// steps share a sequence.
func (r *TurnRepo) AppendStep(ctx context.Context, step *domain.TurnStep) (uint32, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("turnRepo.AppendStep: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM chat_turns WHERE id = $1 FOR UPDATE`,
		step.TurnID,
	).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("turnRepo.AppendStep: %w", domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("turnRepo.AppendStep: lock turn: %w", err)
	}

	var seq uint32
	err = tx.QueryRow(ctx,
		`INSERT INTO turn_steps (id, turn_id, step_type, tool_name, content, status, sequence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6,
		         (SELECT coalesce(max(sequence), 0) + 1 FROM turn_steps WHERE turn_id = $2),
		         $7)
		 RETURNING sequence`,
		step.ID, step.TurnID, step.StepType, step.ToolName, step.Content,
		step.Status, step.CreatedAt,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("turnRepo.AppendStep: insert: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("turnRepo.AppendStep: commit: %w", err)
	}

	step.Sequence = seq
	return seq, nil
}

func (r *TurnRepo) ListSteps(ctx context.Context, turnID uuid.UUID) ([]*domain.TurnStep, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, turn_id, step_type, coalesce(tool_name, ''), coalesce(content, ''), status, sequence, created_at
		 FROM turn_steps WHERE turn_id = $1
		 ORDER BY sequence`,
		turnID,
	)
	if err != nil {
		return nil, fmt.Errorf("turnRepo.ListSteps: %w", err)
	}
	defer rows.Close()

	var steps []*domain.TurnStep
	for rows.Next() {
		var s domain.TurnStep
		if scanErr := rows.Scan(
			&s.ID, &s.TurnID, &s.StepType, &s.ToolName, &s.Content,
			&s.Status, &s.Sequence, &s.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("turnRepo.ListSteps: scan: %w", scanErr)
		}
		steps = append(steps, &s)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("turnRepo.ListSteps: rows: %w", rows.Err())
	}

	return steps, nil
}

func (r *TurnRepo) UpsertFeedback(ctx context.Context, f *domain.TurnFeedback) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO turn_feedback (id, turn_id, user_id, score, comment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (turn_id, user_id)
		 DO UPDATE SET score = EXCLUDED.score, comment = EXCLUDED.comment`,
		f.ID, f.TurnID, f.UserID, f.Score, f.Comment, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("turnRepo.UpsertFeedback: %w", err)
	}

	return nil
}

func (r *TurnRepo) AddComment(ctx context.Context, c *domain.TurnComment) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO turn_comments (id, turn_id, user_id, body, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.TurnID, c.UserID, c.Body, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("turnRepo.AddComment: %w", err)
	}

	return nil
}

func (r *TurnRepo) ListComments(ctx context.Context, turnID uuid.UUID) ([]*domain.TurnComment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, turn_id, user_id, body, created_at
		 FROM turn_comments WHERE turn_id = $1
		 ORDER BY created_at`,
		turnID,
	)
	if err != nil {
		return nil, fmt.Errorf("turnRepo.ListComments: %w", err)
	}
	defer rows.Close()

	var comments []*domain.TurnComment
	for rows.Next() {
		var c domain.TurnComment
		if scanErr := rows.Scan(&c.ID, &c.TurnID, &c.UserID, &c.Body, &c.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("turnRepo.ListComments: scan: %w", scanErr)
		}
		comments = append(comments, &c)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("turnRepo.ListComments: rows: %w", rows.Err())
	}

	return comments, nil
}
