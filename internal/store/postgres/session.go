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

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_sessions (id, workspace_id, user_id, origin, channel_id, thread_ts, title, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.WorkspaceID, s.UserID, s.Origin, s.ChannelID, s.ThreadTS, s.Title,
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sessionRepo.Create: %w", domain.ErrConflict)
		}
		return fmt.Errorf("sessionRepo.Create: %w", err)
	}

	return nil
}

func (r *SessionRepo) GetByID(ctx context.Context, workspaceID, id uuid.UUID) (*domain.Session, error) {
	return r.scanOne(r.pool.QueryRow(ctx,
		selectSession+` WHERE workspace_id = $1 AND id = $2`,
		workspaceID, id,
	), "sessionRepo.GetByID")
}

func (r *SessionRepo) GetByThread(ctx context.Context, workspaceID uuid.UUID, origin domain.SessionOrigin, channelID, threadTS string) (*domain.Session, error) {
	return r.scanOne(r.pool.QueryRow(ctx,
		selectSession+` WHERE workspace_id = $1 AND origin = $2 AND channel_id = $3 AND thread_ts = $4`,
		workspaceID, origin, channelID, threadTS,
	), "sessionRepo.GetByThread")
}

func (r *SessionRepo) List(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]*domain.Session, error) {
	rows, err := r.pool.Query(ctx,
		selectSession+` WHERE workspace_id = $1
		 ORDER BY updated_at DESC
		 LIMIT $2 OFFSET $3`,
		workspaceID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.List: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		var s domain.Session
		if scanErr := rows.Scan(
			&s.ID, &s.WorkspaceID, &s.UserID, &s.Origin, &s.ChannelID, &s.ThreadTS,
			&s.Title, &s.CreatedAt, &s.UpdatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("sessionRepo.List: scan: %w", scanErr)
		}
		sessions = append(sessions, &s)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("sessionRepo.List: rows: %w", rows.Err())
	}

	return sessions, nil
}

func (r *SessionRepo) UpdateTitle(ctx context.Context, workspaceID, id uuid.UUID, title string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE chat_sessions SET title = $1, updated_at = now() WHERE workspace_id = $2 AND id = $3`,
		title, workspaceID, id,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.UpdateTitle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sessionRepo.UpdateTitle: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *SessionRepo) Delete(ctx context.Context, workspaceID, id uuid.UUID) error {
	// Turns, steps, feedback and comments cascade via FK constraints.
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM chat_sessions WHERE workspace_id = $1 AND id = $2`,
		workspaceID, id,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sessionRepo.Delete: %w", domain.ErrNotFound)
	}

	return nil
}

const selectSession = `SELECT id, workspace_id, user_id, origin, channel_id, thread_ts, title, created_at, updated_at
	 FROM chat_sessions`

func (r *SessionRepo) scanOne(row pgx.Row, caller string) (*domain.Session, error) {
	var s domain.Session

	err := row.Scan(
		&s.ID, &s.WorkspaceID, &s.UserID, &s.Origin, &s.ChannelID, &s.ThreadTS,
		&s.Title, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", caller, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", caller, err)
	}

	return &s, nil
}
