package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/causeway-ai/causeway/internal/domain"
)

type SecurityEventRepo struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepo(pool *pgxpool.Pool) *SecurityEventRepo {
	return &SecurityEventRepo{pool: pool}
}

func (r *SecurityEventRepo) Create(ctx context.Context, e *domain.SecurityEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO security_events (id, workspace_id, user_id, event_type, message_prefix, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.WorkspaceID, e.UserID, e.EventType, e.MessagePrefix, e.Reason, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("securityEventRepo.Create: %w", err)
	}

	return nil
}

func (r *SecurityEventRepo) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID, limit int) ([]*domain.SecurityEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, workspace_id, user_id, event_type, message_prefix, reason, created_at
		 FROM security_events WHERE workspace_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		workspaceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("securityEventRepo.ListByWorkspace: %w", err)
	}
	defer rows.Close()

	var events []*domain.SecurityEvent
	for rows.Next() {
		var e domain.SecurityEvent
		if scanErr := rows.Scan(
			&e.ID, &e.WorkspaceID, &e.UserID, &e.EventType, &e.MessagePrefix, &e.Reason, &e.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("securityEventRepo.ListByWorkspace: scan: %w", scanErr)
		}
		events = append(events, &e)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("securityEventRepo.ListByWorkspace: rows: %w", rows.Err())
	}

	return events, nil
}
