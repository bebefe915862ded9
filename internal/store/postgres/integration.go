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

type IntegrationRepo struct {
	pool *pgxpool.Pool
}

func NewIntegrationRepo(pool *pgxpool.Pool) *IntegrationRepo {
	return &IntegrationRepo{pool: pool}
}

const selectIntegration = `SELECT id, workspace_id, provider, credentials_encrypted, health_status, last_health_check_at, created_at, updated_at
	 FROM integrations`

func (r *IntegrationRepo) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]*domain.Integration, error) {
	rows, err := r.pool.Query(ctx,
		selectIntegration+` WHERE workspace_id = $1 ORDER BY provider`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("integrationRepo.ListByWorkspace: %w", err)
	}
	defer rows.Close()

	var integrations []*domain.Integration
	for rows.Next() {
		var in domain.Integration
		if scanErr := rows.Scan(
			&in.ID, &in.WorkspaceID, &in.Provider, &in.CredentialsEncrypted,
			&in.Health, &in.LastHealthCheckAt, &in.CreatedAt, &in.UpdatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("integrationRepo.ListByWorkspace: scan: %w", scanErr)
		}
		integrations = append(integrations, &in)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("integrationRepo.ListByWorkspace: rows: %w", rows.Err())
	}

	return integrations, nil
}

func (r *IntegrationRepo) GetByProvider(ctx context.Context, workspaceID uuid.UUID, provider domain.Provider) (*domain.Integration, error) {
	var in domain.Integration

	err := r.pool.QueryRow(ctx,
		selectIntegration+` WHERE workspace_id = $1 AND provider = $2`,
		workspaceID, provider,
	).Scan(
		&in.ID, &in.WorkspaceID, &in.Provider, &in.CredentialsEncrypted,
		&in.Health, &in.LastHealthCheckAt, &in.CreatedAt, &in.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("integrationRepo.GetByProvider: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("integrationRepo.GetByProvider: %w", err)
	}

	return &in, nil
}

func (r *IntegrationRepo) UpdateHealth(ctx context.Context, id uuid.UUID, health domain.HealthStatus, checkedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE integrations SET health_status = $1, last_health_check_at = $2, updated_at = now() WHERE id = $3`,
		health, checkedAt, id,
	)
	if err != nil {
		return fmt.Errorf("integrationRepo.UpdateHealth: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("integrationRepo.UpdateHealth: %w", domain.ErrNotFound)
	}

	return nil
}
