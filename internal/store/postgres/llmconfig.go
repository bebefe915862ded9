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

type LLMConfigRepo struct {
	pool *pgxpool.Pool
}

func NewLLMConfigRepo(pool *pgxpool.Pool) *LLMConfigRepo {
	return &LLMConfigRepo{pool: pool}
}

func (r *LLMConfigRepo) GetByWorkspace(ctx context.Context, workspaceID uuid.UUID) (*domain.LLMConfig, error) {
	var c domain.LLMConfig

	err := r.pool.QueryRow(ctx,
		`SELECT id, workspace_id, provider, model_name, coalesce(credentials_encrypted, ''), health_status, created_at, updated_at
		 FROM llm_configs WHERE workspace_id = $1`,
		workspaceID,
	).Scan(
		&c.ID, &c.WorkspaceID, &c.Provider, &c.ModelName, &c.CredentialsEncrypted,
		&c.Health, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("llmConfigRepo.GetByWorkspace: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("llmConfigRepo.GetByWorkspace: %w", err)
	}

	return &c, nil
}

func (r *LLMConfigRepo) UpdateHealth(ctx context.Context, id uuid.UUID, health domain.HealthStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE llm_configs SET health_status = $1, updated_at = now() WHERE id = $2`,
		health, id,
	)
	if err != nil {
		return fmt.Errorf("llmConfigRepo.UpdateHealth: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("llmConfigRepo.UpdateHealth: %w", domain.ErrNotFound)
	}

	return nil
}
