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

type QuotaRepo struct {
	pool *pgxpool.Pool
}

func NewQuotaRepo(pool *pgxpool.Pool) *QuotaRepo {
	return &QuotaRepo{pool: pool}
}

// Increment is a single-statement atomic check-and-increment. The upsert's
// conditional WHERE makes concurrent admissions safe: once the counter
// reaches the limit the update matches no row and nothing is returned.
func (r *QuotaRepo) Increment(ctx context.Context, workspaceID uuid.UUID, resource domain.QuotaResource, windowKey string, limit int) (int, bool, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`INSERT INTO quota_counters (workspace_id, resource, window_key, count)
		 VALUES ($1, $2, $3, 1)
		 ON CONFLICT (workspace_id, resource, window_key)
		 DO UPDATE SET count = quota_counters.count + 1
		 WHERE quota_counters.count < $4
		 RETURNING count`,
		workspaceID, resource, windowKey, limit,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		current, countErr := r.Count(ctx, workspaceID, resource, windowKey)
		if countErr != nil {
			return 0, false, fmt.Errorf("quotaRepo.Increment: %w", countErr)
		}
		return current, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("quotaRepo.Increment: %w", err)
	}

	return count, true, nil
}

func (r *QuotaRepo) Count(ctx context.Context, workspaceID uuid.UUID, resource domain.QuotaResource, windowKey string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT count FROM quota_counters WHERE workspace_id = $1 AND resource = $2 AND window_key = $3`,
		workspaceID, resource, windowKey,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quotaRepo.Count: %w", err)
	}

	return count, nil
}
