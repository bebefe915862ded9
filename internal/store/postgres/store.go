package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/causeway-ai/causeway/internal/domain"
)

type Store struct {
	pool         *pgxpool.Pool
	sessions     *SessionRepo
	turns        *TurnRepo
	jobs         *JobRepo
	integrations *IntegrationRepo
	llmConfigs   *LLMConfigRepo
	quotas       *QuotaRepo
	security     *SecurityEventRepo
}

func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return &Store{
		pool:         pool,
		sessions:     NewSessionRepo(pool),
		turns:        NewTurnRepo(pool),
		jobs:         NewJobRepo(pool),
		integrations: NewIntegrationRepo(pool),
		llmConfigs:   NewLLMConfigRepo(pool),
		quotas:       NewQuotaRepo(pool),
		security:     NewSecurityEventRepo(pool),
	}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports database reachability for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres.Store.Ping: %w", err)
	}
	return nil
}

func (s *Store) Sessions() domain.SessionRepository           { return s.sessions }
func (s *Store) Turns() domain.TurnRepository                 { return s.turns }
func (s *Store) Jobs() domain.JobRepository                   { return s.jobs }
func (s *Store) Integrations() domain.IntegrationRepository   { return s.integrations }
func (s *Store) LLMConfigs() domain.LLMConfigRepository       { return s.llmConfigs }
func (s *Store) Quotas() domain.QuotaRepository               { return s.quotas }
func (s *Store) SecurityEvents() domain.SecurityEventRepository { return s.security }
