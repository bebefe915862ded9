package v1

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/causeway-ai/causeway/internal/domain"
	"github.com/causeway-ai/causeway/internal/guard"
	"github.com/causeway-ai/causeway/internal/quota"
)

// DataStore abstracts the repository accessor pattern for handler testing.
// *postgres.Store satisfies this interface.
type DataStore interface {
	Sessions() domain.SessionRepository
	Turns() domain.TurnRepository
	Jobs() domain.JobRepository
	LLMConfigs() domain.LLMConfigRepository
	SecurityEvents() domain.SecurityEventRepository
}

// PromptGuard abstracts the prompt-injection classifier.
type PromptGuard interface {
	Check(ctx context.Context, workspaceID uuid.UUID, userID *uuid.UUID, message string) guard.Result
}

// QuotaGate abstracts the admission quota check.
type QuotaGate interface {
	Admit(ctx context.Context, workspaceID uuid.UUID, byoLLM bool) (*quota.Decision, error)
}

// JobEnqueuer abstracts the queue's send side.
type JobEnqueuer interface {
	Send(ctx context.Context, body string, delay time.Duration) error
}
