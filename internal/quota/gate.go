// Package quota gates job admission with per-workspace daily counters.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/causeway-ai/causeway/internal/domain"
)

// Limits is what the billing collaborator reports for a workspace plan.
type Limits struct {
	DailyRCALimit int
}

// PlanSource resolves plan limits. Billing is an external collaborator; in
// self-hosted deployments the static source below stands in for it.
type PlanSource interface {
	Limits(ctx context.Context, workspaceID uuid.UUID) (Limits, error)
}

// StaticPlanSource serves one configured limit for every workspace.
type StaticPlanSource struct {
	DailyRCALimit int
}

func (s StaticPlanSource) Limits(context.Context, uuid.UUID) (Limits, error) {
	return Limits{DailyRCALimit: s.DailyRCALimit}, nil
}

// Decision is the outcome of one admission attempt.
type Decision struct {
	Admitted bool
	Count    int
	Limit    int
	// ResetAt is the next UTC midnight, when the window rolls over.
	ResetAt time.Time
	// Reason distinguishes quota exhaustion from capacity backpressure.
	Reason string
}

// QueueDepther reports queue backlog for capacity backpressure.
type QueueDepther interface {
	Depth(ctx context.Context) (int64, error)
}

// Gate performs the atomic check-and-increment against the quota store.
// Workspaces on a BYO LLM bypass platform quotas entirely.
type Gate struct {
	counters      domain.QuotaRepository
	plans         PlanSource
	queue         QueueDepther
	maxQueueDepth int64
	clock         func() time.Time
}

func NewGate(counters domain.QuotaRepository, plans PlanSource, queue QueueDepther, maxQueueDepth int64) *Gate {
	return &Gate{
		counters:      counters,
		plans:         plans,
		queue:         queue,
		maxQueueDepth: maxQueueDepth,
		clock:         time.Now,
	}
}

// Admit decides whether one RCA request may enter. byoLLM skips counting:
// the workspace pays its own provider.
func (g *Gate) Admit(ctx context.Context, workspaceID uuid.UUID, byoLLM bool) (*Decision, error) {
	now := g.clock()

	// Capacity backpressure applies to everyone, BYO or not.
	if g.queue != nil && g.maxQueueDepth > 0 {
		depth, err := g.queue.Depth(ctx)
		if err != nil {
			// A broken depth probe must not block admission.
			log.Warn().Err(err).Msg("quota: queue depth probe failed, skipping backpressure check")
		} else if depth >= g.maxQueueDepth {
			return &Decision{
				Admitted: false,
				Reason:   "capacity",
				ResetAt:  domain.QuotaResetAt(now),
			}, nil
		}
	}

	if byoLLM {
		return &Decision{Admitted: true}, nil
	}

	limits, err := g.plans.Limits(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("quota.Gate.Admit: %w", err)
	}

	count, admitted, err := g.counters.Increment(ctx, workspaceID, domain.ResourceRCARequest, domain.QuotaWindowKey(now), limits.DailyRCALimit)
	if err != nil {
		return nil, fmt.Errorf("quota.Gate.Admit: %w", err)
	}

	decision := &Decision{
		Admitted: admitted,
		Count:    count,
		Limit:    limits.DailyRCALimit,
		ResetAt:  domain.QuotaResetAt(now),
	}
	if !admitted {
		decision.Reason = "quota"
	}

	return decision, nil
}
