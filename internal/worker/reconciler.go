package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/causeway-ai/causeway/internal/domain"
)

// Reconciler recovers jobs orphaned by crashed workers: running rows whose
// started_at is older than the turn budget go back to queued with one more
// retry, and their ids are re-enqueued. Duplicate messages are harmless;
// the conditional claim acks them as no-ops.
type Reconciler struct {
	jobs  domain.JobRepository
	queue QueueTransport
	every time.Duration
	grace time.Duration
	clock func() time.Time
}

func NewReconciler(jobs domain.JobRepository, queue QueueTransport, every, maxTurnDuration time.Duration) *Reconciler {
	return &Reconciler{
		jobs:  jobs,
		queue: queue,
		every: every,
		// One full turn budget plus slack before a running job counts as
		// stale.
		grace: maxTurnDuration + 30*time.Second,
		clock: time.Now,
	}
}

// Run ticks until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	cutoff := r.clock().Add(-r.grace)

	jobs, err := r.jobs.ResetStale(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("reconciler: reset stale jobs failed")
		return
	}

	for _, job := range jobs {
		log.Warn().
			Str("job_id", job.ID.String()).
			Int("retries", job.Retries).
			Msg("reconciler: reset stale running job")

		if err := r.queue.Send(ctx, job.ID.String(), 0); err != nil {
			// The original message's visibility timeout will still
			// redeliver it.
			log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("reconciler: re-enqueue failed")
		}
	}
}
