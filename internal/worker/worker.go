// Package worker consumes job ids from the queue and drives each turn to
// completion: claim, context resolution, the reasoning loop, persistence,
// live publishing, and retry classification.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/causeway-ai/causeway/internal/config"
	"github.com/causeway-ai/causeway/internal/domain"
	"github.com/causeway-ai/causeway/internal/llm"
	"github.com/causeway-ai/causeway/internal/react"
	redisstore "github.com/causeway-ai/causeway/internal/store/redis"
	"github.com/causeway-ai/causeway/internal/stream"
	"github.com/causeway-ai/causeway/internal/tools"
)

// QueueTransport is the slice of the queue a worker uses.
type QueueTransport interface {
	Receive(ctx context.Context, visibility time.Duration) (*redisstore.Message, error)
	Send(ctx context.Context, body string, delay time.Duration) error
	Delete(ctx context.Context, handle string) error
	ChangeVisibility(ctx context.Context, handle string, delay time.Duration) error
}

// Publisher is the publish side of the event bus.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Heartbeater records worker liveness for the health endpoint.
type Heartbeater interface {
	Heartbeat(ctx context.Context, workerID string, now time.Time) error
}

// ModelResolver resolves the chat model for a workspace.
type ModelResolver interface {
	HandleFor(ctx context.Context, workspaceID uuid.UUID) (*llm.Handle, error)
}

// ToolsetBuilder assembles the per-turn tool set.
type ToolsetBuilder interface {
	Build(ctx context.Context, workspaceID uuid.UUID) ([]*tools.Tool, error)
}

// Worker runs a pool of N loops, each claiming one job at a time. Duplicate
// deliveries are no-ops thanks to the job store's conditional claim; the
// queue's visibility timeout covers crashes.
type Worker struct {
	id      string
	jobs    domain.JobRepository
	turns   domain.TurnRepository
	queue   QueueTransport
	bus     Publisher
	beat    Heartbeater
	models  ModelResolver
	builder ToolsetBuilder
	cfg     config.WorkerConfig
	clock   func() time.Time
}

func New(jobs domain.JobRepository, turns domain.TurnRepository, queue QueueTransport, bus Publisher, beat Heartbeater, models ModelResolver, builder ToolsetBuilder, cfg config.WorkerConfig) *Worker {
	return &Worker{
		id:      uuid.NewString(),
		jobs:    jobs,
		turns:   turns,
		queue:   queue,
		bus:     bus,
		beat:    beat,
		models:  models,
		builder: builder,
		cfg:     cfg,
		clock:   time.Now,
	}
}

// Run blocks until ctx is done, processing jobs with cfg.Concurrency loops
// and heartbeating once per loop pass.
func (w *Worker) Run(ctx context.Context) {
	log.Info().Str("worker_id", w.id).Int("concurrency", w.cfg.Concurrency).Msg("worker pool starting")

	done := make(chan struct{})
	for i := 0; i < w.cfg.Concurrency; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for {
				if ctx.Err() != nil {
					return
				}
				if w.beat != nil {
					if err := w.beat.Heartbeat(ctx, fmt.Sprintf("%s/%d", w.id, n), w.clock()); err != nil && ctx.Err() == nil {
						log.Warn().Err(err).Msg("worker heartbeat failed")
					}
				}
				if err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
					log.Error().Err(err).Msg("worker loop error")
					// Back off briefly so a broken dependency does not spin.
					select {
					case <-ctx.Done():
						return
					case <-time.After(time.Second):
					}
				}
			}
		}(i)
	}

	for i := 0; i < w.cfg.Concurrency; i++ {
		<-done
	}
	log.Info().Str("worker_id", w.id).Msg("worker pool stopped")
}

// RunOnce claims one message and drives its job to a terminal state or a
// requeue. The message is acked only after the terminal persistence step.
func (w *Worker) RunOnce(ctx context.Context) error {
	// Visibility must outlast one full execution so a live worker is never
	// raced by a redelivery.
	visibility := w.cfg.MaxTurnDuration + 30*time.Second

	msg, err := w.queue.Receive(ctx, visibility)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return fmt.Errorf("worker.RunOnce: receive: %w", err)
	}

	jobID, err := uuid.Parse(msg.Body)
	if err != nil {
		log.Error().Str("body", msg.Body).Msg("worker: dropping ill-formed queue message")
		return w.queue.Delete(ctx, msg.Handle)
	}

	job, err := w.jobs.GetByID(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Str("job_id", jobID.String()).Msg("worker: dropping message for unknown job")
		return w.queue.Delete(ctx, msg.Handle)
	}
	if err != nil {
		return fmt.Errorf("worker.RunOnce: load job: %w", err)
	}

	// Duplicate delivery of an already-finished or already-claimed job.
	if job.Status != domain.JobStatusQueued {
		log.Debug().Str("job_id", jobID.String()).Str("status", string(job.Status)).
			Msg("worker: acking duplicate delivery")
		return w.queue.Delete(ctx, msg.Handle)
	}

	// Backed-off job surfaced early: release it until its deadline.
	now := w.clock()
	if job.BackoffUntil != nil && now.Before(*job.BackoffUntil) {
		return w.queue.ChangeVisibility(ctx, msg.Handle, job.BackoffUntil.Sub(now))
	}

	if err := w.jobs.Claim(ctx, jobID, now); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			// Another worker won the claim.
			return w.queue.Delete(ctx, msg.Handle)
		}
		return fmt.Errorf("worker.RunOnce: claim: %w", err)
	}

	w.execute(ctx, job, msg.Handle)
	return nil
}

// execute runs one claimed job to a terminal state or requeue.
func (w *Worker) execute(ctx context.Context, job *domain.Job, handle string) {
	logger := log.With().Str("job_id", job.ID.String()).Str("turn_id", job.TurnID.String()).Logger()

	// pending -> processing; on retry attempts the turn is already
	// processing, which is fine.
	if err := w.turns.UpdateStatus(ctx, job.TurnID, domain.TurnStatusPending, domain.TurnStatusProcessing); err != nil && !errors.Is(err, domain.ErrInvalidState) {
		logger.Error().Err(err).Msg("worker: turn transition failed")
		w.fail(ctx, job, handle, "internal: "+err.Error())
		return
	}

	if job.Retries > 0 {
		if err := w.emitStatus(ctx, job.TurnID, "Retrying after internal error"); err != nil {
			w.fail(ctx, job, handle, "internal: "+err.Error())
			return
		}
	}
	if err := w.emitStatus(ctx, job.TurnID, "Starting analysis"); err != nil {
		w.fail(ctx, job, handle, "internal: "+err.Error())
		return
	}

	handleLLM, err := w.models.HandleFor(ctx, job.WorkspaceID)
	if err != nil {
		logger.Error().Err(err).Msg("worker: model resolution failed")
		w.fail(ctx, job, handle, "llm config: "+err.Error())
		return
	}

	toolset, err := w.builder.Build(ctx, job.WorkspaceID)
	if err != nil {
		logger.Error().Err(err).Msg("worker: tool set build failed")
		w.classifyAndFinish(ctx, job, handle, fmt.Errorf("tool set: %w", err))
		return
	}
	logger.Info().Int("tools", len(toolset)).Str("provider", handleLLM.Model.Provider()).Msg("starting analysis")

	engine := react.NewEngine(
		handleLLM.Model,
		handleLLM.ModelName,
		toolset,
		react.Budgets{MaxSteps: w.cfg.MaxSteps, WallTime: w.cfg.MaxTurnDuration},
		handleLLM.Temperature,
		handleLLM.MaxTokens,
		w.sinkFor(job.TurnID),
	)

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.MaxTurnDuration)
	answer, runErr := engine.Run(runCtx, job.Context.Query)
	cancel()

	if runErr != nil {
		if errors.Is(runErr, context.DeadlineExceeded) && ctx.Err() == nil {
			runErr = fmt.Errorf("%v: %w", runErr, react.ErrTimeout)
		}
		w.classifyAndFinish(ctx, job, handle, runErr)
		return
	}

	w.complete(ctx, job, handle, answer)
}

// sinkFor is the persistence seam: each engine event becomes a TurnStep
// (persisted first, assigning the sequence) and then a bus frame.
func (w *Worker) sinkFor(turnID uuid.UUID) react.Sink {
	return func(ctx context.Context, ev react.Event) error {
		step := &domain.TurnStep{
			ID:        uuid.New(),
			TurnID:    turnID,
			ToolName:  ev.ToolName,
			Content:   ev.Content,
			CreatedAt: w.clock().UTC(),
		}

		switch ev.Type {
		case react.EventStatus:
			step.StepType = domain.StepTypeStatus
			step.Status = domain.StepStatusCompleted
		case react.EventThinking:
			step.StepType = domain.StepTypeThinking
			step.Status = domain.StepStatusCompleted
		case react.EventToolStart:
			step.StepType = domain.StepTypeToolCall
			step.Status = domain.StepStatusRunning
		case react.EventToolEnd:
			step.StepType = domain.StepTypeToolCall
			if ev.Failed {
				step.Status = domain.StepStatusFailed
			} else {
				step.Status = domain.StepStatusCompleted
			}
		default:
			return fmt.Errorf("worker: unknown event type %q", ev.Type)
		}

		if _, err := w.turns.AppendStep(ctx, step); err != nil {
			return fmt.Errorf("worker: persist step: %w", err)
		}

		w.publish(ctx, stream.FromStep(step))
		return nil
	}
}

func (w *Worker) emitStatus(ctx context.Context, turnID uuid.UUID, content string) error {
	return w.sinkFor(turnID)(ctx, react.Event{Type: react.EventStatus, Content: content})
}

// complete finalizes a successful run: final status step, one transaction
// for job+turn, terminal frame, then ack.
func (w *Worker) complete(ctx context.Context, job *domain.Job, handle, answer string) {
	logger := log.With().Str("job_id", job.ID.String()).Str("turn_id", job.TurnID.String()).Logger()

	if err := w.emitStatus(ctx, job.TurnID, "Analysis complete"); err != nil {
		w.fail(ctx, job, handle, "internal: "+err.Error())
		return
	}

	now := w.clock()
	if err := w.jobs.Finish(ctx, job.ID, domain.JobStatusCompleted, "", domain.TurnStatusCompleted, answer, now); err != nil {
		logger.Error().Err(err).Msg("worker: finalize failed")
		return // message redelivers; duplicate delivery acks after reconcile
	}

	w.publish(ctx, stream.Frame{
		Type:      stream.FrameComplete,
		TurnID:    job.TurnID,
		Content:   answer,
		Timestamp: now.UTC(),
	})

	if err := w.queue.Delete(ctx, handle); err != nil {
		logger.Warn().Err(err).Msg("worker: ack failed after completion")
	}
	logger.Info().Msg("turn completed")
}

// classifyAndFinish routes a loop failure: retryable errors requeue with
// exponential backoff, everything else fails the turn.
func (w *Worker) classifyAndFinish(ctx context.Context, job *domain.Job, handle string, runErr error) {
	logger := log.With().Str("job_id", job.ID.String()).Str("turn_id", job.TurnID.String()).Logger()

	retryable := llm.IsTransient(runErr) || errors.Is(runErr, react.ErrTimeout)
	if retryable && job.Retryable() {
		backoff := domain.NextBackoff(w.cfg.BackoffBase, job.Retries)
		deadline := w.clock().Add(backoff)

		if err := w.jobs.Requeue(ctx, job.ID, job.Retries+1, deadline); err != nil {
			logger.Error().Err(err).Msg("worker: requeue failed")
			w.fail(ctx, job, handle, runErr.Error())
			return
		}

		// Re-enqueue with delay and drop the consumed message. Nothing
		// terminal is published; subscribers keep waiting.
		if err := w.queue.Send(ctx, job.ID.String(), backoff); err != nil {
			logger.Warn().Err(err).Msg("worker: delayed re-enqueue failed, relying on redelivery")
			_ = w.queue.ChangeVisibility(ctx, handle, backoff)
			return
		}
		if err := w.queue.Delete(ctx, handle); err != nil {
			logger.Warn().Err(err).Msg("worker: ack failed after requeue")
		}

		logger.Warn().Err(runErr).Int("retries", job.Retries+1).Dur("backoff", backoff).
			Msg("worker: transient failure, job requeued")
		return
	}

	w.fail(ctx, job, handle, runErr.Error())
}

// fail records the terminal failure and publishes the error frame.
func (w *Worker) fail(ctx context.Context, job *domain.Job, handle, message string) {
	logger := log.With().Str("job_id", job.ID.String()).Str("turn_id", job.TurnID.String()).Logger()

	_ = w.emitStatus(ctx, job.TurnID, "Analysis failed")

	now := w.clock()
	if err := w.jobs.Finish(ctx, job.ID, domain.JobStatusFailed, message, domain.TurnStatusFailed, "", now); err != nil {
		logger.Error().Err(err).Msg("worker: failure finalize failed")
		return
	}

	w.publish(ctx, stream.Frame{
		Type:      stream.FrameError,
		TurnID:    job.TurnID,
		Content:   "analysis failed",
		Timestamp: now.UTC(),
	})

	if err := w.queue.Delete(ctx, handle); err != nil {
		logger.Warn().Err(err).Msg("worker: ack failed after failure")
	}
	logger.Error().Str("error", message).Msg("turn failed")
}

// publish is best-effort: the bus is never the source of truth.
func (w *Worker) publish(ctx context.Context, frame stream.Frame) {
	payload, err := frame.Encode()
	if err != nil {
		log.Error().Err(err).Msg("worker: encode frame")
		return
	}
	if err := w.bus.Publish(ctx, redisstore.TurnChannel(frame.TurnID), payload); err != nil {
		log.Warn().Err(err).Str("turn_id", frame.TurnID.String()).Msg("worker: publish frame failed")
	}
}
