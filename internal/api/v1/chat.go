package v1

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/causeway-ai/causeway/internal/domain"
	"github.com/causeway-ai/causeway/internal/guard"
	"github.com/causeway-ai/causeway/internal/server/middleware"
)

type SendMessageInput struct {
	Body struct {
		Message   string     `json:"message" minLength:"1" maxLength:"10000" doc:"Natural-language question to investigate"`
		SessionID *uuid.UUID `json:"session_id,omitempty" doc:"Existing session to continue; omitted for a new conversation"`
	}
}

type SendMessageOutput struct {
	Body struct {
		TurnID    uuid.UUID `json:"turn_id" doc:"Turn created for this message"`
		SessionID uuid.UUID `json:"session_id" doc:"Session the turn belongs to"`
	}
}

// ChatDeps are the collaborators of the admission path.
type ChatDeps struct {
	Store DataStore
	Guard PromptGuard
	Quota QuotaGate
	Queue JobEnqueuer
}

// RegisterChatRoutes mounts the admission endpoint. The response carries
// ids only; the answer arrives on the turn's stream.
func RegisterChatRoutes(api huma.API, deps ChatDeps) {
	huma.Register(api, huma.Operation{
		OperationID: "send-message",
		Method:      http.MethodPost,
		Path:        "/chat",
		Summary:     "Submit a message for root cause analysis",
		Tags:        []string{"Chat"},
	}, func(ctx context.Context, input *SendMessageInput) (*SendMessageOutput, error) {
		workspaceID, ok := middleware.WorkspaceIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing workspace context")
		}
		var userID *uuid.UUID
		if uid, uidOK := middleware.UserIDFromContext(ctx); uidOK {
			userID = &uid
		}

		turnID, sessionID, err := admit(ctx, deps, workspaceID, userID, input.Body.Message, input.Body.SessionID, domain.OriginWeb, "", "")
		if err != nil {
			return nil, err
		}

		out := &SendMessageOutput{}
		out.Body.TurnID = turnID
		out.Body.SessionID = sessionID
		return out, nil
	})
}

// Admit runs the full admission pipeline for a chat surface that is not the
// web API (e.g. Slack): guard, quota, session get-or-create by thread
// coordinates, turn, job, enqueue.
func Admit(ctx context.Context, deps ChatDeps, workspaceID uuid.UUID, userID *uuid.UUID, message string, origin domain.SessionOrigin, channelID, threadTS string) (turnID, sessionID uuid.UUID, err error) {
	if len(message) == 0 || len(message) > 10000 {
		return uuid.Nil, uuid.Nil, huma.Error422UnprocessableEntity("message length must be 1..10000")
	}
	return admit(ctx, deps, workspaceID, userID, message, nil, origin, channelID, threadTS)
}

// admit is the ordered admission pipeline of one user message.
//
//nolint:gocognit // the admission order is specified step by step
func admit(ctx context.Context, deps ChatDeps, workspaceID uuid.UUID, userID *uuid.UUID, message string, sessionID *uuid.UUID, origin domain.SessionOrigin, channelID, threadTS string) (uuid.UUID, uuid.UUID, error) {
	// 1. Prompt guard. Block surfaces a generic reason; degraded admits and
	// is already recorded as a security event.
	verdict := deps.Guard.Check(ctx, workspaceID, userID, message)
	if verdict.Verdict == guard.VerdictBlock {
		return uuid.Nil, uuid.Nil, huma.Error403Forbidden("message rejected by security policy")
	}

	// 2. Quota gate. BYO-LLM workspaces bypass the platform counter.
	byo := false
	llmCfg, err := deps.Store.LLMConfigs().GetByWorkspace(ctx, workspaceID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return uuid.Nil, uuid.Nil, huma.Error500InternalServerError("failed to load llm config", err)
	}
	if llmCfg.BYO() {
		byo = true
	}

	decision, err := deps.Quota.Admit(ctx, workspaceID, byo)
	if err != nil {
		return uuid.Nil, uuid.Nil, huma.Error500InternalServerError("quota check failed", err)
	}
	if !decision.Admitted {
		if decision.Reason == "capacity" {
			return uuid.Nil, uuid.Nil, huma.Error429TooManyRequests("system at capacity, try again shortly")
		}
		return uuid.Nil, uuid.Nil, huma.Error429TooManyRequests(fmt.Sprintf(
			"daily analysis quota exceeded: limit %d, resets at %s",
			decision.Limit, decision.ResetAt.Format(time.RFC3339)))
	}

	// 3. Create or reuse the session.
	session, err := resolveSession(ctx, deps, workspaceID, userID, message, sessionID, origin, channelID, threadTS)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	// 4. Turn with its initial step, then the job.
	now := time.Now().UTC()
	turn := &domain.Turn{
		ID:          uuid.New(),
		SessionID:   session.ID,
		WorkspaceID: workspaceID,
		UserMessage: message,
		Status:      domain.TurnStatusPending,
		JobID:       uuid.New(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := deps.Store.Turns().Create(ctx, turn); err != nil {
		return uuid.Nil, uuid.Nil, huma.Error500InternalServerError("failed to create turn", err)
	}

	if _, err := deps.Store.Turns().AppendStep(ctx, &domain.TurnStep{
		ID:        uuid.New(),
		TurnID:    turn.ID,
		StepType:  domain.StepTypeStatus,
		Content:   "Queued",
		Status:    domain.StepStatusCompleted,
		CreatedAt: now,
	}); err != nil {
		return uuid.Nil, uuid.Nil, huma.Error500InternalServerError("failed to create turn step", err)
	}

	job := &domain.Job{
		ID:          turn.JobID,
		WorkspaceID: workspaceID,
		TurnID:      turn.ID,
		Status:      domain.JobStatusQueued,
		MaxRetries:  domain.DefaultMaxRetries,
		Context: domain.JobContext{
			Query:  message,
			UserID: userID,
			Hints:  contextHints(origin, channelID, threadTS),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := deps.Store.Jobs().Create(ctx, job); err != nil {
		return uuid.Nil, uuid.Nil, huma.Error500InternalServerError("failed to create job", err)
	}

	// 5. Enqueue, retrying once before giving up and failing the turn.
	if err := enqueue(ctx, deps, job.ID); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("chat: enqueue failed, failing turn")
		if finishErr := deps.Store.Jobs().Finish(ctx, job.ID, domain.JobStatusFailed, "transport unavailable", domain.TurnStatusFailed, "", time.Now().UTC()); finishErr != nil {
			log.Error().Err(finishErr).Str("job_id", job.ID.String()).Msg("chat: failed to mark turn failed")
		}
		return uuid.Nil, uuid.Nil, huma.Error503ServiceUnavailable("analysis queue unavailable")
	}

	return turn.ID, session.ID, nil
}

func enqueue(ctx context.Context, deps ChatDeps, jobID uuid.UUID) error {
	err := deps.Queue.Send(ctx, jobID.String(), 0)
	if err == nil {
		return nil
	}
	return deps.Queue.Send(ctx, jobID.String(), 0)
}

func resolveSession(ctx context.Context, deps ChatDeps, workspaceID uuid.UUID, userID *uuid.UUID, message string, sessionID *uuid.UUID, origin domain.SessionOrigin, channelID, threadTS string) (*domain.Session, error) {
	sessions := deps.Store.Sessions()

	if sessionID != nil {
		session, err := sessions.GetByID(ctx, workspaceID, *sessionID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, huma.Error404NotFound("session not found")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to load session", err)
		}
		return session, nil
	}

	// Chat-platform sessions are keyed by thread coordinates so all
	// mentions in one thread share a conversation.
	if channelID != "" && threadTS != "" {
		session, err := sessions.GetByThread(ctx, workspaceID, origin, channelID, threadTS)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, huma.Error500InternalServerError("failed to load session", err)
		}
	}

	now := time.Now().UTC()
	session := &domain.Session{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		UserID:      userID,
		Origin:      origin,
		ChannelID:   channelID,
		ThreadTS:    threadTS,
		Title:       domain.TitleFromMessage(message),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := sessions.Create(ctx, session); err != nil {
		// A concurrent message in the same thread may have created it.
		if errors.Is(err, domain.ErrConflict) && channelID != "" && threadTS != "" {
			existing, getErr := sessions.GetByThread(ctx, workspaceID, origin, channelID, threadTS)
			if getErr == nil {
				return existing, nil
			}
		}
		return nil, huma.Error500InternalServerError("failed to create session", err)
	}

	return session, nil
}

func contextHints(origin domain.SessionOrigin, channelID, threadTS string) map[string]string {
	if channelID == "" {
		return nil
	}
	return map[string]string{
		"origin":     string(origin),
		"channel_id": channelID,
		"thread_ts":  threadTS,
	}
}
