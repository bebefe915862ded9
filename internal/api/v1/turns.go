package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/causeway-ai/causeway/internal/domain"
	"github.com/causeway-ai/causeway/internal/server/middleware"
)

type TurnView struct {
	ID            uuid.UUID         `json:"id"`
	SessionID     uuid.UUID         `json:"session_id"`
	UserMessage   string            `json:"user_message"`
	FinalResponse string            `json:"final_response,omitempty"`
	Status        domain.TurnStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func turnView(t *domain.Turn) TurnView {
	return TurnView{
		ID:            t.ID,
		SessionID:     t.SessionID,
		UserMessage:   t.UserMessage,
		FinalResponse: t.FinalResponse,
		Status:        t.Status,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

type StepView struct {
	StepType domain.StepType   `json:"step_type"`
	ToolName string            `json:"tool_name,omitempty"`
	Content  string            `json:"content,omitempty"`
	Status   domain.StepStatus `json:"status"`
	Sequence uint32            `json:"sequence"`
}

type GetTurnInput struct {
	ID uuid.UUID `path:"id" doc:"Turn ID"`
}

type GetTurnOutput struct {
	Body struct {
		TurnView
		Steps []StepView `json:"steps"`
	}
}

type SubmitFeedbackInput struct {
	ID   uuid.UUID `path:"id" doc:"Turn ID"`
	Body struct {
		Score   int    `json:"score" enum:"-1,1" doc:"+1 for a helpful answer, -1 otherwise"`
		Comment string `json:"comment,omitempty" maxLength:"1000" doc:"Optional free-form comment"`
	}
}

type SubmitFeedbackOutput struct{}

type AddCommentInput struct {
	ID   uuid.UUID `path:"id" doc:"Turn ID"`
	Body struct {
		Body string `json:"body" minLength:"1" maxLength:"2000" doc:"Comment text"`
	}
}

type AddCommentOutput struct{}

func RegisterTurnRoutes(api huma.API, store DataStore) {
	huma.Register(api, huma.Operation{
		OperationID: "get-turn",
		Method:      http.MethodGet,
		Path:        "/turns/{id}",
		Summary:     "Get a turn with its persisted steps",
		Tags:        []string{"Chat"},
	}, func(ctx context.Context, input *GetTurnInput) (*GetTurnOutput, error) {
		workspaceID, ok := middleware.WorkspaceIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing workspace context")
		}

		turn, err := store.Turns().GetByID(ctx, workspaceID, input.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, huma.Error404NotFound("turn not found")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get turn", err)
		}

		steps, err := store.Turns().ListSteps(ctx, turn.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list steps", err)
		}

		out := &GetTurnOutput{}
		out.Body.TurnView = turnView(turn)
		out.Body.Steps = make([]StepView, 0, len(steps))
		for _, s := range steps {
			out.Body.Steps = append(out.Body.Steps, StepView{
				StepType: s.StepType,
				ToolName: s.ToolName,
				Content:  s.Content,
				Status:   s.Status,
				Sequence: s.Sequence,
			})
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-feedback",
		Method:        http.MethodPost,
		Path:          "/turns/{id}/feedback",
		Summary:       "Rate a turn's answer",
		Tags:          []string{"Chat"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *SubmitFeedbackInput) (*SubmitFeedbackOutput, error) {
		workspaceID, ok := middleware.WorkspaceIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing workspace context")
		}
		userID, ok := middleware.UserIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing user context")
		}

		// Verify the turn belongs to the caller's workspace.
		turn, err := store.Turns().GetByID(ctx, workspaceID, input.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, huma.Error404NotFound("turn not found")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get turn", err)
		}

		err = store.Turns().UpsertFeedback(ctx, &domain.TurnFeedback{
			ID:        uuid.New(),
			TurnID:    turn.ID,
			UserID:    userID,
			Score:     input.Body.Score,
			Comment:   input.Body.Comment,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to save feedback", err)
		}
		return &SubmitFeedbackOutput{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/turns/{id}/comments",
		Summary:       "Attach a comment to a turn",
		Tags:          []string{"Chat"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *AddCommentInput) (*AddCommentOutput, error) {
		workspaceID, ok := middleware.WorkspaceIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing workspace context")
		}
		userID, ok := middleware.UserIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing user context")
		}

		turn, err := store.Turns().GetByID(ctx, workspaceID, input.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, huma.Error404NotFound("turn not found")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get turn", err)
		}

		err = store.Turns().AddComment(ctx, &domain.TurnComment{
			ID:        uuid.New(),
			TurnID:    turn.ID,
			UserID:    userID,
			Body:      input.Body.Body,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to save comment", err)
		}
		return &AddCommentOutput{}, nil
	})
}
