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

type SessionView struct {
	ID        uuid.UUID            `json:"id"`
	Origin    domain.SessionOrigin `json:"origin"`
	Title     string               `json:"title"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

func sessionView(s *domain.Session) SessionView {
	return SessionView{
		ID:        s.ID,
		Origin:    s.Origin,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

type ListSessionsInput struct {
	Limit  int `query:"limit" minimum:"1" maximum:"250" default:"50" doc:"Max results"`
	Offset int `query:"offset" minimum:"0" default:"0" doc:"Offset for pagination"`
}

type ListSessionsOutput struct {
	Body []SessionView
}

type GetSessionInput struct {
	ID uuid.UUID `path:"id" doc:"Session ID"`
}

type GetSessionOutput struct {
	Body struct {
		SessionView
		Turns []TurnView `json:"turns"`
	}
}

type UpdateSessionInput struct {
	ID   uuid.UUID `path:"id" doc:"Session ID"`
	Body struct {
		Title string `json:"title" minLength:"1" maxLength:"120" doc:"New session title"`
	}
}

type UpdateSessionOutput struct {
	Body SessionView
}

type DeleteSessionInput struct {
	ID uuid.UUID `path:"id" doc:"Session ID"`
}

type DeleteSessionOutput struct{}

func RegisterSessionRoutes(api huma.API, store DataStore) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List sessions in the workspace",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *ListSessionsInput) (*ListSessionsOutput, error) {
		workspaceID, ok := middleware.WorkspaceIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing workspace context")
		}

		sessions, err := store.Sessions().List(ctx, workspaceID, input.Limit, input.Offset)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list sessions", err)
		}

		views := make([]SessionView, 0, len(sessions))
		for _, s := range sessions {
			views = append(views, sessionView(s))
		}
		return &ListSessionsOutput{Body: views}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get a session with its turns",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
		workspaceID, ok := middleware.WorkspaceIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing workspace context")
		}

		session, err := store.Sessions().GetByID(ctx, workspaceID, input.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, huma.Error404NotFound("session not found")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get session", err)
		}

		turns, err := store.Turns().ListBySession(ctx, workspaceID, session.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list turns", err)
		}

		out := &GetSessionOutput{}
		out.Body.SessionView = sessionView(session)
		out.Body.Turns = make([]TurnView, 0, len(turns))
		for _, t := range turns {
			out.Body.Turns = append(out.Body.Turns, turnView(t))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-session",
		Method:      http.MethodPatch,
		Path:        "/sessions/{id}",
		Summary:     "Rename a session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *UpdateSessionInput) (*UpdateSessionOutput, error) {
		workspaceID, ok := middleware.WorkspaceIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing workspace context")
		}

		err := store.Sessions().UpdateTitle(ctx, workspaceID, input.ID, input.Body.Title)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, huma.Error404NotFound("session not found")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to update session", err)
		}

		session, err := store.Sessions().GetByID(ctx, workspaceID, input.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get session", err)
		}
		return &UpdateSessionOutput{Body: sessionView(session)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-session",
		Method:        http.MethodDelete,
		Path:          "/sessions/{id}",
		Summary:       "Delete a session and its turns",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *DeleteSessionInput) (*DeleteSessionOutput, error) {
		workspaceID, ok := middleware.WorkspaceIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing workspace context")
		}

		err := store.Sessions().Delete(ctx, workspaceID, input.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, huma.Error404NotFound("session not found")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to delete session", err)
		}
		return &DeleteSessionOutput{}, nil
	})
}
