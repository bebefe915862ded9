package middleware

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	ContextKeyWorkspaceID contextKey = "workspace_id"
	ContextKeyUserID      contextKey = "user_id"
	ContextKeyWorkspaces  contextKey = "workspace_access"
)

func WorkspaceIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(ContextKeyWorkspaceID).(uuid.UUID)
	return v, ok
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(ContextKeyUserID).(uuid.UUID)
	return v, ok
}

func WorkspaceAccessFromContext(ctx context.Context) ([]uuid.UUID, bool) {
	v, ok := ctx.Value(ContextKeyWorkspaces).([]uuid.UUID)
	return v, ok
}
