package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LLMProvider enumerates supported chat-completion backends. Platform is the
// default; anything else is a workspace-configured BYO provider that
// bypasses platform quotas.
type LLMProvider string

const (
	LLMPlatform    LLMProvider = "platform"
	LLMOpenAI      LLMProvider = "openai"
	LLMAzureOpenAI LLMProvider = "azure-openai"
	LLMGemini      LLMProvider = "gemini"
)

// LLMConfig is a workspace's chat-model configuration. Credentials are
// sealed with the vault; only the LLM gateway opens them.
type LLMConfig struct {
	ID                   uuid.UUID
	WorkspaceID          uuid.UUID
	Provider             LLMProvider
	ModelName            string
	CredentialsEncrypted string
	Health               HealthStatus
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// BYO reports whether this config routes to a workspace-owned provider.
func (c *LLMConfig) BYO() bool {
	return c != nil && c.Provider != LLMPlatform
}

type LLMConfigRepository interface {
	// GetByWorkspace returns ErrNotFound when the workspace has no custom
	// config, which callers interpret as the platform default.
	GetByWorkspace(ctx context.Context, workspaceID uuid.UUID) (*LLMConfig, error)
	UpdateHealth(ctx context.Context, id uuid.UUID, health HealthStatus) error
}
