package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Provider identifies an external observability or code service.
type Provider string

const (
	ProviderGrafana    Provider = "grafana"
	ProviderDatadog    Provider = "datadog"
	ProviderNewRelic   Provider = "newrelic"
	ProviderCloudWatch Provider = "cloudwatch"
	ProviderGitHub     Provider = "github"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// Integration is a per-workspace provider credential. The encrypted blob is
// owned by the provider registry; the core never sees plaintext outside a
// single tool invocation.
type Integration struct {
	ID                   uuid.UUID
	WorkspaceID          uuid.UUID
	Provider             Provider
	CredentialsEncrypted string
	Health               HealthStatus
	LastHealthCheckAt    *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type IntegrationRepository interface {
	ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]*Integration, error)
	GetByProvider(ctx context.Context, workspaceID uuid.UUID, provider Provider) (*Integration, error)
	UpdateHealth(ctx context.Context, id uuid.UUID, health HealthStatus, checkedAt time.Time) error
}
