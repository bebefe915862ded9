package providers_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/causeway-ai/causeway/internal/domain"
	"github.com/causeway-ai/causeway/internal/providers"
	"github.com/causeway-ai/causeway/internal/secrets"
)

type stubIntegrationRepo struct {
	integrations []*domain.Integration
	listCalls    int
	getCalls     int
	healthByID   map[uuid.UUID]domain.HealthStatus
}

func (s *stubIntegrationRepo) ListByWorkspace(_ context.Context, _ uuid.UUID) ([]*domain.Integration, error) {
	s.listCalls++
	return s.integrations, nil
}

func (s *stubIntegrationRepo) GetByProvider(_ context.Context, _ uuid.UUID, provider domain.Provider) (*domain.Integration, error) {
	s.getCalls++
	for _, in := range s.integrations {
		if in.Provider == provider {
			return in, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *stubIntegrationRepo) UpdateHealth(_ context.Context, id uuid.UUID, health domain.HealthStatus, _ time.Time) error {
	if s.healthByID == nil {
		s.healthByID = make(map[uuid.UUID]domain.HealthStatus)
	}
	s.healthByID[id] = health
	return nil
}

func newTestVault(t *testing.T) *secrets.Vault {
	t.Helper()
	key := make([]byte, 32)
	v, err := secrets.NewVault(key)
	require.NoError(t, err)
	return v
}

func sealed(t *testing.T, v *secrets.Vault, payload any) string {
	t.Helper()
	s, err := v.SealJSON(payload)
	require.NoError(t, err)
	return s
}

func TestRegistry_ListCapabilities(t *testing.T) {
	t.Parallel()

	workspaceID := uuid.New()
	vault := newTestVault(t)
	repo := &stubIntegrationRepo{integrations: []*domain.Integration{
		{ID: uuid.New(), WorkspaceID: workspaceID, Provider: domain.ProviderGrafana, Health: domain.HealthHealthy},
		{ID: uuid.New(), WorkspaceID: workspaceID, Provider: domain.ProviderGitHub, Health: domain.HealthHealthy},
		{ID: uuid.New(), WorkspaceID: workspaceID, Provider: domain.ProviderDatadog, Health: domain.HealthUnhealthy},
	}}
	reg := providers.NewRegistry(repo, vault, nil)

	refs, err := reg.ListCapabilities(context.Background(), workspaceID)

	require.NoError(t, err)

	byProvider := map[domain.Provider]int{}
	for _, ref := range refs {
		byProvider[ref.Provider]++
	}

	// Grafana exposes all six observability capabilities, GitHub the four
	// code capabilities; the unhealthy Datadog integration is excluded.
	assert.Equal(t, 6, byProvider[domain.ProviderGrafana])
	assert.Equal(t, 4, byProvider[domain.ProviderGitHub])
	assert.Zero(t, byProvider[domain.ProviderDatadog])
}

func TestRegistry_OpenLogs_DecryptsAndCaches(t *testing.T) {
	t.Parallel()

	workspaceID := uuid.New()
	vault := newTestVault(t)
	creds := providers.GrafanaCredentials{
		BaseURL:          "https://grafana.example.com",
		APIToken:         "glsa_token",
		LokiDatasourceID: "7",
		PromDatasourceID: "3",
	}
	repo := &stubIntegrationRepo{integrations: []*domain.Integration{{
		ID:                   uuid.New(),
		WorkspaceID:          workspaceID,
		Provider:             domain.ProviderGrafana,
		Health:               domain.HealthHealthy,
		CredentialsEncrypted: sealed(t, vault, creds),
	}}}
	reg := providers.NewRegistry(repo, vault, nil)

	adapter, err := reg.OpenLogs(context.Background(), workspaceID, domain.ProviderGrafana)
	require.NoError(t, err)
	assert.NotNil(t, adapter)
	assert.Equal(t, 1, repo.getCalls)

	// Second open within the TTL serves from the cache.
	_, err = reg.OpenLogs(context.Background(), workspaceID, domain.ProviderGrafana)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.getCalls)

	// Invalidation forces a re-read.
	reg.Invalidate(workspaceID)
	_, err = reg.OpenLogs(context.Background(), workspaceID, domain.ProviderGrafana)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.getCalls)
}

func TestRegistry_OpenLogs_WrongCapability(t *testing.T) {
	t.Parallel()

	workspaceID := uuid.New()
	vault := newTestVault(t)
	repo := &stubIntegrationRepo{integrations: []*domain.Integration{{
		ID:                   uuid.New(),
		WorkspaceID:          workspaceID,
		Provider:             domain.ProviderGitHub,
		Health:               domain.HealthHealthy,
		CredentialsEncrypted: sealed(t, vault, providers.GitHubCredentials{Token: "t", Owner: "acme"}),
	}}}
	reg := providers.NewRegistry(repo, vault, nil)

	_, err := reg.OpenLogs(context.Background(), workspaceID, domain.ProviderGitHub)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no log capability")
}

func TestRegistry_MarkUnhealthy(t *testing.T) {
	t.Parallel()

	workspaceID := uuid.New()
	integrationID := uuid.New()
	vault := newTestVault(t)
	repo := &stubIntegrationRepo{integrations: []*domain.Integration{{
		ID:          integrationID,
		WorkspaceID: workspaceID,
		Provider:    domain.ProviderDatadog,
		Health:      domain.HealthHealthy,
	}}}
	reg := providers.NewRegistry(repo, vault, nil)

	require.NoError(t, reg.MarkUnhealthy(context.Background(), workspaceID, domain.ProviderDatadog))

	assert.Equal(t, domain.HealthUnhealthy, repo.healthByID[integrationID])
}

func TestCapabilityKinds(t *testing.T) {
	t.Parallel()

	assert.True(t, providers.CapLogsSearch.IsLogs())
	assert.True(t, providers.CapMetricsLatency.IsMetrics())
	assert.True(t, providers.CapCodeRead.IsCode())
	assert.False(t, providers.CapCodeRead.IsLogs())
}
