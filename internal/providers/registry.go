package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/causeway-ai/causeway/internal/domain"
	"github.com/causeway-ai/causeway/internal/secrets"
)

// CapabilityRef is one (provider, capability) pair available to a
// workspace. The tool set presents each as a distinct tool.
type CapabilityRef struct {
	Provider   domain.Provider
	Capability Capability
}

// Registry resolves workspace integrations into adapter handles. It owns
// credential decryption; decrypted material is cached per process with a
// short TTL and handed to adapters one call at a time.
type Registry struct {
	integrations domain.IntegrationRepository
	vault        *secrets.Vault
	httpClient   *http.Client

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
	ttl   time.Duration
	clock func() time.Time
}

type cacheKey struct {
	workspaceID uuid.UUID
	provider    domain.Provider
}

type cacheEntry struct {
	integrationID uuid.UUID
	plaintext     string
	expires       time.Time
}

func NewRegistry(integrations domain.IntegrationRepository, vault *secrets.Vault, httpClient *http.Client) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Registry{
		integrations: integrations,
		vault:        vault,
		httpClient:   httpClient,
		cache:        make(map[cacheKey]cacheEntry),
		ttl:          60 * time.Second,
		clock:        time.Now,
	}
}

// ListCapabilities returns the (provider, capability) pairs the workspace
// can use right now. Unhealthy integrations are excluded; the agent copes
// with whatever is absent.
func (r *Registry) ListCapabilities(ctx context.Context, workspaceID uuid.UUID) ([]CapabilityRef, error) {
	integrations, err := r.integrations.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("providers.Registry.ListCapabilities: %w", err)
	}

	var refs []CapabilityRef
	for _, in := range integrations {
		if in.Health == domain.HealthUnhealthy {
			log.Debug().
				Str("workspace_id", workspaceID.String()).
				Str("provider", string(in.Provider)).
				Msg("skipping unhealthy integration")
			continue
		}
		for _, cap := range Capabilities(in.Provider) {
			refs = append(refs, CapabilityRef{Provider: in.Provider, Capability: cap})
		}
	}

	return refs, nil
}

// OpenLogs returns a logs adapter for the provider, valid for one tool call.
func (r *Registry) OpenLogs(ctx context.Context, workspaceID uuid.UUID, provider domain.Provider) (LogsAdapter, error) {
	adapter, err := r.open(ctx, workspaceID, provider)
	if err != nil {
		return nil, err
	}
	logs, ok := adapter.(LogsAdapter)
	if !ok {
		return nil, fmt.Errorf("providers.Registry.OpenLogs: %s has no log capability", provider)
	}
	return logs, nil
}

// OpenMetrics returns a metrics adapter for the provider.
func (r *Registry) OpenMetrics(ctx context.Context, workspaceID uuid.UUID, provider domain.Provider) (MetricsAdapter, error) {
	adapter, err := r.open(ctx, workspaceID, provider)
	if err != nil {
		return nil, err
	}
	metrics, ok := adapter.(MetricsAdapter)
	if !ok {
		return nil, fmt.Errorf("providers.Registry.OpenMetrics: %s has no metric capability", provider)
	}
	return metrics, nil
}

// OpenCode returns a code adapter for the provider.
func (r *Registry) OpenCode(ctx context.Context, workspaceID uuid.UUID, provider domain.Provider) (CodeAdapter, error) {
	adapter, err := r.open(ctx, workspaceID, provider)
	if err != nil {
		return nil, err
	}
	code, ok := adapter.(CodeAdapter)
	if !ok {
		return nil, fmt.Errorf("providers.Registry.OpenCode: %s has no code capability", provider)
	}
	return code, nil
}

func (r *Registry) open(ctx context.Context, workspaceID uuid.UUID, provider domain.Provider) (any, error) {
	plaintext, _, err := r.credentials(ctx, workspaceID, provider)
	if err != nil {
		return nil, err
	}

	switch provider {
	case domain.ProviderGrafana:
		var creds GrafanaCredentials
		if err := unmarshalCreds(plaintext, &creds); err != nil {
			return nil, err
		}
		return NewGrafanaAdapter(creds, r.httpClient), nil
	case domain.ProviderDatadog:
		var creds DatadogCredentials
		if err := unmarshalCreds(plaintext, &creds); err != nil {
			return nil, err
		}
		return NewDatadogAdapter(creds, r.httpClient), nil
	case domain.ProviderNewRelic:
		var creds NewRelicCredentials
		if err := unmarshalCreds(plaintext, &creds); err != nil {
			return nil, err
		}
		return NewNewRelicAdapter(creds, r.httpClient), nil
	case domain.ProviderCloudWatch:
		var creds CloudWatchCredentials
		if err := unmarshalCreds(plaintext, &creds); err != nil {
			return nil, err
		}
		return NewCloudWatchAdapter(ctx, creds)
	case domain.ProviderGitHub:
		var creds GitHubCredentials
		if err := unmarshalCreds(plaintext, &creds); err != nil {
			return nil, err
		}
		return NewGitHubAdapter(ctx, creds), nil
	default:
		return nil, fmt.Errorf("providers.Registry.open: unknown provider %q", provider)
	}
}

// credentials returns decrypted credential JSON, serving from the TTL cache
// when fresh.
func (r *Registry) credentials(ctx context.Context, workspaceID uuid.UUID, provider domain.Provider) (string, uuid.UUID, error) {
	key := cacheKey{workspaceID: workspaceID, provider: provider}
	now := r.clock()

	r.mu.Lock()
	if entry, ok := r.cache[key]; ok && now.Before(entry.expires) {
		r.mu.Unlock()
		return entry.plaintext, entry.integrationID, nil
	}
	r.mu.Unlock()

	integration, err := r.integrations.GetByProvider(ctx, workspaceID, provider)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("providers.Registry.credentials: %w", err)
	}

	plaintext, err := r.vault.Decrypt(integration.CredentialsEncrypted)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("providers.Registry.credentials: %w", err)
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{
		integrationID: integration.ID,
		plaintext:     plaintext,
		expires:       now.Add(r.ttl),
	}
	r.mu.Unlock()

	return plaintext, integration.ID, nil
}

// Invalidate drops cached credentials for a workspace. Called on
// integration-update events from the bus.
func (r *Registry) Invalidate(workspaceID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cache {
		if key.workspaceID == workspaceID {
			delete(r.cache, key)
		}
	}
}

// MarkUnhealthy flags an integration after an unauthorized adapter error so
// later capability listings exclude it, and drops its cached credentials.
func (r *Registry) MarkUnhealthy(ctx context.Context, workspaceID uuid.UUID, provider domain.Provider) error {
	integration, err := r.integrations.GetByProvider(ctx, workspaceID, provider)
	if err != nil {
		return fmt.Errorf("providers.Registry.MarkUnhealthy: %w", err)
	}

	if err := r.integrations.UpdateHealth(ctx, integration.ID, domain.HealthUnhealthy, r.clock()); err != nil {
		return fmt.Errorf("providers.Registry.MarkUnhealthy: %w", err)
	}

	r.mu.Lock()
	delete(r.cache, cacheKey{workspaceID: workspaceID, provider: provider})
	r.mu.Unlock()

	log.Warn().
		Str("workspace_id", workspaceID.String()).
		Str("provider", string(provider)).
		Msg("integration marked unhealthy after unauthorized response")

	return nil
}

func unmarshalCreds(plaintext string, out any) error {
	if err := json.Unmarshal([]byte(plaintext), out); err != nil {
		return fmt.Errorf("providers: decode credentials: %w", err)
	}
	return nil
}
