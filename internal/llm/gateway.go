package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/causeway-ai/causeway/internal/config"
	"github.com/causeway-ai/causeway/internal/domain"
	"github.com/causeway-ai/causeway/internal/secrets"
)

// ErrModelNotAllowed is returned when a BYO config names a model outside
// the provider's allow-list.
var ErrModelNotAllowed = errors.New("llm: model not allowed") //nolint:gochecknoglobals // sentinel error

// Credentials is the sealed payload of a BYO LLM config.
type Credentials struct {
	APIKey     string `json:"api_key"`
	Endpoint   string `json:"endpoint,omitempty"`
	APIVersion string `json:"api_version,omitempty"`
}

// Handle is a resolved, ready-to-call model for one workspace. Sampling
// settings are platform policy, applied uniformly to BYO providers.
type Handle struct {
	Model       ChatModel
	ModelName   string
	Temperature float32
	MaxTokens   int
	// BYO is true when the workspace brings its own provider, which
	// bypasses platform quotas.
	BYO bool
}

// Gateway resolves the ChatModel for a workspace: the platform default, or
// the workspace's BYO provider built from decrypted config. Credentials
// never leave this package; errors returned upward are redacted.
type Gateway struct {
	configs  domain.LLMConfigRepository
	vault    *secrets.Vault
	platform config.LLMConfig

	maxAttempts int
	retryBase   time.Duration
}

func NewGateway(configs domain.LLMConfigRepository, vault *secrets.Vault, platform config.LLMConfig) *Gateway {
	return &Gateway{
		configs:     configs,
		vault:       vault,
		platform:    platform,
		maxAttempts: 3,
		retryBase:   500 * time.Millisecond,
	}
}

// allowedModelPrefixes gates BYO model names per provider. Azure deployment
// names are customer-chosen, so Azure is not prefix-checked.
//
//nolint:gochecknoglobals // static allow-list
var allowedModelPrefixes = map[domain.LLMProvider][]string{
	domain.LLMOpenAI: {"gpt-", "o1", "o3", "o4"},
	domain.LLMGemini: {"gemini-"},
}

// HandleFor resolves the workspace's model. A missing config means the
// platform default.
func (g *Gateway) HandleFor(ctx context.Context, workspaceID uuid.UUID) (*Handle, error) {
	cfg, err := g.configs.GetByWorkspace(ctx, workspaceID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("llm.Gateway.HandleFor: %w", err)
	}

	if cfg == nil || cfg.Provider == domain.LLMPlatform {
		return &Handle{
			Model:       g.retrying(NewOpenAICompatible(g.platform.APIKey, g.platform.BaseURL, "platform")),
			ModelName:   g.platform.Model,
			Temperature: g.platform.Temperature,
			MaxTokens:   g.platform.MaxTokens,
			BYO:         false,
		}, nil
	}

	if err := checkModelAllowed(cfg.Provider, cfg.ModelName); err != nil {
		return nil, fmt.Errorf("llm.Gateway.HandleFor: %w", err)
	}

	var creds Credentials
	if err := g.vault.OpenJSON(cfg.CredentialsEncrypted, &creds); err != nil {
		return nil, fmt.Errorf("llm.Gateway.HandleFor: open credentials: %w", err)
	}

	var model ChatModel
	switch cfg.Provider {
	case domain.LLMOpenAI:
		model = NewOpenAI(creds.APIKey)
	case domain.LLMAzureOpenAI:
		model = NewAzureOpenAI(creds.APIKey, creds.Endpoint, creds.APIVersion)
	case domain.LLMGemini:
		gem, gemErr := NewGemini(ctx, creds.APIKey)
		if gemErr != nil {
			return nil, fmt.Errorf("llm.Gateway.HandleFor: %w", redact(gemErr, creds.APIKey))
		}
		model = gem
	default:
		return nil, fmt.Errorf("llm.Gateway.HandleFor: unknown provider %q: %w", cfg.Provider, ErrProtocol)
	}

	return &Handle{
		Model:       g.retrying(redacting{inner: model, secret: creds.APIKey}),
		ModelName:   cfg.ModelName,
		Temperature: g.platform.Temperature,
		MaxTokens:   g.platform.MaxTokens,
		BYO:         true,
	}, nil
}

// GuardHandle returns the cheap platform model used by the prompt guard.
// The guard never runs on BYO credentials.
func (g *Gateway) GuardHandle() *Handle {
	return &Handle{
		Model:     g.retrying(NewOpenAICompatible(g.platform.APIKey, g.platform.BaseURL, "platform")),
		ModelName: g.platform.GuardModel,
		BYO:       false,
	}
}

func checkModelAllowed(provider domain.LLMProvider, model string) error {
	prefixes, ok := allowedModelPrefixes[provider]
	if !ok {
		return nil
	}
	for _, p := range prefixes {
		if strings.HasPrefix(model, p) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q for provider %s", ErrModelNotAllowed, model, provider)
}

// retrying wraps a model with bounded exponential backoff on transient
// provider errors (429/5xx/network).
func (g *Gateway) retrying(inner ChatModel) ChatModel {
	return &retryModel{inner: inner, maxAttempts: g.maxAttempts, base: g.retryBase}
}

type retryModel struct {
	inner       ChatModel
	maxAttempts int
	base        time.Duration
}

func (m *retryModel) Provider() string { return m.inner.Provider() }

func (m *retryModel) Complete(ctx context.Context, req *Request) (*Completion, error) {
	var lastErr error
	delay := m.base

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		out, err := m.inner.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !IsTransient(err) || attempt == m.maxAttempts {
			break
		}

		log.Debug().
			Str("provider", m.inner.Provider()).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("retrying llm call after transient error")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("llm.retryModel.Complete: %w", errors.Join(ErrTransient, ctx.Err()))
		case <-time.After(delay):
		}
		delay *= 2
	}

	return nil, lastErr
}

// redacting scrubs the workspace's API key from error text before it can
// reach logs or persisted job errors.
type redacting struct {
	inner  ChatModel
	secret string
}

func (m redacting) Provider() string { return m.inner.Provider() }

func (m redacting) Complete(ctx context.Context, req *Request) (*Completion, error) {
	out, err := m.inner.Complete(ctx, req)
	if err != nil {
		return nil, redact(err, m.secret)
	}
	return out, nil
}

func redact(err error, secret string) error {
	if secret == "" || !strings.Contains(err.Error(), secret) {
		return err
	}
	msg := strings.ReplaceAll(err.Error(), secret, "[redacted]")
	// Preserve classification sentinels through redaction.
	switch {
	case errors.Is(err, ErrTransient):
		return fmt.Errorf("%s: %w", msg, ErrTransient)
	case errors.Is(err, ErrProtocol):
		return fmt.Errorf("%s: %w", msg, ErrProtocol)
	default:
		return errors.New(msg)
	}
}
