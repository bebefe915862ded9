package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/causeway-ai/causeway/internal/domain"
)

type scriptedModel struct {
	replies []any // *Completion or error
	calls   int
}

func (m *scriptedModel) Provider() string { return "scripted" }

func (m *scriptedModel) Complete(_ context.Context, _ *Request) (*Completion, error) {
	if m.calls >= len(m.replies) {
		return nil, errors.New("scripted model exhausted")
	}
	reply := m.replies[m.calls]
	m.calls++
	if err, ok := reply.(error); ok {
		return nil, err
	}
	return reply.(*Completion), nil
}

func TestRetryModel_RetriesTransient(t *testing.T) {
	t.Parallel()

	inner := &scriptedModel{replies: []any{
		fmt.Errorf("status 503: %w", ErrTransient),
		fmt.Errorf("status 429: %w", ErrTransient),
		&Completion{Content: "ok"},
	}}
	m := &retryModel{inner: inner, maxAttempts: 3, base: time.Millisecond}

	out, err := m.Complete(context.Background(), &Request{})

	require.NoError(t, err)
	assert.Equal(t, "ok", out.Content)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryModel_DoesNotRetryProtocol(t *testing.T) {
	t.Parallel()

	inner := &scriptedModel{replies: []any{
		fmt.Errorf("bad auth: %w", ErrProtocol),
		&Completion{Content: "never reached"},
	}}
	m := &retryModel{inner: inner, maxAttempts: 3, base: time.Millisecond}

	_, err := m.Complete(context.Background(), &Request{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryModel_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	inner := &scriptedModel{replies: []any{
		fmt.Errorf("one: %w", ErrTransient),
		fmt.Errorf("two: %w", ErrTransient),
		fmt.Errorf("three: %w", ErrTransient),
	}}
	m := &retryModel{inner: inner, maxAttempts: 3, base: time.Millisecond}

	_, err := m.Complete(context.Background(), &Request{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 3, inner.calls)
}

func TestCheckModelAllowed(t *testing.T) {
	t.Parallel()

	assert.NoError(t, checkModelAllowed(domain.LLMOpenAI, "gpt-4o"))
	assert.NoError(t, checkModelAllowed(domain.LLMGemini, "gemini-1.5-pro"))
	// Azure deployment names are customer-chosen.
	assert.NoError(t, checkModelAllowed(domain.LLMAzureOpenAI, "my-deployment"))

	err := checkModelAllowed(domain.LLMOpenAI, "claude-3")
	assert.ErrorIs(t, err, ErrModelNotAllowed)
}

func TestRedact(t *testing.T) {
	t.Parallel()

	secret := "sk-very-secret"
	err := fmt.Errorf("call failed with key %s: %w", secret, ErrTransient)

	got := redact(err, secret)

	assert.NotContains(t, got.Error(), secret)
	assert.Contains(t, got.Error(), "[redacted]")
	assert.ErrorIs(t, got, ErrTransient)
}

func TestRedact_NoSecretNoChange(t *testing.T) {
	t.Parallel()

	err := errors.New("plain failure")
	assert.Equal(t, err, redact(err, "absent"))
	assert.Equal(t, err, redact(err, ""))
}
