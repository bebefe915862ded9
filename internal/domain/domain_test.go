package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/causeway-ai/causeway/internal/domain"
)

func TestTitleFromMessage(t *testing.T) {
	t.Parallel()

	t.Run("short message kept verbatim", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "why is api-gw slow?", domain.TitleFromMessage("why is api-gw slow?"))
	})

	t.Run("markup characters stripped", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "scriptalert(1)/script", domain.TitleFromMessage(`<script>alert("1")</script>`))
	})

	t.Run("long message truncated with ellipsis", func(t *testing.T) {
		t.Parallel()

		long := "why does the checkout service keep timing out under load every evening"
		title := domain.TitleFromMessage(long)

		assert.Len(t, title, 50)
		assert.Equal(t, "...", title[47:])
	})

	t.Run("empty after stripping gets default", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "Untitled analysis", domain.TitleFromMessage(`<>"'&`))
	})
}

func TestNextBackoff(t *testing.T) {
	t.Parallel()

	base := 60 * time.Second

	assert.Equal(t, 60*time.Second, domain.NextBackoff(base, 0))
	assert.Equal(t, 120*time.Second, domain.NextBackoff(base, 1))
	assert.Equal(t, 240*time.Second, domain.NextBackoff(base, 2))
}

func TestJobRetryable(t *testing.T) {
	t.Parallel()

	j := &domain.Job{Retries: 0, MaxRetries: domain.DefaultMaxRetries}
	assert.True(t, j.Retryable())

	j.Retries = 3
	assert.False(t, j.Retryable())
}

func TestQuotaWindow(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 6, 3, 22, 15, 0, 0, time.FixedZone("KST", 9*3600))

	// 22:15 KST is 13:15 UTC, still June 3 in UTC.
	assert.Equal(t, "2025-06-03", domain.QuotaWindowKey(at))
	assert.Equal(t, time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC), domain.QuotaResetAt(at))
}

func TestLLMConfigBYO(t *testing.T) {
	t.Parallel()

	var nilCfg *domain.LLMConfig
	assert.False(t, nilCfg.BYO())
	assert.False(t, (&domain.LLMConfig{Provider: domain.LLMPlatform}).BYO())
	assert.True(t, (&domain.LLMConfig{Provider: domain.LLMOpenAI}).BYO())
}
