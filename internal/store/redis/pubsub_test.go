package redis_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	redisstore "github.com/causeway-ai/causeway/internal/store/redis"
)

func TestTurnChannel(t *testing.T) {
	t.Parallel()

	turnID := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()

		got := redisstore.TurnChannel(turnID)
		assert.Equal(t, "turn:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", got)
	})

	t.Run("prefix", func(t *testing.T) {
		t.Parallel()

		got := redisstore.TurnChannel(turnID)
		assert.True(t, strings.HasPrefix(got, "turn:"), "expected prefix 'turn:', got %q", got)
	})

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, redisstore.TurnChannel(turnID), redisstore.TurnChannel(turnID))
	})
}

func TestIntegrationChannel(t *testing.T) {
	t.Parallel()

	workspaceID := uuid.MustParse("11111111-2222-3333-4444-555555555555")

	got := redisstore.IntegrationChannel(workspaceID)
	assert.Equal(t, "integrations:11111111-2222-3333-4444-555555555555", got)
}
