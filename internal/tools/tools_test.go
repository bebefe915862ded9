package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/causeway-ai/causeway/internal/providers"
)

func testSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"service": map[string]any{"type": "string", "minLength": 1},
			"limit":   map[string]any{"type": "integer", "minimum": 1},
		},
		"required":             []any{"service"},
		"additionalProperties": false,
	}
}

func TestTool_InvokeHappyPath(t *testing.T) {
	t.Parallel()

	tool, err := New("logs.search.test", "test tool", testSchema(), time.Second,
		func(_ context.Context, raw json.RawMessage) (string, error) {
			var in struct {
				Service string `json:"service"`
			}
			require.NoError(t, json.Unmarshal(raw, &in))
			return "found 3 errors for " + in.Service, nil
		})
	require.NoError(t, err)

	obs := tool.Invoke(context.Background(), json.RawMessage(`{"service":"api-gw"}`))

	assert.False(t, obs.Failed)
	assert.Equal(t, "found 3 errors for api-gw", obs.Content)
}

func TestTool_InvokeRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	tool, err := New("logs.search.test", "test tool", testSchema(), time.Second,
		func(context.Context, json.RawMessage) (string, error) {
			t.Fatal("invoke must not run on invalid input")
			return "", nil
		})
	require.NoError(t, err)

	t.Run("missing required field", func(t *testing.T) {
		t.Parallel()
		obs := tool.Invoke(context.Background(), json.RawMessage(`{"limit":5}`))
		assert.True(t, obs.Failed)
		assert.True(t, strings.HasPrefix(obs.Content, "ERROR: invalid arguments:"), obs.Content)
	})

	t.Run("wrong type", func(t *testing.T) {
		t.Parallel()
		obs := tool.Invoke(context.Background(), json.RawMessage(`{"service":"x","limit":"five"}`))
		assert.True(t, obs.Failed)
		assert.True(t, strings.HasPrefix(obs.Content, "ERROR: invalid arguments:"), obs.Content)
	})

	t.Run("not JSON", func(t *testing.T) {
		t.Parallel()
		obs := tool.Invoke(context.Background(), json.RawMessage(`service=x`))
		assert.True(t, obs.Failed)
	})
}

func TestTool_InvokeTimeout(t *testing.T) {
	t.Parallel()

	tool, err := New("slow.test", "slow tool", testSchema(), 20*time.Millisecond,
		func(ctx context.Context, _ json.RawMessage) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})
	require.NoError(t, err)

	obs := tool.Invoke(context.Background(), json.RawMessage(`{"service":"api-gw"}`))

	assert.True(t, obs.Failed)
	assert.True(t, strings.HasPrefix(obs.Content, "ERROR: timeout after"), obs.Content)
}

func TestTool_InvokeMapsAdapterErrors(t *testing.T) {
	t.Parallel()

	t.Run("unavailable upstream", func(t *testing.T) {
		t.Parallel()

		tool, err := New("logs.search.test", "t", testSchema(), time.Second,
			func(context.Context, json.RawMessage) (string, error) {
				return "", fmt.Errorf("%w: status 503", providers.ErrUnavailable)
			})
		require.NoError(t, err)

		obs := tool.Invoke(context.Background(), json.RawMessage(`{"service":"x"}`))

		assert.True(t, obs.Failed)
		assert.True(t, strings.HasPrefix(obs.Content, "ERROR: upstream unavailable"), obs.Content)
	})

	t.Run("unauthorized fires callback", func(t *testing.T) {
		t.Parallel()

		fired := false
		tool, err := New("logs.search.test", "t", testSchema(), time.Second,
			func(context.Context, json.RawMessage) (string, error) {
				return "", fmt.Errorf("%w: bad token", providers.ErrUnauthorized)
			})
		require.NoError(t, err)
		tool.onUnauthorized = func(context.Context) { fired = true }

		obs := tool.Invoke(context.Background(), json.RawMessage(`{"service":"x"}`))

		assert.True(t, obs.Failed)
		assert.True(t, fired, "unauthorized callback should fire")
	})
}

func TestTool_InvokeTruncatesLongObservations(t *testing.T) {
	t.Parallel()

	tool, err := New("big.test", "t", testSchema(), time.Second,
		func(context.Context, json.RawMessage) (string, error) {
			return strings.Repeat("x", MaxObservationBytes+100), nil
		})
	require.NoError(t, err)

	obs := tool.Invoke(context.Background(), json.RawMessage(`{"service":"x"}`))

	assert.False(t, obs.Failed)
	assert.True(t, strings.HasSuffix(obs.Content, "…<truncated>"))
	assert.Len(t, obs.Content, MaxObservationBytes+len("…<truncated>"))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", Truncate("short"))

	long := strings.Repeat("a", MaxObservationBytes+1)
	got := Truncate(long)
	assert.True(t, strings.HasSuffix(got, "…<truncated>"))
}

func TestFormatLogs(t *testing.T) {
	t.Parallel()

	assert.Contains(t, formatLogs(nil), "No log entries")

	entries := []providers.LogEntry{{
		Timestamp: time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC),
		Level:     "error",
		Service:   "api-gw",
		Message:   "connection refused",
	}}
	out := formatLogs(entries)
	assert.Contains(t, out, "Found 1 log entries")
	assert.Contains(t, out, "ERROR api-gw: connection refused")
}

func TestFormatSeries(t *testing.T) {
	t.Parallel()

	assert.Contains(t, formatSeries(nil), "No data points")

	series := []providers.Series{{
		Labels: map[string]string{"pod": "api-gw-0"},
		Points: []providers.Point{
			{Timestamp: time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC), Value: 1},
			{Timestamp: time.Date(2025, 6, 3, 10, 1, 0, 0, time.UTC), Value: 3},
		},
	}}
	out := formatSeries(series)
	assert.Contains(t, out, "2 points")
	assert.Contains(t, out, "min=1.000")
	assert.Contains(t, out, "max=3.000")
	assert.Contains(t, out, "avg=2.000")
}
