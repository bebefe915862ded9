package react_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/causeway-ai/causeway/internal/llm"
	"github.com/causeway-ai/causeway/internal/react"
	"github.com/causeway-ai/causeway/internal/tools"
)

// scriptedModel replays a fixed sequence of completions or errors.
type scriptedModel struct {
	replies  []any // *llm.Completion or error
	requests []*llm.Request
}

func (m *scriptedModel) Provider() string { return "scripted" }

func (m *scriptedModel) Complete(_ context.Context, req *llm.Request) (*llm.Completion, error) {
	m.requests = append(m.requests, req)
	if len(m.requests) > len(m.replies) {
		return nil, errors.New("scripted model exhausted")
	}
	reply := m.replies[len(m.requests)-1]
	if err, ok := reply.(error); ok {
		return nil, err
	}
	return reply.(*llm.Completion), nil
}

type eventRecorder struct {
	events []react.Event
}

func (r *eventRecorder) sink(_ context.Context, ev react.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func logsTool(t *testing.T, name string, result string, err error) *tools.Tool {
	t.Helper()

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"service": map[string]any{"type": "string"},
		},
		"required":             []any{"service"},
		"additionalProperties": false,
	}
	tool, buildErr := tools.New(name, "test tool", schema, time.Second,
		func(context.Context, json.RawMessage) (string, error) {
			return result, err
		})
	require.NoError(t, buildErr)
	return tool
}

func budgets() react.Budgets {
	return react.Budgets{MaxSteps: 10, WallTime: time.Minute}
}

func TestEngine_DirectFinalAnswer(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{replies: []any{
		&llm.Completion{Content: "The root cause is a connection pool leak."},
	}}
	rec := &eventRecorder{}
	engine := react.NewEngine(model, "m", nil, budgets(), 0.1, 1024, rec.sink)

	answer, err := engine.Run(context.Background(), "why is api-gw slow?")

	require.NoError(t, err)
	assert.Equal(t, "The root cause is a connection pool leak.", answer)
	assert.Empty(t, rec.events)
}

func TestEngine_ToolCallThenAnswer(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{replies: []any{
		&llm.Completion{
			Content: "Checking recent errors first.",
			ToolCalls: []llm.ToolCall{{
				ID: "c1", Name: "logs.errors.grafana",
				Arguments: json.RawMessage(`{"service":"api-gw"}`),
			}},
		},
		&llm.Completion{Content: "Root cause: upstream timeouts."},
	}}
	rec := &eventRecorder{}
	toolset := []*tools.Tool{logsTool(t, "logs.errors.grafana", "found 12 errors", nil)}
	engine := react.NewEngine(model, "m", toolset, budgets(), 0.1, 1024, rec.sink)

	answer, err := engine.Run(context.Background(), "why is api-gw slow?")

	require.NoError(t, err)
	assert.Equal(t, "Root cause: upstream timeouts.", answer)

	// thinking, tool_start, tool_end — in order.
	require.Len(t, rec.events, 3)
	assert.Equal(t, react.EventThinking, rec.events[0].Type)
	assert.Equal(t, react.EventToolStart, rec.events[1].Type)
	assert.Equal(t, "logs.errors.grafana", rec.events[1].ToolName)
	assert.Equal(t, react.EventToolEnd, rec.events[2].Type)
	assert.False(t, rec.events[2].Failed)
	assert.Equal(t, "found 12 errors", rec.events[2].Content)

	// The observation was fed back to the model.
	lastReq := model.requests[len(model.requests)-1]
	lastMsg := lastReq.Messages[len(lastReq.Messages)-1]
	assert.Equal(t, llm.RoleTool, lastMsg.Role)
	assert.Equal(t, "found 12 errors", lastMsg.Content)
}

func TestEngine_ToolFailureDoesNotAbortLoop(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{replies: []any{
		&llm.Completion{ToolCalls: []llm.ToolCall{{
			ID: "c1", Name: "logs.errors.grafana",
			Arguments: json.RawMessage(`{"service":"api-gw"}`),
		}}},
		&llm.Completion{ToolCalls: []llm.ToolCall{{
			ID: "c2", Name: "logs.search.grafana",
			Arguments: json.RawMessage(`{"service":"api-gw"}`),
		}}},
		&llm.Completion{Content: "Recovered and found the cause."},
	}}
	rec := &eventRecorder{}
	toolset := []*tools.Tool{
		logsTool(t, "logs.errors.grafana", "", fmt.Errorf("boom: upstream unavailable")),
		logsTool(t, "logs.search.grafana", "log lines here", nil),
	}
	engine := react.NewEngine(model, "m", toolset, budgets(), 0.1, 1024, rec.sink)

	answer, err := engine.Run(context.Background(), "why is api-gw slow?")

	require.NoError(t, err)
	assert.Equal(t, "Recovered and found the cause.", answer)

	var ends []react.Event
	for _, ev := range rec.events {
		if ev.Type == react.EventToolEnd {
			ends = append(ends, ev)
		}
	}
	require.Len(t, ends, 2)
	assert.True(t, ends[0].Failed)
	assert.True(t, strings.HasPrefix(ends[0].Content, "ERROR:"))
	assert.False(t, ends[1].Failed)
}

func TestEngine_UnknownToolBecomesErrorObservation(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{replies: []any{
		&llm.Completion{ToolCalls: []llm.ToolCall{{
			ID: "c1", Name: "metrics.magic.nowhere",
			Arguments: json.RawMessage(`{}`),
		}}},
		&llm.Completion{Content: "done"},
	}}
	rec := &eventRecorder{}
	engine := react.NewEngine(model, "m", nil, budgets(), 0.1, 1024, rec.sink)

	_, err := engine.Run(context.Background(), "q")

	require.NoError(t, err)
	require.Len(t, rec.events, 2)
	assert.True(t, rec.events[1].Failed)
	assert.Contains(t, rec.events[1].Content, "unknown tool")
}

func TestEngine_MalformedRepliesFailAfterThree(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{replies: []any{
		&llm.Completion{},
		&llm.Completion{},
		&llm.Completion{},
	}}
	rec := &eventRecorder{}
	engine := react.NewEngine(model, "m", nil, budgets(), 0.1, 1024, rec.sink)

	_, err := engine.Run(context.Background(), "q")

	require.Error(t, err)
	assert.ErrorIs(t, err, react.ErrLLMProtocol)
}

func TestEngine_MaxStepsForcesFinalAnswer(t *testing.T) {
	t.Parallel()

	call := &llm.Completion{ToolCalls: []llm.ToolCall{{
		ID: "c", Name: "logs.errors.grafana",
		Arguments: json.RawMessage(`{"service":"x"}`),
	}}}
	model := &scriptedModel{replies: []any{
		call, call,
		&llm.Completion{Content: "Forced summary of findings."},
	}}
	rec := &eventRecorder{}
	toolset := []*tools.Tool{logsTool(t, "logs.errors.grafana", "errors", nil)}
	engine := react.NewEngine(model, "m", toolset, react.Budgets{MaxSteps: 2, WallTime: time.Minute}, 0.1, 1024, rec.sink)

	answer, err := engine.Run(context.Background(), "q")

	require.NoError(t, err)
	assert.Equal(t, "Forced summary of findings.", answer)

	// The forced-final call carries the directive and offers no tools.
	finalReq := model.requests[len(model.requests)-1]
	assert.Empty(t, finalReq.Tools)
	lastMsg := finalReq.Messages[len(finalReq.Messages)-1]
	assert.Contains(t, lastMsg.Content, "final answer")
}

func TestEngine_WallClockForcesFinalAnswer(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		if calls > 1 {
			return now.Add(time.Hour)
		}
		return now
	}

	model := &scriptedModel{replies: []any{
		&llm.Completion{Content: "Out of time; best-effort answer."},
	}}
	rec := &eventRecorder{}
	engine := react.NewEngine(model, "m", nil, budgets(), 0.1, 1024, rec.sink, react.WithClock(clock))

	answer, err := engine.Run(context.Background(), "q")

	require.NoError(t, err)
	assert.Equal(t, "Out of time; best-effort answer.", answer)
}

func TestEngine_ForcedFinalTransientFailureIsTimeout(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		if calls > 1 {
			return now.Add(time.Hour)
		}
		return now
	}

	model := &scriptedModel{replies: []any{
		fmt.Errorf("status 503: %w", llm.ErrTransient),
	}}
	rec := &eventRecorder{}
	engine := react.NewEngine(model, "m", nil, budgets(), 0.1, 1024, rec.sink, react.WithClock(clock))

	_, err := engine.Run(context.Background(), "q")

	require.Error(t, err)
	assert.ErrorIs(t, err, react.ErrTimeout)
}

func TestEngine_TransientLLMErrorPropagates(t *testing.T) {
	t.Parallel()

	model := &scriptedModel{replies: []any{
		fmt.Errorf("status 503: %w", llm.ErrTransient),
	}}
	rec := &eventRecorder{}
	engine := react.NewEngine(model, "m", nil, budgets(), 0.1, 1024, rec.sink)

	_, err := engine.Run(context.Background(), "q")

	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
}
