// Package react drives the Thought -> Action -> Observation loop against a
// chat model and the workspace's tool set.
package react

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/causeway-ai/causeway/internal/llm"
	"github.com/causeway-ai/causeway/internal/tools"
)

// Sentinel errors for loop termination. Callers classify: protocol failures
// fail the turn, timeouts are retryable.
var (
	ErrLLMProtocol = errors.New("react: llm protocol failure")
	ErrTimeout     = errors.New("react: deadline exceeded")
)

// maxConsecutiveMalformed bounds how many empty model replies the loop
// tolerates before giving up.
const maxConsecutiveMalformed = 3

// frameContentLimit bounds thinking and tool_end frame payloads.
const frameContentLimit = 500

type EventType string

const (
	EventStatus    EventType = "status"
	EventThinking  EventType = "thinking"
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"
)

// Event is one observable step emitted during the loop.
type Event struct {
	Type     EventType
	ToolName string
	Content  string
	// Failed is set on tool_end events whose observation was an error.
	Failed bool
}

// Sink receives each event at the persistence seam: the caller persists the
// step, then publishes it. A sink error aborts the loop.
type Sink func(ctx context.Context, ev Event) error

// Budgets bound one loop execution.
type Budgets struct {
	MaxSteps int
	WallTime time.Duration
}

// Engine holds everything one Run needs. It is built per job: the model
// handle, the workspace's tool set, and the emit seam.
type Engine struct {
	model       llm.ChatModel
	modelName   string
	toolset     []*tools.Tool
	budgets     Budgets
	temperature float32
	maxTokens   int
	sink        Sink
	clock       func() time.Time
}

type Option func(*Engine)

// WithClock overrides the wall clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func NewEngine(model llm.ChatModel, modelName string, toolset []*tools.Tool, budgets Budgets, temperature float32, maxTokens int, sink Sink, opts ...Option) *Engine {
	if budgets.MaxSteps <= 0 {
		budgets.MaxSteps = 10
	}
	if budgets.WallTime <= 0 {
		budgets.WallTime = 120 * time.Second
	}

	e := &Engine{
		model:       model,
		modelName:   modelName,
		toolset:     toolset,
		budgets:     budgets,
		temperature: temperature,
		maxTokens:   maxTokens,
		sink:        sink,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the loop for one question and returns the final answer.
// Tool failures never terminate the loop; only engine-level failures do.
func (e *Engine) Run(ctx context.Context, question string) (string, error) {
	deadline := e.clock().Add(e.budgets.WallTime)
	history := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: question},
	}

	manifest := e.manifest()
	steps := 0
	malformed := 0

	for {
		if steps >= e.budgets.MaxSteps || e.clock().After(deadline) {
			return e.forceFinal(ctx, history)
		}

		completion, err := e.model.Complete(ctx, &llm.Request{
			Model:       e.modelName,
			Messages:    history,
			Tools:       manifest,
			Temperature: e.temperature,
			MaxTokens:   e.maxTokens,
		})
		if err != nil {
			return "", fmt.Errorf("react.Engine.Run: %w", err)
		}
		steps++

		if len(completion.ToolCalls) == 0 {
			answer := strings.TrimSpace(completion.Content)
			if answer != "" {
				return answer, nil
			}

			// Empty reply with no tool calls: treat as thinking-only and
			// nudge, up to the malformed budget.
			malformed++
			if malformed >= maxConsecutiveMalformed {
				return "", fmt.Errorf("react.Engine.Run: %d consecutive empty replies: %w", malformed, ErrLLMProtocol)
			}
			history = append(history,
				llm.Message{Role: llm.RoleAssistant, Content: completion.Content},
				llm.Message{Role: llm.RoleUser, Content: "Continue the investigation: call a tool or produce the final answer."},
			)
			continue
		}
		malformed = 0

		if thought := strings.TrimSpace(completion.Content); thought != "" {
			if err := e.emit(ctx, Event{Type: EventThinking, Content: clip(thought)}); err != nil {
				return "", err
			}
		}

		history = append(history, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		})

		for _, call := range completion.ToolCalls {
			observation, err := e.dispatch(ctx, call)
			if err != nil {
				return "", err
			}
			history = append(history, llm.Message{
				Role:       llm.RoleTool,
				Content:    observation.Content,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}
}

// dispatch runs one tool call, emitting tool_start and tool_end around it.
func (e *Engine) dispatch(ctx context.Context, call llm.ToolCall) (tools.Observation, error) {
	if err := e.emit(ctx, Event{Type: EventToolStart, ToolName: call.Name}); err != nil {
		return tools.Observation{}, err
	}

	tool := e.findTool(call.Name)

	var observation tools.Observation
	if tool == nil {
		observation = tools.Observation{
			Content: "ERROR: unknown tool: " + call.Name,
			Failed:  true,
		}
	} else {
		args := call.Arguments
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		observation = tool.Invoke(ctx, args)
	}

	log.Debug().
		Str("tool", call.Name).
		Bool("failed", observation.Failed).
		Int("observation_bytes", len(observation.Content)).
		Msg("tool call dispatched")

	if err := e.emit(ctx, Event{
		Type:     EventToolEnd,
		ToolName: call.Name,
		Content:  clip(observation.Content),
		Failed:   observation.Failed,
	}); err != nil {
		return tools.Observation{}, err
	}

	return observation, nil
}

// forceFinal issues one last completion, without tools, demanding the
// answer. A transient failure here surfaces as a retryable timeout.
func (e *Engine) forceFinal(ctx context.Context, history []llm.Message) (string, error) {
	history = append(history, llm.Message{Role: llm.RoleUser, Content: forcedFinalDirective})

	completion, err := e.model.Complete(ctx, &llm.Request{
		Model:       e.modelName,
		Messages:    history,
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		if llm.IsTransient(err) {
			return "", fmt.Errorf("react.Engine.forceFinal: %v: %w", err, ErrTimeout)
		}
		return "", fmt.Errorf("react.Engine.forceFinal: %w", err)
	}

	answer := strings.TrimSpace(completion.Content)
	if answer == "" {
		return "", fmt.Errorf("react.Engine.forceFinal: empty forced answer: %w", ErrLLMProtocol)
	}

	return answer, nil
}

func (e *Engine) emit(ctx context.Context, ev Event) error {
	if err := e.sink(ctx, ev); err != nil {
		return fmt.Errorf("react.Engine: emit %s: %w", ev.Type, err)
	}
	return nil
}

func (e *Engine) findTool(name string) *tools.Tool {
	for _, t := range e.toolset {
		if t.Name == name {
			return t
		}
	}
	return nil
}

func (e *Engine) manifest() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(e.toolset))
	for _, t := range e.toolset {
		defs = append(defs, llm.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Schema:      t.SchemaMap(),
		})
	}
	return defs
}

func clip(s string) string {
	if len(s) <= frameContentLimit {
		return s
	}
	return s[:frameContentLimit]
}
