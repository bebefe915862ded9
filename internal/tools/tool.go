// Package tools wraps provider adapters as uniform, schema-typed callables
// the agent may invoke. Tool failures are in-band observations, never
// errors that abort the reasoning loop.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/causeway-ai/causeway/internal/providers"
)

// MaxObservationBytes bounds what one tool call can feed back to the model.
const MaxObservationBytes = 8 * 1024

// DefaultTimeout is the per-call deadline unless the builder overrides it.
const DefaultTimeout = 20 * time.Second

// Observation is the LLM-visible result of one tool call.
type Observation struct {
	Content string
	Failed  bool
}

// Tool is one named, schema-typed callable. The workspace is bound at build
// time by the worker; the model never supplies it.
type Tool struct {
	Name        string
	Description string
	Timeout     time.Duration

	schemaMap map[string]any
	compiled  *jsonschema.Schema

	// invoke runs the underlying adapter call. Errors are translated to
	// ERROR: observations by Invoke.
	invoke func(ctx context.Context, input json.RawMessage) (string, error)

	// onUnauthorized fires when the adapter reports bad credentials, so the
	// registry can mark the integration unhealthy.
	onUnauthorized func(ctx context.Context)
}

// New compiles the schema and wires the invoke function. The schema map
// is both presented to the LLM and enforced before dispatch.
func New(name, description string, schemaMap map[string]any, timeout time.Duration, invoke func(ctx context.Context, input json.RawMessage) (string, error)) (*Tool, error) {
	raw, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("tools.New: marshal schema for %s: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := compiler.AddResource(resource, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("tools.New: add schema for %s: %w", name, err)
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("tools.New: compile schema for %s: %w", name, err)
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Tool{
		Name:        name,
		Description: description,
		Timeout:     timeout,
		schemaMap:   schemaMap,
		compiled:    compiled,
		invoke:      invoke,
	}, nil
}

// SchemaMap returns the JSON Schema presented to the model.
func (t *Tool) SchemaMap() map[string]any { return t.schemaMap }

// ValidateInput checks input against the tool's schema without invoking it.
func (t *Tool) ValidateInput(input json.RawMessage) error {
	var value any
	if err := json.Unmarshal(input, &value); err != nil {
		return fmt.Errorf("input is not valid JSON: %w", err)
	}
	if err := t.compiled.Validate(value); err != nil {
		return err
	}
	return nil
}

// Invoke validates input, runs the adapter call under the per-call timeout,
// and renders the result as a bounded observation. It never returns an
// error: failures become ERROR: observations the agent can route around.
func (t *Tool) Invoke(ctx context.Context, input json.RawMessage) Observation {
	if err := t.ValidateInput(input); err != nil {
		return Observation{
			Content: "ERROR: invalid arguments: " + firstLine(err.Error()),
			Failed:  true,
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	content, err := t.invoke(callCtx, input)
	if err != nil {
		return t.observeError(ctx, err)
	}

	return Observation{Content: Truncate(content)}
}

func (t *Tool) observeError(ctx context.Context, err error) Observation {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Observation{
			Content: fmt.Sprintf("ERROR: timeout after %ds", int(t.Timeout.Seconds())),
			Failed:  true,
		}
	case errors.Is(err, providers.ErrUnauthorized):
		if t.onUnauthorized != nil {
			t.onUnauthorized(ctx)
		}
		return Observation{
			Content: "ERROR: integration credentials rejected; this tool is unavailable",
			Failed:  true,
		}
	case errors.Is(err, providers.ErrUnavailable):
		return Observation{
			Content: "ERROR: upstream unavailable: " + firstLine(err.Error()),
			Failed:  true,
		}
	default:
		return Observation{
			Content: "ERROR: " + firstLine(err.Error()),
			Failed:  true,
		}
	}
}

// Truncate bounds an observation to MaxObservationBytes, appending a
// truncation marker when content was dropped.
func Truncate(s string) string {
	if len(s) <= MaxObservationBytes {
		return s
	}
	return s[:MaxObservationBytes] + "…<truncated>"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
