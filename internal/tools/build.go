package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/causeway-ai/causeway/internal/domain"
	"github.com/causeway-ai/causeway/internal/providers"
)

// Builder assembles the per-turn tool set from a workspace's available
// capabilities. Each (provider, capability) pair becomes a distinct tool,
// e.g. logs.search.grafana and logs.search.datadog, so the agent can pick a
// provider and an operator can see which one it picked.
type Builder struct {
	registry *providers.Registry
	timeout  time.Duration
	clock    func() time.Time
}

func NewBuilder(registry *providers.Registry, timeout time.Duration) *Builder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Builder{registry: registry, timeout: timeout, clock: time.Now}
}

// Build returns one tool per available (capability, provider). An empty set
// is valid; the agent copes with whatever is absent.
func (b *Builder) Build(ctx context.Context, workspaceID uuid.UUID) ([]*Tool, error) {
	refs, err := b.registry.ListCapabilities(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("tools.Builder.Build: %w", err)
	}

	out := make([]*Tool, 0, len(refs))
	for _, ref := range refs {
		tool, buildErr := b.buildOne(workspaceID, ref)
		if buildErr != nil {
			return nil, fmt.Errorf("tools.Builder.Build: %w", buildErr)
		}
		out = append(out, tool)
	}

	return out, nil
}

func (b *Builder) buildOne(workspaceID uuid.UUID, ref providers.CapabilityRef) (*Tool, error) {
	name := fmt.Sprintf("%s.%s", ref.Capability, ref.Provider)

	var (
		tool *Tool
		err  error
	)
	switch ref.Capability {
	case providers.CapLogsSearch:
		tool, err = New(name,
			fmt.Sprintf("Search application logs in %s. Use when you need raw log lines for a service, optionally filtered by a search term.", ref.Provider),
			logsSearchSchema, b.timeout, b.logsSearchInvoke(workspaceID, ref.Provider))
	case providers.CapLogsErrors:
		tool, err = New(name,
			fmt.Sprintf("Fetch recent error-level logs for a service from %s. Use this first when investigating failures or elevated error rates.", ref.Provider),
			logsErrorsSchema, b.timeout, b.logsErrorsInvoke(workspaceID, ref.Provider))
	case providers.CapMetricsQuery:
		tool, err = New(name,
			fmt.Sprintf("Run a raw metrics query against %s using that provider's native query language. Use for questions the canned cpu/memory/latency tools cannot answer.", ref.Provider),
			metricsQuerySchema, b.timeout, b.metricsQueryInvoke(workspaceID, ref.Provider))
	case providers.CapMetricsCPU:
		tool, err = New(name,
			fmt.Sprintf("Fetch CPU utilization for a service from %s. Use when investigating slowness, throttling, or saturation.", ref.Provider),
			metricsResourceSchema, b.timeout, b.metricsCPUInvoke(workspaceID, ref.Provider))
	case providers.CapMetricsMemory:
		tool, err = New(name,
			fmt.Sprintf("Fetch memory usage for a service from %s. Use when investigating OOM kills, leaks, or memory pressure.", ref.Provider),
			metricsResourceSchema, b.timeout, b.metricsMemoryInvoke(workspaceID, ref.Provider))
	case providers.CapMetricsLatency:
		tool, err = New(name,
			fmt.Sprintf("Fetch request latency percentiles for a service from %s. Use when the question is about slow responses.", ref.Provider),
			metricsLatencySchema, b.timeout, b.metricsLatencyInvoke(workspaceID, ref.Provider))
	case providers.CapCodeListRepos:
		tool, err = New(name,
			"List the repositories the workspace has connected. Use to discover repository names before reading files or commits.",
			emptySchema, b.timeout, b.codeListReposInvoke(workspaceID, ref.Provider))
	case providers.CapCodeRead:
		tool, err = New(name,
			"Read one file from a connected repository. Use after a code search or commit listing points at a specific file.",
			codeReadSchema, b.timeout, b.codeReadInvoke(workspaceID, ref.Provider))
	case providers.CapCodeSearch:
		tool, err = New(name,
			"Search code across connected repositories. Use to locate where an error message, endpoint, or config value is defined.",
			codeSearchSchema, b.timeout, b.codeSearchInvoke(workspaceID, ref.Provider))
	case providers.CapCodeListCommits:
		tool, err = New(name,
			"List recent commits for a repository. Use to correlate an incident window with recent changes.",
			codeCommitsSchema, b.timeout, b.codeCommitsInvoke(workspaceID, ref.Provider))
	default:
		return nil, fmt.Errorf("unknown capability %q", ref.Capability)
	}
	if err != nil {
		return nil, err
	}

	provider := ref.Provider
	tool.onUnauthorized = func(ctx context.Context) {
		_ = b.registry.MarkUnhealthy(ctx, workspaceID, provider)
	}

	return tool, nil
}

// ---------------------------------------------------------------------------
// Input schemas
// ---------------------------------------------------------------------------

//nolint:gochecknoglobals // static schema definitions
var (
	logsSearchSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"service":       map[string]any{"type": "string", "minLength": 1, "description": "Service name exactly as it appears in the log store"},
			"search":        map[string]any{"type": "string", "description": "Optional text to filter log lines by"},
			"since_minutes": map[string]any{"type": "integer", "minimum": 1, "maximum": 1440, "description": "Look-back window in minutes (default 60)"},
			"limit":         map[string]any{"type": "integer", "minimum": 1, "maximum": 200, "description": "Maximum entries to return (default 50)"},
		},
		"required":             []any{"service"},
		"additionalProperties": false,
	}

	logsErrorsSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"service":       map[string]any{"type": "string", "minLength": 1, "description": "Service name exactly as it appears in the log store"},
			"since_minutes": map[string]any{"type": "integer", "minimum": 1, "maximum": 1440, "description": "Look-back window in minutes (default 60)"},
			"limit":         map[string]any{"type": "integer", "minimum": 1, "maximum": 200, "description": "Maximum entries to return (default 50)"},
		},
		"required":             []any{"service"},
		"additionalProperties": false,
	}

	metricsQuerySchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":         map[string]any{"type": "string", "minLength": 1, "description": "Provider-native metrics query (PromQL, Datadog query, NRQL, or CloudWatch metric math)"},
			"since_minutes": map[string]any{"type": "integer", "minimum": 1, "maximum": 1440, "description": "Look-back window in minutes (default 60)"},
			"step_seconds":  map[string]any{"type": "integer", "minimum": 10, "maximum": 3600, "description": "Resolution in seconds (default 60)"},
		},
		"required":             []any{"query"},
		"additionalProperties": false,
	}

	metricsResourceSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"service":       map[string]any{"type": "string", "minLength": 1, "description": "Service name"},
			"since_minutes": map[string]any{"type": "integer", "minimum": 1, "maximum": 1440, "description": "Look-back window in minutes (default 60)"},
		},
		"required":             []any{"service"},
		"additionalProperties": false,
	}

	metricsLatencySchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"service":       map[string]any{"type": "string", "minLength": 1, "description": "Service name"},
			"percentile":    map[string]any{"type": "number", "exclusiveMinimum": 0, "exclusiveMaximum": 1, "description": "Percentile as a fraction, e.g. 0.99 (default 0.99)"},
			"since_minutes": map[string]any{"type": "integer", "minimum": 1, "maximum": 1440, "description": "Look-back window in minutes (default 60)"},
		},
		"required":             []any{"service"},
		"additionalProperties": false,
	}

	emptySchema = map[string]any{
		"type":                 "object",
		"properties":           map[string]any{},
		"additionalProperties": false,
	}

	codeReadSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"repo": map[string]any{"type": "string", "minLength": 1, "description": "Repository name without owner"},
			"path": map[string]any{"type": "string", "minLength": 1, "description": "File path within the repository"},
			"ref":  map[string]any{"type": "string", "description": "Branch, tag, or commit SHA (default: repository default branch)"},
		},
		"required":             []any{"repo", "path"},
		"additionalProperties": false,
	}

	codeSearchSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "minLength": 1, "description": "Text to search for"},
			"repo":  map[string]any{"type": "string", "description": "Optional repository to scope the search to"},
			"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": 50, "description": "Maximum matches (default 20)"},
		},
		"required":             []any{"query"},
		"additionalProperties": false,
	}

	codeCommitsSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"repo":   map[string]any{"type": "string", "minLength": 1, "description": "Repository name without owner"},
			"branch": map[string]any{"type": "string", "description": "Branch name (default: repository default branch)"},
			"limit":  map[string]any{"type": "integer", "minimum": 1, "maximum": 100, "description": "Maximum commits (default 20)"},
		},
		"required":             []any{"repo"},
		"additionalProperties": false,
	}
)

// ---------------------------------------------------------------------------
// Invoke closures
// ---------------------------------------------------------------------------

type logsInput struct {
	Service      string `json:"service"`
	Search       string `json:"search"`
	SinceMinutes int    `json:"since_minutes"`
	Limit        int    `json:"limit"`
}

type metricsQueryInput struct {
	Query        string `json:"query"`
	SinceMinutes int    `json:"since_minutes"`
	StepSeconds  int    `json:"step_seconds"`
}

type metricsResourceInput struct {
	Service      string  `json:"service"`
	Percentile   float64 `json:"percentile"`
	SinceMinutes int     `json:"since_minutes"`
}

type codeReadInput struct {
	Repo string `json:"repo"`
	Path string `json:"path"`
	Ref  string `json:"ref"`
}

type codeSearchInput struct {
	Query string `json:"query"`
	Repo  string `json:"repo"`
	Limit int    `json:"limit"`
}

type codeCommitsInput struct {
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
	Limit  int    `json:"limit"`
}

func (b *Builder) window(sinceMinutes int) providers.TimeRange {
	if sinceMinutes <= 0 {
		sinceMinutes = 60
	}
	now := b.clock().UTC()
	return providers.TimeRange{Start: now.Add(-time.Duration(sinceMinutes) * time.Minute), End: now}
}

func (b *Builder) logsSearchInvoke(workspaceID uuid.UUID, provider domain.Provider) func(context.Context, json.RawMessage) (string, error) {
	return func(ctx context.Context, raw json.RawMessage) (string, error) {
		var in logsInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return "", err
		}
		adapter, err := b.registry.OpenLogs(ctx, workspaceID, provider)
		if err != nil {
			return "", err
		}
		entries, err := adapter.SearchLogs(ctx, providers.LogQuery{
			Service: in.Service,
			Search:  in.Search,
			Range:   b.window(in.SinceMinutes),
			Limit:   in.Limit,
		})
		if err != nil {
			return "", err
		}
		return formatLogs(entries), nil
	}
}

func (b *Builder) logsErrorsInvoke(workspaceID uuid.UUID, provider domain.Provider) func(context.Context, json.RawMessage) (string, error) {
	return func(ctx context.Context, raw json.RawMessage) (string, error) {
		var in logsInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return "", err
		}
		adapter, err := b.registry.OpenLogs(ctx, workspaceID, provider)
		if err != nil {
			return "", err
		}
		entries, err := adapter.ErrorLogs(ctx, in.Service, b.window(in.SinceMinutes), in.Limit)
		if err != nil {
			return "", err
		}
		return formatLogs(entries), nil
	}
}

func (b *Builder) metricsQueryInvoke(workspaceID uuid.UUID, provider domain.Provider) func(context.Context, json.RawMessage) (string, error) {
	return func(ctx context.Context, raw json.RawMessage) (string, error) {
		var in metricsQueryInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return "", err
		}
		adapter, err := b.registry.OpenMetrics(ctx, workspaceID, provider)
		if err != nil {
			return "", err
		}
		step := time.Duration(in.StepSeconds) * time.Second
		series, err := adapter.QueryMetrics(ctx, in.Query, b.window(in.SinceMinutes), step)
		if err != nil {
			return "", err
		}
		return formatSeries(series), nil
	}
}

func (b *Builder) metricsCPUInvoke(workspaceID uuid.UUID, provider domain.Provider) func(context.Context, json.RawMessage) (string, error) {
	return func(ctx context.Context, raw json.RawMessage) (string, error) {
		var in metricsResourceInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return "", err
		}
		adapter, err := b.registry.OpenMetrics(ctx, workspaceID, provider)
		if err != nil {
			return "", err
		}
		series, err := adapter.CPUUsage(ctx, in.Service, b.window(in.SinceMinutes))
		if err != nil {
			return "", err
		}
		return formatSeries(series), nil
	}
}

func (b *Builder) metricsMemoryInvoke(workspaceID uuid.UUID, provider domain.Provider) func(context.Context, json.RawMessage) (string, error) {
	return func(ctx context.Context, raw json.RawMessage) (string, error) {
		var in metricsResourceInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return "", err
		}
		adapter, err := b.registry.OpenMetrics(ctx, workspaceID, provider)
		if err != nil {
			return "", err
		}
		series, err := adapter.MemoryUsage(ctx, in.Service, b.window(in.SinceMinutes))
		if err != nil {
			return "", err
		}
		return formatSeries(series), nil
	}
}

func (b *Builder) metricsLatencyInvoke(workspaceID uuid.UUID, provider domain.Provider) func(context.Context, json.RawMessage) (string, error) {
	return func(ctx context.Context, raw json.RawMessage) (string, error) {
		var in metricsResourceInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return "", err
		}
		if in.Percentile == 0 {
			in.Percentile = 0.99
		}
		adapter, err := b.registry.OpenMetrics(ctx, workspaceID, provider)
		if err != nil {
			return "", err
		}
		series, err := adapter.Latency(ctx, in.Service, in.Percentile, b.window(in.SinceMinutes))
		if err != nil {
			return "", err
		}
		return formatSeries(series), nil
	}
}

func (b *Builder) codeListReposInvoke(workspaceID uuid.UUID, provider domain.Provider) func(context.Context, json.RawMessage) (string, error) {
	return func(ctx context.Context, _ json.RawMessage) (string, error) {
		adapter, err := b.registry.OpenCode(ctx, workspaceID, provider)
		if err != nil {
			return "", err
		}
		repos, err := adapter.ListRepos(ctx)
		if err != nil {
			return "", err
		}
		return formatRepos(repos), nil
	}
}

func (b *Builder) codeReadInvoke(workspaceID uuid.UUID, provider domain.Provider) func(context.Context, json.RawMessage) (string, error) {
	return func(ctx context.Context, raw json.RawMessage) (string, error) {
		var in codeReadInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return "", err
		}
		adapter, err := b.registry.OpenCode(ctx, workspaceID, provider)
		if err != nil {
			return "", err
		}
		content, err := adapter.ReadFile(ctx, in.Repo, in.Path, in.Ref)
		if err != nil {
			return "", err
		}
		return content, nil
	}
}

func (b *Builder) codeSearchInvoke(workspaceID uuid.UUID, provider domain.Provider) func(context.Context, json.RawMessage) (string, error) {
	return func(ctx context.Context, raw json.RawMessage) (string, error) {
		var in codeSearchInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return "", err
		}
		adapter, err := b.registry.OpenCode(ctx, workspaceID, provider)
		if err != nil {
			return "", err
		}
		matches, err := adapter.SearchCode(ctx, in.Repo, in.Query, in.Limit)
		if err != nil {
			return "", err
		}
		return formatMatches(matches), nil
	}
}

func (b *Builder) codeCommitsInvoke(workspaceID uuid.UUID, provider domain.Provider) func(context.Context, json.RawMessage) (string, error) {
	return func(ctx context.Context, raw json.RawMessage) (string, error) {
		var in codeCommitsInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return "", err
		}
		adapter, err := b.registry.OpenCode(ctx, workspaceID, provider)
		if err != nil {
			return "", err
		}
		commits, err := adapter.ListCommits(ctx, in.Repo, in.Branch, in.Limit)
		if err != nil {
			return "", err
		}
		return formatCommits(commits), nil
	}
}
