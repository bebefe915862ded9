// Package providers resolves per-workspace integration credentials and
// exposes typed adapter handles over observability and code services.
package providers

import (
	"context"
	"errors"
	"time"

	"github.com/causeway-ai/causeway/internal/domain"
)

// Capability names one kind of question an adapter can answer.
type Capability string

const (
	CapLogsSearch      Capability = "logs.search"
	CapLogsErrors      Capability = "logs.errors"
	CapMetricsQuery    Capability = "metrics.query"
	CapMetricsCPU      Capability = "metrics.cpu"
	CapMetricsMemory   Capability = "metrics.memory"
	CapMetricsLatency  Capability = "metrics.latency"
	CapCodeRead        Capability = "code.read"
	CapCodeSearch      Capability = "code.search"
	CapCodeListCommits Capability = "code.list_commits"
	CapCodeListRepos   Capability = "code.list_repos"
)

// Sentinel errors adapters return so callers can route the failure: an
// unauthorized adapter marks its integration unhealthy, an unavailable one
// surfaces to the agent as a retryable observation.
var (
	ErrUnauthorized = errors.New("providers: unauthorized")
	ErrUnavailable  = errors.New("providers: upstream unavailable")
)

type TimeRange struct {
	Start time.Time
	End   time.Time
}

type LogQuery struct {
	Service string
	Search  string
	Range   TimeRange
	Limit   int
}

type LogEntry struct {
	Timestamp time.Time
	Level     string
	Service   string
	Message   string
}

type Point struct {
	Timestamp time.Time
	Value     float64
}

type Series struct {
	Labels map[string]string
	Points []Point
}

type Repo struct {
	Name          string
	DefaultBranch string
	Description   string
}

type CodeMatch struct {
	Repo     string
	Path     string
	Fragment string
}

type Commit struct {
	SHA     string
	Author  string
	Message string
	When    time.Time
}

// LogsAdapter answers log questions for one workspace integration. The
// handle holds decrypted credentials for the lifetime of one tool call.
type LogsAdapter interface {
	SearchLogs(ctx context.Context, q LogQuery) ([]LogEntry, error)
	ErrorLogs(ctx context.Context, service string, tr TimeRange, limit int) ([]LogEntry, error)
}

// MetricsAdapter answers metric questions.
type MetricsAdapter interface {
	QueryMetrics(ctx context.Context, expr string, tr TimeRange, step time.Duration) ([]Series, error)
	CPUUsage(ctx context.Context, service string, tr TimeRange) ([]Series, error)
	MemoryUsage(ctx context.Context, service string, tr TimeRange) ([]Series, error)
	Latency(ctx context.Context, service string, percentile float64, tr TimeRange) ([]Series, error)
}

// CodeAdapter answers repository questions.
type CodeAdapter interface {
	ListRepos(ctx context.Context) ([]Repo, error)
	ReadFile(ctx context.Context, repo, path, ref string) (string, error)
	SearchCode(ctx context.Context, repo, query string, limit int) ([]CodeMatch, error)
	ListCommits(ctx context.Context, repo, branch string, limit int) ([]Commit, error)
}

// providerCapabilities maps each provider to what its adapter implements.
//
//nolint:gochecknoglobals // static capability map
var providerCapabilities = map[domain.Provider][]Capability{
	domain.ProviderGrafana: {
		CapLogsSearch, CapLogsErrors,
		CapMetricsQuery, CapMetricsCPU, CapMetricsMemory, CapMetricsLatency,
	},
	domain.ProviderDatadog: {
		CapLogsSearch, CapLogsErrors,
		CapMetricsQuery, CapMetricsCPU, CapMetricsMemory, CapMetricsLatency,
	},
	domain.ProviderNewRelic: {
		CapLogsSearch, CapLogsErrors,
		CapMetricsQuery, CapMetricsCPU, CapMetricsMemory, CapMetricsLatency,
	},
	domain.ProviderCloudWatch: {
		CapLogsSearch, CapLogsErrors,
		CapMetricsQuery, CapMetricsCPU, CapMetricsMemory,
	},
	domain.ProviderGitHub: {
		CapCodeRead, CapCodeSearch, CapCodeListCommits, CapCodeListRepos,
	},
}

// Capabilities returns the capability list for a provider.
func Capabilities(p domain.Provider) []Capability {
	return providerCapabilities[p]
}

// IsLogs reports whether c is a log capability.
func (c Capability) IsLogs() bool { return c == CapLogsSearch || c == CapLogsErrors }

// IsMetrics reports whether c is a metric capability.
func (c Capability) IsMetrics() bool {
	switch c {
	case CapMetricsQuery, CapMetricsCPU, CapMetricsMemory, CapMetricsLatency:
		return true
	}
	return false
}

// IsCode reports whether c is a code capability.
func (c Capability) IsCode() bool {
	switch c {
	case CapCodeRead, CapCodeSearch, CapCodeListCommits, CapCodeListRepos:
		return true
	}
	return false
}
