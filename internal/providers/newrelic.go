package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// NewRelicCredentials is the sealed payload of a New Relic integration.
type NewRelicCredentials struct {
	AccountID string `json:"account_id"`
	APIKey    string `json:"api_key"`
	// Region is "US" or "EU"; picks the NerdGraph endpoint.
	Region string `json:"region"`
}

// NewRelicAdapter implements LogsAdapter and MetricsAdapter by issuing NRQL
// through NerdGraph.
type NewRelicAdapter struct {
	creds NewRelicCredentials
	http  *http.Client
}

func NewNewRelicAdapter(creds NewRelicCredentials, client *http.Client) *NewRelicAdapter {
	return &NewRelicAdapter{creds: creds, http: client}
}

func (a *NewRelicAdapter) endpoint() string {
	if strings.EqualFold(a.creds.Region, "EU") {
		return "https://api.eu.newrelic.com/graphql"
	}
	return "https://api.newrelic.com/graphql"
}

func (a *NewRelicAdapter) SearchLogs(ctx context.Context, q LogQuery) ([]LogEntry, error) {
	nrql := fmt.Sprintf("SELECT timestamp, level, message FROM Log WHERE service.name = '%s'", escapeNRQL(q.Service))
	if q.Search != "" {
		nrql += fmt.Sprintf(" AND message LIKE '%%%s%%'", escapeNRQL(q.Search))
	}
	nrql += nrqlWindow(q.Range)
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	nrql += fmt.Sprintf(" LIMIT %d", limit)

	return a.queryLogs(ctx, nrql, q.Service)
}

func (a *NewRelicAdapter) ErrorLogs(ctx context.Context, service string, tr TimeRange, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	nrql := fmt.Sprintf(
		"SELECT timestamp, level, message FROM Log WHERE service.name = '%s' AND level IN ('error', 'fatal')%s LIMIT %d",
		escapeNRQL(service), nrqlWindow(tr), limit,
	)
	return a.queryLogs(ctx, nrql, service)
}

func (a *NewRelicAdapter) queryLogs(ctx context.Context, nrql, service string) ([]LogEntry, error) {
	results, err := a.runNRQL(ctx, nrql)
	if err != nil {
		return nil, fmt.Errorf("providers.NewRelicAdapter: log query: %w", err)
	}

	entries := make([]LogEntry, 0, len(results))
	for _, row := range results {
		entry := LogEntry{Service: service}
		if ts, ok := row["timestamp"].(float64); ok {
			entry.Timestamp = time.UnixMilli(int64(ts)).UTC()
		}
		if level, ok := row["level"].(string); ok {
			entry.Level = level
		}
		if msg, ok := row["message"].(string); ok {
			entry.Message = msg
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func (a *NewRelicAdapter) QueryMetrics(ctx context.Context, expr string, tr TimeRange, _ time.Duration) ([]Series, error) {
	results, err := a.runNRQL(ctx, expr+nrqlWindow(tr)+" TIMESERIES")
	if err != nil {
		return nil, fmt.Errorf("providers.NewRelicAdapter: metric query: %w", err)
	}

	s := Series{Labels: map[string]string{"nrql": expr}}
	for _, row := range results {
		p := Point{}
		if ts, ok := row["beginTimeSeconds"].(float64); ok {
			p.Timestamp = time.Unix(int64(ts), 0).UTC()
		}
		for k, v := range row {
			if k == "beginTimeSeconds" || k == "endTimeSeconds" {
				continue
			}
			if val, ok := v.(float64); ok {
				p.Value = val
				break
			}
		}
		s.Points = append(s.Points, p)
	}

	return []Series{s}, nil
}

func (a *NewRelicAdapter) CPUUsage(ctx context.Context, service string, tr TimeRange) ([]Series, error) {
	expr := fmt.Sprintf("SELECT average(cpuPercent) FROM SystemSample WHERE apmApplicationNames LIKE '%%%s%%'", escapeNRQL(service))
	return a.QueryMetrics(ctx, expr, tr, 0)
}

func (a *NewRelicAdapter) MemoryUsage(ctx context.Context, service string, tr TimeRange) ([]Series, error) {
	expr := fmt.Sprintf("SELECT average(memoryUsedPercent) FROM SystemSample WHERE apmApplicationNames LIKE '%%%s%%'", escapeNRQL(service))
	return a.QueryMetrics(ctx, expr, tr, 0)
}

func (a *NewRelicAdapter) Latency(ctx context.Context, service string, percentile float64, tr TimeRange) ([]Series, error) {
	expr := fmt.Sprintf("SELECT percentile(duration, %g) FROM Transaction WHERE appName = '%s'", percentile*100, escapeNRQL(service))
	return a.QueryMetrics(ctx, expr, tr, 0)
}

// runNRQL executes one NRQL statement via NerdGraph and returns its result
// rows.
func (a *NewRelicAdapter) runNRQL(ctx context.Context, nrql string) ([]map[string]any, error) {
	query := fmt.Sprintf(
		`{ actor { account(id: %s) { nrql(query: %q) { results } } } }`,
		a.creds.AccountID, nrql,
	)

	raw, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("API-Key", a.creds.APIKey)

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyHTTPStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var out struct {
		Data struct {
			Actor struct {
				Account struct {
					NRQL struct {
						Results []map[string]any `json:"results"`
					} `json:"nrql"`
				} `json:"account"`
			} `json:"actor"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("nerdgraph: %s", out.Errors[0].Message)
	}

	return out.Data.Actor.Account.NRQL.Results, nil
}

func nrqlWindow(tr TimeRange) string {
	return fmt.Sprintf(" SINCE %d UNTIL %d", tr.Start.Unix(), tr.End.Unix())
}

func escapeNRQL(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
