package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// GrafanaCredentials is the sealed payload of a Grafana integration. Loki
// and Prometheus are reached through the Grafana datasource proxy so a
// single API token covers both.
type GrafanaCredentials struct {
	BaseURL          string `json:"base_url"`
	APIToken         string `json:"api_token"`
	LokiDatasourceID string `json:"loki_datasource_id"`
	PromDatasourceID string `json:"prom_datasource_id"`
}

// GrafanaAdapter implements LogsAdapter over Loki and MetricsAdapter over
// Prometheus, both via the Grafana datasource proxy.
type GrafanaAdapter struct {
	creds GrafanaCredentials
	http  *http.Client
}

func NewGrafanaAdapter(creds GrafanaCredentials, client *http.Client) *GrafanaAdapter {
	return &GrafanaAdapter{creds: creds, http: client}
}

func (a *GrafanaAdapter) SearchLogs(ctx context.Context, q LogQuery) ([]LogEntry, error) {
	selector := fmt.Sprintf(`{service=%q}`, q.Service)
	if q.Search != "" {
		selector += fmt.Sprintf(` |= %q`, q.Search)
	}
	return a.queryLoki(ctx, selector, q.Range, q.Limit)
}

func (a *GrafanaAdapter) ErrorLogs(ctx context.Context, service string, tr TimeRange, limit int) ([]LogEntry, error) {
	selector := fmt.Sprintf(`{service=%q} |~ "(?i)(error|exception|fatal|panic)"`, service)
	return a.queryLoki(ctx, selector, tr, limit)
}

func (a *GrafanaAdapter) queryLoki(ctx context.Context, selector string, tr TimeRange, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	params := url.Values{}
	params.Set("query", selector)
	params.Set("start", strconv.FormatInt(tr.Start.UnixNano(), 10))
	params.Set("end", strconv.FormatInt(tr.End.UnixNano(), 10))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("direction", "backward")

	endpoint := fmt.Sprintf("%s/api/datasources/proxy/%s/loki/api/v1/query_range?%s",
		a.creds.BaseURL, a.creds.LokiDatasourceID, params.Encode())

	var resp struct {
		Data struct {
			Result []struct {
				Stream map[string]string `json:"stream"`
				Values [][2]string       `json:"values"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := a.get(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("providers.GrafanaAdapter: loki query: %w", err)
	}

	var entries []LogEntry
	for _, stream := range resp.Data.Result {
		for _, v := range stream.Values {
			ns, _ := strconv.ParseInt(v[0], 10, 64)
			entries = append(entries, LogEntry{
				Timestamp: time.Unix(0, ns).UTC(),
				Level:     stream.Stream["level"],
				Service:   stream.Stream["service"],
				Message:   v[1],
			})
		}
	}

	return entries, nil
}

func (a *GrafanaAdapter) QueryMetrics(ctx context.Context, expr string, tr TimeRange, step time.Duration) ([]Series, error) {
	if step <= 0 {
		step = time.Minute
	}

	params := url.Values{}
	params.Set("query", expr)
	params.Set("start", strconv.FormatInt(tr.Start.Unix(), 10))
	params.Set("end", strconv.FormatInt(tr.End.Unix(), 10))
	params.Set("step", strconv.FormatInt(int64(step.Seconds()), 10))

	endpoint := fmt.Sprintf("%s/api/datasources/proxy/%s/api/v1/query_range?%s",
		a.creds.BaseURL, a.creds.PromDatasourceID, params.Encode())

	var resp struct {
		Data struct {
			Result []struct {
				Metric map[string]string `json:"metric"`
				Values [][2]any          `json:"values"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := a.get(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("providers.GrafanaAdapter: prometheus query: %w", err)
	}

	var series []Series
	for _, r := range resp.Data.Result {
		s := Series{Labels: r.Metric}
		for _, v := range r.Values {
			ts, _ := v[0].(float64)
			raw, _ := v[1].(string)
			val, _ := strconv.ParseFloat(raw, 64)
			s.Points = append(s.Points, Point{Timestamp: time.Unix(int64(ts), 0).UTC(), Value: val})
		}
		series = append(series, s)
	}

	return series, nil
}

func (a *GrafanaAdapter) CPUUsage(ctx context.Context, service string, tr TimeRange) ([]Series, error) {
	expr := fmt.Sprintf(`sum(rate(container_cpu_usage_seconds_total{service=%q}[5m])) by (pod)`, service)
	return a.QueryMetrics(ctx, expr, tr, time.Minute)
}

func (a *GrafanaAdapter) MemoryUsage(ctx context.Context, service string, tr TimeRange) ([]Series, error) {
	expr := fmt.Sprintf(`sum(container_memory_working_set_bytes{service=%q}) by (pod)`, service)
	return a.QueryMetrics(ctx, expr, tr, time.Minute)
}

func (a *GrafanaAdapter) Latency(ctx context.Context, service string, percentile float64, tr TimeRange) ([]Series, error) {
	expr := fmt.Sprintf(`histogram_quantile(%g, sum(rate(http_request_duration_seconds_bucket{service=%q}[5m])) by (le))`,
		percentile, service)
	return a.QueryMetrics(ctx, expr, tr, time.Minute)
}

func (a *GrafanaAdapter) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.creds.APIToken)

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyHTTPStatus(resp.StatusCode); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// classifyHTTPStatus maps upstream status codes onto the adapter sentinels.
func classifyHTTPStatus(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, status)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, status)
	default:
		return fmt.Errorf("unexpected status %d", status)
	}
}
