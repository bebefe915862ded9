package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DatadogCredentials is the sealed payload of a Datadog integration.
type DatadogCredentials struct {
	// Site is the Datadog site domain, e.g. "datadoghq.com" or
	// "datadoghq.eu".
	Site   string `json:"site"`
	APIKey string `json:"api_key"`
	AppKey string `json:"app_key"`
}

// DatadogAdapter implements LogsAdapter over the Logs Search API v2 and
// MetricsAdapter over the timeseries query API v1.
type DatadogAdapter struct {
	creds DatadogCredentials
	http  *http.Client
}

func NewDatadogAdapter(creds DatadogCredentials, client *http.Client) *DatadogAdapter {
	if creds.Site == "" {
		creds.Site = "datadoghq.com"
	}
	return &DatadogAdapter{creds: creds, http: client}
}

func (a *DatadogAdapter) SearchLogs(ctx context.Context, q LogQuery) ([]LogEntry, error) {
	query := fmt.Sprintf("service:%s", q.Service)
	if q.Search != "" {
		query += " " + q.Search
	}
	return a.searchLogs(ctx, query, q.Range, q.Limit)
}

func (a *DatadogAdapter) ErrorLogs(ctx context.Context, service string, tr TimeRange, limit int) ([]LogEntry, error) {
	return a.searchLogs(ctx, fmt.Sprintf("service:%s status:error", service), tr, limit)
}

func (a *DatadogAdapter) searchLogs(ctx context.Context, query string, tr TimeRange, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	body := map[string]any{
		"filter": map[string]any{
			"query": query,
			"from":  tr.Start.UTC().Format(time.RFC3339),
			"to":    tr.End.UTC().Format(time.RFC3339),
		},
		"page": map[string]any{"limit": limit},
		"sort": "-timestamp",
	}

	var resp struct {
		Data []struct {
			Attributes struct {
				Timestamp time.Time `json:"timestamp"`
				Status    string    `json:"status"`
				Service   string    `json:"service"`
				Message   string    `json:"message"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := a.call(ctx, http.MethodPost, "/api/v2/logs/events/search", body, &resp); err != nil {
		return nil, fmt.Errorf("providers.DatadogAdapter: log search: %w", err)
	}

	entries := make([]LogEntry, 0, len(resp.Data))
	for _, d := range resp.Data {
		entries = append(entries, LogEntry{
			Timestamp: d.Attributes.Timestamp.UTC(),
			Level:     d.Attributes.Status,
			Service:   d.Attributes.Service,
			Message:   d.Attributes.Message,
		})
	}

	return entries, nil
}

func (a *DatadogAdapter) QueryMetrics(ctx context.Context, expr string, tr TimeRange, _ time.Duration) ([]Series, error) {
	params := url.Values{}
	params.Set("query", expr)
	params.Set("from", strconv.FormatInt(tr.Start.Unix(), 10))
	params.Set("to", strconv.FormatInt(tr.End.Unix(), 10))

	var resp struct {
		Series []struct {
			Scope      string       `json:"scope"`
			PointList  [][2]float64 `json:"pointlist"`
			Expression string       `json:"expression"`
		} `json:"series"`
	}
	if err := a.call(ctx, http.MethodGet, "/api/v1/query?"+params.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("providers.DatadogAdapter: metric query: %w", err)
	}

	var series []Series
	for _, s := range resp.Series {
		out := Series{Labels: map[string]string{"scope": s.Scope}}
		for _, p := range s.PointList {
			out.Points = append(out.Points, Point{
				Timestamp: time.UnixMilli(int64(p[0])).UTC(),
				Value:     p[1],
			})
		}
		series = append(series, out)
	}

	return series, nil
}

func (a *DatadogAdapter) CPUUsage(ctx context.Context, service string, tr TimeRange) ([]Series, error) {
	return a.QueryMetrics(ctx, fmt.Sprintf("avg:system.cpu.user{service:%s}", service), tr, 0)
}

func (a *DatadogAdapter) MemoryUsage(ctx context.Context, service string, tr TimeRange) ([]Series, error) {
	return a.QueryMetrics(ctx, fmt.Sprintf("avg:system.mem.used{service:%s}", service), tr, 0)
}

func (a *DatadogAdapter) Latency(ctx context.Context, service string, percentile float64, tr TimeRange) ([]Series, error) {
	pct := int(percentile * 100)
	return a.QueryMetrics(ctx, fmt.Sprintf("p%d:trace.http.request.duration{service:%s}", pct, service), tr, 0)
}

func (a *DatadogAdapter) call(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	endpoint := "https://api." + a.creds.Site + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("DD-API-KEY", a.creds.APIKey)
	req.Header.Set("DD-APPLICATION-KEY", a.creds.AppKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

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
