package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/smithy-go"
)

// CloudWatchCredentials is the sealed payload of an AWS integration.
type CloudWatchCredentials struct {
	Region          string `json:"region"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	// LogGroupPrefix is prepended to the service name to form the log
	// group, e.g. "/ecs/".
	LogGroupPrefix string `json:"log_group_prefix"`
	// MetricNamespace scopes canned CPU/memory helpers, e.g. "AWS/ECS".
	MetricNamespace string `json:"metric_namespace"`
}

// CloudWatchAdapter implements LogsAdapter over CloudWatch Logs and
// MetricsAdapter over CloudWatch metric data queries. Latency percentiles
// are not offered; the capability map excludes metrics.latency for this
// provider.
type CloudWatchAdapter struct {
	creds   CloudWatchCredentials
	logs    *cloudwatchlogs.Client
	metrics *cloudwatch.Client
}

func NewCloudWatchAdapter(ctx context.Context, creds CloudWatchCredentials) (*CloudWatchAdapter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(creds.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("providers.NewCloudWatchAdapter: %w", err)
	}

	return &CloudWatchAdapter{
		creds:   creds,
		logs:    cloudwatchlogs.NewFromConfig(cfg),
		metrics: cloudwatch.NewFromConfig(cfg),
	}, nil
}

func (a *CloudWatchAdapter) SearchLogs(ctx context.Context, q LogQuery) ([]LogEntry, error) {
	return a.filterLogs(ctx, q.Service, q.Search, q.Range, q.Limit)
}

func (a *CloudWatchAdapter) ErrorLogs(ctx context.Context, service string, tr TimeRange, limit int) ([]LogEntry, error) {
	return a.filterLogs(ctx, service, "?ERROR ?Exception ?FATAL", tr, limit)
}

func (a *CloudWatchAdapter) filterLogs(ctx context.Context, service, pattern string, tr TimeRange, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	input := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName: aws.String(a.creds.LogGroupPrefix + service),
		StartTime:    aws.Int64(tr.Start.UnixMilli()),
		EndTime:      aws.Int64(tr.End.UnixMilli()),
		Limit:        aws.Int32(int32(limit)),
	}
	if pattern != "" {
		input.FilterPattern = aws.String(pattern)
	}

	out, err := a.logs.FilterLogEvents(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("providers.CloudWatchAdapter: filter log events: %w", classifyAWSError(err))
	}

	entries := make([]LogEntry, 0, len(out.Events))
	for _, ev := range out.Events {
		entries = append(entries, LogEntry{
			Timestamp: time.UnixMilli(aws.ToInt64(ev.Timestamp)).UTC(),
			Service:   service,
			Message:   aws.ToString(ev.Message),
		})
	}

	return entries, nil
}

func (a *CloudWatchAdapter) QueryMetrics(ctx context.Context, expr string, tr TimeRange, step time.Duration) ([]Series, error) {
	if step <= 0 {
		step = time.Minute
	}

	out, err := a.metrics.GetMetricData(ctx, &cloudwatch.GetMetricDataInput{
		StartTime: aws.Time(tr.Start),
		EndTime:   aws.Time(tr.End),
		MetricDataQueries: []cwtypes.MetricDataQuery{{
			Id:         aws.String("q0"),
			Expression: aws.String(expr),
			Period:     aws.Int32(int32(step.Seconds())),
			ReturnData: aws.Bool(true),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("providers.CloudWatchAdapter: get metric data: %w", classifyAWSError(err))
	}

	var series []Series
	for _, r := range out.MetricDataResults {
		s := Series{Labels: map[string]string{"label": aws.ToString(r.Label)}}
		for i := range r.Timestamps {
			if i >= len(r.Values) {
				break
			}
			s.Points = append(s.Points, Point{Timestamp: r.Timestamps[i].UTC(), Value: r.Values[i]})
		}
		series = append(series, s)
	}

	return series, nil
}

func (a *CloudWatchAdapter) CPUUsage(ctx context.Context, service string, tr TimeRange) ([]Series, error) {
	return a.statQuery(ctx, service, "CPUUtilization", tr)
}

func (a *CloudWatchAdapter) MemoryUsage(ctx context.Context, service string, tr TimeRange) ([]Series, error) {
	return a.statQuery(ctx, service, "MemoryUtilization", tr)
}

// Latency is not supported for CloudWatch; the capability map never routes
// metrics.latency here.
func (a *CloudWatchAdapter) Latency(context.Context, string, float64, TimeRange) ([]Series, error) {
	return nil, errors.New("providers.CloudWatchAdapter: latency not supported")
}

func (a *CloudWatchAdapter) statQuery(ctx context.Context, service, metric string, tr TimeRange) ([]Series, error) {
	namespace := a.creds.MetricNamespace
	if namespace == "" {
		namespace = "AWS/ECS"
	}

	out, err := a.metrics.GetMetricData(ctx, &cloudwatch.GetMetricDataInput{
		StartTime: aws.Time(tr.Start),
		EndTime:   aws.Time(tr.End),
		MetricDataQueries: []cwtypes.MetricDataQuery{{
			Id: aws.String("q0"),
			MetricStat: &cwtypes.MetricStat{
				Metric: &cwtypes.Metric{
					Namespace:  aws.String(namespace),
					MetricName: aws.String(metric),
					Dimensions: []cwtypes.Dimension{{
						Name:  aws.String("ServiceName"),
						Value: aws.String(service),
					}},
				},
				Period: aws.Int32(60),
				Stat:   aws.String("Average"),
			},
			ReturnData: aws.Bool(true),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("providers.CloudWatchAdapter: %s query: %w", metric, classifyAWSError(err))
	}

	var series []Series
	for _, r := range out.MetricDataResults {
		s := Series{Labels: map[string]string{"metric": metric, "service": service}}
		for i := range r.Timestamps {
			if i >= len(r.Values) {
				break
			}
			s.Points = append(s.Points, Point{Timestamp: r.Timestamps[i].UTC(), Value: r.Values[i]})
		}
		series = append(series, s)
	}

	return series, nil
}

func classifyAWSError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "UnrecognizedClientException", "InvalidClientTokenId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.ErrorCode())
		case "ThrottlingException", "ServiceUnavailableException", "RequestTimeout":
			return fmt.Errorf("%w: %s", ErrUnavailable, apiErr.ErrorCode())
		default:
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
