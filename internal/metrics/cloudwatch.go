package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatch metric and dimension names.
const (
	MetricWebhookEvent   = "WebhookEvent"
	MetricWebhookLatency = "WebhookLatency"
	MetricRequest        = "Request"
	MetricRequestLatency = "RequestLatency"
	DimEventType         = "EventType"
	DimOutcome           = "Outcome"
	DimRoute             = "Route"
	DimStatusClass       = "StatusClass"
)

// CloudWatchClient abstracts PutMetricData for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch publishes one PutMetricData call per recorded event, carrying a
// count datum and a latency datum.
type CloudWatch struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

func NewCloudWatch(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatch {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatch{client: client, namespace: namespace, logger: logger}
}

func (c *CloudWatch) RecordWebhook(ctx context.Context, eventType string, outcome WebhookOutcome, d time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(c.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricWebhookEvent),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(DimEventType), Value: aws.String(eventType)},
					{Name: aws.String(DimOutcome), Value: aws.String(string(outcome))},
				},
			},
			{
				MetricName: aws.String(MetricWebhookLatency),
				Value:      aws.Float64(float64(d.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(DimEventType), Value: aws.String(eventType)},
				},
			},
		},
	}

	if _, err := c.client.PutMetricData(ctx, input); err != nil {
		c.logger.ErrorContext(ctx, "failed to record webhook metric",
			"error", err.Error(),
			"event_type", eventType,
			"outcome", string(outcome),
		)
	}
}

// RecordRequest groups statuses into classes ("2xx", "4xx") to keep the
// dimension cardinality low.
func (c *CloudWatch) RecordRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	routeDim := method + " " + route
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(c.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricRequest),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(DimRoute), Value: aws.String(routeDim)},
					{Name: aws.String(DimStatusClass), Value: aws.String(statusClass(status))},
				},
			},
			{
				MetricName: aws.String(MetricRequestLatency),
				Value:      aws.Float64(float64(d.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(DimRoute), Value: aws.String(routeDim)},
				},
			},
		},
	}

	if _, err := c.client.PutMetricData(ctx, input); err != nil {
		c.logger.ErrorContext(ctx, "failed to record request metric",
			"error", err.Error(),
			"route", routeDim,
			"status", status,
		)
	}
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

var _ Recorder = (*CloudWatch)(nil)
