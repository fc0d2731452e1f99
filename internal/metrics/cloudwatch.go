// Package metrics publishes PM sweep, completion and API request metrics to
// CloudWatch.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"facilitypm/internal/scheduler"
	"facilitypm/internal/types"
)

// requestMetricTimeout bounds the PutMetricData call made per API request.
const requestMetricTimeout = 2 * time.Second

// CloudWatchClient abstracts PutMetricData for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Completion outcomes.
const (
	ResultCompleted = "completed"
	ResultUnlinked  = "unlinked"
	ResultFailed    = "failed"
)

var _ scheduler.SweepMetrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics emits:
//
//	PMSweepDue, PMSweepGenerated, PMSweepStale, PMSweepFailed,
//	PMSweepOccurrencesToppedUp, PMSweepDuration  once per sweep
//	PMCompletionEvents {Result}                  per completion event
//	APIRequestCount, APILatency {Method, Endpoint, Status}
//
// Every datum carries the Environment dimension. Publishing failures are
// logged and never returned.
type CloudWatchMetrics struct {
	client      CloudWatchClient
	namespace   string
	environment string
	logger      *slog.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics. An empty namespace uses
// types.MetricNamespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace, environment string, logger *slog.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{
		client:      client,
		namespace:   namespace,
		environment: environment,
		logger:      logger,
	}
}

// RecordSweep implements scheduler.SweepMetrics.
func (m *CloudWatchMetrics) RecordSweep(ctx context.Context, r scheduler.SweepResult) {
	m.put(ctx, "sweep",
		m.datum(types.MetricSweepDue, float64(r.Due), cwtypes.StandardUnitCount),
		m.datum(types.MetricSweepGenerated, float64(r.Processed), cwtypes.StandardUnitCount),
		m.datum(types.MetricSweepStale, float64(r.Stale), cwtypes.StandardUnitCount),
		m.datum(types.MetricSweepFailed, float64(r.Failed), cwtypes.StandardUnitCount),
		m.datum(types.MetricSweepToppedUp, float64(r.ToppedUp), cwtypes.StandardUnitCount),
		m.datum(types.MetricSweepDuration, float64(r.Duration.Milliseconds()), cwtypes.StandardUnitMilliseconds),
	)
}

// RecordCompletion counts one completion event by outcome.
func (m *CloudWatchMetrics) RecordCompletion(ctx context.Context, result string) {
	m.put(ctx, "completion",
		m.datum(types.MetricCompletionEvents, 1, cwtypes.StandardUnitCount, dim(types.DimResult, result)),
	)
}

// RecordRequest implements core.MetricsCollector.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), requestMetricTimeout)
	defer cancel()

	dims := []cwtypes.Dimension{
		dim(types.DimMethod, method),
		dim(types.DimEndpoint, endpoint),
		dim(types.DimStatus, status),
	}
	m.put(ctx, "request",
		m.datum(types.MetricAPIRequestCount, 1, cwtypes.StandardUnitCount, dims...),
		m.datum(types.MetricAPILatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds, dims...),
	)
}

func (m *CloudWatchMetrics) datum(name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Dimensions: append([]cwtypes.Dimension{dim(types.DimEnvironment, m.environment)}, dims...),
	}
}

func (m *CloudWatchMetrics) put(ctx context.Context, kind string, data ...cwtypes.MetricDatum) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "failed to publish metrics", "kind", kind, "error", err)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}
