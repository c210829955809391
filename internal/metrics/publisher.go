// Package metrics emits pipeline observability metrics to CloudWatch.
// Metric failures are logged and swallowed: observability must never fail
// the pipeline.
package metrics

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"companion/internal/types"
)

// Metric names. DispatchTick doubles as a dead man's switch: an alarm on its
// absence catches a dispatcher that silently stopped firing.
const (
	MetricDispatchTick = "DispatchTick"
	MetricRemindersDue = "RemindersDue"
	MetricChunksQueued = "ChunksQueued"
	MetricChunkSent    = "ChunkSent"
	MetricChunkSkipped = "ChunkSkipped"
	MetricChunkErrors  = "ChunkErrors"
	MetricQueueDepth   = "EmailQueueDepth"
)

// DimStatus is the dimension used for queue depth by entry status.
const DimStatus = "Status"

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Publisher emits pipeline metrics to a CloudWatch namespace.
type Publisher struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewPublisher creates a Publisher for the given namespace.
func NewPublisher(client CloudWatchClient, namespace string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// PublishTick emits the heartbeat and fan-out size for one dispatcher tick.
func (p *Publisher) PublishTick(ctx context.Context, result types.TickResult) error {
	return p.put(ctx,
		datum(MetricDispatchTick, 1),
		datum(MetricRemindersDue, float64(result.Due)),
		datum(MetricChunksQueued, float64(result.Chunks)),
	)
}

// PublishChunkResult emits the outcome counters for one processed chunk.
func (p *Publisher) PublishChunkResult(ctx context.Context, result types.ChunkResult) error {
	return p.put(ctx,
		datum(MetricChunkSent, float64(result.Sent)),
		datum(MetricChunkSkipped, float64(result.Skipped)),
		datum(MetricChunkErrors, float64(result.Errors)),
	)
}

// PublishQueueDepth emits the email queue depth per status.
func (p *Publisher) PublishQueueDepth(ctx context.Context, counts map[types.EmailStatus]int64) error {
	data := make([]cwtypes.MetricDatum, 0, len(counts))
	for status, n := range counts {
		d := datum(MetricQueueDepth, float64(n))
		d.Dimensions = []cwtypes.Dimension{{
			Name:  aws.String(DimStatus),
			Value: aws.String(string(status)),
		}}
		data = append(data, d)
	}
	return p.put(ctx, data...)
}

func (p *Publisher) put(ctx context.Context, data ...cwtypes.MetricDatum) error {
	if len(data) == 0 {
		return nil
	}
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(p.namespace),
		MetricData: data,
	}
	if _, err := p.client.PutMetricData(ctx, input); err != nil {
		p.logger.WarnContext(ctx, "failed to publish metrics",
			"namespace", p.namespace,
			"error", err,
		)
		return err
	}
	return nil
}

func datum(name string, value float64) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       cwtypes.StandardUnitCount,
	}
}
