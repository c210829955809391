package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"companion/internal/types"
)

// mockCloudWatch captures PutMetricData calls.
type mockCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestPublishTick(t *testing.T) {
	cw := &mockCloudWatch{}
	pub := NewPublisher(cw, "Companion", nil)

	err := pub.PublishTick(context.Background(), types.TickResult{Due: 7, Chunks: 2})
	if err != nil {
		t.Fatalf("PublishTick returned unexpected error: %v", err)
	}

	if len(cw.inputs) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(cw.inputs))
	}
	input := cw.inputs[0]
	if *input.Namespace != "Companion" {
		t.Errorf("unexpected namespace %q", *input.Namespace)
	}
	if len(input.MetricData) != 3 {
		t.Fatalf("expected 3 datums, got %d", len(input.MetricData))
	}

	byName := map[string]float64{}
	for _, d := range input.MetricData {
		byName[*d.MetricName] = *d.Value
	}
	if byName[MetricDispatchTick] != 1 || byName[MetricRemindersDue] != 7 || byName[MetricChunksQueued] != 2 {
		t.Errorf("unexpected datum values %v", byName)
	}
}

func TestPublishQueueDepth_DimensionPerStatus(t *testing.T) {
	cw := &mockCloudWatch{}
	pub := NewPublisher(cw, "Companion", nil)

	err := pub.PublishQueueDepth(context.Background(), map[types.EmailStatus]int64{
		types.EmailStatusPending: 4,
		types.EmailStatusFailed:  1,
	})
	if err != nil {
		t.Fatalf("PublishQueueDepth returned unexpected error: %v", err)
	}

	data := cw.inputs[0].MetricData
	if len(data) != 2 {
		t.Fatalf("expected 2 datums, got %d", len(data))
	}
	for _, d := range data {
		if len(d.Dimensions) != 1 || *d.Dimensions[0].Name != DimStatus {
			t.Errorf("datum missing status dimension: %+v", d)
		}
	}
}

func TestPublish_ErrorIsReturnedAndLogged(t *testing.T) {
	cw := &mockCloudWatch{err: errors.New("throttled")}
	pub := NewPublisher(cw, "Companion", nil)

	if err := pub.PublishTick(context.Background(), types.TickResult{}); err == nil {
		t.Fatal("expected error from CloudWatch failure")
	}
}

func TestPublishQueueDepth_EmptyIsNoop(t *testing.T) {
	cw := &mockCloudWatch{}
	pub := NewPublisher(cw, "Companion", nil)

	if err := pub.PublishQueueDepth(context.Background(), nil); err != nil {
		t.Fatalf("empty publish should be a no-op, got %v", err)
	}
	if len(cw.inputs) != 0 {
		t.Errorf("expected no PutMetricData calls, got %d", len(cw.inputs))
	}
}
