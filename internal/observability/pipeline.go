package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PipelineMetrics holds the counters recorded by the processing pipeline.
// A nil *PipelineMetrics is valid and records nothing.
type PipelineMetrics struct {
	stepsCompleted    metric.Int64Counter
	stepsFailed       metric.Int64Counter
	retries           metric.Int64Counter
	processesFinished metric.Int64Counter
}

// NewPipelineMetrics registers the pipeline instruments on meter.
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	var err error

	if m.stepsCompleted, err = meter.Int64Counter("docplane.steps.completed",
		metric.WithDescription("Process steps that completed")); err != nil {
		return nil, fmt.Errorf("failed to create steps.completed counter: %w", err)
	}
	if m.stepsFailed, err = meter.Int64Counter("docplane.steps.failed",
		metric.WithDescription("Process steps that exhausted their retries")); err != nil {
		return nil, fmt.Errorf("failed to create steps.failed counter: %w", err)
	}
	if m.retries, err = meter.Int64Counter("docplane.extraction.retries",
		metric.WithDescription("Failed attempts against the extraction service")); err != nil {
		return nil, fmt.Errorf("failed to create extraction.retries counter: %w", err)
	}
	if m.processesFinished, err = meter.Int64Counter("docplane.processes.finished",
		metric.WithDescription("Processes that reached a terminal status")); err != nil {
		return nil, fmt.Errorf("failed to create processes.finished counter: %w", err)
	}
	return m, nil
}

// RegisterQueueDepth exposes the readiness re-queue length as a gauge.
func RegisterQueueDepth(meter metric.Meter, depth func() int) error {
	_, err := meter.Int64ObservableGauge("docplane.scheduler.queue_depth",
		metric.WithDescription("Processes waiting for their assets to finish preprocessing"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(depth()))
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create queue_depth gauge: %w", err)
	}
	return nil
}

func (m *PipelineMetrics) StepCompleted(ctx context.Context, processType string) {
	if m == nil {
		return
	}
	m.stepsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("type", processType)))
}

func (m *PipelineMetrics) StepFailed(ctx context.Context, processType string) {
	if m == nil {
		return
	}
	m.stepsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("type", processType)))
}

func (m *PipelineMetrics) Retry(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *PipelineMetrics) ProcessFinished(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.processesFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
