package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Swind/go-taskkit/core"
)

// Metrics adapts core.Metrics to OpenTelemetry instruments.
type Metrics struct {
	taskDuration   metric.Float64Histogram
	taskExecutions metric.Int64Counter
	taskPanics     metric.Int64Counter
	taskRejected   metric.Int64Counter
	queueDepth     metric.Int64Gauge
	queueEvents    metric.Int64Counter
}

var _ core.Metrics = (*Metrics)(nil)

// NewMetrics creates every instrument from meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.taskDuration, err = meter.Float64Histogram("taskkit.task.duration",
		metric.WithDescription("Task execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.taskExecutions, err = meter.Int64Counter("taskkit.task.executions",
		metric.WithDescription("Finished task executions by final state"),
	)
	if err != nil {
		return nil, err
	}

	m.taskPanics, err = meter.Int64Counter("taskkit.task.panics",
		metric.WithDescription("Recovered task panics"),
	)
	if err != nil {
		return nil, err
	}

	m.taskRejected, err = meter.Int64Counter("taskkit.task.rejected",
		metric.WithDescription("Rejected submissions"),
	)
	if err != nil {
		return nil, err
	}

	m.queueDepth, err = meter.Int64Gauge("taskkit.queue.depth",
		metric.WithDescription("Queued tasks, ready or waiting on dependencies"),
	)
	if err != nil {
		return nil, err
	}

	m.queueEvents, err = meter.Int64Counter("taskkit.queue.events",
		metric.WithDescription("Queue lifecycle events"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func queueAttr(queue string) attribute.KeyValue { return attribute.String("taskkit.queue", queue) }

func (m *Metrics) RecordTaskExecution(rec core.TaskExecutionRecord) {
	ctx := context.Background()
	m.taskDuration.Record(ctx, rec.Duration.Seconds(), metric.WithAttributes(
		queueAttr(rec.Queue),
		attribute.String("taskkit.qos", rec.QoS.String()),
	))
	m.taskExecutions.Add(ctx, 1, metric.WithAttributes(
		queueAttr(rec.Queue),
		attribute.String("taskkit.state", rec.State.String()),
	))
}

func (m *Metrics) RecordTaskPanic(queue string, panicInfo any) {
	m.taskPanics.Add(context.Background(), 1, metric.WithAttributes(queueAttr(queue)))
}

func (m *Metrics) RecordQueueDepth(queue string, depth int) {
	m.queueDepth.Record(context.Background(), int64(depth), metric.WithAttributes(queueAttr(queue)))
}

func (m *Metrics) RecordTaskRejected(queue string, reason string) {
	m.taskRejected.Add(context.Background(), 1, metric.WithAttributes(
		queueAttr(queue),
		attribute.String("taskkit.reason", reason),
	))
}

func (m *Metrics) RecordQueueEvent(queue string, event core.QueueEvent) {
	m.queueEvents.Add(context.Background(), 1, metric.WithAttributes(
		queueAttr(queue),
		attribute.String("taskkit.event", string(event)),
	))
}
