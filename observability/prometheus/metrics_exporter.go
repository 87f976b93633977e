// Package prometheus exports scheduler metrics and periodic queue and
// primitive snapshots as Prometheus collectors.
package prometheus

import (
	"errors"
	"fmt"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-taskkit/core"
)

const defaultNamespace = "taskkit"

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskDurationSeconds *prom.HistogramVec
	taskExecutionsTotal *prom.CounterVec
	taskPanicTotal      *prom.CounterVec
	taskRejectedTotal   *prom.CounterVec
	queueDepth          *prom.GaugeVec
	queueEventsTotal    *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
// Registering twice against the same registry reuses the existing collectors.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"queue", "qos"})
	executionsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_executions_total",
		Help:      "Finished task executions by final state.",
	}, []string{"queue", "state"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of task panics.",
	}, []string{"queue"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Total number of rejected submissions.",
	}, []string{"queue", "reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Queued tasks, ready or waiting on dependencies.",
	}, []string{"queue"})
	eventsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "queue_events_total",
		Help:      "Queue lifecycle events.",
	}, []string{"queue", "event"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if executionsVec, err = registerCollector(reg, executionsVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if eventsVec, err = registerCollector(reg, eventsVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds: durationVec,
		taskExecutionsTotal: executionsVec,
		taskPanicTotal:      panicVec,
		taskRejectedTotal:   rejectedVec,
		queueDepth:          queueDepthVec,
		queueEventsTotal:    eventsVec,
	}, nil
}

// RecordTaskExecution records the duration and final state of a task.
func (m *MetricsExporter) RecordTaskExecution(rec core.TaskExecutionRecord) {
	if m == nil {
		return
	}
	queue := normalizeLabel(rec.Queue, "unknown")
	m.taskDurationSeconds.WithLabelValues(queue, rec.QoS.String()).Observe(rec.Duration.Seconds())
	m.taskExecutionsTotal.WithLabelValues(queue, rec.State.String()).Inc()
}

// RecordTaskPanic records task panic events.
func (m *MetricsExporter) RecordTaskPanic(queue string, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(normalizeLabel(queue, "unknown")).Inc()
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(queue, "unknown")).Set(float64(depth))
}

// RecordTaskRejected records rejected submissions.
func (m *MetricsExporter) RecordTaskRejected(queue string, reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(normalizeLabel(queue, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordQueueEvent counts lifecycle events. A destroyed queue's depth gauge
// is removed.
func (m *MetricsExporter) RecordQueueEvent(queue string, event core.QueueEvent) {
	if m == nil {
		return
	}
	queue = normalizeLabel(queue, "unknown")
	m.queueEventsTotal.WithLabelValues(queue, string(event)).Inc()
	if event == core.QueueDestroyed {
		m.queueDepth.DeleteLabelValues(queue)
	}
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
