package core

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics during execution.
// This allows custom panic handling, logging, and recovery strategies.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context of the panicked task
	// - queue: The name of the queue the task ran on
	// - taskID: The panicked task
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, queue string, taskID TaskID, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs the panic and its stack at error level.
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs panic information.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, queue string, taskID TaskID, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger("core")
	}
	logger.Error("task panicked",
		F("queue", queue),
		F("task", taskID.String()),
		F("panic", fmt.Sprint(panicInfo)),
		F("stack", string(stackTrace)),
	)
}

// PanicError is the terminal error of a task whose body panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("task panicked: %v", e.Value) }

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting task execution metrics.
// Implementations can send metrics to monitoring systems (Prometheus, OpenTelemetry, etc.).
//
// Methods are invoked outside the scheduler lock but on hot paths; they
// should be non-blocking and fast.
type Metrics interface {
	// RecordTaskExecution is called once for every task that started running,
	// when it reaches a terminal state.
	RecordTaskExecution(record TaskExecutionRecord)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(queue string, panicInfo any)

	// RecordQueueDepth records the number of queued (not yet running) tasks.
	RecordQueueDepth(queue string, depth int)

	// RecordTaskRejected records that a submission was refused.
	RecordTaskRejected(queue string, reason string)

	// RecordQueueEvent records queue lifecycle changes.
	RecordQueueEvent(queue string, event QueueEvent)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskExecution(record TaskExecutionRecord)  {}
func (m *NilMetrics) RecordTaskPanic(queue string, panicInfo any)     {}
func (m *NilMetrics) RecordQueueDepth(queue string, depth int)        {}
func (m *NilMetrics) RecordTaskRejected(queue string, reason string)  {}
func (m *NilMetrics) RecordQueueEvent(queue string, event QueueEvent) {}

// MultiMetrics fans every call out to each of its members, in order.
type MultiMetrics []Metrics

func (mm MultiMetrics) RecordTaskExecution(record TaskExecutionRecord) {
	for _, m := range mm {
		m.RecordTaskExecution(record)
	}
}

func (mm MultiMetrics) RecordTaskPanic(queue string, panicInfo any) {
	for _, m := range mm {
		m.RecordTaskPanic(queue, panicInfo)
	}
}

func (mm MultiMetrics) RecordQueueDepth(queue string, depth int) {
	for _, m := range mm {
		m.RecordQueueDepth(queue, depth)
	}
}

func (mm MultiMetrics) RecordTaskRejected(queue string, reason string) {
	for _, m := range mm {
		m.RecordTaskRejected(queue, reason)
	}
}

func (mm MultiMetrics) RecordQueueEvent(queue string, event QueueEvent) {
	for _, m := range mm {
		m.RecordQueueEvent(queue, event)
	}
}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected tasks
// =============================================================================

// RejectedTaskHandler is called when a submission is refused because the
// target queue is missing, suspended, being destroyed, or the scheduler is
// shut down. Submit still returns the error to its caller.
type RejectedTaskHandler interface {
	HandleRejectedTask(queue string, task *Task, reason string)
}

// DefaultRejectedTaskHandler logs rejected tasks at warn level.
type DefaultRejectedTaskHandler struct {
	Logger Logger
}

func (h *DefaultRejectedTaskHandler) HandleRejectedTask(queue string, task *Task, reason string) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger("core")
	}
	logger.Warn("task rejected", F("queue", queue), F("task", task.String()), F("reason", reason))
}

// =============================================================================
// Config: Configuration for Scheduler
// =============================================================================

const (
	defaultCancelGracePeriod   = 5 * time.Second
	defaultTaskHistoryCapacity = 100
)

// Config holds configuration options for Scheduler.
// All handlers are optional; if not provided, default implementations will be used.
type Config struct {
	Logger Logger

	// PanicHandler is called when a task panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics is called to record task execution metrics. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedTaskHandler is called when a submission is refused.
	RejectedTaskHandler RejectedTaskHandler

	// Tracer creates one span per task execution. Defaults to the global
	// OpenTelemetry tracer provider.
	Tracer trace.Tracer

	// CancelGracePeriod bounds how long a cancelled running task without its
	// own timeout may keep its non-terminal state.
	CancelGracePeriod time.Duration

	// CascadeCancellation cancels queued dependents when a dependency is
	// cancelled or fails. When false they stay queued until cancelled
	// explicitly.
	CascadeCancellation bool

	// HistoryCapacity is the size of each queue's execution history ring.
	HistoryCapacity int
}

// DefaultConfig returns a config with default handlers.
func DefaultConfig() *Config {
	logger := NewDefaultLogger("core")
	return &Config{
		Logger:              logger,
		PanicHandler:        &DefaultPanicHandler{Logger: logger},
		Metrics:             &NilMetrics{},
		RejectedTaskHandler: &DefaultRejectedTaskHandler{Logger: logger},
		Tracer:              otel.Tracer(tracerName),
		CancelGracePeriod:   defaultCancelGracePeriod,
		HistoryCapacity:     defaultTaskHistoryCapacity,
	}
}

func (c *Config) withDefaults() Config {
	out := *DefaultConfig()
	if c == nil {
		return out
	}
	if c.Logger != nil {
		out.Logger = c.Logger
		out.PanicHandler = &DefaultPanicHandler{Logger: c.Logger}
		out.RejectedTaskHandler = &DefaultRejectedTaskHandler{Logger: c.Logger}
	}
	if c.PanicHandler != nil {
		out.PanicHandler = c.PanicHandler
	}
	if c.Metrics != nil {
		out.Metrics = c.Metrics
	}
	if c.RejectedTaskHandler != nil {
		out.RejectedTaskHandler = c.RejectedTaskHandler
	}
	if c.Tracer != nil {
		out.Tracer = c.Tracer
	}
	if c.CancelGracePeriod > 0 {
		out.CancelGracePeriod = c.CancelGracePeriod
	}
	if c.HistoryCapacity > 0 {
		out.HistoryCapacity = c.HistoryCapacity
	}
	out.CascadeCancellation = c.CascadeCancellation
	return out
}
