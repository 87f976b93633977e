package core

import "time"

// TaskExecutionRecord captures one finished task execution.
type TaskExecutionRecord struct {
	TaskID     TaskID
	Name       string
	Queue      string
	QoS        QoS
	Priority   int
	State      TaskState
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Err        string
	Panicked   bool
}

// QueueEvent is a lifecycle change reported through Metrics.RecordQueueEvent.
type QueueEvent string

const (
	QueueCreated     QueueEvent = "created"
	QueueDestroyed   QueueEvent = "destroyed"
	QueueSuspended   QueueEvent = "suspended"
	QueueResumed     QueueEvent = "resumed"
	QueueConcurrency QueueEvent = "concurrency_changed"
)

// QueueStatus represents runtime observability state for an execution queue.
type QueueStatus struct {
	Name           string
	Kind           QueueKind
	QoS            QoS
	MaxConcurrency int
	Baseline       int
	AutoSized      bool
	Suspended      bool
	Destroying     bool
	Ready          int
	Waiting        int
	Running        int
	Submitted      int64
	Completed      int64
	Failed         int64
	Cancelled      int64
	Rejected       int64
	LastTaskName   string
	LastTaskAt     time.Time
}

// Depth is the number of queued tasks, ready or waiting on dependencies.
func (s QueueStatus) Depth() int { return s.Ready + s.Waiting }

// EffectiveConcurrency is 1 for serial queues and MaxConcurrency otherwise.
func (s QueueStatus) EffectiveConcurrency() int {
	if s.Kind == Serial {
		return 1
	}
	return s.MaxConcurrency
}
