package core

import (
	"github.com/Swind/go-taskkit/internal/ring"
)

const (
	// maxAllowedConcurrency is the maximum allowed value for maxConcurrency parameter.
	// Values higher than this could lead to excessive goroutine creation and memory exhaustion.
	maxAllowedConcurrency = 10000
)

// QueueKind selects how many tasks a queue runs at once.
type QueueKind int

const (
	// Serial queues run exactly one task at a time, in ready order.
	Serial QueueKind = iota
	// Concurrent queues run up to MaxConcurrency tasks at a time.
	Concurrent
)

func (k QueueKind) String() string {
	if k == Serial {
		return "serial"
	}
	return "concurrent"
}

// DefaultConcurrency passed as maxConcurrency creates an auto-sized queue.
// It starts at runtime.NumCPU() and is resized by the optimizer's device
// profile; queues with an explicit limit keep it.
const DefaultConcurrency = 0

// executionQueue holds the scheduling state of one named queue. Every field
// except history is guarded by the scheduler lock.
type executionQueue struct {
	name           string
	kind           QueueKind
	qos            QoS
	maxConcurrency int
	baseline       int
	autoSized      bool
	suspended      bool
	destroying     bool

	ready   readyQueue
	waiting map[TaskID]*Task // queued, dependencies outstanding
	// inflight holds Running tasks that are not terminal yet. slots counts
	// bodies still executing, which may outlive a timed out task's state.
	inflight map[TaskID]*Task
	slots    int
	drained  chan struct{}

	submitted int64
	completed int64
	failed    int64
	cancelled int64
	rejected  int64

	history *ring.Buffer[TaskExecutionRecord]
}

func newExecutionQueue(name string, kind QueueKind, qos QoS, maxConcurrency, historyCap int) *executionQueue {
	return &executionQueue{
		name:           name,
		kind:           kind,
		qos:            qos,
		maxConcurrency: maxConcurrency,
		baseline:       maxConcurrency,
		ready:          newReadyQueue(),
		waiting:        make(map[TaskID]*Task),
		inflight:       make(map[TaskID]*Task),
		history:        ring.New[TaskExecutionRecord](historyCap),
	}
}

func (q *executionQueue) effectiveConcurrency() int {
	if q.kind == Serial {
		return 1
	}
	return q.maxConcurrency
}

func (q *executionQueue) depth() int { return q.ready.len() + len(q.waiting) }

func (q *executionQueue) status() QueueStatus {
	st := QueueStatus{
		Name:           q.name,
		Kind:           q.kind,
		QoS:            q.qos,
		MaxConcurrency: q.maxConcurrency,
		Baseline:       q.baseline,
		AutoSized:      q.autoSized,
		Suspended:      q.suspended,
		Destroying:     q.destroying,
		Ready:          q.ready.len(),
		Waiting:        len(q.waiting),
		Running:        q.slots,
		Submitted:      q.submitted,
		Completed:      q.completed,
		Failed:         q.failed,
		Cancelled:      q.cancelled,
		Rejected:       q.rejected,
	}
	if last, ok := q.history.Last(); ok {
		st.LastTaskName = last.Name
		st.LastTaskAt = last.FinishedAt
	}
	return st
}

// countTerminal updates the lifetime counters for a task that reached s.
func (q *executionQueue) countTerminal(s TaskState) {
	switch s {
	case TaskCompleted:
		q.completed++
	case TaskFailed:
		q.failed++
	case TaskCancelled:
		q.cancelled++
	}
}

// checkDrained closes drained once a destroying queue has no live tasks.
func (q *executionQueue) checkDrained() {
	if q.destroying && q.drained != nil && len(q.inflight) == 0 && q.depth() == 0 {
		close(q.drained)
		q.drained = nil
	}
}

// QueueHandle is a stable reference to a queue returned by CreateQueue.
type QueueHandle struct {
	s *Scheduler
	q *executionQueue
}

func (h *QueueHandle) Name() string    { return h.q.name }
func (h *QueueHandle) Kind() QueueKind { return h.q.kind }
func (h *QueueHandle) QoS() QoS        { return h.q.qos }

// Stats returns the current status of the queue.
func (h *QueueHandle) Stats() QueueStatus {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.q.status()
}

// RecentTasks returns execution records in newest-first order.
func (h *QueueHandle) RecentTasks(limit int) []TaskExecutionRecord {
	return h.q.history.Recent(limit)
}

// Submit is shorthand for Scheduler.Submit on this queue.
func (h *QueueHandle) Submit(t *Task) (*Task, error) {
	return h.s.Submit(t, h.q.name)
}
