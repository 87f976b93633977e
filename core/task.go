package core

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Swind/go-taskkit/primitives"
)

// TaskFunc is the unit of work. ctx is cancelled when the task is cancelled,
// times out, or its queue is destroyed; long-running bodies should check it
// at their yield points and return promptly.
type TaskFunc func(ctx context.Context) error

// TaskID is assigned from a process-wide counter and never reused.
type TaskID uint64

var lastTaskID atomic.Uint64

func nextTaskID() TaskID { return TaskID(lastTaskID.Add(1)) }

func (id TaskID) String() string { return fmt.Sprintf("task-%d", uint64(id)) }

// =============================================================================
// QoS: scheduling hint shared by queues and tasks
// =============================================================================

type QoS int

const (
	QoSBackground QoS = iota
	QoSUtility
	QoSDefault
	QoSUserInitiated
	QoSUserInteractive
)

func (q QoS) String() string {
	switch q {
	case QoSBackground:
		return "background"
	case QoSUtility:
		return "utility"
	case QoSDefault:
		return "default"
	case QoSUserInitiated:
		return "userInitiated"
	case QoSUserInteractive:
		return "userInteractive"
	default:
		return fmt.Sprintf("qos(%d)", int(q))
	}
}

// ParseQoS accepts the names produced by String.
func ParseQoS(s string) (QoS, bool) {
	for q := QoSBackground; q <= QoSUserInteractive; q++ {
		if q.String() == s {
			return q, true
		}
	}
	return QoSDefault, false
}

// =============================================================================
// TaskState
// =============================================================================

type TaskState int32

const (
	TaskCreated TaskState = iota
	TaskQueued
	TaskRunning
	TaskCompleted
	TaskFailed
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskCreated:
		return "created"
	case TaskQueued:
		return "queued"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseTaskState accepts the names produced by String.
func ParseTaskState(s string) (TaskState, bool) {
	for st := TaskCreated; st <= TaskCancelled; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return TaskCreated, false
}

// Terminal reports whether no further transition is possible.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// =============================================================================
// Task
// =============================================================================

// Task is a schedulable unit of work and, once submitted, its own handle.
// Dependency edges and priority are owned by the Scheduler; the accessors
// below are safe to call from any goroutine.
type Task struct {
	id      TaskID
	name    string
	fn      TaskFunc
	timeout time.Duration
	initial []*Task

	// guarded by the owning Scheduler's lock
	priority   int
	qos        QoS
	qosSet     bool
	queue      *executionQueue
	sched      *Scheduler
	deps       map[TaskID]*Task
	dependents map[TaskID]*Task
	seq        uint64
	heapIndex  int
	cancel     context.CancelCauseFunc
	cancelReq  bool
	deadline   *deadlineEntry

	mu        sync.Mutex
	state     TaskState
	err       error
	createdAt time.Time
	queuedAt  time.Time
	startedAt time.Time
	endedAt   time.Time
	done      chan struct{}
}

// TaskOption configures a Task at construction.
type TaskOption func(*Task)

// WithPriority sets the ordering priority within a queue; higher runs first.
func WithPriority(p int) TaskOption {
	return func(t *Task) { t.priority = p }
}

// WithQoS overrides the QoS class, which otherwise follows the queue.
func WithQoS(q QoS) TaskOption {
	return func(t *Task) {
		t.qos = q
		t.qosSet = true
	}
}

// WithTimeout fails the task with a timeout error if it runs longer than d.
func WithTimeout(d time.Duration) TaskOption {
	return func(t *Task) { t.timeout = d }
}

// DependsOn declares dependencies; they are validated when the task is
// submitted.
func DependsOn(tasks ...*Task) TaskOption {
	return func(t *Task) { t.initial = append(t.initial, tasks...) }
}

// NewTask creates a task in the Created state. An empty name is replaced by
// the function's symbol name.
func NewTask(name string, fn TaskFunc, opts ...TaskOption) *Task {
	t := &Task{
		id:         nextTaskID(),
		name:       resolveTaskName(fn, name),
		fn:         fn,
		qos:        QoSDefault,
		deps:       make(map[TaskID]*Task),
		dependents: make(map[TaskID]*Task),
		heapIndex:  -1,
		state:      TaskCreated,
		createdAt:  time.Now(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Task) ID() TaskID             { return t.id }
func (t *Task) Name() string           { return t.name }
func (t *Task) Timeout() time.Duration { return t.timeout }

// Owner is the identity recorded on primitives acquired from inside the task.
func (t *Task) Owner() primitives.Owner { return primitives.Owner(t.id.String()) }

func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the terminal error: nil for completed tasks, the body's error
// for failed ones, and a timeout or cancellation error otherwise.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done is closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task is terminal and returns Err.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Times returns created, queued, started and ended timestamps; unset ones are
// zero.
func (t *Task) Times() (created, queued, started, ended time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.createdAt, t.queuedAt, t.startedAt, t.endedAt
}

func (t *Task) String() string {
	return fmt.Sprintf("%s(%s)", t.name, t.id)
}

// setState applies a transition. It returns false if t is already terminal.
func (t *Task) setState(s TaskState, err error, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return false
	}
	t.state = s
	switch s {
	case TaskQueued:
		t.queuedAt = at
	case TaskRunning:
		t.startedAt = at
	}
	if s.Terminal() {
		t.err = err
		t.endedAt = at
		close(t.done)
	}
	return true
}

// TaskSnapshot is an immutable view of a non-terminal task.
type TaskSnapshot struct {
	ID           TaskID
	Name         string
	Queue        string
	QoS          QoS
	Priority     int
	State        TaskState
	CreatedAt    time.Time
	QueuedAt     time.Time
	StartedAt    time.Time
	// Dependencies counts the dependencies that have not completed yet.
	Dependencies int
	Dependents   int
}

func resolveTaskName(fn TaskFunc, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if fn == nil {
		return "anonymous"
	}

	pc := reflect.ValueOf(fn).Pointer()
	if pc == 0 {
		return "anonymous"
	}
	f := runtime.FuncForPC(pc)
	if f == nil || f.Name() == "" {
		return "anonymous"
	}
	return f.Name()
}
