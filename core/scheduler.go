package core

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/Swind/go-taskkit/errdefs"
	"github.com/Swind/go-taskkit/primitives"
)

// Scheduler owns the queue registry, the dependency graph and every
// submitted task. All bookkeeping is guarded by one go-deadlock mutex; task
// bodies and Metrics callbacks never run while it is held.
type Scheduler struct {
	mu     deadlock.Mutex
	queues map[string]*executionQueue
	tasks  map[TaskID]*Task // submitted and not yet terminal
	seq    uint64
	closed bool

	cfg       Config
	logger    Logger
	deadlines *deadlineManager
	baseCtx   context.Context
	stopAll   context.CancelFunc
}

// NewScheduler creates a scheduler. cfg may be nil.
func NewScheduler(cfg *Config) *Scheduler {
	c := cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		queues:    make(map[string]*executionQueue),
		tasks:     make(map[TaskID]*Task),
		cfg:       c,
		logger:    c.Logger,
		deadlines: newDeadlineManager(),
		baseCtx:   ctx,
		stopAll:   cancel,
	}
}

// effects collects work that must run after the scheduler lock is released.
type effects []func()

func (e *effects) add(f func()) { *e = append(*e, f) }

func (e effects) run() {
	for _, f := range e {
		f()
	}
}

// =============================================================================
// Queue registry
// =============================================================================

// CreateQueue registers a queue. A maxConcurrency of DefaultConcurrency (or
// below) makes the queue auto-sized. Serial queues ignore the limit.
func (s *Scheduler) CreateQueue(name string, kind QueueKind, qos QoS, maxConcurrency int) (*QueueHandle, error) {
	if name == "" {
		return nil, errdefs.InvalidArgument("queue name must not be empty")
	}
	if maxConcurrency > maxAllowedConcurrency {
		return nil, errdefs.InvalidArgument("queue %q: maxConcurrency must not exceed %d", name, maxAllowedConcurrency)
	}
	autoSized := maxConcurrency <= DefaultConcurrency
	if autoSized {
		maxConcurrency = runtime.NumCPU()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errdefs.NewInvalidStateError("create queue on", "scheduler", "closed")
	}
	if _, ok := s.queues[name]; ok {
		s.mu.Unlock()
		return nil, errdefs.NewDuplicateNameError("queue", name)
	}
	q := newExecutionQueue(name, kind, qos, maxConcurrency, s.cfg.HistoryCapacity)
	q.autoSized = autoSized
	s.queues[name] = q
	s.mu.Unlock()

	s.logger.Info("queue created",
		F("queue", name), F("kind", kind.String()), F("qos", qos.String()), F("maxConcurrency", maxConcurrency))
	s.cfg.Metrics.RecordQueueEvent(name, QueueCreated)
	return &QueueHandle{s: s, q: q}, nil
}

// Queue returns a handle to an existing queue.
func (s *Scheduler) Queue(name string) (*QueueHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[name]
	if !ok {
		return nil, errdefs.NewNotFoundError("queue", name)
	}
	return &QueueHandle{s: s, q: q}, nil
}

// ListQueues returns the status of every queue, sorted by name.
func (s *Scheduler) ListQueues() []QueueStatus {
	s.mu.Lock()
	out := make([]QueueStatus, 0, len(s.queues))
	for _, q := range s.queues {
		out = append(out, q.status())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Suspend stops dispatch from the queue and makes it reject submissions.
// Running tasks are not affected.
func (s *Scheduler) Suspend(name string) error {
	return s.setSuspended(name, true)
}

// Resume re-enables a suspended queue and dispatches its ready tasks.
func (s *Scheduler) Resume(name string) error {
	return s.setSuspended(name, false)
}

func (s *Scheduler) setSuspended(name string, suspended bool) error {
	var fx effects
	s.mu.Lock()
	q, ok := s.queues[name]
	if !ok {
		s.mu.Unlock()
		return errdefs.NewNotFoundError("queue", name)
	}
	changed := q.suspended != suspended
	q.suspended = suspended
	if !suspended {
		s.dispatchLocked(q, &fx)
	}
	s.mu.Unlock()
	fx.run()

	if changed {
		event := QueueResumed
		if suspended {
			event = QueueSuspended
		}
		s.logger.Info("queue "+string(event), F("queue", name))
		s.cfg.Metrics.RecordQueueEvent(name, event)
	}
	return nil
}

// SetMaxConcurrency changes the current limit of a queue. Lowering it never
// preempts running tasks; raising it dispatches immediately.
func (s *Scheduler) SetMaxConcurrency(name string, n int) error {
	return s.setConcurrency(name, n, false)
}

// SetBaselineConcurrency changes both the current limit and the baseline the
// optimizer restores towards.
func (s *Scheduler) SetBaselineConcurrency(name string, n int) error {
	return s.setConcurrency(name, n, true)
}

func (s *Scheduler) setConcurrency(name string, n int, rebase bool) error {
	if n < 1 || n > maxAllowedConcurrency {
		return errdefs.InvalidArgument("queue %q: maxConcurrency must be in [1, %d], got %d", name, maxAllowedConcurrency, n)
	}
	var fx effects
	s.mu.Lock()
	q, ok := s.queues[name]
	if !ok {
		s.mu.Unlock()
		return errdefs.NewNotFoundError("queue", name)
	}
	old := q.maxConcurrency
	q.maxConcurrency = n
	if rebase {
		q.baseline = n
	}
	s.dispatchLocked(q, &fx)
	s.mu.Unlock()
	fx.run()

	if old != n {
		s.logger.Debug("queue concurrency changed", F("queue", name), F("from", old), F("to", n))
		s.cfg.Metrics.RecordQueueEvent(name, QueueConcurrency)
	}
	return nil
}

// DestroyQueue cancels every pending task of the queue, requests cooperative
// cancellation of its running tasks, waits until none of them is live (or
// ctx ends) and removes the queue.
func (s *Scheduler) DestroyQueue(ctx context.Context, name string) error {
	var fx effects
	s.mu.Lock()
	q, ok := s.queues[name]
	if !ok {
		s.mu.Unlock()
		return errdefs.NewNotFoundError("queue", name)
	}
	pending := q.depth()
	if !q.destroying {
		q.destroying = true
		q.drained = make(chan struct{})
		reason := fmt.Errorf("queue %q destroyed: %w", name, errdefs.ErrCancelled)
		for _, t := range q.ready.drain() {
			s.terminateLocked(t, TaskCancelled, reason, &fx)
		}
		for _, t := range sortedTasks(q.waiting) {
			s.terminateLocked(t, TaskCancelled, reason, &fx)
		}
		for _, t := range sortedTasks(q.inflight) {
			s.requestCancelLocked(t)
		}
		q.checkDrained()
	}
	drained := q.drained
	s.mu.Unlock()
	fx.run()

	s.logger.Info("destroying queue", F("queue", name), F("cancelledPending", pending))

	var waitErr error
	if drained != nil {
		select {
		case <-drained:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				waitErr = errdefs.NewTimeoutError("destroy queue", name, 0)
			} else {
				waitErr = fmt.Errorf("destroy queue %q: %w", name, errdefs.ErrCancelled)
			}
		}
	}

	s.mu.Lock()
	removed := s.queues[name] == q
	if removed {
		delete(s.queues, name)
	}
	s.mu.Unlock()

	if removed {
		s.cfg.Metrics.RecordQueueEvent(name, QueueDestroyed)
		s.cfg.Metrics.RecordQueueDepth(name, 0)
	}
	return waitErr
}

// =============================================================================
// Task lifecycle
// =============================================================================

// Submit places t on the named queue. The returned task is t itself and
// serves as its handle.
func (s *Scheduler) Submit(t *Task, queueName string) (*Task, error) {
	if t == nil {
		return nil, errdefs.InvalidArgument("task must not be nil")
	}

	var fx effects
	s.mu.Lock()
	q, ok := s.queues[queueName]
	var reason string
	switch {
	case s.closed:
		reason = "scheduler shut down"
	case !ok:
		reason = "no such queue"
	case q.suspended:
		reason = "suspended"
	case q.destroying:
		reason = "being destroyed"
	}
	if reason != "" {
		if q != nil {
			q.rejected++
		}
		s.mu.Unlock()
		s.reject(queueName, t, reason)
		return nil, errdefs.NewQueueUnavailableError(queueName, reason)
	}

	if err := s.bindLocked(t); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if st := t.State(); st != TaskCreated {
		s.mu.Unlock()
		return nil, errdefs.NewInvalidStateError("submit", t.String(), st.String())
	}
	for _, dep := range t.initial {
		if err := s.checkEdgeLocked(t, dep); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	for _, dep := range t.initial {
		s.linkLocked(t, dep)
	}
	t.initial = nil

	s.seq++
	t.seq = s.seq
	t.queue = q
	if !t.qosSet {
		t.qos = q.qos
	}
	t.setState(TaskQueued, nil, time.Now())
	q.submitted++
	s.tasks[t.id] = t

	if s.readyLocked(t) {
		q.ready.push(t)
	} else {
		q.waiting[t.id] = t
		s.cascadeIntoLocked(t, &fx)
	}
	s.dispatchLocked(q, &fx)
	s.mu.Unlock()
	fx.run()

	s.logger.Debug("task submitted", F("task", t.String()), F("queue", queueName), F("priority", t.priority))
	return t, nil
}

func (s *Scheduler) reject(queue string, t *Task, reason string) {
	s.cfg.RejectedTaskHandler.HandleRejectedTask(queue, t, reason)
	s.cfg.Metrics.RecordTaskRejected(queue, reason)
}

// Cancel cancels t. Created and queued tasks become Cancelled at once. A
// running task has its context cancelled and becomes Cancelled when its body
// returns, when its own timeout elapses or when the configured
// CancelGracePeriod elapses, whichever comes first.
func (s *Scheduler) Cancel(t *Task) error {
	if t == nil {
		return errdefs.InvalidArgument("task must not be nil")
	}
	var fx effects
	s.mu.Lock()
	if err := s.bindLocked(t); err != nil {
		s.mu.Unlock()
		return err
	}
	switch st := t.State(); st {
	case TaskCancelled:
	case TaskCompleted, TaskFailed:
		s.mu.Unlock()
		return errdefs.NewInvalidStateError("cancel", t.String(), st.String())
	case TaskCreated, TaskQueued:
		s.terminateLocked(t, TaskCancelled, fmt.Errorf("%s: %w", t, errdefs.ErrCancelled), &fx)
	case TaskRunning:
		s.requestCancelLocked(t)
	}
	s.mu.Unlock()
	fx.run()
	return nil
}

// SetPriority changes the ordering priority of a task that has not started.
func (s *Scheduler) SetPriority(t *Task, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.bindLocked(t); err != nil {
		return err
	}
	if st := t.State(); st != TaskCreated && st != TaskQueued {
		return errdefs.NewInvalidStateError("set priority of", t.String(), st.String())
	}
	t.priority = priority
	if t.queue != nil {
		t.queue.ready.fix(t)
	}
	return nil
}

// AwaitCompletion waits for t to become terminal and returns its error. A
// positive timeout bounds the wait with a timeout error; the task itself is
// left alone.
func (s *Scheduler) AwaitCompletion(ctx context.Context, t *Task, timeout time.Duration) error {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case <-t.done:
		return t.Err()
	case <-waitCtx.Done():
		if ctx.Err() == nil && timeout > 0 {
			return errdefs.NewTimeoutError("await", t.String(), timeout)
		}
		return ctx.Err()
	}
}

// Lookup returns a live (submitted, not terminal) task by id.
func (s *Scheduler) Lookup(id TaskID) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, errdefs.NewNotFoundError("task", id.String())
	}
	return t, nil
}

// Tasks returns snapshots of every queued or running task, ordered by id.
func (s *Scheduler) Tasks() []TaskSnapshot {
	s.mu.Lock()
	out := make([]TaskSnapshot, 0, len(s.tasks))
	for _, t := range s.tasks {
		created, queued, started, _ := t.Times()
		pending := 0
		for _, d := range t.deps {
			if d.State() != TaskCompleted {
				pending++
			}
		}
		out = append(out, TaskSnapshot{
			ID:           t.id,
			Name:         t.name,
			Queue:        t.queue.name,
			QoS:          t.qos,
			Priority:     t.priority,
			State:        t.State(),
			CreatedAt:    created,
			QueuedAt:     queued,
			StartedAt:    started,
			Dependencies: pending,
			Dependents:   len(t.dependents),
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveWorkers returns the number of task bodies currently executing.
func (s *Scheduler) ActiveWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.queues {
		n += q.slots
	}
	return n
}

// Shutdown stops accepting work and destroys every queue.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	names := make([]string, 0, len(s.queues))
	for name := range s.queues {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := s.DestroyQueue(ctx, name); err != nil && !errors.Is(err, errdefs.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	s.deadlines.close()
	s.stopAll()
	return errors.Join(errs...)
}

// =============================================================================
// Dispatch and execution
// =============================================================================

type runInfo struct {
	queue    string
	name     string
	id       TaskID
	qos      QoS
	priority int
	fn       TaskFunc
}

func (s *Scheduler) dispatchLocked(q *executionQueue, fx *effects) {
	if q.suspended || q.destroying || s.closed {
		return
	}
	started := 0
	for q.slots < q.effectiveConcurrency() {
		t, ok := q.ready.pop()
		if !ok {
			break
		}
		s.startLocked(q, t)
		started++
	}
	if started > 0 {
		name, depth := q.name, q.depth()
		fx.add(func() { s.cfg.Metrics.RecordQueueDepth(name, depth) })
	}
}

func (s *Scheduler) startLocked(q *executionQueue, t *Task) {
	ctx, cancel := context.WithCancelCause(s.baseCtx)
	t.cancel = cancel
	q.slots++
	q.inflight[t.id] = t
	t.setState(TaskRunning, nil, time.Now())
	if t.timeout > 0 {
		t.deadline = s.deadlines.schedule(t.timeout, func() { s.expire(t) })
	}
	info := runInfo{queue: q.name, name: t.name, id: t.id, qos: t.qos, priority: t.priority, fn: t.fn}
	go s.run(ctx, q, t, info)
}

func (s *Scheduler) run(ctx context.Context, q *executionQueue, t *Task, info runInfo) {
	ctx = primitives.WithOwner(ctx, t.Owner())
	ctx, span := s.startSpan(ctx, info)
	err, panicked := s.invoke(ctx, t, info)
	endSpan(span, err)
	s.finish(q, t, err, panicked)
}

func (s *Scheduler) invoke(ctx context.Context, t *Task, info runInfo) (err error, panicked bool) {
	defer func() {
		if rec := recover(); rec != nil {
			s.cfg.PanicHandler.HandlePanic(ctx, info.queue, info.id, rec, debug.Stack())
			s.cfg.Metrics.RecordTaskPanic(info.queue, rec)
			err, panicked = &PanicError{Value: rec}, true
		}
	}()
	if info.fn == nil {
		return errdefs.InvalidArgument("task %s has no function", t), false
	}
	return info.fn(ctx), false
}

// finish runs when the body returns. The slot is released here even if the
// task already became terminal through timeout or cancellation.
func (s *Scheduler) finish(q *executionQueue, t *Task, bodyErr error, panicked bool) {
	var fx effects
	s.mu.Lock()
	s.deadlines.stop(t.deadline)
	t.deadline = nil
	q.slots--

	if t.State() == TaskRunning {
		state, err := TaskCompleted, error(nil)
		switch {
		case t.cancelReq:
			state, err = TaskCancelled, fmt.Errorf("%s: %w", t, errdefs.ErrCancelled)
		case bodyErr != nil:
			state, err = TaskFailed, bodyErr
		}
		s.terminateLockedWith(t, state, err, panicked, &fx)
	}
	t.cancel(nil)
	s.dispatchLocked(q, &fx)
	q.checkDrained()
	s.mu.Unlock()
	fx.run()
}

// expire fires when a running task's timeout or cancellation grace period
// ends before its body returned.
func (s *Scheduler) expire(t *Task) {
	var fx effects
	s.mu.Lock()
	if t.State() != TaskRunning {
		s.mu.Unlock()
		return
	}
	t.deadline = nil
	if t.cancelReq {
		s.terminateLocked(t, TaskCancelled, fmt.Errorf("%s: %w", t, errdefs.ErrCancelled), &fx)
	} else {
		err := errdefs.NewTimeoutError("execute", t.String(), t.timeout)
		t.cancel(err)
		s.terminateLocked(t, TaskFailed, err, &fx)
		fx.add(func() { s.logger.Warn("task timed out", F("task", t.String()), F("timeout", t.timeout)) })
	}
	s.mu.Unlock()
	fx.run()
}

func (s *Scheduler) requestCancelLocked(t *Task) {
	if t.cancelReq {
		return
	}
	t.cancelReq = true
	t.cancel(errdefs.ErrCancelled)

	// the declared timeout still bounds the task
	grace := s.cfg.CancelGracePeriod
	if t.deadline != nil && time.Until(t.deadline.at) <= grace {
		return
	}
	s.deadlines.stop(t.deadline)
	t.deadline = s.deadlines.schedule(grace, func() { s.expire(t) })
}

func (s *Scheduler) terminateLocked(t *Task, state TaskState, err error, fx *effects) {
	s.terminateLockedWith(t, state, err, false, fx)
}

// terminateLockedWith moves t to a terminal state and propagates the outcome
// through the dependency graph.
func (s *Scheduler) terminateLockedWith(t *Task, state TaskState, err error, panicked bool, fx *effects) {
	wasRunning := t.State() == TaskRunning
	if !t.setState(state, err, time.Now()) {
		return
	}
	delete(s.tasks, t.id)

	if q := t.queue; q != nil {
		q.ready.remove(t)
		delete(q.waiting, t.id)
		delete(q.inflight, t.id)
		q.countTerminal(state)

		if wasRunning {
			_, _, started, ended := t.Times()
			rec := TaskExecutionRecord{
				TaskID:     t.id,
				Name:       t.name,
				Queue:      q.name,
				QoS:        t.qos,
				Priority:   t.priority,
				State:      state,
				StartedAt:  started,
				FinishedAt: ended,
				Duration:   ended.Sub(started),
				Panicked:   panicked,
			}
			if err != nil {
				rec.Err = err.Error()
			}
			q.history.Add(rec)
			fx.add(func() { s.cfg.Metrics.RecordTaskExecution(rec) })
		}
		q.checkDrained()
	}

	for _, d := range sortedTasks(t.dependents) {
		switch {
		case state == TaskCompleted:
			s.promoteLocked(d, fx)
		case s.cfg.CascadeCancellation:
			if st := d.State(); st == TaskCreated || st == TaskQueued {
				s.terminateLocked(d, TaskCancelled,
					fmt.Errorf("dependency %s %s: %w", t, state, errdefs.ErrCancelled), fx)
			}
		}
	}
	s.unlinkFinishedLocked(t, state)
}

// unlinkFinishedLocked drops the references a terminal task holds and the
// satisfied edges pointing at it, so finished chains can be collected.
// Dependents of a task that did not complete keep their edge and stay blocked.
func (s *Scheduler) unlinkFinishedLocked(t *Task, state TaskState) {
	if state == TaskCompleted {
		for _, d := range t.dependents {
			delete(d.deps, t.id)
		}
	}
	clear(t.dependents)
	for _, d := range t.deps {
		delete(d.dependents, t.id)
	}
	clear(t.deps)
	t.fn = nil
}

// promoteLocked moves a waiting task to its queue's ready set once all of its
// dependencies completed.
func (s *Scheduler) promoteLocked(t *Task, fx *effects) {
	q := t.queue
	if q == nil || t.State() != TaskQueued {
		return
	}
	if _, waiting := q.waiting[t.id]; !waiting || !s.readyLocked(t) {
		return
	}
	delete(q.waiting, t.id)
	q.ready.push(t)
	s.dispatchLocked(q, fx)
}

// cascadeIntoLocked cancels t straight away if cascading is on and one of
// its dependencies has already failed or been cancelled.
func (s *Scheduler) cascadeIntoLocked(t *Task, fx *effects) {
	if !s.cfg.CascadeCancellation {
		return
	}
	for _, d := range sortedTasks(t.deps) {
		if st := d.State(); st == TaskFailed || st == TaskCancelled {
			s.terminateLocked(t, TaskCancelled,
				fmt.Errorf("dependency %s %s: %w", d, st, errdefs.ErrCancelled), fx)
			return
		}
	}
}

func (s *Scheduler) readyLocked(t *Task) bool {
	for _, d := range t.deps {
		if d.State() != TaskCompleted {
			return false
		}
	}
	return true
}

// bindLocked ties t to this scheduler on first use.
func (s *Scheduler) bindLocked(t *Task) error {
	if t.sched == nil {
		t.sched = s
		return nil
	}
	if t.sched != s {
		return errdefs.InvalidArgument("task %s belongs to another scheduler", t)
	}
	return nil
}

func sortedTasks(m map[TaskID]*Task) []*Task {
	out := make([]*Task, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
