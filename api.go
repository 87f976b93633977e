package taskkit

import (
	"context"
	"time"

	"github.com/Swind/go-taskkit/core"
	"github.com/Swind/go-taskkit/diagnostics"
	"github.com/Swind/go-taskkit/errdefs"
	"github.com/Swind/go-taskkit/monitor"
	"github.com/Swind/go-taskkit/optimizer"
	"github.com/Swind/go-taskkit/primitives"
)

// =============================================================================
// Queue lifecycle
// =============================================================================

func (sc *SchedulerContext) CreateQueue(name string, kind core.QueueKind, qos core.QoS, maxConcurrency int) (*core.QueueHandle, error) {
	return sc.scheduler.CreateQueue(name, kind, qos, maxConcurrency)
}

// DestroyQueue cancels the queue's pending tasks, waits for running ones
// until ctx ends, and removes the queue.
func (sc *SchedulerContext) DestroyQueue(ctx context.Context, name string) error {
	return sc.scheduler.DestroyQueue(ctx, name)
}

func (sc *SchedulerContext) Suspend(name string) error { return sc.scheduler.Suspend(name) }

func (sc *SchedulerContext) Resume(name string) error { return sc.scheduler.Resume(name) }

func (sc *SchedulerContext) ListQueues() []core.QueueStatus { return sc.scheduler.ListQueues() }

// =============================================================================
// Task lifecycle
// =============================================================================

// Submit schedules t on queue and returns it as the handle.
func (sc *SchedulerContext) Submit(t *core.Task, queue string) (*core.Task, error) {
	return sc.scheduler.Submit(t, queue)
}

// Go wraps fn in a task and submits it.
func (sc *SchedulerContext) Go(queue, name string, fn core.TaskFunc, opts ...core.TaskOption) (*core.Task, error) {
	return sc.scheduler.Submit(core.NewTask(name, fn, opts...), queue)
}

func (sc *SchedulerContext) AddDependency(t, dependsOn *core.Task) error {
	return sc.scheduler.AddDependency(t, dependsOn)
}

func (sc *SchedulerContext) RemoveDependency(t, dependsOn *core.Task) error {
	return sc.scheduler.RemoveDependency(t, dependsOn)
}

func (sc *SchedulerContext) SetPriority(t *core.Task, priority int) error {
	return sc.scheduler.SetPriority(t, priority)
}

func (sc *SchedulerContext) Cancel(t *core.Task) error { return sc.scheduler.Cancel(t) }

// AwaitCompletion blocks until t is terminal and returns its error. A timeout
// of zero waits until ctx ends.
func (sc *SchedulerContext) AwaitCompletion(ctx context.Context, t *core.Task, timeout time.Duration) error {
	return sc.scheduler.AwaitCompletion(ctx, t, timeout)
}

// =============================================================================
// Synchronization
//
// Locks, semaphores and counters are created on first use; conds are bound to
// a mutex with NewCond first.
// =============================================================================

// AcquireLock acquires the exclusive lock name, creating it if needed.
func (sc *SchedulerContext) AcquireLock(ctx context.Context, name string, timeout time.Duration) (*primitives.Guard, error) {
	m, err := getOrCreate(sc.primitives.Mutex, sc.primitives.NewMutex, name)
	if err != nil {
		return nil, err
	}
	return m.Acquire(ctx, timeout)
}

// AcquireRecursiveLock acquires the recursive lock name for the owner in ctx
// (see primitives.WithOwner), creating it if needed.
func (sc *SchedulerContext) AcquireRecursiveLock(ctx context.Context, name string, timeout time.Duration) (*primitives.Guard, error) {
	m, err := getOrCreate(sc.primitives.RecursiveMutex, sc.primitives.NewRecursiveMutex, name)
	if err != nil {
		return nil, err
	}
	return m.Acquire(ctx, timeout)
}

func (sc *SchedulerContext) AcquireRead(ctx context.Context, name string, timeout time.Duration) (*primitives.Guard, error) {
	m, err := getOrCreate(sc.primitives.RWMutex, sc.primitives.NewRWMutex, name)
	if err != nil {
		return nil, err
	}
	return m.AcquireRead(ctx, timeout)
}

func (sc *SchedulerContext) AcquireWrite(ctx context.Context, name string, timeout time.Duration) (*primitives.Guard, error) {
	m, err := getOrCreate(sc.primitives.RWMutex, sc.primitives.NewRWMutex, name)
	if err != nil {
		return nil, err
	}
	return m.AcquireWrite(ctx, timeout)
}

// Release gives back any guard returned by this package.
func (sc *SchedulerContext) Release(g *primitives.Guard) { g.Release() }

// NewSemaphore registers a counting semaphore with the given permits.
func (sc *SchedulerContext) NewSemaphore(name string, permits int64) error {
	_, err := sc.primitives.NewSemaphore(name, permits)
	return err
}

// AcquireSemaphore takes one permit of an existing semaphore.
func (sc *SchedulerContext) AcquireSemaphore(ctx context.Context, name string, timeout time.Duration) (*primitives.Guard, error) {
	return sc.primitives.AcquireSemaphore(ctx, name, timeout)
}

// NewCond binds a condition variable to the lock lockName, creating the lock
// if needed.
func (sc *SchedulerContext) NewCond(name, lockName string) error {
	if _, err := getOrCreate(sc.primitives.Mutex, sc.primitives.NewMutex, lockName); err != nil {
		return err
	}
	_, err := sc.primitives.NewCond(name, lockName)
	return err
}

// Wait releases g, which must guard the cond's lock, and blocks until
// signalled or timed out. g holds the lock again when Wait returns.
func (sc *SchedulerContext) Wait(ctx context.Context, cond string, g *primitives.Guard, timeout time.Duration) error {
	c, err := sc.primitives.Cond(cond)
	if err != nil {
		return err
	}
	return c.Wait(ctx, g, timeout)
}

func (sc *SchedulerContext) Signal(cond string) error {
	c, err := sc.primitives.Cond(cond)
	if err != nil {
		return err
	}
	c.Signal()
	return nil
}

func (sc *SchedulerContext) Broadcast(cond string) error {
	c, err := sc.primitives.Cond(cond)
	if err != nil {
		return err
	}
	c.Broadcast()
	return nil
}

func (sc *SchedulerContext) Increment(counter string) (int64, error) {
	c, err := getOrCreate(sc.primitives.Counter, sc.primitives.NewCounter, counter)
	if err != nil {
		return 0, err
	}
	return c.Increment(), nil
}

func (sc *SchedulerContext) Decrement(counter string) (int64, error) {
	c, err := getOrCreate(sc.primitives.Counter, sc.primitives.NewCounter, counter)
	if err != nil {
		return 0, err
	}
	return c.Decrement(), nil
}

// Read returns the counter's value; unknown counters read as zero.
func (sc *SchedulerContext) Read(counter string) (int64, error) {
	c, err := sc.primitives.Counter(counter)
	if errdefs.Is(err, errdefs.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return c.Read(), nil
}

// getOrCreate looks name up and registers it when missing. A concurrent
// creation of the same kind wins and is returned.
func getOrCreate[T any](get, create func(string) (T, error), name string) (T, error) {
	v, err := get(name)
	if !errdefs.Is(err, errdefs.ErrNotFound) {
		return v, err
	}
	v, err = create(name)
	if errdefs.Is(err, errdefs.ErrDuplicateName) {
		return get(name)
	}
	return v, err
}

// =============================================================================
// Diagnostics
// =============================================================================

func (sc *SchedulerContext) PerformanceReport() monitor.Report { return sc.monitor.Report() }

func (sc *SchedulerContext) AnalyzeBottlenecks() []monitor.Bottleneck {
	return sc.monitor.AnalyzeBottlenecks()
}

// DetectStaleLocks flags locks held longer than threshold; zero uses the
// configured threshold.
func (sc *SchedulerContext) DetectStaleLocks(threshold time.Duration) []diagnostics.StaleLock {
	return sc.detector.DetectStaleLocks(threshold)
}

func (sc *SchedulerContext) GenerateDiagnosticReport() diagnostics.Report {
	return sc.detector.GenerateReport()
}

// Suggestions turns a fresh diagnostic report and the queue state into
// tuning advice.
func (sc *SchedulerContext) Suggestions() []optimizer.Suggestion {
	return sc.optimizer.Suggestions(sc.detector.GenerateReport())
}
