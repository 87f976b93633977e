package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Swind/go-taskkit/core"
	"github.com/Swind/go-taskkit/errdefs"
)

var errBroken = errors.New("broken")

func failing(ctx context.Context) error { return errBroken }

// TestExecuteBatch_ReportsPerTask verifies batch results
// Given: A batch with one failing task among successes
// When: ExecuteBatch runs it
// Then: All tasks finish and only the failing one carries an error
func TestExecuteBatch_ReportsPerTask(t *testing.T) {
	// Arrange
	s, _ := newTestScheduler(t)
	mustQueue(t, s, "q", core.Concurrent, 3)
	tasks := []*core.Task{
		core.NewTask("ok1", noop),
		core.NewTask("bad", failing),
		core.NewTask("ok2", noop),
	}

	// Act
	results, err := s.ExecuteBatch(context.Background(), "q", tasks)

	// Assert
	if err != nil {
		t.Fatalf("ExecuteBatch() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].State != core.TaskCompleted || results[2].State != core.TaskCompleted {
		t.Errorf("successes = %v, %v", results[0].State, results[2].State)
	}
	if results[1].State != core.TaskFailed || !errors.Is(results[1].Err, errBroken) {
		t.Errorf("failure = %v / %v", results[1].State, results[1].Err)
	}
}

func TestExecuteBatch_StructuralErrorCancelsSubmitted(t *testing.T) {
	s, _ := newTestScheduler(t)
	mustQueue(t, s, "q", core.Serial, 1)
	release := make(chan struct{})
	defer close(release)
	first := core.NewTask("first", blocker(release))
	dup := core.NewTask("dup", noop)
	mustSubmit(t, s, dup, "q")

	_, err := s.ExecuteBatch(context.Background(), "q", []*core.Task{first, dup})
	if !errors.Is(err, errdefs.ErrInvalidState) {
		t.Fatalf("ExecuteBatch() error = %v", err)
	}
	waitTask(t, first)
	if first.State() != core.TaskCancelled {
		t.Errorf("first state = %v, want cancelled", first.State())
	}
}

// TestExecuteSequential_FailFast verifies abort on first failure
// Given: A sequence ok, bad, never
// When: ExecuteSequential runs without ContinueOnError
// Then: The error wraps the failure and the remaining task is cancelled without running
func TestExecuteSequential_FailFast(t *testing.T) {
	// Arrange
	s, _ := newTestScheduler(t)
	mustQueue(t, s, "q", core.Concurrent, 4)
	ran := false
	tasks := []*core.Task{
		core.NewTask("ok", noop),
		core.NewTask("bad", failing),
		core.NewTask("never", func(ctx context.Context) error { ran = true; return nil }),
	}

	// Act
	results, err := s.ExecuteSequential(context.Background(), "q", tasks)

	// Assert
	if !errors.Is(err, errBroken) {
		t.Fatalf("ExecuteSequential() error = %v", err)
	}
	if ran {
		t.Error("task after the failure ran")
	}
	if results[2].State != core.TaskCancelled {
		t.Errorf("remaining task state = %v", results[2].State)
	}
}

// TestExecuteSequential_StrictOrder verifies each task starts after the previous ends
func TestExecuteSequential_StrictOrder(t *testing.T) {
	s, _ := newTestScheduler(t)
	mustQueue(t, s, "q", core.Concurrent, 4)

	var ends []time.Time
	var starts []time.Time
	mk := func() *core.Task {
		return core.NewTask("step", func(ctx context.Context) error {
			starts = append(starts, time.Now())
			time.Sleep(5 * time.Millisecond)
			ends = append(ends, time.Now())
			return nil
		})
	}
	tasks := []*core.Task{mk(), core.NewTask("bad", failing), mk()}

	results, err := s.ExecuteSequential(context.Background(), "q", tasks, core.ContinueOnError())
	if err != nil {
		t.Fatalf("ExecuteSequential() error = %v", err)
	}
	if results[1].State != core.TaskFailed || results[2].State != core.TaskCompleted {
		t.Errorf("states = %v, %v", results[1].State, results[2].State)
	}
	if len(starts) != 2 || starts[1].Before(ends[0]) {
		t.Errorf("second step started before the first ended")
	}
}

// TestExecuteParallel_JoinTimeout verifies stragglers are not cancelled
// Given: A fast task and a slow task
// When: ExecuteParallel joins with a timeout shorter than the slow task
// Then: The join fails with a timeout error, and the slow task still completes afterwards
func TestExecuteParallel_JoinTimeout(t *testing.T) {
	// Arrange
	s, _ := newTestScheduler(t)
	mustQueue(t, s, "q", core.Concurrent, 2)
	fast := core.NewTask("fast", noop)
	slow := core.NewTask("slow", func(ctx context.Context) error {
		select {
		case <-time.After(80 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	// Act
	results, err := s.ExecuteParallel(context.Background(), "q", []*core.Task{fast, slow}, 20*time.Millisecond)

	// Assert
	var te *errdefs.TimeoutError
	if !errors.As(err, &te) || te.Op != "join" {
		t.Fatalf("ExecuteParallel() error = %v, want join timeout", err)
	}
	if results[1].State.Terminal() {
		t.Errorf("slow task already %v at join timeout", results[1].State)
	}
	waitTask(t, slow)
	if slow.State() != core.TaskCompleted {
		t.Errorf("straggler state = %v, want completed", slow.State())
	}
}

func TestExecuteParallel_AllFinish(t *testing.T) {
	s, _ := newTestScheduler(t)
	mustQueue(t, s, "q", core.Concurrent, 2)
	results, err := s.ExecuteParallel(context.Background(), "q",
		[]*core.Task{core.NewTask("a", noop), core.NewTask("b", failing)}, time.Second)
	if err != nil {
		t.Fatalf("ExecuteParallel() error = %v", err)
	}
	if results[0].State != core.TaskCompleted || results[1].State != core.TaskFailed {
		t.Errorf("results = %+v", results)
	}
}
