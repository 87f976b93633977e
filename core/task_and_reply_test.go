package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Swind/go-taskkit/core"
	"github.com/Swind/go-taskkit/errdefs"
)

// TestSubmitAndReply_ReplyRunsAfterTask verifies the reply ordering
// Given: A task on a worker queue and a reply on a serial ui queue
// When: SubmitAndReply is used
// Then: The reply observes the task's side effect
func TestSubmitAndReply_ReplyRunsAfterTask(t *testing.T) {
	// Arrange
	s, _ := newTestScheduler(t)
	mustQueue(t, s, "worker", core.Concurrent, 2)
	mustQueue(t, s, "ui", core.Serial, 1)
	var mu sync.Mutex
	var order []string
	record := func(name string) core.TaskFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	task := core.NewTask("load", record("load"))
	reply := core.NewTask("show", record("show"))

	// Act
	if err := s.SubmitAndReply(task, "worker", reply, "ui"); err != nil {
		t.Fatalf("SubmitAndReply() error = %v", err)
	}
	waitTask(t, reply)

	// Assert
	if reply.State() != core.TaskCompleted {
		t.Fatalf("reply state = %v", reply.State())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "load" || order[1] != "show" {
		t.Errorf("order = %v", order)
	}
}

// TestSubmitAndReply_FailureCancelsReply verifies failure propagation
// Given: A failing task with a reply and cascade cancellation off
// When: The task fails
// Then: The reply is cancelled rather than left queued
func TestSubmitAndReply_FailureCancelsReply(t *testing.T) {
	// Arrange
	s, _ := newTestScheduler(t)
	mustQueue(t, s, "q", core.Concurrent, 2)
	ran := false
	reply := core.NewTask("reply", func(ctx context.Context) error {
		ran = true
		return nil
	})

	// Act
	if err := s.SubmitAndReply(core.NewTask("bad", failing), "q", reply, "q"); err != nil {
		t.Fatalf("SubmitAndReply() error = %v", err)
	}
	waitTask(t, reply)

	// Assert
	if reply.State() != core.TaskCancelled || !errors.Is(reply.Err(), errdefs.ErrCancelled) {
		t.Errorf("reply = %v / %v", reply.State(), reply.Err())
	}
	if ran {
		t.Error("reply body ran")
	}
}

func TestSubmitAndReply_MissingReplyQueue(t *testing.T) {
	s, _ := newTestScheduler(t)
	mustQueue(t, s, "q", core.Serial, 1)
	release := make(chan struct{})
	defer close(release)
	task := core.NewTask("task", blocker(release))

	err := s.SubmitAndReply(task, "q", core.NewTask("reply", noop), "nope")
	if !errors.Is(err, errdefs.ErrQueueUnavailable) {
		t.Fatalf("SubmitAndReply() error = %v", err)
	}
	waitTask(t, task)
	if task.State() != core.TaskCancelled {
		t.Errorf("task state = %v, want cancelled", task.State())
	}
}

// TestSubmitWithResult_PassesValue verifies result hand-off
// Given: A task computing a length and a reply on another queue
// When: SubmitWithResult runs them
// Then: The reply receives the value and a nil error
func TestSubmitWithResult_PassesValue(t *testing.T) {
	// Arrange
	s, _ := newTestScheduler(t)
	mustQueue(t, s, "bg", core.Concurrent, 2)
	mustQueue(t, s, "ui", core.Serial, 1)
	var got int
	var gotErr error

	// Act
	task, reply, err := core.SubmitWithResult(s, "measure",
		func(ctx context.Context) (int, error) { return len("hello"), nil },
		"bg",
		func(ctx context.Context, n int, err error) error {
			got, gotErr = n, err
			return nil
		},
		"ui",
	)
	if err != nil {
		t.Fatalf("SubmitWithResult() error = %v", err)
	}
	waitTask(t, reply)

	// Assert
	if task.State() != core.TaskCompleted || reply.State() != core.TaskCompleted {
		t.Fatalf("states = %v, %v", task.State(), reply.State())
	}
	if got != 5 || gotErr != nil {
		t.Errorf("reply got %d, %v", got, gotErr)
	}
	if reply.Name() != "measure.reply" {
		t.Errorf("reply name = %q", reply.Name())
	}
}

// TestSubmitWithResult_ReplySeesFailure verifies errors reach the reply
// Given: A task that fails
// When: SubmitWithResult runs it
// Then: The reply still runs and receives the failure
func TestSubmitWithResult_ReplySeesFailure(t *testing.T) {
	// Arrange
	s, _ := newTestScheduler(t)
	mustQueue(t, s, "q", core.Concurrent, 2)
	var gotErr error

	// Act
	_, reply, err := core.SubmitWithResult(s, "broken",
		func(ctx context.Context) (string, error) { return "", errBroken },
		"q",
		func(ctx context.Context, _ string, err error) error {
			gotErr = err
			return nil
		},
		"q",
	)
	if err != nil {
		t.Fatalf("SubmitWithResult() error = %v", err)
	}
	waitTask(t, reply)

	// Assert
	if !errors.Is(gotErr, errBroken) {
		t.Errorf("reply error = %v", gotErr)
	}
	if _, _, err := core.SubmitWithResult(s, "x",
		func(ctx context.Context) (int, error) { return 0, nil }, "q",
		func(ctx context.Context, _ int, _ error) error { return nil }, "missing",
	); !errors.Is(err, errdefs.ErrQueueUnavailable) {
		t.Errorf("missing reply queue error = %v", err)
	}
}
