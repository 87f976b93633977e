package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-taskkit/errdefs"
)

// Result is the outcome of one task in a composed execution.
type Result struct {
	Task  *Task
	State TaskState
	Err   error
}

func resultOf(t *Task) Result {
	return Result{Task: t, State: t.State(), Err: t.Err()}
}

// submitAll submits every task or none: on the first structural error the
// ones already submitted are cancelled.
func (s *Scheduler) submitAll(queue string, tasks []*Task) error {
	for i, t := range tasks {
		if _, err := s.Submit(t, queue); err != nil {
			for _, done := range tasks[:i] {
				_ = s.Cancel(done)
			}
			return err
		}
	}
	return nil
}

func (s *Scheduler) waitAll(ctx context.Context, tasks []*Task) error {
	for _, t := range tasks {
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func results(tasks []*Task) []Result {
	out := make([]Result, len(tasks))
	for i, t := range tasks {
		out[i] = resultOf(t)
	}
	return out
}

// ExecuteBatch submits tasks to queue and waits until every one of them is
// terminal. Task failures are reported per task in the results; the error is
// non-nil only for structural failures or when ctx ends.
func (s *Scheduler) ExecuteBatch(ctx context.Context, queue string, tasks []*Task) ([]Result, error) {
	if err := s.submitAll(queue, tasks); err != nil {
		return nil, err
	}
	if err := s.waitAll(ctx, tasks); err != nil {
		return results(tasks), err
	}
	return results(tasks), nil
}

// SequenceOption configures ExecuteSequential.
type SequenceOption func(*sequenceConfig)

type sequenceConfig struct {
	continueOnError bool
}

// ContinueOnError keeps running the remaining tasks after a failure.
func ContinueOnError() SequenceOption {
	return func(c *sequenceConfig) { c.continueOnError = true }
}

// ExecuteSequential runs tasks one after another on queue; each starts only
// after the previous one is terminal. By default the first task that does
// not complete aborts the sequence: the remaining tasks are cancelled and the
// returned error wraps the failure.
func (s *Scheduler) ExecuteSequential(ctx context.Context, queue string, tasks []*Task, opts ...SequenceOption) ([]Result, error) {
	var cfg sequenceConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	for i, t := range tasks {
		if _, err := s.Submit(t, queue); err != nil {
			s.cancelRest(tasks[i+1:])
			return results(tasks[:i]), err
		}
		select {
		case <-t.done:
		case <-ctx.Done():
			_ = s.Cancel(t)
			s.cancelRest(tasks[i+1:])
			return results(tasks), ctx.Err()
		}

		if st := t.State(); st != TaskCompleted && !cfg.continueOnError {
			s.cancelRest(tasks[i+1:])
			return results(tasks), fmt.Errorf("sequence aborted at %s: %w", t, t.Err())
		}
	}
	return results(tasks), nil
}

func (s *Scheduler) cancelRest(tasks []*Task) {
	for _, t := range tasks {
		_ = s.Cancel(t)
	}
}

// ExecuteParallel submits tasks to queue and waits up to joinTimeout for all
// of them. On timeout the join fails with a timeout error but stragglers keep
// running; their results show their state at the time of the join.
func (s *Scheduler) ExecuteParallel(ctx context.Context, queue string, tasks []*Task, joinTimeout time.Duration) ([]Result, error) {
	if err := s.submitAll(queue, tasks); err != nil {
		return nil, err
	}

	waitCtx := ctx
	if joinTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, joinTimeout)
		defer cancel()
	}
	if err := s.waitAll(waitCtx, tasks); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return results(tasks), errdefs.NewTimeoutError("join", queue, joinTimeout)
		}
		return results(tasks), err
	}
	return results(tasks), nil
}
