package core

import (
	"context"
	"sync"

	"github.com/Swind/go-taskkit/errdefs"
)

// =============================================================================
// Task and reply
// =============================================================================

// SubmitAndReply runs task on queue and reply on replyQueue once task has
// completed. If task fails or is cancelled the reply is cancelled instead of
// being left queued.
func (s *Scheduler) SubmitAndReply(task *Task, queue string, reply *Task, replyQueue string) error {
	if task == nil || reply == nil {
		return errdefs.InvalidArgument("task and reply must not be nil")
	}
	if err := s.AddDependency(reply, task); err != nil {
		return err
	}
	if _, err := s.Submit(task, queue); err != nil {
		_ = s.RemoveDependency(reply, task)
		return err
	}
	if _, err := s.Submit(reply, replyQueue); err != nil {
		_ = s.Cancel(task)
		return err
	}
	if !s.cfg.CascadeCancellation {
		go func() {
			<-task.done
			if task.State() != TaskCompleted {
				_ = s.Cancel(reply)
			}
		}()
	}
	return nil
}

// TaskWithResult is a task body that produces a value for its reply.
type TaskWithResult[T any] func(ctx context.Context) (T, error)

// ReplyWithResult receives the value and the terminal error of the task.
type ReplyWithResult[T any] func(ctx context.Context, result T, err error) error

// SubmitWithResult runs fn on queue, then reply on replyQueue with fn's
// result. The reply runs whatever the outcome: err is the task's terminal
// error, including timeouts and cancellation. If the reply can no longer be
// submitted it is cancelled.
func SubmitWithResult[T any](
	s *Scheduler,
	name string,
	fn TaskWithResult[T],
	queue string,
	reply ReplyWithResult[T],
	replyQueue string,
	opts ...TaskOption,
) (task, replyTask *Task, err error) {
	if fn == nil || reply == nil {
		return nil, nil, errdefs.InvalidArgument("task and reply functions must not be nil")
	}
	if _, err := s.Queue(replyQueue); err != nil {
		return nil, nil, errdefs.NewQueueUnavailableError(replyQueue, "no such queue")
	}

	// the body may still be running after a timeout made the task terminal
	var (
		mu     sync.Mutex
		result T
	)
	task = NewTask(name, func(ctx context.Context) error {
		v, err := fn(ctx)
		mu.Lock()
		result = v
		mu.Unlock()
		return err
	}, opts...)
	replyTask = NewTask(task.name+".reply", func(ctx context.Context) error {
		mu.Lock()
		v := result
		mu.Unlock()
		return reply(ctx, v, task.Err())
	})

	if _, err := s.Submit(task, queue); err != nil {
		return nil, nil, err
	}
	go func() {
		<-task.done
		if _, err := s.Submit(replyTask, replyQueue); err != nil {
			s.logger.Warn("reply not submitted", F("task", task.String()), F("queue", replyQueue), F("error", err))
			_ = s.Cancel(replyTask)
		}
	}()
	return task, replyTask, nil
}
