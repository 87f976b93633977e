// Package taskkit provides named execution queues, a priority and QoS aware
// task scheduler with a dependency graph, named synchronization primitives,
// and the health tooling around them: a performance monitor, a stale lock and
// orphaned task detector, and an adaptive concurrency optimizer.
//
// # Quick Start
//
// Build one SchedulerContext at startup and pass it to the code that needs it:
//
//	sc, err := taskkit.New(ctx, taskkit.Options{})
//	if err != nil {
//		return err
//	}
//	defer sc.Close(context.Background())
//	if err := sc.Start(ctx); err != nil {
//		return err
//	}
//
//	sc.CreateQueue("io", core.Concurrent, core.QoSUtility, 4)
//	task, _ := sc.Go("io", "fetch", func(ctx context.Context) error {
//		return fetch(ctx)
//	}, core.WithTimeout(5*time.Second))
//	err = sc.AwaitCompletion(ctx, task, 0)
//
// # Key Concepts
//
// Queue: a named serial or concurrent lane with a QoS class and a
// concurrency limit. Serial queues never run two tasks at once.
//
// Task: a unit of work with a priority, a QoS class, an optional timeout and
// dependencies. A task does not start until every dependency has completed;
// ready tasks are dispatched by priority, then QoS, then submission order.
//
// Primitives: locks, read-write locks, semaphores, condition variables and
// counters addressed by name. Every acquisition returns a Guard that records
// who holds it and since when, which is what the detector inspects.
//
// # Thread Safety
//
// Every method of SchedulerContext is safe for concurrent use. Task bodies run
// on their own goroutines and never while scheduler bookkeeping is locked, so
// a task may submit further tasks or wait on primitives.
package taskkit
