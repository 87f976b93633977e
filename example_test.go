package taskkit_test

import (
	"context"
	"fmt"
	"time"

	taskkit "github.com/Swind/go-taskkit"
	"github.com/Swind/go-taskkit/core"
)

// ExampleSchedulerContext_Submit runs three tasks on a serial queue.
func ExampleSchedulerContext_Submit() {
	ctx := context.Background()
	sc, err := taskkit.New(ctx, taskkit.Options{Logger: core.NewNoOpLogger()})
	if err != nil {
		panic(err)
	}
	defer func() { _ = sc.Close(ctx) }()

	if _, err := sc.CreateQueue("main", core.Serial, core.QoSDefault, 1); err != nil {
		panic(err)
	}

	var last *core.Task
	for i := 1; i <= 3; i++ {
		last, _ = sc.Go("main", fmt.Sprintf("step-%d", i), func(ctx context.Context) error {
			fmt.Println("Task", i)
			return nil
		})
	}
	_ = sc.AwaitCompletion(ctx, last, time.Second)

	// Output:
	// Task 1
	// Task 2
	// Task 3
}

// ExampleSchedulerContext_AddDependency makes a task wait for another one
// submitted after it.
func ExampleSchedulerContext_AddDependency() {
	ctx := context.Background()
	sc, _ := taskkit.New(ctx, taskkit.Options{Logger: core.NewNoOpLogger()})
	defer func() { _ = sc.Close(ctx) }()
	_, _ = sc.CreateQueue("work", core.Concurrent, core.QoSDefault, 4)

	report := core.NewTask("report", func(ctx context.Context) error {
		fmt.Println("report")
		return nil
	})
	load := core.NewTask("load", func(ctx context.Context) error {
		fmt.Println("load")
		return nil
	})
	_ = sc.AddDependency(report, load)
	_, _ = sc.Submit(report, "work")
	_, _ = sc.Submit(load, "work")
	_ = sc.AwaitCompletion(ctx, report, time.Second)

	// Output:
	// load
	// report
}

// ExampleSchedulerContext_Increment shows a named counter shared by tasks.
func ExampleSchedulerContext_Increment() {
	ctx := context.Background()
	sc, _ := taskkit.New(ctx, taskkit.Options{Logger: core.NewNoOpLogger()})
	defer func() { _ = sc.Close(ctx) }()
	_, _ = sc.CreateQueue("work", core.Concurrent, core.QoSDefault, 8)

	tasks := make([]*core.Task, 10)
	for i := range tasks {
		tasks[i] = core.NewTask("hit", func(ctx context.Context) error {
			_, err := sc.Increment("hits")
			return err
		})
	}
	_, _ = sc.Scheduler().ExecuteBatch(ctx, "work", tasks)

	n, _ := sc.Read("hits")
	fmt.Println(n)

	// Output:
	// 10
}
