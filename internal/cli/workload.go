package cli

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	taskkit "github.com/Swind/go-taskkit"
	"github.com/Swind/go-taskkit/core"
)

// workload describes the synthetic load used by demo and diagnose.
type workload struct {
	Tasks    int
	MaxSleep time.Duration
	// SlowEvery makes every n-th io task sleep ten times longer. Zero
	// disables slow tasks.
	SlowEvery int
}

var demoQueues = []struct {
	name string
	kind core.QueueKind
	qos  core.QoS
	max  int
}{
	{"ui", core.Serial, core.QoSUserInteractive, 1},
	{"io", core.Concurrent, core.QoSUtility, 4},
	{"maintenance", core.Concurrent, core.QoSBackground, 2},
}

// run creates the demo queues and a small pipeline on them: io fetches feed
// a serial ui render step, while maintenance tasks contend on a shared lock
// and bump a counter. It returns once every task is terminal.
func (w workload) run(ctx context.Context, sc *taskkit.SchedulerContext) ([]core.Result, error) {
	for _, q := range demoQueues {
		if _, err := sc.CreateQueue(q.name, q.kind, q.qos, q.max); err != nil {
			return nil, err
		}
	}
	sleep := func(ctx context.Context, d time.Duration) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	jitter := func() time.Duration {
		if w.MaxSleep <= 0 {
			return 0
		}
		return rand.N(w.MaxSleep)
	}

	var all []*core.Task
	fetches := make([]*core.Task, 0, w.Tasks)
	for i := range w.Tasks {
		d := jitter()
		if w.SlowEvery > 0 && i%w.SlowEvery == w.SlowEvery-1 {
			d = 10 * w.MaxSleep
		}
		t := core.NewTask("fetch", func(ctx context.Context) error {
			return sleep(ctx, d)
		}, core.WithPriority(i%3))
		fetches = append(fetches, t)
	}

	render := core.NewTask("render", func(ctx context.Context) error {
		return sleep(ctx, jitter())
	}, core.DependsOn(fetches...))
	all = append(all, render)
	if _, err := sc.Submit(render, "ui"); err != nil {
		return nil, err
	}
	for _, t := range fetches {
		if _, err := sc.Submit(t, "io"); err != nil {
			return nil, err
		}
		all = append(all, t)
	}

	for i := range max(w.Tasks/2, 1) {
		t := core.NewTask("compact", func(ctx context.Context) error {
			g, err := sc.AcquireLock(ctx, "index", time.Second)
			if err != nil {
				return err
			}
			defer sc.Release(g)
			if _, err := sc.Increment("compactions"); err != nil {
				return err
			}
			return sleep(ctx, jitter()/2)
		}, core.WithTimeout(5*time.Second), core.WithPriority(-i))
		if _, err := sc.Submit(t, "maintenance"); err != nil {
			return nil, err
		}
		all = append(all, t)
	}

	results := make([]core.Result, 0, len(all))
	for _, t := range all {
		err := sc.AwaitCompletion(ctx, t, 0)
		if ctx.Err() != nil {
			return results, fmt.Errorf("workload interrupted: %w", ctx.Err())
		}
		results = append(results, core.Result{Task: t, State: t.State(), Err: err})
	}
	return results, nil
}
