package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	taskkit "github.com/Swind/go-taskkit"
	"github.com/Swind/go-taskkit/config"
	"github.com/Swind/go-taskkit/core"
)

type demoFlags struct {
	telemetryFlags
	tasks    int
	maxSleep time.Duration
	linger   time.Duration
	watch    bool
}

func newDemoCommand(rf *rootFlags) *cobra.Command {
	f := &demoFlags{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a synthetic workload and print the performance report",
		Long: `Run a synthetic workload over three queues (ui, io, maintenance) with
dependencies, priorities and a shared lock, then print the performance report
and any bottlenecks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd, rf, f)
		},
	}
	cmd.Flags().IntVar(&f.tasks, "tasks", 20, "number of io tasks")
	cmd.Flags().DurationVar(&f.maxSleep, "max-sleep", 20*time.Millisecond, "upper bound of a task's simulated work")
	cmd.Flags().DurationVar(&f.linger, "linger", 0, "keep running after the workload, e.g. to scrape metrics")
	cmd.Flags().BoolVar(&f.watch, "watch", false, "reload --config on change while running")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :2112")
	cmd.Flags().BoolVar(&f.trace, "trace", false, "write task spans to stderr")
	return cmd
}

func runDemo(cmd *cobra.Command, rf *rootFlags, f *demoFlags) error {
	cfg, err := rf.options()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := taskkit.Options{Config: cfg}
	tel, err := f.setup(ctx, &opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = tel.close(context.Background()) }()

	sc, err := taskkit.New(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = sc.Close(context.Background()) }()
	if err := sc.Start(ctx); err != nil {
		return err
	}
	tel.attach(ctx, sc)

	if f.watch && rf.configFile != "" {
		w := config.NewWatcher(rf.configFile, nil)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		go sc.WatchConfig(ctx, w)
	}

	start := time.Now()
	results, err := workload{Tasks: f.tasks, MaxSleep: f.maxSleep}.run(ctx, sc)
	if err != nil {
		return err
	}
	sc.Monitor().Sample()

	failed := 0
	for _, r := range results {
		if r.State != core.TaskCompleted {
			failed++
		}
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d tasks finished in %v (%d not completed)\n",
		len(results), time.Since(start).Round(time.Millisecond), failed)
	fmt.Fprintln(out, renderQueues(sc.ListQueues()))
	fmt.Fprintln(out, renderPerformance(sc.PerformanceReport()))
	fmt.Fprintln(out, renderBottlenecks(sc.AnalyzeBottlenecks()))

	if f.linger > 0 {
		select {
		case <-time.After(f.linger):
		case <-ctx.Done():
		}
	}
	return nil
}
