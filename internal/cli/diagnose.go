package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	taskkit "github.com/Swind/go-taskkit"
	"github.com/Swind/go-taskkit/core"
)

type diagnoseFlags struct {
	telemetryFlags
	tasks        int
	observe      time.Duration
	injectFaults bool
	staleAfter   time.Duration
	orphanAfter  time.Duration
	failBelow    int
}

func newDiagnoseCommand(rf *rootFlags) *cobra.Command {
	f := &diagnoseFlags{}
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Run a workload, observe it and print the diagnostic report",
		Long: `Run the demo workload, optionally with injected faults (a lock that is never
released and a task that never returns), observe the system for a while and
print the health score, issues, recommendations and tuning suggestions.

The stale lock and orphaned task thresholds default to short values so that
injected faults show up within the observation window.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiagnose(cmd, rf, f)
		},
	}
	cmd.Flags().IntVar(&f.tasks, "tasks", 10, "number of io tasks")
	cmd.Flags().DurationVar(&f.observe, "observe", 2*time.Second, "how long to observe after the workload")
	cmd.Flags().BoolVar(&f.injectFaults, "inject-faults", true, "leak a lock and a stuck task")
	cmd.Flags().DurationVar(&f.staleAfter, "stale-lock-threshold", time.Second, "hold time before a lock is stale (0 keeps the config value)")
	cmd.Flags().DurationVar(&f.orphanAfter, "orphan-age", 1500*time.Millisecond, "age before a task is an orphan suspect (0 keeps the config value)")
	cmd.Flags().IntVar(&f.failBelow, "fail-below", 0, "exit with an error when the health score is below this value")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&f.trace, "trace", false, "write task spans to stderr")
	return cmd
}

func runDiagnose(cmd *cobra.Command, rf *rootFlags, f *diagnoseFlags) error {
	cfg, err := rf.options()
	if err != nil {
		return err
	}
	if f.staleAfter > 0 {
		cfg.StaleLockThresholdSeconds = f.staleAfter.Seconds()
		cfg.StaleLockCriticalThresholdSeconds = 3 * f.staleAfter.Seconds()
	}
	if f.orphanAfter > 0 {
		cfg.OrphanedTaskAgeSeconds = f.orphanAfter.Seconds()
	}

	ctx := cmd.Context()
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
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sc.Close(closeCtx)
	}()
	if err := sc.Start(ctx); err != nil {
		return err
	}
	tel.attach(ctx, sc)

	if _, err := (workload{Tasks: f.tasks, MaxSleep: 10 * time.Millisecond, SlowEvery: 5}).run(ctx, sc); err != nil {
		return err
	}

	if f.injectFaults {
		g, err := sc.AcquireLock(ctx, "journal", time.Second)
		if err != nil {
			return err
		}
		defer sc.Release(g)

		release := make(chan struct{})
		defer close(release)
		stuck := core.NewTask("stuck", func(ctx context.Context) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if _, err := sc.Submit(stuck, "maintenance"); err != nil {
			return err
		}
	}

	select {
	case <-time.After(f.observe):
	case <-ctx.Done():
		return ctx.Err()
	}
	sc.Monitor().Sample()

	report := sc.GenerateDiagnosticReport()
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderQueues(sc.ListQueues()))
	fmt.Fprintln(out, renderDiagnostics(report, sc.Optimizer().Suggestions(report)))

	if f.failBelow > 0 && report.HealthScore < f.failBelow {
		return fmt.Errorf("health score %d is below %d", report.HealthScore, f.failBelow)
	}
	return nil
}
