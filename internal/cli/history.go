package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Swind/go-taskkit/archive"
	"github.com/Swind/go-taskkit/core"
)

type historyFlags struct {
	queue  string
	name   string
	states []string
	since  time.Duration
	limit  int
	prune  time.Duration
}

func newHistoryCommand(rf *rootFlags) *cobra.Command {
	f := &historyFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived task executions",
		Long: `List task executions recorded in the archive configured by archivePath,
newest first. With --prune, records older than the given age are deleted
instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, rf, f)
		},
	}
	cmd.Flags().StringVar(&f.queue, "queue", "", "only this queue")
	cmd.Flags().StringVar(&f.name, "name", "", "only tasks with this name")
	cmd.Flags().StringSliceVar(&f.states, "state", nil, "only these final states (completed, failed, cancelled)")
	cmd.Flags().DurationVar(&f.since, "since", 0, "only executions that finished within this window")
	cmd.Flags().IntVar(&f.limit, "limit", 50, "maximum number of records")
	cmd.Flags().DurationVar(&f.prune, "prune", 0, "delete records older than this age")
	return cmd
}

func runHistory(cmd *cobra.Command, rf *rootFlags, f *historyFlags) error {
	cfg, err := rf.options()
	if err != nil {
		return err
	}
	if cfg.ArchivePath == "" {
		return fmt.Errorf("no archive configured: set archivePath")
	}

	ctx := cmd.Context()
	store, err := archive.OpenSQLite(ctx, cfg.ArchivePath)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	if f.prune > 0 {
		n, err := store.Prune(ctx, time.Now().Add(-f.prune))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "pruned %d records\n", n)
		return nil
	}

	filter := archive.Filter{Queue: f.queue, Name: f.name, Limit: f.limit}
	if f.since > 0 {
		filter.Since = time.Now().Add(-f.since)
	}
	for _, s := range f.states {
		st, ok := core.ParseTaskState(s)
		if !ok {
			return fmt.Errorf("unknown state %q", s)
		}
		filter.States = append(filter.States, st)
	}

	recs, err := store.List(ctx, filter)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, renderHistory(recs))
	return nil
}
