// Package cli implements the taskkit command line.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Swind/go-taskkit/config"
)

type rootFlags struct {
	v          *viper.Viper
	configFile string
}

// NewRootCommand builds the command tree. Each call gets its own viper
// instance so commands can be executed repeatedly in tests.
func NewRootCommand() *cobra.Command {
	rf := &rootFlags{v: viper.New()}

	root := &cobra.Command{
		Use:   "taskkit",
		Short: "Task scheduling and concurrency diagnostics toolkit",
		Long: `taskkit runs named execution queues with priorities, dependencies and
named synchronization primitives, and reports on their health: task latency,
memory growth, stale locks and orphaned tasks.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rf.initConfig()
		},
	}

	root.PersistentFlags().StringVarP(&rf.configFile, "config", "c", "", "config file (YAML)")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = rf.v.BindPFlag("logLevel", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		newDemoCommand(rf),
		newDiagnoseCommand(rf),
		newHistoryCommand(rf),
		newConfigCommand(rf),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

func (rf *rootFlags) initConfig() error {
	def := config.Default()
	rf.v.SetDefault("monitoringIntervalSeconds", def.MonitoringIntervalSeconds)
	rf.v.SetDefault("staleLockThresholdSeconds", def.StaleLockThresholdSeconds)
	rf.v.SetDefault("staleLockCriticalThresholdSeconds", def.StaleLockCriticalThresholdSeconds)
	rf.v.SetDefault("slowTaskThresholdSeconds", def.SlowTaskThresholdSeconds)
	rf.v.SetDefault("memoryPressureThresholdFraction", def.MemoryPressureThresholdFraction)
	rf.v.SetDefault("defaultMaxConcurrencyMultiplier", def.DefaultMaxConcurrencyMultiplier)
	rf.v.SetDefault("orphanedTaskAgeSeconds", def.OrphanedTaskAgeSeconds)
	rf.v.SetDefault("snapshotCapacity", def.SnapshotCapacity)
	rf.v.SetDefault("historyCapacity", def.HistoryCapacity)
	rf.v.SetDefault("memoryBudgetBytes", def.MemoryBudgetBytes)
	rf.v.SetDefault("cancelGracePeriodSeconds", def.CancelGracePeriodSeconds)
	rf.v.SetDefault("cascadeCancellation", def.CascadeCancellation)
	rf.v.SetDefault("logLevel", def.LogLevel)
	rf.v.SetDefault("archivePath", def.ArchivePath)

	if rf.configFile != "" {
		rf.v.SetConfigFile(rf.configFile)
		if err := rf.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	// e.g. TASKKIT_LOGLEVEL=debug
	rf.v.SetEnvPrefix("TASKKIT")
	rf.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	rf.v.AutomaticEnv()
	return nil
}

// options resolves the effective configuration: defaults, then the config
// file, then environment, then flags.
func (rf *rootFlags) options() (config.Options, error) {
	var opts config.Options
	if err := rf.v.Unmarshal(&opts); err != nil {
		return config.Options{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return config.Options{}, err
	}
	return opts, nil
}
