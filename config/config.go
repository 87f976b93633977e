// Package config holds the tunable thresholds of the monitor, detector and
// optimizer plus a few scheduler defaults. None of these settings affect
// task correctness.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Swind/go-taskkit/errdefs"
)

// Options is the on-disk and flag-level configuration. The yaml and
// mapstructure keys match so the same names work in files, viper and flags.
type Options struct {
	MonitoringIntervalSeconds         float64 `yaml:"monitoringIntervalSeconds" mapstructure:"monitoringIntervalSeconds"`
	StaleLockThresholdSeconds         float64 `yaml:"staleLockThresholdSeconds" mapstructure:"staleLockThresholdSeconds"`
	StaleLockCriticalThresholdSeconds float64 `yaml:"staleLockCriticalThresholdSeconds" mapstructure:"staleLockCriticalThresholdSeconds"`
	SlowTaskThresholdSeconds          float64 `yaml:"slowTaskThresholdSeconds" mapstructure:"slowTaskThresholdSeconds"`
	MemoryPressureThresholdFraction   float64 `yaml:"memoryPressureThresholdFraction" mapstructure:"memoryPressureThresholdFraction"`
	DefaultMaxConcurrencyMultiplier   int     `yaml:"defaultMaxConcurrencyMultiplier" mapstructure:"defaultMaxConcurrencyMultiplier"`

	OrphanedTaskAgeSeconds   float64 `yaml:"orphanedTaskAgeSeconds" mapstructure:"orphanedTaskAgeSeconds"`
	SnapshotCapacity         int     `yaml:"snapshotCapacity" mapstructure:"snapshotCapacity"`
	HistoryCapacity          int     `yaml:"historyCapacity" mapstructure:"historyCapacity"`
	MemoryBudgetBytes        uint64  `yaml:"memoryBudgetBytes" mapstructure:"memoryBudgetBytes"`
	CancelGracePeriodSeconds float64 `yaml:"cancelGracePeriodSeconds" mapstructure:"cancelGracePeriodSeconds"`
	CascadeCancellation      bool    `yaml:"cascadeCancellation" mapstructure:"cascadeCancellation"`
	LogLevel                 string  `yaml:"logLevel" mapstructure:"logLevel"`
	ArchivePath              string  `yaml:"archivePath" mapstructure:"archivePath"`
}

// Default returns the built-in configuration.
func Default() Options {
	return Options{
		MonitoringIntervalSeconds:         2,
		StaleLockThresholdSeconds:         10,
		StaleLockCriticalThresholdSeconds: 30,
		SlowTaskThresholdSeconds:          0.5,
		MemoryPressureThresholdFraction:   0.8,
		DefaultMaxConcurrencyMultiplier:   2,
		OrphanedTaskAgeSeconds:            60,
		SnapshotCapacity:                  100,
		HistoryCapacity:                   100,
		CancelGracePeriodSeconds:          5,
		LogLevel:                          "info",
	}
}

var logLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
	"dpanic": true, "panic": true, "fatal": true,
}

// Validate reports every invalid field at once.
func (o Options) Validate() error {
	var errs []error
	positive := func(name string, v float64) {
		if v <= 0 {
			errs = append(errs, errdefs.InvalidArgument("%s must be positive, got %v", name, v))
		}
	}
	positive("monitoringIntervalSeconds", o.MonitoringIntervalSeconds)
	positive("staleLockThresholdSeconds", o.StaleLockThresholdSeconds)
	positive("slowTaskThresholdSeconds", o.SlowTaskThresholdSeconds)
	positive("orphanedTaskAgeSeconds", o.OrphanedTaskAgeSeconds)
	positive("cancelGracePeriodSeconds", o.CancelGracePeriodSeconds)

	if o.StaleLockCriticalThresholdSeconds < o.StaleLockThresholdSeconds {
		errs = append(errs, errdefs.InvalidArgument(
			"staleLockCriticalThresholdSeconds (%v) must not be below staleLockThresholdSeconds (%v)",
			o.StaleLockCriticalThresholdSeconds, o.StaleLockThresholdSeconds))
	}
	if o.MemoryPressureThresholdFraction <= 0 || o.MemoryPressureThresholdFraction > 1 {
		errs = append(errs, errdefs.InvalidArgument("memoryPressureThresholdFraction must be in (0, 1], got %v", o.MemoryPressureThresholdFraction))
	}
	if o.DefaultMaxConcurrencyMultiplier < 1 {
		errs = append(errs, errdefs.InvalidArgument("defaultMaxConcurrencyMultiplier must be at least 1, got %d", o.DefaultMaxConcurrencyMultiplier))
	}
	if o.SnapshotCapacity < 1 {
		errs = append(errs, errdefs.InvalidArgument("snapshotCapacity must be at least 1, got %d", o.SnapshotCapacity))
	}
	if o.HistoryCapacity < 1 {
		errs = append(errs, errdefs.InvalidArgument("historyCapacity must be at least 1, got %d", o.HistoryCapacity))
	}
	if !logLevels[o.LogLevel] {
		errs = append(errs, errdefs.InvalidArgument("unknown logLevel %q", o.LogLevel))
	}
	return errors.Join(errs...)
}

// Load reads a YAML file on top of Default and validates the result.
// Unknown keys are rejected.
func Load(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (Options, error) {
	opts := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&opts); err != nil {
			return Options{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Marshal renders o as YAML.
func (o Options) Marshal() ([]byte, error) {
	return yaml.Marshal(o)
}

func seconds(v float64) time.Duration { return time.Duration(v * float64(time.Second)) }

func (o Options) MonitoringInterval() time.Duration { return seconds(o.MonitoringIntervalSeconds) }
func (o Options) StaleLockThreshold() time.Duration { return seconds(o.StaleLockThresholdSeconds) }
func (o Options) StaleLockCritical() time.Duration {
	return seconds(o.StaleLockCriticalThresholdSeconds)
}
func (o Options) SlowTaskThreshold() time.Duration { return seconds(o.SlowTaskThresholdSeconds) }
func (o Options) OrphanedTaskAge() time.Duration   { return seconds(o.OrphanedTaskAgeSeconds) }
func (o Options) CancelGracePeriod() time.Duration { return seconds(o.CancelGracePeriodSeconds) }
