package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-taskkit/core"
	"github.com/Swind/go-taskkit/errdefs"
)

func TestDefault_IsValid(t *testing.T) {
	opts := Default()
	require.NoError(t, opts.Validate())
	assert.Equal(t, 2*time.Second, opts.MonitoringInterval())
	assert.Equal(t, 10*time.Second, opts.StaleLockThreshold())
	assert.Equal(t, 30*time.Second, opts.StaleLockCritical())
	assert.Equal(t, 500*time.Millisecond, opts.SlowTaskThreshold())
	assert.Equal(t, time.Minute, opts.OrphanedTaskAge())
	assert.Equal(t, 5*time.Second, opts.CancelGracePeriod())
}

func TestParse_OverlaysDefaults(t *testing.T) {
	opts, err := Parse([]byte(`
slowTaskThresholdSeconds: 1.5
cascadeCancellation: true
logLevel: debug
`))
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, opts.SlowTaskThreshold())
	assert.True(t, opts.CascadeCancellation)
	assert.Equal(t, "debug", opts.LogLevel)
	assert.Equal(t, 2, opts.DefaultMaxConcurrencyMultiplier)
}

func TestParse_Empty(t *testing.T) {
	opts, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), opts)
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("staleLockSeconds: 3\n"))
	assert.Error(t, err)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	opts := Default()
	opts.MonitoringIntervalSeconds = 0
	opts.MemoryPressureThresholdFraction = 1.5
	opts.StaleLockCriticalThresholdSeconds = 5
	opts.LogLevel = "loud"

	err := opts.Validate()

	require.ErrorIs(t, err, errdefs.ErrInvalidArgument)
	for _, key := range []string{"monitoringIntervalSeconds", "memoryPressureThresholdFraction", "staleLockCriticalThresholdSeconds", "logLevel"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestLoad_RoundTripsMarshal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskkit.yaml")
	want := Default()
	want.ArchivePath = "/var/lib/taskkit/archive.db"
	want.MemoryBudgetBytes = 4 << 30
	data, err := want.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("slowTaskThresholdSeconds: 1\n"), 0o644))

	w := NewWatcher(path, core.NewNoOpLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	write := func() { _ = os.WriteFile(path, []byte("slowTaskThresholdSeconds: 2\n"), 0o644) }
	write()
	for {
		select {
		case opts := <-w.Updates():
			assert.Equal(t, 2*time.Second, opts.SlowTaskThreshold())
			return
		case <-tick.C:
			write()
		case <-deadline:
			t.Fatal("timed out waiting for config reload")
		}
	}
}

func TestWatcher_SkipsInvalidEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskkit.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	w := NewWatcher(path, core.NewNoOpLogger())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(path, []byte("snapshotCapacity: -1\n"), 0o644))
	select {
	case opts := <-w.Updates():
		t.Fatalf("unexpected update %+v", opts)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-w.Updates()
		return !open
	}, time.Second, 10*time.Millisecond)
}
