package diagnostics

import (
	"testing"
	"time"

	"github.com/Swind/go-taskkit/core"
	"github.com/Swind/go-taskkit/primitives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func heldSince(name string, kind primitives.Kind, owners map[primitives.Owner]time.Duration) primitives.PrimitiveState {
	st := primitives.PrimitiveState{Name: name, Kind: kind}
	for owner, ago := range owners {
		st.Holds = append(st.Holds, primitives.Hold{Owner: owner, Mode: primitives.ModeExclusive, Since: epoch.Add(-ago)})
	}
	return st
}

func TestStaleLocks_Thresholds(t *testing.T) {
	states := []primitives.PrimitiveState{
		heldSince("fresh", primitives.KindMutex, map[primitives.Owner]time.Duration{"a": 5 * time.Second}),
		heldSince("stale", primitives.KindMutex, map[primitives.Owner]time.Duration{"b": 15 * time.Second}),
		heldSince("ancient", primitives.KindSemaphore, map[primitives.Owner]time.Duration{"c": 40 * time.Second, "d": time.Second}),
		heldSince("cond", primitives.KindCond, map[primitives.Owner]time.Duration{"e": time.Hour}),
		{Name: "idle", Kind: primitives.KindRWMutex},
	}

	got := StaleLocks(states, epoch, 10*time.Second, 30*time.Second)

	require.Len(t, got, 2)
	assert.Equal(t, "ancient", got[0].Name)
	assert.Equal(t, SeverityCritical, got[0].Severity)
	assert.Equal(t, primitives.Owner("c"), got[0].Owner)
	assert.Equal(t, 2, got[0].Holders)
	assert.Equal(t, 40*time.Second, got[0].HeldFor)
	assert.Equal(t, "stale", got[1].Name)
	assert.Equal(t, SeverityWarning, got[1].Severity)
}

func TestStaleLocks_NoCriticalTierWhenNotHigher(t *testing.T) {
	states := []primitives.PrimitiveState{
		heldSince("x", primitives.KindMutex, map[primitives.Owner]time.Duration{"a": time.Hour}),
	}
	got := StaleLocks(states, epoch, time.Second, time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, SeverityWarning, got[0].Severity)
}

func TestOrphanedTasks_FiltersAndScores(t *testing.T) {
	tasks := []core.TaskSnapshot{
		{ID: 1, Name: "young", State: core.TaskQueued, QueuedAt: epoch.Add(-10 * time.Second)},
		{ID: 2, Name: "stuck-queued", State: core.TaskQueued, QoS: core.QoSBackground, QueuedAt: epoch.Add(-2 * time.Minute)},
		{ID: 3, Name: "stuck-running", State: core.TaskRunning, QoS: core.QoSUserInteractive,
			QueuedAt: epoch.Add(-time.Hour), StartedAt: epoch.Add(-5 * time.Minute), Dependents: 3},
		{ID: 4, Name: "started-recently", State: core.TaskRunning, QueuedAt: epoch.Add(-time.Hour), StartedAt: epoch.Add(-time.Second)},
		{ID: 5, Name: "waiting-on-dep", State: core.TaskQueued, QoS: core.QoSBackground, QueuedAt: epoch.Add(-2 * time.Minute), Dependencies: 1},
	}

	got := OrphanedTasks(tasks, epoch, time.Minute)

	require.Len(t, got, 3)
	assert.Equal(t, "stuck-running", got[0].Task.Name)
	assert.Equal(t, 5*time.Minute, got[0].Age)
	assert.Equal(t, SeverityCritical, got[0].Severity)
	assert.Equal(t, "waiting-on-dep", got[1].Task.Name)
	assert.Equal(t, "stuck-queued", got[2].Task.Name)
	assert.Equal(t, SeverityWarning, got[2].Severity)
	for _, o := range got {
		assert.True(t, o.Score > 0 && o.Score <= 1, "score %v out of range", o.Score)
	}
}

func TestOrphanedTasks_ScoreGrowsWithAge(t *testing.T) {
	snap := core.TaskSnapshot{State: core.TaskQueued, QoS: core.QoSDefault}
	younger := suspicion(snap, 2*time.Minute, time.Minute)
	older := suspicion(snap, 4*time.Minute, time.Minute)
	oldest := suspicion(snap, time.Hour, time.Minute)

	assert.Less(t, younger, older)
	assert.LessOrEqual(t, older, oldest)
	assert.LessOrEqual(t, oldest, 1.0)
}

func TestOrphanedTasks_DisabledThreshold(t *testing.T) {
	tasks := []core.TaskSnapshot{{ID: 1, State: core.TaskQueued, QueuedAt: epoch.Add(-time.Hour)}}
	assert.Empty(t, OrphanedTasks(tasks, epoch, 0))
}
