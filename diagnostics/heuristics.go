// Package diagnostics implements advisory stall and leak heuristics over
// immutable snapshots of the primitives registry and the scheduler.
//
// Nothing here acts on its findings. StaleLocks and OrphanedTasks are pure
// functions, so they can be tested with synthetic snapshots; Detector wires
// them to live sources and folds the results into a Report.
package diagnostics

import (
	"fmt"
	"sort"
	"time"

	"github.com/Swind/go-taskkit/core"
	"github.com/Swind/go-taskkit/primitives"
)

// Severity grades a finding.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// StaleLock is a lock or semaphore whose oldest hold exceeded the threshold.
type StaleLock struct {
	Name     string
	Kind     primitives.Kind
	Owner    primitives.Owner
	Mode     primitives.HoldMode
	Since    time.Time
	HeldFor  time.Duration
	Holders  int
	Waiters  int
	Severity Severity
}

func (w StaleLock) String() string {
	return fmt.Sprintf("%s %q held by %s for %v (%s)", w.Kind, w.Name, w.Owner, w.HeldFor.Round(time.Millisecond), w.Severity)
}

// StaleLocks flags every lock-like primitive whose oldest hold is older than
// warnAfter. Findings older than criticalAfter are critical. Results are
// sorted by name.
func StaleLocks(states []primitives.PrimitiveState, now time.Time, warnAfter, criticalAfter time.Duration) []StaleLock {
	var out []StaleLock
	for _, st := range states {
		switch st.Kind {
		case primitives.KindCond, primitives.KindCounter:
			continue
		}
		oldest, ok := st.OldestHold()
		if !ok {
			continue
		}
		held := now.Sub(oldest.Since)
		if held <= warnAfter {
			continue
		}
		sev := SeverityWarning
		if criticalAfter > warnAfter && held > criticalAfter {
			sev = SeverityCritical
		}
		out = append(out, StaleLock{
			Name:     st.Name,
			Kind:     st.Kind,
			Owner:    oldest.Owner,
			Mode:     oldest.Mode,
			Since:    oldest.Since,
			HeldFor:  held,
			Holders:  len(st.Holds),
			Waiters:  st.Waiters,
			Severity: sev,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// OrphanSuspect is a task that stayed queued or running past the age
// threshold.
type OrphanSuspect struct {
	Task     core.TaskSnapshot
	Age      time.Duration
	Score    float64
	Severity Severity
}

func (o OrphanSuspect) String() string {
	return fmt.Sprintf("%s(%s) %s on %q for %v (score %.2f)",
		o.Task.Name, o.Task.ID, o.Task.State, o.Task.Queue, o.Age.Round(time.Millisecond), o.Score)
}

const criticalSuspicion = 0.75

// OrphanedTasks flags queued or running tasks older than ageThreshold, most
// suspicious first. Queued tasks age from submission, running tasks from
// their start.
func OrphanedTasks(tasks []core.TaskSnapshot, now time.Time, ageThreshold time.Duration) []OrphanSuspect {
	if ageThreshold <= 0 {
		return nil
	}
	var out []OrphanSuspect
	for _, t := range tasks {
		since := t.QueuedAt
		switch t.State {
		case core.TaskRunning:
			since = t.StartedAt
		case core.TaskQueued:
		default:
			continue
		}
		if since.IsZero() {
			since = t.CreatedAt
		}
		age := now.Sub(since)
		if age <= ageThreshold {
			continue
		}
		score := suspicion(t, age, ageThreshold)
		sev := SeverityWarning
		if score >= criticalSuspicion {
			sev = SeverityCritical
		}
		out = append(out, OrphanSuspect{Task: t, Age: age, Score: score, Severity: sev})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Task.ID < out[j].Task.ID
	})
	return out
}

// suspicion scores a task in [0, 1]. Age dominates; running tasks, higher QoS
// classes, unfinished dependencies and tasks others depend on add weight.
func suspicion(t core.TaskSnapshot, age, threshold time.Duration) float64 {
	ratio := float64(age) / float64(threshold)
	score := 0.5 * min((ratio-1)/3, 1)

	if t.State == core.TaskRunning {
		score += 0.2
	} else {
		score += 0.05
	}

	switch t.QoS {
	case core.QoSBackground:
	case core.QoSUtility:
		score += 0.05
	default:
		score += 0.1
	}

	score += 0.05 * float64(min(t.Dependencies, 2))
	score += 0.02 * float64(min(t.Dependents, 5))
	return min(score, 1)
}
