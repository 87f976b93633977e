package optimizer

import (
	"fmt"

	"github.com/Swind/go-taskkit/core"
	"github.com/Swind/go-taskkit/diagnostics"
)

// Category groups suggestions.
type Category string

const (
	CategoryConcurrency Category = "concurrency"
	CategoryMemory      Category = "memory"
	CategoryLocking     Category = "locking"
	CategoryTasks       Category = "tasks"
)

// Severity grades a suggestion.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Suggestion is advisory output. It is never persisted.
type Suggestion struct {
	Category Category
	Severity Severity
	Message  string
}

func (s Suggestion) String() string {
	return fmt.Sprintf("[%s/%s] %s", s.Category, s.Severity, s.Message)
}

// Suggestions turns a diagnostic report and the current queue state into
// tuning advice. It changes nothing.
func (o *Optimizer) Suggestions(report diagnostics.Report) []Suggestion {
	var out []Suggestion
	for _, is := range report.Issues {
		sev := SeverityWarning
		if is.Severity == diagnostics.SeverityCritical {
			sev = SeverityCritical
		}
		switch is.Kind {
		case diagnostics.IssueStaleLock:
			out = append(out, Suggestion{CategoryLocking, sev,
				fmt.Sprintf("lock %q looks stuck; shorten critical sections or acquire with a timeout", is.Subject)})
		case diagnostics.IssueOrphanedTask:
			out = append(out, Suggestion{CategoryTasks, sev,
				fmt.Sprintf("task %s has been pending too long; cancel it or check its dependencies", is.Subject)})
		case diagnostics.IssueSlowTask:
			out = append(out, Suggestion{CategoryTasks, sev,
				fmt.Sprintf("task %q is slow; run it on a concurrent queue or split it", is.Subject)})
		case diagnostics.IssueMemoryGrowth:
			out = append(out, Suggestion{CategoryMemory, sev,
				"memory grows steadily; register cleanup hooks or lower background concurrency"})
		}
	}

	for _, q := range o.ctl.ListQueues() {
		if q.Suspended && q.Depth() > 0 {
			out = append(out, Suggestion{CategoryConcurrency, SeverityWarning,
				fmt.Sprintf("queue %q is suspended with %d pending tasks", q.Name, q.Depth())})
		}
		if q.Kind == core.Concurrent && q.MaxConcurrency < q.Baseline {
			out = append(out, Suggestion{CategoryConcurrency, SeverityInfo,
				fmt.Sprintf("queue %q runs below its baseline (%d of %d)", q.Name, q.MaxConcurrency, q.Baseline)})
		}
		if q.Ready > 0 && q.Running >= q.EffectiveConcurrency() && q.Ready >= 4*q.EffectiveConcurrency() {
			out = append(out, Suggestion{CategoryConcurrency, SeverityInfo,
				fmt.Sprintf("queue %q is saturated (%d ready, limit %d)", q.Name, q.Ready, q.EffectiveConcurrency())})
		}
	}
	return out
}
