package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Swind/go-taskkit/core"
	"github.com/Swind/go-taskkit/diagnostics"
	"github.com/Swind/go-taskkit/monitor"
	"github.com/Swind/go-taskkit/optimizer"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(18)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	critStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	sectionStyle = lipgloss.NewStyle().MarginTop(1)
)

func section(title string, lines ...string) string {
	body := strings.Join(lines, "\n")
	if body == "" {
		body = labelStyle.Render("(none)")
	}
	return sectionStyle.Render(titleStyle.Render(title) + "\n" + body)
}

func row(label string, value any) string {
	return labelStyle.Render(label) + fmt.Sprint(value)
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func renderPerformance(r monitor.Report) string {
	summary := []string{
		row("samples", r.Samples),
		row("memory", fmt.Sprintf("%s (avg %s, peak %s)",
			formatBytes(r.CurrentMemory), formatBytes(r.AverageMemory), formatBytes(r.PeakMemory))),
		row("workers", fmt.Sprintf("%d (avg %.1f, peak %d)", r.CurrentWorkers, r.AverageWorkers, r.PeakWorkers)),
		row("goroutines", r.Goroutines),
		row("panics", r.Panics),
		row("rejected", r.Rejected),
	}

	tasks := make([]string, 0, len(r.Tasks))
	for _, st := range r.Tasks {
		tasks = append(tasks, row(st.Name, fmt.Sprintf("n=%d mean=%v min=%v max=%v ewma=%v",
			st.Count, st.Mean().Round(time.Microsecond), st.Min.Round(time.Microsecond),
			st.Max.Round(time.Microsecond), st.EWMA.Round(time.Microsecond))))
	}
	return section("Performance", summary...) + "\n" + section("Tasks", tasks...)
}

func renderBottlenecks(bs []monitor.Bottleneck) string {
	lines := make([]string, 0, len(bs))
	for _, b := range bs {
		lines = append(lines, warnStyle.Render(string(b.Kind))+" "+b.Message)
	}
	return section("Bottlenecks", lines...)
}

func severityStyle(s diagnostics.Severity) lipgloss.Style {
	if s == diagnostics.SeverityCritical {
		return critStyle
	}
	return warnStyle
}

func renderDiagnostics(r diagnostics.Report, suggestions []optimizer.Suggestion) string {
	score := fmt.Sprintf("%d/100", r.HealthScore)
	switch {
	case r.HealthScore >= 90:
		score = okStyle.Render(score)
	case r.HealthScore >= 50:
		score = warnStyle.Render(score)
	default:
		score = critStyle.Render(score)
	}

	issues := make([]string, 0, len(r.Issues))
	for _, is := range r.Issues {
		issues = append(issues, severityStyle(is.Severity).Render(fmt.Sprintf("[%s] %s", is.Severity, is.Kind))+" "+is.Message)
	}

	tips := make([]string, 0, len(suggestions))
	for _, s := range suggestions {
		st := warnStyle
		switch s.Severity {
		case optimizer.SeverityInfo:
			st = labelStyle.Width(0)
		case optimizer.SeverityCritical:
			st = critStyle
		}
		tips = append(tips, st.Render(fmt.Sprintf("[%s]", s.Category))+" "+s.Message)
	}

	return section("Health", row("score", score)) + "\n" +
		section("Issues", issues...) + "\n" +
		section("Recommendations", r.Recommendations...) + "\n" +
		section("Suggestions", tips...)
}

func renderQueues(qs []core.QueueStatus) string {
	lines := make([]string, 0, len(qs))
	for _, q := range qs {
		state := okStyle.Render("active")
		if q.Suspended {
			state = warnStyle.Render("suspended")
		}
		lines = append(lines, row(q.Name, fmt.Sprintf("%s %s %s limit=%d submitted=%d completed=%d failed=%d cancelled=%d",
			state, q.Kind, q.QoS, q.EffectiveConcurrency(), q.Submitted, q.Completed, q.Failed, q.Cancelled)))
	}
	return section("Queues", lines...)
}

func renderHistory(recs []core.TaskExecutionRecord) string {
	lines := make([]string, 0, len(recs))
	for _, r := range recs {
		state := okStyle.Render(r.State.String())
		if r.State != core.TaskCompleted {
			state = warnStyle.Render(r.State.String())
		}
		line := fmt.Sprintf("%s %-12s %-10s %s %v", r.FinishedAt.Format(time.TimeOnly), r.Queue, r.Name, state, r.Duration.Round(time.Microsecond))
		if r.Err != "" {
			line += " " + critStyle.Render(r.Err)
		}
		lines = append(lines, line)
	}
	return section("History", lines...)
}
