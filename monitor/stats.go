package monitor

import "time"

// TaskStats aggregates the durations observed for one task name.
type TaskStats struct {
	Name  string
	Count int64
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
	// EWMA is the exponentially weighted moving average (alpha 0.2).
	EWMA time.Duration
}

// Mean is the arithmetic mean of every observation.
func (s TaskStats) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

func (s *TaskStats) observe(d time.Duration) {
	if s.Count == 0 {
		s.Min, s.Max, s.EWMA = d, d, d
	} else {
		s.Min = min(s.Min, d)
		s.Max = max(s.Max, d)
		s.EWMA = time.Duration(ewmaAlpha*float64(d) + (1-ewmaAlpha)*float64(s.EWMA))
	}
	s.Count++
	s.Total += d
}
