package optimizer

import "time"

const (
	gib = 1 << 30

	lowMemoryLimit    = 2 * gib
	mediumMemoryLimit = 8 * gib
)

// Tier is a device capacity class.
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Profile is the outcome of AdaptToCapacity.
type Profile struct {
	Tier               Tier
	CPUs               int
	MemoryBudget       uint64
	Multiplier         int
	MaxConcurrency     int
	MonitoringInterval time.Duration
}

// ProfileFor derives the capacity profile for a device. multiplier is the
// medium-tier concurrency multiplier; low devices use half of it (at least 1)
// and high devices one more.
func ProfileFor(cpuCount int, memoryBudget uint64, multiplier int) Profile {
	cpuCount = max(cpuCount, 1)
	multiplier = max(multiplier, 1)

	p := Profile{CPUs: cpuCount, MemoryBudget: memoryBudget}
	switch {
	case memoryBudget < lowMemoryLimit:
		p.Tier = TierLow
		p.Multiplier = max(1, multiplier/2)
		p.MonitoringInterval = 5 * time.Second
	case memoryBudget < mediumMemoryLimit:
		p.Tier = TierMedium
		p.Multiplier = multiplier
		p.MonitoringInterval = 2 * time.Second
	default:
		p.Tier = TierHigh
		p.Multiplier = multiplier + 1
		p.MonitoringInterval = time.Second
	}
	p.MaxConcurrency = min(cpuCount*p.Multiplier, maxConcurrency)
	return p
}
