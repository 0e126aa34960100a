package feed

import (
	"sort"
	"time"

	"github.com/Rajchodisetti/trading-dashboard/internal/config"
)

// IntervalTable maps a stream's recent error count to its polling period.
type IntervalTable struct {
	base  time.Duration
	tiers []config.ErrorTier // sorted by OverErrors, highest first
}

func NewIntervalTable(base time.Duration, tiers []config.ErrorTier) IntervalTable {
	sorted := make([]config.ErrorTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OverErrors > sorted[j].OverErrors })
	return IntervalTable{base: base, tiers: sorted}
}

// For returns the period for errors: the first tier whose threshold is exceeded, else base.
func (t IntervalTable) For(errors int) time.Duration {
	for _, tier := range t.tiers {
		if errors > tier.OverErrors {
			return time.Duration(tier.IntervalMs) * time.Millisecond
		}
	}
	return t.base
}

// adaptiveSchedule is a cron.Schedule whose period is re-read from the
// stream's error count each time cron asks for the next activation.
type adaptiveSchedule struct {
	stream *Stream
}

func (a adaptiveSchedule) Next(t time.Time) time.Time {
	return t.Add(a.stream.Interval())
}
