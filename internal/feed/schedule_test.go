package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Rajchodisetti/trading-dashboard/internal/config"
)

func TestIntervalTable(t *testing.T) {
	table := NewIntervalTable(30*time.Second, []config.ErrorTier{
		{OverErrors: 2, IntervalMs: 10000},
		{OverErrors: 5, IntervalMs: 15000},
	})

	tests := []struct {
		errors int
		want   time.Duration
	}{
		{0, 30 * time.Second},
		{2, 30 * time.Second},
		{3, 10 * time.Second},
		{5, 10 * time.Second},
		{6, 15 * time.Second},
		{100, 15 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, table.For(tt.errors), "errors=%d", tt.errors)
	}
}

func TestBackoff(t *testing.T) {
	clock := NewFakeClock(t0)
	b := NewBackoff(time.Second, 3)

	var delays []time.Duration
	for {
		d, ok := b.Next()
		if !ok {
			break
		}
		delays = append(delays, d)
		b.Arm(clock.AfterFunc(d, func() {}))
	}
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, delays)
	assert.Equal(t, RetryState{Attempt: 3, MaxAttempts: 3, LastScheduledDelayMs: 8000}, b.State())
	assert.Len(t, clock.Pending(), 1, "arming replaces the previous timer")

	b.Reset()
	assert.Empty(t, clock.Pending())
	assert.Equal(t, 0, b.State().Attempt)

	d, ok := b.Next()
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, d)
}

func TestBackoff_ZeroBudget(t *testing.T) {
	b := NewBackoff(time.Second, 0)
	_, ok := b.Next()
	assert.False(t, ok)
}
