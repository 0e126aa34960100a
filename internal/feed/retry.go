package feed

import "time"

// RetryState is the observable backoff position of a stream.
type RetryState struct {
	Attempt              int   `json:"attempt"`
	MaxAttempts          int   `json:"maxAttempts"`
	LastScheduledDelayMs int64 `json:"lastScheduledDelayMs"`
}

// Backoff tracks retries of one fetch sequence: the n-th retry waits
// 2^n * base. It holds at most one armed timer. Callers serialize access.
type Backoff struct {
	base  time.Duration
	state RetryState
	timer Timer
}

func NewBackoff(base time.Duration, maxAttempts int) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	return &Backoff{base: base, state: RetryState{MaxAttempts: maxAttempts}}
}

// Next consumes one retry and returns its delay. ok is false once the budget
// is spent; the state is left untouched in that case.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	if b.state.Attempt >= b.state.MaxAttempts {
		return 0, false
	}
	b.state.Attempt++
	delay = (1 << b.state.Attempt) * b.base
	b.state.LastScheduledDelayMs = delay.Milliseconds()
	return delay, true
}

// Arm replaces the pending timer, stopping any previous one.
func (b *Backoff) Arm(t Timer) {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = t
}

// Reset cancels the pending timer and returns to attempt 0.
func (b *Backoff) Reset() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.state.Attempt = 0
	b.state.LastScheduledDelayMs = 0
}

func (b *Backoff) State() RetryState { return b.state }
