package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/trading-dashboard/internal/adapters"
	"github.com/Rajchodisetti/trading-dashboard/internal/config"
	"github.com/Rajchodisetti/trading-dashboard/internal/observ"
)

var ErrStreamStopped = errors.New("stream stopped")

// Gate reports whether remote calls may be attempted. Polling ticks call Tick,
// which may run checks; manual fetches only read Open.
type Gate interface {
	Tick(ctx context.Context) bool
	Open() bool
}

// Snapshot is the state published to subscribers after every update.
type Snapshot struct {
	Stream     string                `json:"stream"`
	Outcome    adapters.FetchOutcome `json:"outcome"`
	Degraded   string                `json:"degraded,omitempty"`
	ErrorCount int                   `json:"errorCount"`
	Retry      RetryState            `json:"retry"`
	InFlight   bool                  `json:"inFlight"`
	IntervalMs int64                 `json:"intervalMs"`
	UpdatedAt  time.Time             `json:"updatedAt"`
}

type Options struct {
	Config          config.Stream
	Resolver        *Resolver
	Gate            Gate // nil means always open
	ForceSimulation bool
	Clock           Clock
}

// Stream is one polling loop: market table and chart detail are two Streams
// with different configs. A fetch sequence is one initial attempt plus up to
// MaxAttempts backoff retries; the stream is in flight for the whole sequence.
type Stream struct {
	name     string
	clock    Clock
	resolver *Resolver
	gate     Gate
	forceSim bool
	table    IntervalTable
	limiter  *rate.Limiter
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	backoff  *Backoff
	deferred Timer
	gen      uint64
	inFlight bool
	errors   int
	degraded string
	last     Snapshot
	hasLast  bool
	subs     map[int]func(Snapshot)
	nextSub  int
	cron     *cron.Cron
	stopped  bool
}

func NewStream(opts Options) *Stream {
	cfg := opts.Config
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewResolver(cfg.Name, adapters.Chain{}, nil, nil)
	}

	limit := rate.Inf
	if cfg.MinFetchGapMs > 0 {
		limit = rate.Every(time.Duration(cfg.MinFetchGapMs) * time.Millisecond)
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Stream{
		name:     cfg.Name,
		clock:    clock,
		resolver: resolver,
		gate:     opts.Gate,
		forceSim: opts.ForceSimulation,
		table:    NewIntervalTable(time.Duration(cfg.BaseIntervalMs)*time.Millisecond, cfg.ErrorTiers),
		limiter:  rate.NewLimiter(limit, 1),
		ctx:      ctx,
		cancel:   cancel,
		backoff:  NewBackoff(time.Duration(cfg.BackoffBaseMs)*time.Millisecond, cfg.MaxAttempts),
		subs:     make(map[int]func(Snapshot)),
	}
}

func (s *Stream) Name() string { return s.name }

// Health reports the resolver's per-source health.
func (s *Stream) Health() []adapters.HealthReport { return s.resolver.Health() }

// Start schedules polling on a cron whose period follows the error table and
// runs a first tick right away.
func (s *Stream) Start() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStreamStopped
	}
	if s.cron != nil {
		s.mu.Unlock()
		return nil
	}
	c := cron.New()
	c.Schedule(adaptiveSchedule{stream: s}, cron.FuncJob(s.Tick))
	s.cron = c
	s.mu.Unlock()

	c.Start()
	go s.Tick()

	observ.Log("stream_started", map[string]any{
		"stream":       s.name,
		"interval_ms":  s.Interval().Milliseconds(),
		"forced_sim":   s.forceSim,
		"max_attempts": s.backoff.State().MaxAttempts,
	})
	return nil
}

// Stop clears the polling schedule, any pending retry or deferred refresh,
// and all subscriptions. Results still in flight are discarded.
func (s *Stream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.gen++
	s.backoff.Reset()
	if s.deferred != nil {
		s.deferred.Stop()
		s.deferred = nil
	}
	c := s.cron
	s.cron = nil
	s.subs = make(map[int]func(Snapshot))
	s.inFlight = false
	s.mu.Unlock()

	s.cancel()
	if c != nil {
		c.Stop()
	}
	observ.Log("stream_stopped", map[string]any{"stream": s.name})
}

// Tick runs one polling step.
func (s *Stream) Tick() {
	if s.isStopped() {
		return
	}
	observ.IncCounter("poll_ticks_total", map[string]string{"stream": s.name})

	if s.forceSim {
		s.publishOutcome(s.resolver.Synthesize(""))
		return
	}
	if s.gate != nil && !s.gate.Tick(s.ctx) {
		s.holdLast()
		return
	}
	s.startSequence(false)
}

// FetchNow starts a fetch sequence unless one is in flight or the minimum gap
// since the last one has not elapsed. It reports whether a sequence started.
func (s *Stream) FetchNow() bool {
	if s.forceSim {
		s.publishOutcome(s.resolver.Synthesize(""))
		return true
	}
	if !s.gateOpen() {
		s.holdLast()
		return false
	}
	return s.startSequence(false)
}

// Refresh is the manual path: it cancels any pending retry, resets the attempt
// counter and supersedes an in-flight sequence. When the minimum gap has not
// elapsed the new attempt is deferred rather than dropped. A closed gate keeps
// the last data and makes no remote call.
func (s *Stream) Refresh() {
	if s.forceSim {
		s.publishOutcome(s.resolver.Synthesize(""))
		return
	}
	if !s.gateOpen() {
		s.holdLast()
		return
	}
	s.startSequence(true)
}

func (s *Stream) gateOpen() bool {
	return s.gate == nil || s.gate.Open()
}

func (s *Stream) startSequence(manual bool) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}

	if manual {
		s.backoff.Reset()
		if s.deferred != nil {
			s.deferred.Stop()
			s.deferred = nil
		}
		s.gen++
		gen := s.gen
		s.inFlight = true

		now := s.clock.Now()
		r := s.limiter.ReserveN(now, 1)
		if d := r.DelayFrom(now); r.OK() && d > 0 {
			s.deferred = s.clock.AfterFunc(d, func() { s.runAttempt(gen) })
			s.mu.Unlock()
			observ.Log("refresh_deferred", map[string]any{"stream": s.name, "delay_ms": d.Milliseconds()})
			return true
		}
		s.mu.Unlock()
		s.runAttempt(gen)
		return true
	}

	if s.inFlight {
		s.mu.Unlock()
		observ.IncCounter("poll_skipped_total", map[string]string{"stream": s.name, "reason": "in_flight"})
		return false
	}
	if !s.limiter.AllowN(s.clock.Now(), 1) {
		s.mu.Unlock()
		observ.IncCounter("poll_skipped_total", map[string]string{"stream": s.name, "reason": "throttled"})
		return false
	}
	s.gen++
	gen := s.gen
	s.inFlight = true
	s.mu.Unlock()

	s.runAttempt(gen)
	return true
}

func (s *Stream) runAttempt(gen uint64) {
	if !s.current(gen) {
		return
	}

	out, err := s.resolver.ResolveRemote(s.ctx)

	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		observ.IncCounter("stale_results_discarded_total", map[string]string{"stream": s.name})
		return
	}

	if err == nil {
		s.backoff.Reset()
		s.errors = 0
		s.degraded = ""
		s.inFlight = false
		snap, subs := s.storeLocked(out)
		s.mu.Unlock()
		observ.SetGauge("stream_error_count", 0, map[string]string{"stream": s.name})
		publish(subs, snap)
		return
	}

	s.errors++
	errCount := s.errors
	if delay, ok := s.backoff.Next(); ok {
		s.backoff.Arm(s.clock.AfterFunc(delay, func() { s.runAttempt(gen) }))
		state := s.backoff.State()
		s.mu.Unlock()

		observ.SetGauge("stream_error_count", float64(errCount), map[string]string{"stream": s.name})
		observ.IncCounter("retries_scheduled_total", map[string]string{"stream": s.name})
		observ.Observe("retry_delay_ms", float64(delay.Milliseconds()), map[string]string{"stream": s.name})
		observ.Log("retry_scheduled", map[string]any{
			"stream":   s.name,
			"attempt":  state.Attempt,
			"max":      state.MaxAttempts,
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		})
		return
	}

	maxAttempts := s.backoff.State().MaxAttempts
	msg := fmt.Sprintf("Remote market data unavailable after %d retries; showing simulated data.", maxAttempts)
	s.backoff.Reset()
	s.inFlight = false
	s.degraded = msg
	snap, subs := s.storeLocked(s.resolver.Synthesize(msg))
	s.mu.Unlock()

	observ.SetGauge("stream_error_count", float64(errCount), map[string]string{"stream": s.name})
	observ.IncCounter("retries_exhausted_total", map[string]string{"stream": s.name})
	observ.Log("retries_exhausted", map[string]any{
		"stream": s.name,
		"errors": errCount,
		"error":  err.Error(),
		"level":  "warn",
	})
	publish(subs, snap)
}

// holdLast keeps the current data on a gated tick. A stream with no data yet
// is seeded with synthetic records so consumers never see an empty table.
func (s *Stream) holdLast() {
	s.mu.Lock()
	has := s.hasLast
	s.mu.Unlock()
	observ.IncCounter("poll_skipped_total", map[string]string{"stream": s.name, "reason": "unavailable"})
	if has {
		return
	}
	s.publishOutcome(s.resolver.Synthesize("Remote data sources unavailable; showing simulated data."))
}

func (s *Stream) publishOutcome(out adapters.FetchOutcome) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	snap, subs := s.storeLocked(out)
	s.mu.Unlock()
	publish(subs, snap)
}

func (s *Stream) storeLocked(out adapters.FetchOutcome) (Snapshot, []func(Snapshot)) {
	s.last.Outcome = out
	s.last.UpdatedAt = s.clock.Now()
	s.hasLast = true

	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return s.snapshotLocked(), subs
}

func (s *Stream) snapshotLocked() Snapshot {
	snap := s.last
	snap.Stream = s.name
	snap.Degraded = s.degraded
	snap.ErrorCount = s.errors
	snap.Retry = s.backoff.State()
	snap.InFlight = s.inFlight
	snap.IntervalMs = s.table.For(s.errors).Milliseconds()
	return snap
}

func publish(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}

// Snapshot returns the latest state; ok is false before the first update.
func (s *Stream) Snapshot() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), s.hasLast
}

// Subscribe registers fn for every update and returns its disposer.
func (s *Stream) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Interval is the current polling period.
func (s *Stream) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.For(s.errors)
}

func (s *Stream) ErrorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

func (s *Stream) RetryState() RetryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backoff.State()
}

func (s *Stream) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *Stream) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped && gen == s.gen
}

func (s *Stream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
