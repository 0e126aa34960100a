// Package status owns the API status gate that decides whether remote market
// data calls may be attempted at all.
package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Rajchodisetti/trading-dashboard/internal/adapters"
	"github.com/Rajchodisetti/trading-dashboard/internal/keys"
	"github.com/Rajchodisetti/trading-dashboard/internal/notify"
	"github.com/Rajchodisetti/trading-dashboard/internal/observ"
)

type ApiStatus string

const (
	Checking    ApiStatus = "checking"
	Available   ApiStatus = "available"
	Unavailable ApiStatus = "unavailable"
)

// ErrKeyUnavailable is the actionable class: no credential is configured.
var ErrKeyUnavailable = errors.New("API key not configured")

type KeyChecker interface {
	CheckAvailability(ctx context.Context, provider string) keys.Availability
}

// Transition is published to subscribers on every state change.
type Transition struct {
	From   ApiStatus `json:"from"`
	To     ApiStatus `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

type Options struct {
	Keys            KeyChecker
	Prober          adapters.Prober // nil skips the health probe
	KeyProvider     string          // provider to check, or "any"
	ForceSimulation bool
	ProbeTimeout    time.Duration
	Sink            notify.Sink
}

// Manager is the checking/available/unavailable state machine.
// unavailable is left only through Retry.
type Manager struct {
	keys         KeyChecker
	prober       adapters.Prober
	provider     string
	forceSim     bool
	probeTimeout time.Duration
	sink         notify.Sink

	mu                  sync.Mutex
	state               ApiStatus
	lastErr             error
	busy                bool
	notifiedUnavailable bool
	listeners           map[int]func(Transition)
	nextID              int
}

func NewManager(opts Options) *Manager {
	provider := opts.KeyProvider
	if provider == "" {
		provider = keys.AnyProvider
	}
	sink := opts.Sink
	if sink == nil {
		sink = notify.Discard
	}
	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Manager{
		keys:         opts.Keys,
		prober:       opts.Prober,
		provider:     provider,
		forceSim:     opts.ForceSimulation,
		probeTimeout: timeout,
		sink:         sink,
		state:        Checking,
		listeners:    make(map[int]func(Transition)),
	}
}

func (m *Manager) Status() ApiStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open reports whether remote calls may be attempted right now without
// running any check.
func (m *Manager) Open() bool {
	if m.forceSim {
		return true
	}
	return m.Status() == Available
}

// Err returns why the manager is unavailable, or nil.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Tick is called on every polling tick and reports whether remote calls may
// proceed. checking runs the full check, available re-probes, unavailable
// stays put.
func (m *Manager) Tick(ctx context.Context) bool {
	m.mu.Lock()
	state := m.state
	if m.busy {
		m.mu.Unlock()
		return state == Available
	}
	if state == Unavailable {
		m.mu.Unlock()
		return false
	}
	m.busy = true
	m.mu.Unlock()

	defer m.release()
	switch state {
	case Checking:
		m.check(ctx)
	case Available:
		if !m.forceSim {
			if err := m.probe(ctx); err != nil {
				m.transition(Unavailable, err)
			}
		}
	}
	return m.Status() == Available
}

// Retry moves unavailable back to checking and runs the check once.
func (m *Manager) Retry(ctx context.Context) ApiStatus {
	m.mu.Lock()
	if m.state != Unavailable || m.busy {
		state := m.state
		m.mu.Unlock()
		return state
	}
	m.busy = true
	m.mu.Unlock()
	defer m.release()

	observ.Log("api_status_retry", map[string]any{"provider": m.provider})
	m.transition(Checking, nil)
	m.check(ctx)
	return m.Status()
}

func (m *Manager) release() {
	m.mu.Lock()
	m.busy = false
	m.mu.Unlock()
}

func (m *Manager) check(ctx context.Context) {
	if m.forceSim {
		m.transition(Available, nil)
		return
	}

	if m.keys != nil {
		avail := m.keys.CheckAvailability(ctx, m.provider)
		if !avail.Available {
			m.transition(Unavailable, fmt.Errorf("%w for %s (source %s)", ErrKeyUnavailable, avail.Provider, avail.Source))
			return
		}
	}

	if err := m.probe(ctx); err != nil {
		m.transition(Unavailable, err)
		return
	}
	m.transition(Available, nil)
}

func (m *Manager) probe(ctx context.Context) error {
	if m.prober == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	start := time.Now()
	err := m.prober.Probe(ctx)
	observ.RecordDuration("health_probe", time.Since(start), nil)
	if err != nil {
		observ.IncCounter("health_probe_failures_total", nil)
		return fmt.Errorf("health probe: %w", err)
	}
	return nil
}

func (m *Manager) transition(to ApiStatus, cause error) {
	m.mu.Lock()
	from := m.state
	m.lastErr = cause
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	announce := to == Unavailable && !m.notifiedUnavailable
	if announce {
		m.notifiedUnavailable = true
	}
	listeners := make([]func(Transition), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	tr := Transition{From: from, To: to, At: time.Now().UTC()}
	fields := map[string]any{"from": string(from), "to": string(to)}
	if cause != nil {
		tr.Reason = cause.Error()
		fields["reason"] = cause.Error()
		fields["level"] = "warn"
	}
	observ.Log("api_status_transition", fields)
	observ.IncCounter("api_status_transitions_total", map[string]string{"to": string(to)})

	if announce {
		m.announceUnavailable(cause)
	}
	for _, fn := range listeners {
		fn(tr)
	}
}

func (m *Manager) announceUnavailable(cause error) {
	if errors.Is(cause, ErrKeyUnavailable) {
		notify.Send(m.sink, "API key required",
			fmt.Sprintf("No API key is configured for %s. Add one in settings, then retry to enable live market data.", m.provider),
			notify.VariantDestructive)
		return
	}
	detail := "The market data service did not respond."
	if cause != nil {
		detail = cause.Error()
	}
	notify.Send(m.sink, "Market data service unavailable", detail+" Showing the last known data; retry from the status panel.", notify.VariantWarning)
}

// Subscribe registers fn for every transition and returns its disposer.
func (m *Manager) Subscribe(fn func(Transition)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// OnAvailable calls fn every time the manager enters available.
func (m *Manager) OnAvailable(fn func()) (unsubscribe func()) {
	return m.Subscribe(func(tr Transition) {
		if tr.To == Available {
			fn()
		}
	})
}
