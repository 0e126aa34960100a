package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockSource returns a canned payload for testing. It also implements Prober.
type MockSource struct {
	mu        sync.Mutex
	name      string
	payload   json.RawMessage
	fetchErr  error
	healthOk  bool
	latencyMs int
	calls     int
	probes    int
}

// NewMockSource creates a mock source serving payload.
func NewMockSource(name string, payload json.RawMessage) *MockSource {
	return &MockSource{name: name, payload: payload, healthOk: true}
}

// NewMockSourceFromRecords marshals records as a bare array payload.
func NewMockSourceFromRecords(name string, records []MarketRecord) *MockSource {
	raw, _ := json.Marshal(records)
	return NewMockSource(name, raw)
}

func (m *MockSource) Name() string { return m.name }

// Fetch returns the configured payload or error
func (m *MockSource) Fetch(ctx context.Context) (json.RawMessage, error) {
	m.mu.Lock()
	m.calls++
	latency, payload, err := m.latencyMs, m.payload, m.fetchErr
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(time.Duration(latency) * time.Millisecond):
		case <-ctx.Done():
			return nil, NewNetworkError(m.name, "request cancelled", ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// Probe returns the mock health status
func (m *MockSource) Probe(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes++
	if !m.healthOk {
		return NewProviderError(m.name, "mock source unhealthy", nil)
	}
	return nil
}

// SetError makes every Fetch fail with err; nil restores the payload.
func (m *MockSource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

// Fail is shorthand for SetError with a network error.
func (m *MockSource) Fail(reason string) {
	m.SetError(NewNetworkError(m.name, reason, nil))
}

// SetPayload replaces the payload.
func (m *MockSource) SetPayload(payload json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payload = payload
}

// SetHealth allows tests to control health status
func (m *MockSource) SetHealth(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthOk = healthy
}

// SetLatency allows tests to control simulated latency
func (m *MockSource) SetLatency(ms int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencyMs = ms
}

// Calls returns how many times Fetch was invoked.
func (m *MockSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Probes returns how many times Probe was invoked.
func (m *MockSource) Probes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probes
}

func (m *MockSource) String() string {
	return fmt.Sprintf("mock(%s)", m.name)
}

// SampleRecords returns n deterministic records for tests and stubs.
func SampleRecords(n int) []MarketRecord {
	roster := defaultRoster
	if n > len(roster) {
		n = len(roster)
	}
	ts := time.Date(2025, 1, 2, 15, 4, 5, 0, time.UTC)
	out := make([]MarketRecord, 0, n)
	for _, b := range roster[:n] {
		out = append(out, MarketRecord{
			Market:      b.Market,
			Symbol:      b.Symbol,
			Name:        b.Name,
			Price:       b.BasePrice,
			Change24h:   0.5,
			Volume:      b.Volume,
			MarketCap:   b.BasePrice * b.Supply,
			High24h:     roundPrice(b.BasePrice * 1.01),
			Low24h:      roundPrice(b.BasePrice * 0.99),
			Timestamp:   ts.UnixMilli(),
			LastUpdated: ts.Format(time.RFC3339),
		})
	}
	return out
}
