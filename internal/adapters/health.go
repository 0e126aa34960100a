package adapters

import (
	"sync"
	"time"

	"github.com/Rajchodisetti/trading-dashboard/internal/observ"
)

// HealthState summarizes recent reliability of one remote source.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthFailed   HealthState = "failed"
)

// consecutive failures before a source counts as failed
const maxConsecutiveErrors = 3

// SourceHealth tracks outcomes of fetches against one source. It informs
// operators only; the resolver never skips a source because of it.
type SourceHealth struct {
	mu                sync.RWMutex
	name              string
	state             HealthState
	lastSuccess       time.Time
	lastError         time.Time
	lastErrorMsg      string
	successes         int64
	failures          int64
	consecutiveErrors int
	lastLatency       time.Duration
}

func NewSourceHealth(name string) *SourceHealth {
	return &SourceHealth{name: name, state: HealthHealthy}
}

func (h *SourceHealth) RecordSuccess(latency time.Duration) {
	h.mu.Lock()
	h.lastSuccess = time.Now()
	h.successes++
	h.consecutiveErrors = 0
	h.lastLatency = latency
	old := h.state
	h.state = HealthHealthy
	h.mu.Unlock()

	h.changed(old, HealthHealthy)
	observ.Observe("source_latency_ms", float64(latency.Milliseconds()), map[string]string{"source": h.name})
}

func (h *SourceHealth) RecordError(err error) {
	h.mu.Lock()
	h.lastError = time.Now()
	if err != nil {
		h.lastErrorMsg = err.Error()
	}
	h.failures++
	h.consecutiveErrors++
	old := h.state
	if h.consecutiveErrors >= maxConsecutiveErrors {
		h.state = HealthFailed
	} else {
		h.state = HealthDegraded
	}
	next := h.state
	h.mu.Unlock()

	h.changed(old, next)
}

func (h *SourceHealth) changed(from, to HealthState) {
	if from == to {
		return
	}
	observ.IncCounter("source_health_changes_total", map[string]string{"source": h.name, "to": string(to)})
	fields := map[string]any{"source": h.name, "from": string(from), "to": string(to)}
	if to != HealthHealthy {
		fields["level"] = "warn"
	}
	observ.Log("source_health_changed", fields)
}

// HealthReport is a point-in-time copy of SourceHealth.
type HealthReport struct {
	Source            string      `json:"source"`
	State             HealthState `json:"state"`
	Successes         int64       `json:"successes"`
	Failures          int64       `json:"failures"`
	ConsecutiveErrors int         `json:"consecutiveErrors"`
	LastSuccess       *time.Time  `json:"lastSuccess,omitempty"`
	LastError         string      `json:"lastError,omitempty"`
	LastLatencyMs     int64       `json:"lastLatencyMs"`
}

func (h *SourceHealth) Report() HealthReport {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r := HealthReport{
		Source:            h.name,
		State:             h.state,
		Successes:         h.successes,
		Failures:          h.failures,
		ConsecutiveErrors: h.consecutiveErrors,
		LastError:         h.lastErrorMsg,
		LastLatencyMs:     h.lastLatency.Milliseconds(),
	}
	if !h.lastSuccess.IsZero() {
		t := h.lastSuccess
		r.LastSuccess = &t
	}
	return r
}
