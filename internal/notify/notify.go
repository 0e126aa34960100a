// Package notify delivers user-facing toasts. Delivery is fire-and-forget:
// sinks never return errors to the caller.
package notify

import (
	"sync"
	"time"

	"github.com/Rajchodisetti/trading-dashboard/internal/observ"
)

type Variant string

const (
	VariantDefault     Variant = "default"
	VariantWarning     Variant = "warning"
	VariantDestructive Variant = "destructive"
)

type Toast struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Variant     Variant   `json:"variant"`
	At          time.Time `json:"at"`
}

type Sink interface {
	Notify(t Toast)
}

// Func adapts a function to Sink.
type Func func(Toast)

func (f Func) Notify(t Toast) { f(t) }

// Discard drops every toast.
var Discard Sink = Func(func(Toast) {})

// LogSink writes toasts to the structured log.
type LogSink struct{}

func (LogSink) Notify(t Toast) {
	level := "info"
	if t.Variant == VariantWarning {
		level = "warn"
	} else if t.Variant == VariantDestructive {
		level = "error"
	}
	observ.Log("toast", map[string]any{
		"level":       level,
		"title":       t.Title,
		"description": t.Description,
		"variant":     string(t.Variant),
	})
	observ.IncCounter("toasts_total", map[string]string{"variant": string(t.Variant)})
}

// Memory keeps the most recent toasts, oldest first.
type Memory struct {
	mu     sync.Mutex
	toasts []Toast
	limit  int
}

// NewMemory keeps at most limit toasts; limit <= 0 keeps all.
func NewMemory(limit int) *Memory {
	return &Memory{limit: limit}
}

func (m *Memory) Notify(t Toast) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toasts = append(m.toasts, t)
	if m.limit > 0 && len(m.toasts) > m.limit {
		m.toasts = m.toasts[len(m.toasts)-m.limit:]
	}
}

func (m *Memory) Toasts() []Toast {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Toast, len(m.toasts))
	copy(out, m.toasts)
	return out
}

// Titles is a test convenience.
func (m *Memory) Titles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.toasts))
	for _, t := range m.toasts {
		out = append(out, t.Title)
	}
	return out
}

func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toasts = nil
}

// Multi fans a toast out to every sink.
type Multi []Sink

func (ms Multi) Notify(t Toast) {
	for _, s := range ms {
		if s != nil {
			s.Notify(t)
		}
	}
}

// Send stamps the toast and delivers it. A nil sink is a no-op.
func Send(s Sink, title, description string, v Variant) {
	if s == nil {
		return
	}
	s.Notify(Toast{Title: title, Description: description, Variant: v, At: time.Now().UTC()})
}
