package transport

import (
	"context"
	"sync"

	"github.com/Rajchodisetti/trading-dashboard/internal/observ"
)

// MemoryBus is an in-process Channel. Every instance sharing one bus sees the
// same topic; delivery is synchronous on the publisher's goroutine.
type MemoryBus struct {
	topic  string
	mu     sync.RWMutex
	subs   map[int]Handler
	nextID int
	closed bool
}

func NewMemoryBus(topic string) *MemoryBus {
	return &MemoryBus{topic: topic, subs: make(map[int]Handler)}
}

func (b *MemoryBus) Topic() string { return b.topic }

func (b *MemoryBus) Publish(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil
	}
	handlers := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(m)
	}
	observ.IncCounter("broadcast_published_total", map[string]string{"backend": "memory", "type": m.Type})
	return nil
}

func (b *MemoryBus) Subscribe(h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}, nil
}

func (b *MemoryBus) State() ConnectionState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return StateDisconnected
	}
	return StateConnected
}

// Subscribers returns the number of live subscriptions.
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[int]Handler)
	return nil
}
