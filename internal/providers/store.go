package providers

import (
	"fmt"
	"sync"

	"github.com/Rajchodisetti/trading-dashboard/internal/observ"
)

// Store holds the active provider shared by all chat widgets.
type Store struct {
	mu     sync.RWMutex
	active Provider
	subs   map[int]func(Provider)
	nextID int
}

func NewStore(initial Provider) *Store {
	if !initial.Valid() {
		initial = OpenAI
	}
	return &Store{active: initial, subs: make(map[int]func(Provider))}
}

func (s *Store) Active() Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Set changes the active provider and notifies subscribers if it changed.
func (s *Store) Set(p Provider) error {
	if !p.Valid() {
		return fmt.Errorf("unknown provider %d", int(p))
	}
	s.mu.Lock()
	if s.active == p {
		s.mu.Unlock()
		return nil
	}
	prev := s.active
	s.active = p
	subs := make([]func(Provider), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	observ.Log("active_provider_changed", map[string]any{"from": prev.String(), "to": p.String()})
	for _, fn := range subs {
		fn(p)
	}
	return nil
}

// Subscribe registers fn for changes and returns its disposer.
func (s *Store) Subscribe(fn func(Provider)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}
