package keys

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNoCredential means no key is stored for the provider.
var ErrNoCredential = errors.New("no credential configured")

// Store is the local credential store: one secret per provider. Reads never
// touch the network.
type Store interface {
	Get(ctx context.Context, provider string) (string, error)
	Set(ctx context.Context, provider, secret string) error
	Remove(ctx context.Context, provider string) error
	// List returns the providers that have a stored secret, sorted.
	List(ctx context.Context) ([]string, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]string)}
}

func (m *MemoryStore) Get(ctx context.Context, provider string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	secret, ok := m.secrets[provider]
	if !ok || secret == "" {
		return "", ErrNoCredential
	}
	return secret, nil
}

func (m *MemoryStore) Set(ctx context.Context, provider, secret string) error {
	if secret == "" {
		return m.Remove(ctx, provider)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[provider] = secret
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, provider)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.secrets))
	for p := range m.secrets {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}
