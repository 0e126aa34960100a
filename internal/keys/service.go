package keys

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Rajchodisetti/trading-dashboard/internal/notify"
	"github.com/Rajchodisetti/trading-dashboard/internal/observ"
	"github.com/Rajchodisetti/trading-dashboard/internal/providers"
	"github.com/Rajchodisetti/trading-dashboard/internal/transport"
)

// AnyProvider asks whether any provider at all has a credential.
const AnyProvider = "any"

// Source tells where an availability answer came from.
type Source string

const (
	SourceLocalCache    Source = "local-cache"
	SourceRemoteCheck   Source = "remote-check"
	SourceCacheFallback Source = "cache-fallback"
)

// Availability is immutable once returned.
type Availability struct {
	Provider  string `json:"provider"`
	Available bool   `json:"available"`
	Source    Source `json:"source"`
}

// Service answers key availability and keeps other instances informed over
// the broadcast channel. It never returns an error from CheckAvailability.
type Service struct {
	store   Store
	checker CapabilityChecker // nil: no remote check configured
	channel transport.Channel // nil: no broadcast
	sink    notify.Sink
	origin  string
	now     func() time.Time
}

func NewService(store Store, checker CapabilityChecker, channel transport.Channel, sink notify.Sink) *Service {
	if store == nil {
		store = NewMemoryStore()
	}
	if sink == nil {
		sink = notify.Discard
	}
	return &Service{
		store:   store,
		checker: checker,
		channel: channel,
		sink:    sink,
		origin:  uuid.NewString(),
		now:     time.Now,
	}
}

// Origin identifies this instance on the broadcast channel.
func (s *Service) Origin() string { return s.origin }

// Normalize maps a provider name or display name to its store key; "any"
// and unknown names pass through lower-cased.
func Normalize(provider string) string {
	name := strings.ToLower(strings.TrimSpace(provider))
	if name == "" || name == AnyProvider {
		return AnyProvider
	}
	if p, err := providers.Parse(name); err == nil {
		return p.Info().ID
	}
	return name
}

// CheckAvailability resolves local store first, then the remote capability
// check, then a second local read.
func (s *Service) CheckAvailability(ctx context.Context, provider string) Availability {
	target := Normalize(provider)

	if s.hasLocal(ctx, target) {
		res := Availability{Provider: target, Available: true, Source: SourceLocalCache}
		s.record(res)
		s.broadcast(ctx, transport.TypeKeyResolved, res)
		return res
	}

	if s.checker != nil {
		report, err := s.checker.Check(ctx, capabilityKey(target))
		if err == nil {
			res := Availability{Provider: target, Available: report.availableFor(capabilityKey(target)), Source: SourceRemoteCheck}
			s.record(res)
			s.broadcast(ctx, transport.TypeKeyResolved, res)
			return res
		}
		observ.Log("capability_check_failed", map[string]any{
			"provider": target,
			"error":    err.Error(),
			"level":    "warn",
		})
		notify.Send(s.sink, "Could not verify API keys", "The key capability check failed; using locally stored keys only.", notify.VariantWarning)
	}

	res := Availability{Provider: target, Available: s.hasLocal(ctx, target), Source: SourceCacheFallback}
	s.record(res)
	return res
}

func (s *Service) hasLocal(ctx context.Context, target string) bool {
	if target == AnyProvider {
		list, err := s.store.List(ctx)
		if err != nil {
			observ.Log("key_store_read_failed", map[string]any{"provider": target, "error": err.Error(), "level": "warn"})
			return false
		}
		return len(list) > 0
	}
	_, err := s.store.Get(ctx, target)
	if err != nil && !errors.Is(err, ErrNoCredential) {
		observ.Log("key_store_read_failed", map[string]any{"provider": target, "error": err.Error(), "level": "warn"})
	}
	return err == nil
}

// SaveKey stores a credential and tells other instances.
func (s *Service) SaveKey(ctx context.Context, provider, secret string) error {
	target := Normalize(provider)
	if target == AnyProvider {
		return errors.New("a concrete provider is required")
	}
	if strings.TrimSpace(secret) == "" {
		return errors.New("secret must not be empty")
	}
	if err := s.store.Set(ctx, target, strings.TrimSpace(secret)); err != nil {
		return err
	}
	observ.Log("key_saved", map[string]any{"provider": target})
	s.broadcast(ctx, transport.TypeKeySaved, Availability{Provider: target, Available: true, Source: SourceLocalCache})
	return nil
}

// RemoveKey deletes a credential and tells other instances.
func (s *Service) RemoveKey(ctx context.Context, provider string) error {
	target := Normalize(provider)
	if target == AnyProvider {
		return errors.New("a concrete provider is required")
	}
	if err := s.store.Remove(ctx, target); err != nil {
		return err
	}
	observ.Log("key_removed", map[string]any{"provider": target})
	s.broadcast(ctx, transport.TypeKeyRemoved, Availability{Provider: target, Available: false, Source: SourceLocalCache})
	return nil
}

// Watch delivers messages from other instances to fn and returns the
// disposer. Messages are hints; fn should re-check rather than trust them.
func (s *Service) Watch(fn func(transport.Message)) (func(), error) {
	if s.channel == nil {
		return func() {}, nil
	}
	return s.channel.Subscribe(func(m transport.Message) {
		if m.Origin == s.origin {
			return
		}
		observ.IncCounter("broadcast_hints_total", map[string]string{"type": m.Type})
		fn(m)
	})
}

func (s *Service) broadcast(ctx context.Context, msgType string, res Availability) {
	if s.channel == nil {
		return
	}
	available := res.Available
	msg := transport.Message{
		Type:      msgType,
		Provider:  res.Provider,
		Source:    string(res.Source),
		Available: &available,
		Timestamp: s.now().UnixMilli(),
		Origin:    s.origin,
		ID:        uuid.NewString(),
	}
	if err := s.channel.Publish(ctx, msg); err != nil {
		observ.Log("broadcast_failed", map[string]any{"type": msgType, "provider": res.Provider, "error": err.Error(), "level": "warn"})
	}
}

func (s *Service) record(res Availability) {
	observ.IncCounter("key_checks_total", map[string]string{
		"source":    string(res.Source),
		"available": boolLabel(res.Available),
	})
	observ.Log("key_availability", map[string]any{
		"provider":  res.Provider,
		"available": res.Available,
		"source":    string(res.Source),
	})
}

func capabilityKey(target string) string {
	if target == AnyProvider {
		return AnyProvider
	}
	if p, err := providers.Parse(target); err == nil {
		return p.Info().CapabilityKey
	}
	return target
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
