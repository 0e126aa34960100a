package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Rajchodisetti/trading-dashboard/internal/config"
)

// Message types carried on the key-update topic
const (
	TypeKeyResolved = "key_resolved"
	TypeKeySaved    = "key_saved"
	TypeKeyRemoved  = "key_removed"
)

// Message is one broadcast event. Receivers treat it as a hint to re-check,
// never as the source of truth.
type Message struct {
	Type      string `json:"type"`
	Provider  string `json:"provider"`
	Source    string `json:"source,omitempty"`
	Available *bool  `json:"available,omitempty"`
	Timestamp int64  `json:"timestamp"` // unix millis
	Origin    string `json:"origin"`    // sending instance
	ID        string `json:"id"`
}

// Time returns the message timestamp.
func (m Message) Time() time.Time { return time.UnixMilli(m.Timestamp) }

func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return b, nil
}

func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("decode message: %w", err)
	}
	if m.Type == "" {
		return m, fmt.Errorf("decode message: missing type")
	}
	return m, nil
}

// Handler receives messages. It must not block for long.
type Handler func(Message)

// Channel is a named best-effort broadcast topic shared by every instance.
// Delivery is unordered relative to the receiver's own state changes.
type Channel interface {
	Topic() string
	Publish(ctx context.Context, m Message) error
	// Subscribe registers h and returns its disposer.
	Subscribe(h Handler) (unsubscribe func(), err error)
	State() ConnectionState
	Close() error
}

// ConnectionState represents the current state of a transport connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota // 0 = down
	StateConnecting                          // 1 = connecting
	StateConnected                           // 2 = up
)

// String returns human-readable connection state
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Open creates the channel selected by cfg.Backend.
func Open(ctx context.Context, cfg config.Channel) (Channel, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryBus(cfg.Topic), nil
	case "redis":
		ch, err := NewRedisChannel(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.Topic)
		if err != nil {
			return nil, err
		}
		return ch, nil
	default:
		return nil, fmt.Errorf("unknown channel backend %q", cfg.Backend)
	}
}
