package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/Rajchodisetti/trading-dashboard/internal/observ"
)

// RedisChannel broadcasts over Redis Pub/Sub so instances on different hosts
// share the topic. One PubSub connection fans out to all local handlers.
type RedisChannel struct {
	topic  string
	client *redis.Client
	pubsub *redis.PubSub
	state  int32 // atomic ConnectionState

	mu     sync.RWMutex
	subs   map[int]Handler
	nextID int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRedisChannel(ctx context.Context, addr, password string, db int, topic string) (*RedisChannel, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	c := &RedisChannel{
		topic:  topic,
		client: client,
		subs:   make(map[int]Handler),
	}
	atomic.StoreInt32(&c.state, int32(StateConnecting))

	c.pubsub = client.Subscribe(ctx, topic)
	if _, err := c.pubsub.Receive(ctx); err != nil {
		_ = c.pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	atomic.StoreInt32(&c.state, int32(StateConnected))

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go c.receiveLoop(loopCtx)

	observ.Log("redis_channel_subscribed", map[string]any{"addr": addr, "topic": topic})
	return c, nil
}

func (c *RedisChannel) Topic() string { return c.topic }

func (c *RedisChannel) Publish(ctx context.Context, m Message) error {
	payload, err := Encode(m)
	if err != nil {
		return err
	}
	if err := c.client.Publish(ctx, c.topic, payload).Err(); err != nil {
		observ.IncCounter("broadcast_errors_total", map[string]string{"backend": "redis"})
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	observ.IncCounter("broadcast_published_total", map[string]string{"backend": "redis", "type": m.Type})
	return nil
}

func (c *RedisChannel) Subscribe(h Handler) (func(), error) {
	if c.State() == StateDisconnected {
		return nil, fmt.Errorf("redis channel %s is closed", c.topic)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = h
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}, nil
}

func (c *RedisChannel) receiveLoop(ctx context.Context) {
	defer c.wg.Done()
	ch := c.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				atomic.StoreInt32(&c.state, int32(StateDisconnected))
				return
			}
			m, err := Decode([]byte(msg.Payload))
			if err != nil {
				observ.Log("broadcast_decode_failed", map[string]any{"topic": c.topic, "error": err.Error(), "level": "warn"})
				continue
			}
			c.dispatch(m)
		}
	}
}

func (c *RedisChannel) dispatch(m Message) {
	c.mu.RLock()
	handlers := make([]Handler, 0, len(c.subs))
	for _, h := range c.subs {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	for _, h := range handlers {
		h(m)
	}
	observ.IncCounter("broadcast_received_total", map[string]string{"backend": "redis", "type": m.Type})
}

func (c *RedisChannel) State() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&c.state))
}

func (c *RedisChannel) Close() error {
	atomic.StoreInt32(&c.state, int32(StateDisconnected))
	c.cancel()
	err := c.pubsub.Close()
	c.wg.Wait()
	if cerr := c.client.Close(); err == nil {
		err = cerr
	}
	return err
}
