// Package signals carries execution signals from the brain to the
// executor over a pluggable transport.
package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/vegas-max/titan-arb/pkg/retry"
	"github.com/vegas-max/titan-arb/pkg/types"
)

// Transport moves serialized signals between processes.
type Transport interface {
	// Publish sends one signal. Delivery is at-most-once.
	Publish(ctx context.Context, sig *types.ExecutionSignal) error
	// Subscribe returns a channel of incoming signals. The channel
	// closes when the context is cancelled.
	Subscribe(ctx context.Context) (<-chan *types.ExecutionSignal, error)
	// Close releases transport resources.
	Close() error
}

// RedisTransport publishes signals on a Redis pub/sub channel.
type RedisTransport struct {
	client  *redis.Client
	channel string
	policy  retry.Policy
}

// NewRedisTransport connects to Redis and verifies the link.
func NewRedisTransport(ctx context.Context, url, channel string, policy retry.Policy) (*RedisTransport, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisTransport{client: client, channel: channel, policy: policy}, nil
}

// Publish implements Transport.
func (t *RedisTransport) Publish(ctx context.Context, sig *types.ExecutionSignal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to marshal signal %s: %w", sig.ID, err)
	}
	return retry.Do(ctx, t.policy, func() error {
		return t.client.Publish(ctx, t.channel, payload).Err()
	})
}

// Subscribe implements Transport.
func (t *RedisTransport) Subscribe(ctx context.Context) (<-chan *types.ExecutionSignal, error) {
	sub := t.client.Subscribe(ctx, t.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	out := make(chan *types.ExecutionSignal, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var sig types.ExecutionSignal
				if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
					log.Printf("[WARN] signals: dropping malformed payload: %v", err)
					continue
				}
				select {
				case out <- &sig:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close implements Transport.
func (t *RedisTransport) Close() error { return t.client.Close() }

// MemoryTransport is an in-process transport for single-binary runs
// and tests.
type MemoryTransport struct {
	mu     sync.Mutex
	subs   []chan *types.ExecutionSignal
	closed bool
}

// NewMemoryTransport creates an in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{}
}

// Publish implements Transport. Signals to a full subscriber are
// dropped rather than blocking the brain.
func (t *MemoryTransport) Publish(ctx context.Context, sig *types.ExecutionSignal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transport closed")
	}
	for _, ch := range t.subs {
		select {
		case ch <- sig:
		default:
			log.Printf("[WARN] signals: subscriber full, dropping %s", sig.ID)
		}
	}
	return nil
}

// Subscribe implements Transport.
func (t *MemoryTransport) Subscribe(ctx context.Context) (<-chan *types.ExecutionSignal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("transport closed")
	}
	ch := make(chan *types.ExecutionSignal, 64)
	t.subs = append(t.subs, ch)
	go func() {
		<-ctx.Done()
		t.drop(ch)
	}()
	return ch, nil
}

// drop removes a cancelled subscriber and closes its channel.
func (t *MemoryTransport) drop(ch chan *types.ExecutionSignal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return // Close already closed every subscriber
	}
	for i, sub := range t.subs {
		if sub == ch {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Close implements Transport.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, ch := range t.subs {
		close(ch)
	}
	t.subs = nil
	return nil
}
