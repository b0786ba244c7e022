package notify

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Notifier announces committed attendance inserts so dashboards can
// re-aggregate without polling. A nil payload channel tick means "one or
// more new events exist"; subscribers coalesce, they do not replay.
type Notifier interface {
	EventInserted(ctx context.Context) error
	Subscribe(ctx context.Context) (<-chan struct{}, error)
}

// RedisNotifier broadcasts over a Redis pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedis creates a notifier on the given pub/sub channel.
func NewRedis(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = "secureattend:events"
	}
	return &RedisNotifier{client: client, channel: channel}
}

// EventInserted publishes a tick.
func (n *RedisNotifier) EventInserted(ctx context.Context) error {
	return n.client.Publish(ctx, n.channel, "1").Err()
}

// Subscribe streams ticks until ctx is cancelled.
func (n *RedisNotifier) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	sub := n.client.Subscribe(ctx, n.channel)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, err
	}
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
				// Coalesce: a pending tick already means "refresh".
				select {
				case out <- struct{}{}:
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// InMemory is a process-local notifier for dev and tests, mirroring the
// queue package's memory backend.
type InMemory struct {
	mu   sync.Mutex
	subs []chan struct{}
}

// NewInMemory creates an in-process notifier.
func NewInMemory() *InMemory {
	return &InMemory{}
}

// EventInserted ticks every subscriber without blocking.
func (n *InMemory) EventInserted(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Subscribe registers a listener that lives until ctx is cancelled.
func (n *InMemory) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	n.subs = append(n.subs, ch)
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		for i, sub := range n.subs {
			if sub == ch {
				n.subs = append(n.subs[:i], n.subs[i+1:]...)
				break
			}
		}
		n.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}
