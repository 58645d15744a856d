package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"devconnect/api/internal/collab"
	"github.com/redis/go-redis/v9"
)

// RedisBus relays events between API instances over Redis pub/sub, one channel
// per session.
type RedisBus struct {
	client *redis.Client
	prefix string
	buffer int
}

// NewRedisBus connects to redisURL and verifies the connection.
func NewRedisBus(redisURL string) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisBusWithClient(client), nil
}

func NewRedisBusWithClient(client *redis.Client) *RedisBus {
	return &RedisBus{
		client: client,
		prefix: "codesession:",
		buffer: 64,
	}
}

func (b *RedisBus) channel(sessionID string) string {
	return b.prefix + sessionID
}

func (b *RedisBus) Name() string { return "redis" }

func (b *RedisBus) Deliver(ctx context.Context, event collab.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(event.SessionID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so no event
// published afterwards is missed.
func (b *RedisBus) Subscribe(ctx context.Context, sessionID string) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.channel(sessionID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", sessionID, err)
	}

	events := make(chan collab.Event, b.buffer)
	go func() {
		defer close(events)
		for msg := range pubsub.Channel() {
			var event collab.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("redis bus: discard malformed event on %s: %v", msg.Channel, err)
				continue
			}
			select {
			case events <- event:
			default:
			}
		}
	}()

	return &Subscription{Events: events, cancel: func() { _ = pubsub.Close() }}, nil
}

func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
