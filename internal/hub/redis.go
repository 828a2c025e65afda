package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"consultdesk/pkg/interfaces"
)

var _ interfaces.RoomBroadcaster = (*RedisBroadcaster)(nil)

// DefaultChannelPrefix namespaces room channels on a shared Redis
const DefaultChannelPrefix = "consultdesk:room:"

// RedisBroadcaster fans room events out across instances through Redis pub/sub.
// Every instance, the publisher included, receives each event from Redis and
// hands it to its local Hub, so a socket sees the event exactly once.
type RedisBroadcaster struct {
	client *redis.Client
	hub    *Hub
	prefix string

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisBroadcaster creates a broadcaster publishing on prefix+room
func NewRedisBroadcaster(client *redis.Client, hub *Hub, prefix string) *RedisBroadcaster {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisBroadcaster{client: client, hub: hub, prefix: prefix}
}

// Start subscribes to every room channel and begins relaying to the local hub
func (b *RedisBroadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pubsub != nil {
		return ErrHubAlreadyRunning
	}

	pubsub := b.client.PSubscribe(ctx, b.prefix+"*")
	// Wait for the subscription confirmation so no publish is missed after Start returns
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s*: %w", b.prefix, err)
	}

	b.pubsub = pubsub
	b.done = make(chan struct{})
	go b.listen(ctx, pubsub.Channel(), b.done)

	slog.Info("redis room broadcaster subscribed", "pattern", b.prefix+"*")
	return nil
}

// Stop unsubscribes and waits for the relay goroutine
func (b *RedisBroadcaster) Stop() error {
	b.mu.Lock()
	pubsub, done := b.pubsub, b.done
	b.pubsub = nil
	b.mu.Unlock()

	if pubsub == nil {
		return ErrHubNotRunning
	}
	err := pubsub.Close()
	<-done
	return err
}

// Broadcast publishes the event on the room's channel
func (b *RedisBroadcaster) Broadcast(ctx context.Context, roomID, event string, payload any, exceptConnID string) error {
	env, err := NewEnvelope(roomID, event, payload, exceptConnID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := b.client.Publish(ctx, b.prefix+roomID, data).Err(); err != nil {
		return fmt.Errorf("redis publish error: %w", err)
	}
	return nil
}

func (b *RedisBroadcaster) listen(ctx context.Context, messages <-chan *redis.Message, done chan<- struct{}) {
	defer close(done)

	for msg := range messages {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			slog.Warn("dropping malformed room envelope", "channel", msg.Channel, "error", err)
			continue
		}
		if env.Room == "" {
			env.Room = strings.TrimPrefix(msg.Channel, b.prefix)
		}
		if err := b.hub.Deliver(ctx, env); err != nil {
			slog.Warn("failed to relay room envelope", "room", env.Room, "event", env.Event, "error", err)
		}
	}
}
