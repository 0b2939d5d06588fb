package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Publisher hands events to the broadcast layer.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Bus moves events between server instances. Subscribe blocks until ctx is
// done, calling handle for every event published by any instance.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context, handle func(Event)) error
}

var ErrBusFull = errors.New("event bus buffer full")

// LocalBus is an in-process bus for single-instance deployments and tests.
type LocalBus struct {
	events chan Event
}

func NewLocalBus(buffer int) *LocalBus {
	return &LocalBus{events: make(chan Event, buffer)}
}

// Publish never blocks; a full buffer drops the event.
func (b *LocalBus) Publish(ctx context.Context, evt Event) error {
	select {
	case b.events <- evt:
		return nil
	default:
		return ErrBusFull
	}
}

func (b *LocalBus) Subscribe(ctx context.Context, handle func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-b.events:
			handle(evt)
		}
	}
}

// RedisBus fans events out through Redis pub/sub, one channel per room.
type RedisBus struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisBus(client *redis.Client, log *slog.Logger) *RedisBus {
	return &RedisBus{client: client, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.client.Publish(ctx, Topic(evt.RoomID), data).Err()
}

// Subscribe listens on every room channel of every instance.
func (b *RedisBus) Subscribe(ctx context.Context, handle func(Event)) error {
	pubsub := b.client.PSubscribe(ctx, topicPrefix+"*")
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before reporting readiness.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s*: %w", topicPrefix, err)
	}
	b.log.Info("redis bus subscribed", "pattern", topicPrefix+"*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			roomID, ok := ParseTopic(msg.Channel)
			if !ok {
				continue
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.log.Warn("dropping malformed event", "channel", msg.Channel, "error", err)
				continue
			}
			evt.RoomID = roomID
			handle(evt)
		}
	}
}
