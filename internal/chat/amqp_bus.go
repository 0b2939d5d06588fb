package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPBus fans events out through a RabbitMQ topic exchange. Each instance
// consumes from its own exclusive queue bound to every room key.
type AMQPBus struct {
	conn     *amqp.Connection
	exchange string
	log      *slog.Logger

	mu  sync.Mutex
	pub *amqp.Channel
}

func NewAMQPBus(url, exchange string, log *slog.Logger) (*AMQPBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPBus{conn: conn, exchange: exchange, log: log, pub: ch}, nil
}

// Publish is safe for concurrent use; amqp channels are not.
func (b *AMQPBus) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pub.PublishWithContext(ctx, b.exchange, Topic(evt.RoomID), false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        data,
	})
}

func (b *AMQPBus) Subscribe(ctx context.Context, handle func(Event)) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, topicPrefix+"*", b.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}
	b.log.Info("amqp bus subscribed", "exchange", b.exchange, "queue", q.Name)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("amqp deliveries closed")
			}
			evt, err := decodeDelivery(d)
			if err != nil {
				b.log.Warn("dropping malformed event", "routing_key", d.RoutingKey, "error", err)
				continue
			}
			handle(evt)
		}
	}
}

// decodeDelivery turns a consumed message back into an Event. The routing
// key is authoritative for the room.
func decodeDelivery(d amqp.Delivery) (Event, error) {
	var evt Event
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	roomID, ok := ParseTopic(d.RoutingKey)
	if !ok {
		return Event{}, fmt.Errorf("unexpected routing key %q", d.RoutingKey)
	}
	evt.RoomID = roomID
	return evt, nil
}

func (b *AMQPBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pub.Close()
	return b.conn.Close()
}
