package events

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/askwhyharsh/safezone/pkg/logger"
)

// Publisher sends events to something outside the process.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher publishes JSON events to a fanout exchange, routed by
// event type.
type RabbitPublisher struct {
	ch       amqpChannel
	exchange string
}

func DialRabbitMQ(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect: %w", err)
	}
	return conn, nil
}

func NewRabbitPublisher(conn *amqp.Connection, exchange string) (*RabbitPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &RabbitPublisher{ch: ch, exchange: exchange}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return p.ch.PublishWithContext(ctx, p.exchange, string(e.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Timestamp:    e.Timestamp,
		Body:         body,
	})
}

func (p *RabbitPublisher) Close() error {
	return p.ch.Close()
}

// Forwarder relays selected broadcast events to a Publisher.
type Forwarder struct {
	broadcaster *Broadcaster
	publisher   Publisher
	types       []Type
	logger      logger.Logger
}

func NewForwarder(b *Broadcaster, pub Publisher, log logger.Logger, types ...Type) *Forwarder {
	return &Forwarder{broadcaster: b, publisher: pub, types: types, logger: log}
}

// Run forwards until ctx is done or the broadcaster closes.
func (f *Forwarder) Run(ctx context.Context) {
	id, ch := f.broadcaster.Subscribe("")
	defer f.broadcaster.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if len(f.types) > 0 && !slices.Contains(f.types, e.Type) {
				continue
			}
			if err := f.publisher.Publish(ctx, e); err != nil {
				f.logger.Error("Failed to publish event", "type", e.Type, "user_id", e.UserID, "error", err)
			}
		}
	}
}
