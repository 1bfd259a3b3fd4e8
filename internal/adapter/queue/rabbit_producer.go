package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/aq2208/group-order-api/internal/usecase"
)

const (
	exchangeName = "group-order.events"
	queueName    = "group-order.events.q"
	// bindingKey matches every session event type published here,
	// e.g. "group-order.participant-joined".
	bindingKey = "group-order.#"
)

// RabbitProducer implements usecase.EventPublisher. The notification
// fan-out service consumes the bound queue; delivery past the broker is
// its concern.
type RabbitProducer struct {
	ch *amqp.Channel
}

// NewRabbitProducer declares the exchange, queue, and binding once at startup.
func NewRabbitProducer(ch *amqp.Channel) (*RabbitProducer, error) {
	if err := ch.ExchangeDeclare(
		exchangeName,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, bindingKey, exchangeName, false, nil); err != nil {
		return nil, fmt.Errorf("queue bind: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirm mode: %w", err)
	}

	return &RabbitProducer{ch: ch}, nil
}

// Publish routes one session event by its type.
func (p *RabbitProducer) Publish(ctx context.Context, evt usecase.SessionEventMsg) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.publishRaw(ctx, evt.Type, body)
}

// PublishRaw publishes an already-encoded payload; the outbox drainer uses
// this for staged events.
func (p *RabbitProducer) PublishRaw(ctx context.Context, routingKey string, body []byte) error {
	return p.publishRaw(ctx, routingKey, body)
}

func (p *RabbitProducer) publishRaw(ctx context.Context, routingKey string, body []byte) error {
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, exchangeName, routingKey, false, false, pub); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

var _ usecase.EventPublisher = (*RabbitProducer)(nil)
