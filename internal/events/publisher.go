// Package events publishes handoff lifecycle events to a RabbitMQ topic
// exchange for external consumers (analytics, CRM sync). The bus is
// optional: when no broker is configured the coordinator runs without it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Meta identifies a published event.
type Meta struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Envelope wraps every published event payload.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// AMQPPublisher publishes JSON envelopes to a durable topic exchange.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	exchange string
	source   string
	log      *slog.Logger
}

// NewAMQP connects to the broker and declares the exchange.
func NewAMQP(url, exchange, source string, logger *slog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer func() {
		if closeErr := ch.Close(); closeErr != nil {
			logger.Debug("Failed to close declare channel", "error", closeErr)
		}
	}()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{
		conn:     conn,
		exchange: exchange,
		source:   source,
		log:      logger,
	}, nil
}

// Publish sends data under the given routing key as a persistent JSON
// message.
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, data any) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() {
		if closeErr := ch.Close(); closeErr != nil {
			p.log.Debug("Failed to close publish channel", "error", closeErr)
		}
	}()

	envelope := Envelope{
		Meta: Meta{
			ID:         uuid.NewString(),
			Source:     p.source,
			OccurredAt: time.Now().UTC(),
		},
		Data: data,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	err = ch.PublishWithContext(ctx, p.exchange, routingKey, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    envelope.Meta.ID,
			Timestamp:    envelope.Meta.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}

	p.log.Debug("Published handoff event",
		slog.String("routing_key", routingKey),
		slog.String("exchange", p.exchange))
	return nil
}

// Close closes the broker connection.
func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}
