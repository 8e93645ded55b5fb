package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultRoutingKey is used for run events published to an exchange.
const DefaultRoutingKey = "restore.finished"

// AMQPConfig configures the RabbitMQ publisher.
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// AMQPPublisher publishes run events to a topic exchange.
type AMQPPublisher struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(cfg AMQPConfig) (*AMQPPublisher, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	exchange := strings.TrimSpace(cfg.Exchange)
	if exchange == "" {
		return nil, errors.New("amqp exchange required")
	}
	routingKey := strings.TrimSpace(cfg.RoutingKey)
	if routingKey == "" {
		routingKey = DefaultRoutingKey
	}
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
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, routingKey: routingKey}, nil
}

// Publish sends the event as a persistent JSON message.
func (p *AMQPPublisher) Publish(ctx context.Context, ev RunFinished) error {
	body, err := encode(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.RunID,
		Timestamp:    ev.FinishedAt,
		Body:         body,
	})
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	chErr := p.ch.Close()
	connErr := p.conn.Close()
	return errors.Join(chErr, connErr)
}
