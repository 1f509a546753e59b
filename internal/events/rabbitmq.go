// Package events publishes job status changes to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/maauso/frame-extractor/internal/job"
)

// Defaults for the status exchange.
const (
	DefaultExchange   = "frame-extractor"
	StatusRoutingKey  = "extraction.status"
	publishTimeout    = 5 * time.Second
	exchangeKindTopic = "topic"
)

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Compile-time check that RabbitPublisher implements job.Notifier.
var _ job.Notifier = (*RabbitPublisher)(nil)

// RabbitPublisher sends status events as persistent JSON messages on a
// topic exchange, routed by extraction.status.<status>.
type RabbitPublisher struct {
	conn     *amqp.Connection
	channel  Channel
	exchange string
}

// NewRabbitPublisher wraps an open channel.
func NewRabbitPublisher(ch Channel, exchange string) *RabbitPublisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &RabbitPublisher{channel: ch, exchange: exchange}
}

// DialRabbitPublisher connects to url and declares the durable topic exchange.
func DialRabbitPublisher(url, exchange string) (*RabbitPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, exchangeKindTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	p := NewRabbitPublisher(ch, exchange)
	p.conn = conn
	return p, nil
}

// NotifyStatus publishes event.
func (p *RabbitPublisher) NotifyStatus(ctx context.Context, event job.StatusEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		StatusRoutingKey+"."+string(event.Status),
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.OccurredAt,
			MessageId:    event.JobID + ":" + string(event.Status),
		},
	)
	if err != nil {
		return fmt.Errorf("publish status event: %w", err)
	}
	return nil
}

// Close closes the channel and, when owned, the connection.
func (p *RabbitPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
