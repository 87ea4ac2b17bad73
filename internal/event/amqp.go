package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig describes the connection parameters for the audit exchange.
type AMQPConfig struct {
	URL      string
	Exchange string
	Durable  bool
}

// AMQPPublisher publishes envelopes to a RabbitMQ fanout exchange as JSON.
// External indexers bind their own queues to the exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	seq      atomic.Uint64
}

// NewAMQPPublisher dials RabbitMQ and declares the fanout exchange.
func NewAMQPPublisher(cfg AMQPConfig) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is empty")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "headless-markets.events"
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish encodes the envelope as JSON and publishes it to the exchange.
func (p *AMQPPublisher) Publish(ctx context.Context, kind Kind, payload any) error {
	if p == nil || p.ch == nil {
		return errors.New("amqp publisher not initialized")
	}

	env := Envelope{
		ID:         uuid.NewString(),
		Seq:        p.seq.Add(1) - 1,
		Kind:       kind,
		OccurredAt: time.Now().UnixMilli(),
		Payload:    payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	return p.ch.PublishWithContext(ctx, p.exchange, string(kind), false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

var _ Bus = (*AMQPPublisher)(nil)

// MultiBus publishes to several buses in order, returning the first error.
type MultiBus []Bus

// Publish implements Bus.
func (m MultiBus) Publish(ctx context.Context, kind Kind, payload any) error {
	for _, b := range m {
		if err := b.Publish(ctx, kind, payload); err != nil {
			return err
		}
	}
	return nil
}

var _ Bus = MultiBus(nil)
