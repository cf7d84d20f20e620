package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const bufferSize = 128

// amqpChannel is the subset of *amqp091.Channel used for publishing.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// RabbitMQ publishes events as persistent JSON messages to a topic exchange,
// routed by event type. Events are queued in a buffer drained by Worker; when
// the buffer is full the event is dropped.
type RabbitMQ struct {
	exchange string
	conn     *amqp091.Connection
	ch       amqpChannel
	in       chan Event
}

var _ Publisher = (*RabbitMQ)(nil)

func NewRabbitMQ(exchange string) *RabbitMQ {
	return &RabbitMQ{
		exchange: exchange,
		in:       make(chan Event, bufferSize),
	}
}

// Connect dials the broker and declares the exchange.
func (r *RabbitMQ) Connect(ctx context.Context, dsn string) error {
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	conn, err := amqp091.DialConfig(dsn, amqp091.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Properties: amqp091.Table{
			"connection_name": "codedrop",
		},
		Dial: func(network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(r.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", r.exchange, err)
	}

	r.conn = conn
	r.ch = ch
	slog.Info("rabbitmq connected", "exchange", r.exchange)
	return nil
}

// Publish queues e without blocking.
func (r *RabbitMQ) Publish(_ context.Context, e Event) {
	select {
	case r.in <- e:
	default:
		slog.Warn("event buffer full, dropping event",
			"event_type", e.Type,
			"share_code", e.ShareCode,
		)
	}
}

// Worker drains the buffer until ctx is cancelled, then closes the channel
// and connection.
func (r *RabbitMQ) Worker(ctx context.Context) {
	slog.Info("event publisher started")
	defer slog.Info("event publisher stopped")

	for {
		select {
		case e := <-r.in:
			if err := r.publish(ctx, e); err != nil {
				slog.Error("failed to publish event", "event_type", e.Type, "error", err)
			}
		case <-ctx.Done():
			r.close()
			return
		}
	}
}

func (r *RabbitMQ) publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.ch.PublishWithContext(ctx, r.exchange, e.Type, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    e.ID.String(),
		Timestamp:    e.Time,
		Type:         e.Type,
		Body:         body,
	})
}

func (r *RabbitMQ) close() {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		_ = r.conn.Close()
	}
}
