// Package bus provides the event pipeline for CareLoop.
//
// This file implements the RabbitMQ-backed bus. Each topic maps to a durable
// queue; flow control uses channel QoS prefetch, and redelivery attempts are
// tracked in a message header so perpetually failing messages can be parked
// instead of requeued forever.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// attemptHeader carries the delivery attempt count across requeues.
const attemptHeader = "x-delivery-attempts"

// RabbitOpts holds configuration options for the RabbitMQ bus.
type RabbitOpts struct {
	URL         string
	MaxInFlight int
	MaxAttempts int
}

// RabbitOption defines a configuration option for the RabbitMQ bus.
type RabbitOption func(*RabbitOpts)

// WithURL sets the broker connection URL.
func WithURL(url string) RabbitOption {
	return func(o *RabbitOpts) { o.URL = url }
}

// WithPrefetch caps unacknowledged deliveries per consumer channel.
func WithPrefetch(n int) RabbitOption {
	return func(o *RabbitOpts) { o.MaxInFlight = n }
}

// WithAttemptLimit bounds deliveries of a failing message before parking.
func WithAttemptLimit(n int) RabbitOption {
	return func(o *RabbitOpts) { o.MaxAttempts = n }
}

// RabbitBus is a Bus backed by a RabbitMQ broker.
type RabbitBus struct {
	conn *amqp.Connection
	pub  *amqp.Channel

	mu       sync.Mutex
	consumer []*amqp.Channel
	closed   bool
	wg       sync.WaitGroup

	maxInFlight int
	maxAttempts int
}

// NewRabbitBus dials the broker and opens the publisher channel.
func NewRabbitBus(opts ...RabbitOption) (*RabbitBus, error) {
	cfg := RabbitOpts{MaxInFlight: DefaultMaxInFlight, MaxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("broker URL not set")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		slog.Error("RabbitBus dial failed", "error", err)
		return nil, fmt.Errorf("failed to dial broker: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		slog.Error("RabbitBus publisher channel failed", "error", err)
		return nil, fmt.Errorf("failed to open publisher channel: %w", err)
	}
	slog.Debug("RabbitBus connected", "maxInFlight", cfg.MaxInFlight, "maxAttempts", cfg.MaxAttempts)
	return &RabbitBus{
		conn:        conn,
		pub:         pub,
		maxInFlight: cfg.MaxInFlight,
		maxAttempts: cfg.MaxAttempts,
	}, nil
}

// declareQueue ensures a durable queue exists for the topic.
func (b *RabbitBus) declareQueue(ch *amqp.Channel, topic string) error {
	_, err := ch.QueueDeclare(topic, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", topic, err)
	}
	return nil
}

// Publish sends a payload to the topic queue.
func (b *RabbitBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.mu.Unlock()

	if err := b.declareQueue(b.pub, topic); err != nil {
		return err
	}
	err := b.pub.PublishWithContext(ctx, "", topic, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		Body:        payload,
		Headers:     amqp.Table{attemptHeader: int32(1)},
	})
	if err != nil {
		slog.Error("RabbitBus Publish failed", "topic", topic, "error", err)
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	slog.Debug("RabbitBus Publish succeeded", "topic", topic)
	return nil
}

// Subscribe opens a consumer channel with QoS prefetch and starts the
// delivery loop for the topic queue.
func (b *RabbitBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.mu.Unlock()

	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	if err := ch.Qos(b.maxInFlight, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("failed to set qos: %w", err)
	}
	if err := b.declareQueue(ch, topic); err != nil {
		ch.Close()
		return err
	}
	deliveries, err := ch.Consume(topic, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to consume %s: %w", topic, err)
	}

	b.mu.Lock()
	b.consumer = append(b.consumer, ch)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.consume(ctx, topic, deliveries, handler)
	slog.Debug("RabbitBus Subscribe registered", "topic", topic)
	return nil
}

// consume runs the delivery loop until cancellation or channel close.
func (b *RabbitBus) consume(ctx context.Context, topic string, deliveries <-chan amqp.Delivery, handler Handler) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			b.process(ctx, topic, d, handler)
		}
	}
}

// process applies process-then-ack semantics to one delivery.
func (b *RabbitBus) process(ctx context.Context, topic string, d amqp.Delivery, handler Handler) {
	attempt := deliveryAttempt(d)
	msg := Message{ID: d.MessageId, Topic: topic, Payload: d.Body, Attempt: attempt}

	err := handler(ctx, msg)
	if err == nil {
		if err := d.Ack(false); err != nil {
			slog.Error("RabbitBus ack failed", "topic", topic, "messageID", d.MessageId, "error", err)
		}
		return
	}

	if attempt >= b.maxAttempts {
		slog.Error("RabbitBus parking message after max attempts", "topic", topic, "messageID", d.MessageId, "attempts", attempt, "error", err)
		if err := d.Nack(false, false); err != nil {
			slog.Error("RabbitBus park nack failed", "topic", topic, "messageID", d.MessageId, "error", err)
		}
		return
	}

	// Republish with an incremented attempt header, then ack the original,
	// so the attempt count survives the broker round trip.
	slog.Debug("RabbitBus message nacked, republishing", "topic", topic, "messageID", d.MessageId, "nextAttempt", attempt+1, "error", err)
	pubErr := b.pub.PublishWithContext(ctx, "", topic, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   d.MessageId,
		Body:        d.Body,
		Headers:     amqp.Table{attemptHeader: int32(attempt + 1)},
	})
	if pubErr != nil {
		slog.Error("RabbitBus redelivery republish failed, requeueing", "topic", topic, "messageID", d.MessageId, "error", pubErr)
		if err := d.Nack(false, true); err != nil {
			slog.Error("RabbitBus requeue nack failed", "topic", topic, "messageID", d.MessageId, "error", err)
		}
		return
	}
	if err := d.Ack(false); err != nil {
		slog.Error("RabbitBus redelivery ack failed", "topic", topic, "messageID", d.MessageId, "error", err)
	}
}

// deliveryAttempt reads the attempt count from the message headers.
func deliveryAttempt(d amqp.Delivery) int {
	if d.Headers != nil {
		switch v := d.Headers[attemptHeader].(type) {
		case int32:
			return int(v)
		case int64:
			return int(v)
		case int:
			return v
		}
	}
	return 1
}

// Close stops consumers, waits for in-flight deliveries, and closes the
// broker connection.
func (b *RabbitBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	consumers := b.consumer
	b.mu.Unlock()

	for _, ch := range consumers {
		if err := ch.Close(); err != nil {
			slog.Error("RabbitBus consumer channel close failed", "error", err)
		}
	}
	b.wg.Wait()

	if err := b.pub.Close(); err != nil {
		slog.Error("RabbitBus publisher channel close failed", "error", err)
	}
	if err := b.conn.Close(); err != nil {
		return fmt.Errorf("failed to close broker connection: %w", err)
	}
	slog.Debug("RabbitBus closed")
	return nil
}
