// Package bus provides the event pipeline for CareLoop.
//
// This file implements the in-process bus used by tests and single-node
// deployments. Delivery semantics match the broker-backed implementation:
// at-least-once, bounded in-flight count, nack with backoff, park after the
// attempt budget is spent.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// subscriptionQueueSize is the buffered backlog per subscription. Publish
// blocks once the backlog is full, providing backpressure to producers.
const subscriptionQueueSize = 256

// MemoryOpts holds configuration options for the in-memory bus.
type MemoryOpts struct {
	MaxInFlight  int
	MaxAttempts  int
	RetryBackoff time.Duration
}

// MemoryOption defines a configuration option for the in-memory bus.
type MemoryOption func(*MemoryOpts)

// WithMaxInFlight caps concurrent unacknowledged deliveries per subscription.
func WithMaxInFlight(n int) MemoryOption {
	return func(o *MemoryOpts) { o.MaxInFlight = n }
}

// WithMaxAttempts bounds deliveries of a failing message before parking.
func WithMaxAttempts(n int) MemoryOption {
	return func(o *MemoryOpts) { o.MaxAttempts = n }
}

// WithRetryBackoff sets the base redelivery delay for nacked messages.
func WithRetryBackoff(d time.Duration) MemoryOption {
	return func(o *MemoryOpts) { o.RetryBackoff = d }
}

type subscription struct {
	topic   string
	handler Handler
	queue   chan Message
	slots   chan struct{}
}

// MemoryBus is an in-process Bus with per-subscription fan-out.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription
	done   chan struct{}
	closed bool
	wg     sync.WaitGroup

	maxInFlight  int
	maxAttempts  int
	retryBackoff time.Duration
	parked       atomic.Int64
}

// NewMemoryBus creates an in-memory bus with the given options.
func NewMemoryBus(opts ...MemoryOption) *MemoryBus {
	cfg := MemoryOpts{
		MaxInFlight:  DefaultMaxInFlight,
		MaxAttempts:  DefaultMaxAttempts,
		RetryBackoff: DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewMemoryBus created", "maxInFlight", cfg.MaxInFlight, "maxAttempts", cfg.MaxAttempts, "retryBackoff", cfg.RetryBackoff)
	return &MemoryBus{
		subs:         make(map[string][]*subscription),
		done:         make(chan struct{}),
		maxInFlight:  cfg.MaxInFlight,
		maxAttempts:  cfg.MaxAttempts,
		retryBackoff: cfg.RetryBackoff,
	}
}

// Publish delivers the payload to every subscription of the topic. It blocks
// when a subscription backlog is full until there is room or ctx is done.
func (b *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]*subscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.RUnlock()

	for _, sub := range subs {
		msg := Message{ID: uuid.NewString(), Topic: topic, Payload: payload, Attempt: 1}
		select {
		case sub.queue <- msg:
			slog.Debug("MemoryBus Publish enqueued", "topic", topic, "messageID", msg.ID)
		case <-b.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers a handler for a topic and starts its consumer loop.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	sub := &subscription{
		topic:   topic,
		handler: handler,
		queue:   make(chan Message, subscriptionQueueSize),
		slots:   make(chan struct{}, b.maxInFlight),
	}
	b.subs[topic] = append(b.subs[topic], sub)
	b.wg.Add(1)
	b.mu.Unlock()

	go b.dispatch(ctx, sub)
	slog.Debug("MemoryBus Subscribe registered", "topic", topic)
	return nil
}

// dispatch pulls messages off the subscription backlog, honoring the
// in-flight cap, until the context is cancelled or the bus is closed.
func (b *MemoryBus) dispatch(ctx context.Context, sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case msg := <-sub.queue:
			select {
			case sub.slots <- struct{}{}:
			case <-ctx.Done():
				return
			case <-b.done:
				return
			}
			b.wg.Add(1)
			go b.deliver(ctx, sub, msg)
		}
	}
}

// deliver runs the handler once and applies ack/nack semantics.
func (b *MemoryBus) deliver(ctx context.Context, sub *subscription, msg Message) {
	defer b.wg.Done()
	defer func() { <-sub.slots }()

	err := sub.handler(ctx, msg)
	if err == nil {
		slog.Debug("MemoryBus message acked", "topic", sub.topic, "messageID", msg.ID, "attempt", msg.Attempt)
		return
	}

	if msg.Attempt >= b.maxAttempts {
		b.parked.Add(1)
		slog.Error("MemoryBus parking message after max attempts", "topic", sub.topic, "messageID", msg.ID, "attempts", msg.Attempt, "error", err)
		return
	}

	next := msg
	next.Attempt++
	delay := b.retryBackoff * time.Duration(msg.Attempt)
	slog.Debug("MemoryBus message nacked, scheduling redelivery", "topic", sub.topic, "messageID", msg.ID, "nextAttempt", next.Attempt, "delay", delay, "error", err)
	time.AfterFunc(delay, func() { b.requeue(sub, next) })
}

// requeue returns a nacked message to the subscription backlog unless the
// bus has shut down in the meantime.
func (b *MemoryBus) requeue(sub *subscription, msg Message) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		slog.Debug("MemoryBus dropping redelivery after close", "topic", sub.topic, "messageID", msg.ID)
		return
	}
	select {
	case sub.queue <- msg:
	default:
		// Backlog is full; parking beats blocking a timer goroutine forever.
		b.parked.Add(1)
		slog.Error("MemoryBus parking redelivery, backlog full", "topic", sub.topic, "messageID", msg.ID)
	}
}

// Parked reports how many messages were parked after exhausting their
// attempt budget.
func (b *MemoryBus) Parked() int64 {
	return b.parked.Load()
}

// Close stops intake, waits for in-flight handlers, and shuts the bus down.
// Acknowledgments for messages already being processed are not dropped.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()
	slog.Debug("MemoryBus closed")
	return nil
}
