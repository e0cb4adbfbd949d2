// Package bus provides the event pipeline for CareLoop.
//
// It defines a topic/subscription abstraction with at-least-once delivery,
// a bounded in-flight message count per subscription, and explicit
// acknowledgment semantics: a handler returning nil acknowledges the message
// after processing completes, a handler returning an error negatively
// acknowledges it and schedules redelivery. Messages that keep failing are
// parked after a bounded number of attempts rather than retried forever.
package bus

import (
	"context"
	"errors"
	"time"
)

// Event topics carried by the bus. Each carries the JSON-serialized entity.
const (
	// TopicNewMessage carries Interaction events for free-text messages.
	TopicNewMessage = "new_message"
	// TopicNewAnswer carries PROResponse events for structured answers.
	TopicNewAnswer = "new_answer"
	// TopicClinicalInsight carries persisted ClinicalInsight events.
	TopicClinicalInsight = "clinical_insight"
)

// Delivery policy constants.
const (
	// DefaultMaxInFlight caps the number of unacknowledged messages a
	// subscription may hold concurrently.
	DefaultMaxInFlight = 10
	// DefaultMaxAttempts bounds redelivery of a failing message before it
	// is parked.
	DefaultMaxAttempts = 5
	// DefaultRetryBackoff is the base delay before a nacked message is
	// redelivered; it grows linearly with the attempt count.
	DefaultRetryBackoff = 500 * time.Millisecond
)

// ErrClosed is returned by Publish and Subscribe after the bus has shut down.
var ErrClosed = errors.New("bus is closed")

// Message is one delivery on a topic. Attempt counts deliveries of this
// message to a given subscription, starting at 1.
type Message struct {
	ID      string
	Topic   string
	Payload []byte
	Attempt int
}

// Handler processes one delivered message. Returning nil acknowledges the
// message; returning an error negatively acknowledges it for redelivery.
// Handlers must tolerate duplicate deliveries.
type Handler func(ctx context.Context, msg Message) error

// Bus is the publish/subscribe abstraction agents communicate through.
type Bus interface {
	// Publish sends a payload to all subscriptions of a topic.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe registers a handler for a topic and starts its consumer
	// loop. The loop stops when ctx is cancelled or the bus is closed.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	// Close stops intake of new messages, waits for in-flight handlers to
	// finish, and releases underlying resources.
	Close() error
}
