// Package broker abstracts the event bus. Events flow through one
// durable topic; the routing key travels as the message key and a
// "routing-key" header, and consumers bind with wildcard patterns.
//
// The connection is an owned, explicitly lifecycled object injected
// into the publisher worker and the consumer runtime, so tests can
// substitute a fake broker.
package broker

import "context"

// HeaderRoutingKey carries the dotted event-type routing key.
const HeaderRoutingKey = "routing-key"

// HeaderDeathReason is set on messages written to the dead-letter topic.
const HeaderDeathReason = "x-death-reason"

// Publisher publishes one payload under a routing key. Delivery is
// at-least-once; callers must tolerate duplicates downstream.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// Delivery is one consumed message. Partition identifies the ordered
// stream the message arrived on; commits are cumulative per partition,
// so consumers must commit a partition's offsets in order.
type Delivery struct {
	RoutingKey string
	Payload    []byte
	Partition  int

	// opaque commit handle (kafka message for the real impl)
	ref any
}

// NewDelivery builds a Delivery for tests and fakes.
func NewDelivery(routingKey string, payload []byte) Delivery {
	return Delivery{RoutingKey: routingKey, Payload: payload}
}

// Consumer fetches messages and commits them after handling (manual
// acknowledgment). Fetch blocks until a message arrives, the context
// is cancelled, or the connection breaks.
type Consumer interface {
	Fetch(ctx context.Context) (Delivery, error)
	Commit(ctx context.Context, d Delivery) error
	Close() error
}

// DeadLetterer writes a message a consumer refuses to reprocess to a
// dead-letter destination for later inspection.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, d Delivery, reason string) error
}
