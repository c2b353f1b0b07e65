package consumer

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/relaychat/relay/internal/broker"
	"github.com/relaychat/relay/internal/model"
)

// Handler processes one decoded event. Handlers must be idempotent:
// at-least-once delivery means the same envelope can arrive twice.
// A returned error sends the message to the dead-letter path; it is
// never requeued.
type Handler func(ctx context.Context, env model.Envelope) error

// Outcome is what the runtime should do with a processed delivery.
type Outcome int

const (
	OutcomeAck Outcome = iota
	OutcomeDeadLetter
)

type binding struct {
	pattern string
	handler Handler
}

// Router maps event types to handlers. Exact registrations win over
// wildcard bindings; wildcard bindings are tried in registration
// order. Unknown event types are acknowledged and logged, never
// requeued, so old consumers survive new producers.
type Router struct {
	exact    map[string]Handler
	wildcard []binding
	log      *zap.Logger
}

func NewRouter(log *zap.Logger) *Router {
	return &Router{
		exact: make(map[string]Handler),
		log:   log,
	}
}

// Register binds a handler to an event type or wildcard pattern
// ("message.*", "workspace.#").
func (r *Router) Register(pattern string, h Handler) {
	if !hasWildcard(pattern) {
		r.exact[pattern] = h
		return
	}
	r.wildcard = append(r.wildcard, binding{pattern: pattern, handler: h})
}

// Bindings returns every registered pattern, for queue binding and logs.
func (r *Router) Bindings() []string {
	out := make([]string, 0, len(r.exact)+len(r.wildcard))
	for k := range r.exact {
		out = append(out, k)
	}
	for _, b := range r.wildcard {
		out = append(out, b.pattern)
	}
	return out
}

func (r *Router) lookup(eventType string) (Handler, bool) {
	if h, ok := r.exact[eventType]; ok {
		return h, true
	}
	for _, b := range r.wildcard {
		if broker.MatchBinding(b.pattern, eventType) {
			return b.handler, true
		}
	}
	return nil, false
}

// Process decodes the delivery and runs its handler. The returned
// reason is non-empty only for OutcomeDeadLetter.
func (r *Router) Process(ctx context.Context, d broker.Delivery) (Outcome, string) {
	var env model.Envelope
	if err := json.Unmarshal(d.Payload, &env); err != nil || env.EventType == "" {
		r.log.Error("malformed envelope",
			zap.String("routing_key", d.RoutingKey),
			zap.Error(err),
		)
		return OutcomeDeadLetter, "malformed envelope"
	}

	h, ok := r.lookup(env.EventType)
	if !ok {
		r.log.Info("no handler for event type, acknowledging",
			zap.String("event_type", env.EventType),
			zap.String("event_id", env.EventID),
		)
		return OutcomeAck, ""
	}

	if err := h(ctx, env); err != nil {
		r.log.Error("handler failed",
			zap.String("event_type", env.EventType),
			zap.String("event_id", env.EventID),
			zap.Error(err),
		)
		return OutcomeDeadLetter, err.Error()
	}

	return OutcomeAck, ""
}

func hasWildcard(pattern string) bool {
	for _, c := range pattern {
		if c == '*' || c == '#' {
			return true
		}
	}
	return false
}
