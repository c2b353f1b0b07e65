package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaychat/relay/internal/broker"
	"github.com/relaychat/relay/internal/model"
)

func delivery(t *testing.T, eventType string) broker.Delivery {
	t.Helper()
	env, err := model.NewEnvelope(eventType, "message", "m1", map[string]string{"k": "v"}, model.Metadata{Source: "test"})
	require.NoError(t, err)
	payload, err := json.Marshal(env)
	require.NoError(t, err)
	return broker.NewDelivery(eventType, payload)
}

func TestProcessDispatchesExactMatch(t *testing.T) {
	r := NewRouter(zap.NewNop())

	var got model.Envelope
	r.Register(model.KeyMessageCreated, func(_ context.Context, env model.Envelope) error {
		got = env
		return nil
	})

	out, reason := r.Process(context.Background(), delivery(t, model.KeyMessageCreated))
	assert.Equal(t, OutcomeAck, out)
	assert.Empty(t, reason)
	assert.Equal(t, model.KeyMessageCreated, got.EventType)
	assert.NotEmpty(t, got.EventID)
}

func TestProcessExactWinsOverWildcard(t *testing.T) {
	r := NewRouter(zap.NewNop())

	var hit string
	r.Register("message.#", func(context.Context, model.Envelope) error {
		hit = "wildcard"
		return nil
	})
	r.Register(model.KeyMessageCreated, func(context.Context, model.Envelope) error {
		hit = "exact"
		return nil
	})

	out, _ := r.Process(context.Background(), delivery(t, model.KeyMessageCreated))
	assert.Equal(t, OutcomeAck, out)
	assert.Equal(t, "exact", hit)

	out, _ = r.Process(context.Background(), delivery(t, model.KeyMessageUpdated))
	assert.Equal(t, OutcomeAck, out)
	assert.Equal(t, "wildcard", hit)
}

func TestProcessUnknownTypeIsAcked(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(model.KeyMessageCreated, func(context.Context, model.Envelope) error { return nil })

	// a producer newer than this consumer: acknowledge, never requeue
	out, reason := r.Process(context.Background(), delivery(t, "reaction.added"))
	assert.Equal(t, OutcomeAck, out)
	assert.Empty(t, reason)
}

func TestProcessMalformedPayloadDeadLetters(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register("#", func(context.Context, model.Envelope) error { return nil })

	out, reason := r.Process(context.Background(), broker.NewDelivery("message.created", []byte("{not json")))
	assert.Equal(t, OutcomeDeadLetter, out)
	assert.Equal(t, "malformed envelope", reason)

	// valid JSON but no event type is just as dead
	out, reason = r.Process(context.Background(), broker.NewDelivery("message.created", []byte(`{"data":{}}`)))
	assert.Equal(t, OutcomeDeadLetter, out)
	assert.Equal(t, "malformed envelope", reason)
}

func TestProcessHandlerErrorDeadLetters(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(model.KeyMessageCreated, func(context.Context, model.Envelope) error {
		return fmt.Errorf("clickhouse unreachable")
	})

	out, reason := r.Process(context.Background(), delivery(t, model.KeyMessageCreated))
	assert.Equal(t, OutcomeDeadLetter, out)
	assert.Equal(t, "clickhouse unreachable", reason)
}

func TestBindings(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(model.KeyMessageCreated, func(context.Context, model.Envelope) error { return nil })
	r.Register("workspace.#", func(context.Context, model.Envelope) error { return nil })

	assert.ElementsMatch(t, []string{model.KeyMessageCreated, "workspace.#"}, r.Bindings())
}
