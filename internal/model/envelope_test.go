package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	msg := Message{ID: "m1", ChannelID: "ch1", UserID: "u1", MessageNo: 3}
	env, err := NewEnvelope(KeyMessageCreated, "message", msg.ID, MessageCreatedData{Message: msg}, Metadata{
		Source:        "relay-api",
		CorrelationID: "corr-1",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, KeyMessageCreated, env.EventType)
	assert.Equal(t, "message", env.AggregateType)
	assert.Equal(t, "m1", env.AggregateID)
	assert.Equal(t, EnvelopeVersion, env.Version)
	assert.WithinDuration(t, time.Now(), env.Timestamp, time.Second)
	assert.Equal(t, "corr-1", env.Metadata.CorrelationID)

	// two envelopes never share an event id
	env2, err := NewEnvelope(KeyMessageCreated, "message", msg.ID, MessageCreatedData{Message: msg}, Metadata{})
	require.NoError(t, err)
	assert.NotEqual(t, env.EventID, env2.EventID)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	msg := Message{ID: "m1", ChannelID: "ch1", UserID: "u1", MessageNo: 3, Content: "hi"}
	env, err := NewEnvelope(KeyMessageCreated, "message", msg.ID, MessageCreatedData{Message: msg, ClientMsgID: "corr-1"}, Metadata{Source: "relay-api"})
	require.NoError(t, err)

	wire, err := json.Marshal(env)
	require.NoError(t, err)

	var got Envelope
	require.NoError(t, json.Unmarshal(wire, &got))
	assert.Equal(t, env.EventID, got.EventID)
	assert.Equal(t, env.EventType, got.EventType)

	var data MessageCreatedData
	require.NoError(t, json.Unmarshal(got.Data, &data))
	assert.Equal(t, msg.ID, data.Message.ID)
	assert.Equal(t, int64(3), data.Message.MessageNo)
	assert.Equal(t, "corr-1", data.ClientMsgID)
}

func TestEventStatus(t *testing.T) {
	assert.True(t, EventPending.Valid())
	assert.True(t, EventPublished.Valid())
	assert.True(t, EventFailed.Valid())
	assert.False(t, EventStatus("archived").Valid())

	assert.False(t, EventPending.Terminal())
	assert.True(t, EventPublished.Terminal())
	assert.True(t, EventFailed.Terminal())
}
