package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaychat/relay/internal/model"
)

func recv(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	default:
		t.Fatal("expected a pushed event")
		return Event{}
	}
}

func TestBroadcastIsRoomScoped(t *testing.T) {
	h := NewHub(4, zap.NewNop())

	alice := h.Subscribe("u-alice", []string{ChannelRoom("ch1"), UserRoom("u-alice")})
	bob := h.Subscribe("u-bob", []string{ChannelRoom("ch2")})
	defer h.Unsubscribe(alice)
	defer h.Unsubscribe(bob)

	h.Broadcast(ChannelRoom("ch1"), Event{Type: "message:created"})

	assert.Equal(t, "message:created", recv(t, alice).Type)
	assert.Empty(t, bob.Events(), "other channels must not see the event")
}

func TestBroadcastDropsWhenSessionBufferFull(t *testing.T) {
	h := NewHub(2, zap.NewNop())

	s := h.Subscribe("u-alice", []string{ChannelRoom("ch1")})
	defer h.Unsubscribe(s)

	for i := 0; i < 5; i++ {
		h.Broadcast(ChannelRoom("ch1"), Event{Type: "message:created"})
	}

	// two buffered, three dropped, nothing blocked
	assert.Len(t, s.Events(), 2)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub(4, zap.NewNop())

	s := h.Subscribe("u-alice", []string{ChannelRoom("ch1")})
	h.Unsubscribe(s)

	h.Broadcast(ChannelRoom("ch1"), Event{Type: "message:created"})
	assert.Empty(t, s.Events())
}

func bridgeEnv(t *testing.T, eventType string, data any) model.Envelope {
	t.Helper()
	env, err := model.NewEnvelope(eventType, "message", "agg1", data, model.Metadata{Source: "test"})
	require.NoError(t, err)
	return env
}

func TestBridgeRoutesMessageToChannelRoom(t *testing.T) {
	h := NewHub(4, zap.NewNop())
	b := &Bridge{Hub: h}

	member := h.Subscribe("u-alice", []string{ChannelRoom("ch1")})
	outsider := h.Subscribe("u-bob", []string{ChannelRoom("ch2")})
	defer h.Unsubscribe(member)
	defer h.Unsubscribe(outsider)

	msg := model.Message{ID: "m1", ChannelID: "ch1", WorkspaceID: "ws1", UserID: "u-alice", MessageNo: 7}
	env := bridgeEnv(t, model.KeyMessageCreated, model.MessageCreatedData{Message: msg, ClientMsgID: "c1"})

	require.NoError(t, b.Handle(context.Background(), env))

	ev := recv(t, member)
	assert.Equal(t, "message:created", ev.Type)

	var data model.MessageCreatedData
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Equal(t, "m1", data.Message.ID)
	assert.Equal(t, "c1", data.ClientMsgID, "correlation id survives the round trip")

	assert.Empty(t, outsider.Events())
}

func TestBridgeRoutesReceiptToUserRoom(t *testing.T) {
	h := NewHub(4, zap.NewNop())
	b := &Bridge{Hub: h}

	reader := h.Subscribe("u-alice", []string{UserRoom("u-alice")})
	other := h.Subscribe("u-bob", []string{UserRoom("u-bob")})
	defer h.Unsubscribe(reader)
	defer h.Unsubscribe(other)

	env := bridgeEnv(t, model.KeyReadReceiptUpdated, model.ReadReceiptData{
		ReadReceipt: model.ReadReceipt{ChannelID: "ch1", UserID: "u-alice", LastReadMessageNo: 9},
	})
	require.NoError(t, b.Handle(context.Background(), env))

	assert.Equal(t, "readreceipt:updated", recv(t, reader).Type)
	assert.Empty(t, other.Events(), "read receipts are private to the reader's sessions")
}

func TestBridgeRoutesChannelEventToWorkspaceRoom(t *testing.T) {
	h := NewHub(4, zap.NewNop())
	b := &Bridge{Hub: h}

	member := h.Subscribe("u-alice", []string{WorkspaceRoom("ws1")})
	defer h.Unsubscribe(member)

	env := bridgeEnv(t, model.KeyChannelCreated, model.ChannelEventData{
		Channel: model.Channel{ID: "ch9", WorkspaceID: "ws1", Name: "random"},
	})
	require.NoError(t, b.Handle(context.Background(), env))

	assert.Equal(t, "channel:created", recv(t, member).Type)
}

func TestBridgeIgnoresMalformedScope(t *testing.T) {
	h := NewHub(4, zap.NewNop())
	b := &Bridge{Hub: h}

	s := h.Subscribe("u-alice", []string{ChannelRoom("ch1")})
	defer h.Unsubscribe(s)

	env := bridgeEnv(t, model.KeyMessageCreated, "not an object")
	require.NoError(t, b.Handle(context.Background(), env), "realtime path never dead-letters")
	assert.Empty(t, s.Events())
}
