package realtime

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/relaychat/relay/internal/model"
)

// Room name helpers. A connected client joins its user room, one room
// per workspace it belongs to, and one room per channel membership.
func WorkspaceRoom(id string) string { return "workspace:" + id }
func ChannelRoom(id string) string   { return "channel:" + id }
func UserRoom(id string) string      { return "user:" + id }

// Bridge routes consumed events into hub rooms. It is registered as a
// catch-all handler on the serve process's own consumer (one consumer
// group per instance, so every instance sees every event).
type Bridge struct {
	Hub *Hub
}

// Handle never fails: the realtime path owes no redelivery, so a
// malformed scope is simply not routed anywhere.
func (b *Bridge) Handle(ctx context.Context, env model.Envelope) error {
	ev := Event{
		Type: strings.ReplaceAll(env.EventType, ".", ":"),
		Data: env.Data,
	}

	for _, room := range roomsFor(env) {
		b.Hub.Broadcast(room, ev)
	}
	return nil
}

// roomsFor picks target rooms by event type:
//
//	message.*             -> the channel room
//	channel.*             -> the workspace room (members list changes,
//	                         channel lifecycle)
//	workspace.*           -> the workspace room
//	readreceipt.updated   -> the reader's user room (cross-device sync)
func roomsFor(env model.Envelope) []string {
	switch {
	case strings.HasPrefix(env.EventType, "message."):
		var data model.MessageCreatedData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil
		}
		return []string{ChannelRoom(data.Message.ChannelID)}

	case strings.HasPrefix(env.EventType, "channel."):
		var data model.ChannelEventData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil
		}
		return []string{WorkspaceRoom(data.Channel.WorkspaceID)}

	case env.EventType == model.KeyReadReceiptUpdated:
		var data model.ReadReceiptData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil
		}
		return []string{UserRoom(data.UserID)}

	case strings.HasPrefix(env.EventType, "workspace."):
		return []string{WorkspaceRoom(env.AggregateID)}
	}

	return nil
}
