package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/relaychat/relay/internal/model"
	"github.com/relaychat/relay/internal/repository"
)

// UnreadCounters maintains the service-side per-user unread badge
// cache in redis: message.created increments every member except the
// author, readreceipt.updated clears the reader's counter.
//
// Idempotency caveat: INCR is not idempotent under redelivery, so the
// counter is a hint, not an invariant. The client recomputes exact
// unread state from messageNo cursors on initial load, and the counter
// is cleared wholesale on every read receipt.
type UnreadCounters struct {
	Redis    *redis.Client
	Channels repository.ChannelsRepository
	Log      *zap.Logger
}

func unreadKey(channelID, userID string) string {
	return "unread:" + channelID + ":" + userID
}

// CountFor reads the cached badge count for one user and channel.
func (h *UnreadCounters) CountFor(ctx context.Context, channelID, userID string) (int64, error) {
	n, err := h.Redis.Get(ctx, unreadKey(channelID, userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (h *UnreadCounters) HandleMessageCreated(ctx context.Context, env model.Envelope) error {
	var data model.MessageCreatedData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("decode message data: %w", err)
	}

	members, err := h.Channels.ListMemberIDs(ctx, data.Message.ChannelID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}

	pipe := h.Redis.Pipeline()
	for _, m := range members {
		if m == data.Message.UserID {
			continue
		}
		pipe.Incr(ctx, unreadKey(data.Message.ChannelID, m))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bump counters: %w", err)
	}
	return nil
}

func (h *UnreadCounters) HandleReadReceipt(ctx context.Context, env model.Envelope) error {
	var data model.ReadReceiptData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("decode receipt data: %w", err)
	}

	if err := h.Redis.Del(ctx, unreadKey(data.ChannelID, data.UserID)).Err(); err != nil {
		return fmt.Errorf("clear counter: %w", err)
	}

	h.Log.Debug("unread counter cleared",
		zap.String("channel_id", data.ChannelID),
		zap.String("user_id", data.UserID),
	)
	return nil
}
