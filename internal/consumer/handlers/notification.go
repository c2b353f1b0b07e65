package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/relaychat/relay/internal/model"
	"github.com/relaychat/relay/internal/notify"
)

// InviteEmail sends the workspace invite email for
// workspace.invite.created events.
//
// Idempotency: a redis SETNX on the event ID records "email sent for
// this event"; a duplicate delivery sees the key and skips. When the
// send fails the key is released so redelivery of a fresh event (or a
// manual replay) can retry.
type InviteEmail struct {
	Dispatch *notify.Dispatcher
	Redis    *redis.Client
	SentTTL  time.Duration
	Log      *zap.Logger
}

func (h *InviteEmail) Handle(ctx context.Context, env model.Envelope) error {
	var data model.InviteCreatedData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("decode invite data: %w", err)
	}
	if data.Email == "" {
		return fmt.Errorf("invite %s has no recipient", data.InviteID)
	}

	// Business-rule fallback: a missing inviter name is not worth a
	// redelivery loop.
	inviter := data.InviterName
	if inviter == "" {
		inviter = "A teammate"
	}

	key := "notify:sent:" + env.EventID
	ttl := h.SentTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}

	set, err := h.Redis.SetNX(ctx, key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if !set {
		h.Log.Info("invite email already sent, skipping",
			zap.String("event_id", env.EventID),
			zap.String("invite_id", data.InviteID),
		)
		return nil
	}

	mail := notify.Email{
		To:      data.Email,
		Subject: fmt.Sprintf("%s invited you to %s", inviter, data.Workspace),
		Body:    fmt.Sprintf("%s invited you to join the %s workspace. Invite ID: %s", inviter, data.Workspace, data.InviteID),
	}

	if err := h.Dispatch.Send(ctx, mail); err != nil {
		_ = h.Redis.Del(ctx, key).Err()
		return fmt.Errorf("send invite email: %w", err)
	}

	h.Log.Info("invite email sent",
		zap.String("invite_id", data.InviteID),
		zap.String("workspace_id", data.WorkspaceID),
	)
	return nil
}
