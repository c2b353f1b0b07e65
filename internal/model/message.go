package model

import "time"

// Message is the DB entity persisted in the messages table. MessageNo
// is a per-channel monotonically increasing integer and is the only
// ordering/pagination cursor; created_at is informational.
type Message struct {
	ID          string    `db:"id" json:"id"` // ULID
	WorkspaceID string    `db:"workspace_id" json:"workspaceId"`
	ChannelID   string    `db:"channel_id" json:"channelId"`
	UserID      string    `db:"user_id" json:"userId"`
	Content     string    `db:"content" json:"content"`
	MessageNo   int64     `db:"message_no" json:"messageNo"`
	ParentID    *string   `db:"parent_id" json:"parentMessageId,omitempty"`
	IsEdited    bool      `db:"is_edited" json:"isEdited"`
	ClientMsgID *string   `db:"client_msg_id" json:"clientMsgId,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"-"`
}

// MessageCreatedData is the envelope body for message.created and
// message.updated. ClientMsgID is round-tripped so the origin client
// can match the confirmed record to its optimistic placeholder.
type MessageCreatedData struct {
	Message     Message `json:"message"`
	ClientMsgID string  `json:"clientMsgId,omitempty"`
}
