package model

import "time"

// ReadReceipt tracks per-user read progress in a channel.
// LastReadMessageNo is monotonic: writes may only advance it.
type ReadReceipt struct {
	WorkspaceID       string    `db:"workspace_id" json:"workspaceId"`
	ChannelID         string    `db:"channel_id" json:"channelId"`
	UserID            string    `db:"user_id" json:"userId"`
	LastReadMessageNo int64     `db:"last_read_message_no" json:"lastReadMessageNo"`
	LastReadMessageID string    `db:"last_read_message_id" json:"lastReadMessageId"`
	LastReadAt        time.Time `db:"last_read_at" json:"lastReadAt"`
}

// ReadReceiptData is the envelope body for readreceipt.updated. It is
// also pushed over the realtime stream so other sessions of the same
// user stay in sync.
type ReadReceiptData struct {
	ReadReceipt
}
