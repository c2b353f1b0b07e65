package model

import "time"

type Workspace struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	OwnerID   string    `db:"owner_id" json:"ownerId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Channel carries last_message_no, the per-channel counter messageNo
// values are allocated from inside the domain transaction.
type Channel struct {
	ID            string    `db:"id" json:"id"`
	WorkspaceID   string    `db:"workspace_id" json:"workspaceId"`
	Name          string    `db:"name" json:"name"`
	CreatedBy     string    `db:"created_by" json:"createdBy"`
	LastMessageNo int64     `db:"last_message_no" json:"-"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

type ChannelMember struct {
	ChannelID string    `db:"channel_id" json:"channelId"`
	UserID    string    `db:"user_id" json:"userId"`
	JoinedAt  time.Time `db:"joined_at" json:"joinedAt"`
}

// ChannelEventData is the envelope body for channel.created,
// channel.deleted and channel.member.* events.
type ChannelEventData struct {
	Channel Channel  `json:"channel"`
	Members []string `json:"members,omitempty"`
	UserID  string   `json:"userId,omitempty"` // member join/leave subject
}

// Invite is a pending workspace invitation. The invite email is sent
// asynchronously by the notifications consumer.
type Invite struct {
	ID          string    `db:"id" json:"id"`
	WorkspaceID string    `db:"workspace_id" json:"workspaceId"`
	InviterID   string    `db:"inviter_id" json:"inviterId"`
	Email       string    `db:"email" json:"email"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// InviteCreatedData is the envelope body for workspace.invite.created.
type InviteCreatedData struct {
	InviteID    string `json:"inviteId"`
	WorkspaceID string `json:"workspaceId"`
	Workspace   string `json:"workspaceName"`
	InviterID   string `json:"inviterId"`
	InviterName string `json:"inviterName"`
	Email       string `json:"email"`
}

// WorkspaceDeletedData is the envelope body for workspace.deleted.
type WorkspaceDeletedData struct {
	WorkspaceID string `json:"workspaceId"`
}
