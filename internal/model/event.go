package model

import "time"

type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventPublished EventStatus = "published"
	EventFailed    EventStatus = "failed"
)

func (s EventStatus) String() string {
	return string(s)
}

func (s EventStatus) Valid() bool {
	return s == EventPending || s == EventPublished || s == EventFailed
}

// Terminal reports whether the publisher will never touch the row again.
func (s EventStatus) Terminal() bool {
	return s == EventPublished || s == EventFailed
}

// Routing keys carried on every published event. Consumers bind with
// wildcard patterns ("message.*", "workspace.#").
const (
	KeyMessageCreated         = "message.created"
	KeyMessageUpdated         = "message.updated"
	KeyChannelCreated         = "channel.created"
	KeyChannelDeleted         = "channel.deleted"
	KeyChannelMemberJoined    = "channel.member.joined"
	KeyChannelMemberLeft      = "channel.member.left"
	KeyWorkspaceInviteCreated = "workspace.invite.created"
	KeyWorkspaceDeleted       = "workspace.deleted"
	KeyReadReceiptUpdated     = "readreceipt.updated"
)

// EventRecord is a row in the outbox table. It is written in the same
// transaction as the domain mutation it describes and is immutable
// afterwards except for status, attempts, published_at, next_retry_at
// and last_error, which only the publisher touches.
type EventRecord struct {
	ID            string      `db:"id"` // UUID
	AggregateType string      `db:"aggregate_type"`
	AggregateID   string      `db:"aggregate_id"`
	EventType     string      `db:"event_type"` // dotted, e.g. "workspace.invite.created"
	RoutingKey    string      `db:"routing_key"`
	Payload       []byte      `db:"payload"` // serialized Envelope
	Status        EventStatus `db:"status"`
	Attempts      int         `db:"attempts"`
	CreatedAt     time.Time   `db:"created_at"`
	PublishedAt   *time.Time  `db:"published_at"`
	NextRetryAt   *time.Time  `db:"next_retry_at"`
	LastError     *string     `db:"last_error"`
}
