package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/relaychat/relay/internal/model"
	"github.com/relaychat/relay/internal/repository"
	"github.com/relaychat/relay/internal/util"
)

const eventSource = "relay-api"

var (
	ErrChannelNotFound   = errors.New("channel not found")
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrNotAMember        = errors.New("not a channel member")
	ErrNotOwner          = errors.New("not the workspace owner")
)

// Service performs domain mutations. Every mutation writes its outbox
// event row inside the same transaction, so an event exists if and
// only if the domain change committed.
type Service struct {
	db         *sqlx.DB
	msgs       repository.MessagesRepository
	channels   repository.ChannelsRepository
	workspaces repository.WorkspacesRepository
	receipts   repository.ReadReceiptsRepository
	users      repository.UsersRepository
	outbox     repository.OutboxRepository

	// wake nudges the outbox publisher after a commit so events leave
	// the table without waiting for the next poll tick. Optional.
	wake func()

	pageSize    int
	maxPageSize int
}

func New(
	db *sqlx.DB,
	msgs repository.MessagesRepository,
	channels repository.ChannelsRepository,
	workspaces repository.WorkspacesRepository,
	receipts repository.ReadReceiptsRepository,
	users repository.UsersRepository,
	outbox repository.OutboxRepository,
	pageSize, maxPageSize int,
) *Service {
	if pageSize <= 0 {
		pageSize = 50
	}
	if maxPageSize < pageSize {
		maxPageSize = pageSize * 4
	}
	return &Service{
		db:          db,
		msgs:        msgs,
		channels:    channels,
		workspaces:  workspaces,
		receipts:    receipts,
		users:       users,
		outbox:      outbox,
		pageSize:    pageSize,
		maxPageSize: maxPageSize,
	}
}

// SetWake installs the publisher wake-up hook.
func (s *Service) SetWake(fn func()) { s.wake = fn }

func (s *Service) wakePublisher() {
	if s.wake != nil {
		s.wake()
	}
}

// appendEvent wraps data in an envelope and writes the outbox row.
// Must be called with the mutation's transaction.
func (s *Service) appendEvent(ctx context.Context, tx *sqlx.Tx, eventType, aggregateType, aggregateID, correlationID string, data any) error {
	env, err := model.NewEnvelope(eventType, aggregateType, aggregateID, data, model.Metadata{
		Source:        eventSource,
		CorrelationID: correlationID,
	})
	if err != nil {
		return fmt.Errorf("build envelope: %w", err)
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	return s.outbox.Append(ctx, tx, &model.EventRecord{
		ID:            env.EventID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		RoutingKey:    eventType,
		Payload:       payload,
	})
}

type PostMessageInput struct {
	Content     string
	ParentID    *string
	ClientMsgID string // client-generated correlation id, round-tripped
}

// PostMessage allocates the channel's next messageNo, inserts the
// message and its message.created event, all in one transaction.
func (s *Service) PostMessage(ctx context.Context, userID, channelID string, in PostMessageInput) (model.Message, error) {
	ch, err := s.channels.Get(ctx, channelID)
	if err != nil {
		return model.Message{}, err
	}
	if ch == nil {
		return model.Message{}, ErrChannelNotFound
	}

	member, err := s.channels.IsMember(ctx, channelID, userID)
	if err != nil {
		return model.Message{}, err
	}
	if !member {
		return model.Message{}, ErrNotAMember
	}

	msg := model.Message{
		ID:          util.NewULID(),
		WorkspaceID: ch.WorkspaceID,
		ChannelID:   channelID,
		UserID:      userID,
		Content:     in.Content,
		ParentID:    in.ParentID,
	}
	if in.ClientMsgID != "" {
		msg.ClientMsgID = &in.ClientMsgID
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Message{}, err
	}
	defer func() { _ = tx.Rollback() }()

	no, err := s.channels.AllocateMessageNo(ctx, tx, channelID)
	if err != nil {
		return model.Message{}, fmt.Errorf("allocate message no: %w", err)
	}
	msg.MessageNo = no

	if err := s.msgs.Insert(ctx, tx, msg); err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}

	data := model.MessageCreatedData{Message: msg, ClientMsgID: in.ClientMsgID}
	if err := s.appendEvent(ctx, tx, model.KeyMessageCreated, "message", msg.ID, in.ClientMsgID, data); err != nil {
		return model.Message{}, fmt.Errorf("append outbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Message{}, err
	}

	s.wakePublisher()
	return msg, nil
}

// EditMessage updates content in place and emits message.updated.
func (s *Service) EditMessage(ctx context.Context, userID, messageID, content string) (model.Message, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Message{}, err
	}
	defer func() { _ = tx.Rollback() }()

	msg, err := s.msgs.UpdateContent(ctx, tx, messageID, userID, content)
	if err != nil {
		return model.Message{}, err
	}

	data := model.MessageCreatedData{Message: msg}
	if err := s.appendEvent(ctx, tx, model.KeyMessageUpdated, "message", msg.ID, "", data); err != nil {
		return model.Message{}, fmt.Errorf("append outbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Message{}, err
	}

	s.wakePublisher()
	return msg, nil
}

// CreateChannel creates the channel, enrolls the creator plus the given
// members, and emits channel.created carrying the full member list.
func (s *Service) CreateChannel(ctx context.Context, userID, workspaceID, name string, members []string) (model.Channel, error) {
	ws, err := s.workspaces.Get(ctx, workspaceID)
	if err != nil {
		return model.Channel{}, err
	}
	if ws == nil {
		return model.Channel{}, ErrWorkspaceNotFound
	}

	ch := model.Channel{
		ID:          util.NewULID(),
		WorkspaceID: workspaceID,
		Name:        name,
		CreatedBy:   userID,
	}

	all := make([]string, 0, len(members)+1)
	all = append(all, userID)
	for _, m := range members {
		if m != userID {
			all = append(all, m)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Channel{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.channels.Insert(ctx, tx, ch); err != nil {
		return model.Channel{}, fmt.Errorf("insert channel: %w", err)
	}
	for _, m := range all {
		if err := s.channels.AddMember(ctx, tx, ch.ID, m); err != nil {
			return model.Channel{}, fmt.Errorf("add member %s: %w", m, err)
		}
	}

	data := model.ChannelEventData{Channel: ch, Members: all}
	if err := s.appendEvent(ctx, tx, model.KeyChannelCreated, "channel", ch.ID, "", data); err != nil {
		return model.Channel{}, fmt.Errorf("append outbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Channel{}, err
	}

	s.wakePublisher()
	return ch, nil
}

func (s *Service) DeleteChannel(ctx context.Context, userID, channelID string) error {
	ch, err := s.channels.Get(ctx, channelID)
	if err != nil {
		return err
	}
	if ch == nil {
		return ErrChannelNotFound
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.channels.Delete(ctx, tx, channelID); err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}

	data := model.ChannelEventData{Channel: *ch}
	if err := s.appendEvent(ctx, tx, model.KeyChannelDeleted, "channel", ch.ID, "", data); err != nil {
		return fmt.Errorf("append outbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.wakePublisher()
	return nil
}

func (s *Service) JoinChannel(ctx context.Context, userID, channelID string) error {
	return s.memberEvent(ctx, userID, channelID, model.KeyChannelMemberJoined)
}

func (s *Service) LeaveChannel(ctx context.Context, userID, channelID string) error {
	return s.memberEvent(ctx, userID, channelID, model.KeyChannelMemberLeft)
}

func (s *Service) memberEvent(ctx context.Context, userID, channelID, eventType string) error {
	ch, err := s.channels.Get(ctx, channelID)
	if err != nil {
		return err
	}
	if ch == nil {
		return ErrChannelNotFound
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if eventType == model.KeyChannelMemberJoined {
		err = s.channels.AddMember(ctx, tx, channelID, userID)
	} else {
		err = s.channels.RemoveMember(ctx, tx, channelID, userID)
	}
	if err != nil {
		return fmt.Errorf("update membership: %w", err)
	}

	data := model.ChannelEventData{Channel: *ch, UserID: userID}
	if err := s.appendEvent(ctx, tx, eventType, "channel", ch.ID, "", data); err != nil {
		return fmt.Errorf("append outbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.wakePublisher()
	return nil
}

// InviteToWorkspace records the invite and emits
// workspace.invite.created; the invite email itself is sent by the
// notifications consumer.
func (s *Service) InviteToWorkspace(ctx context.Context, inviterID, workspaceID, email string) (model.Invite, error) {
	ws, err := s.workspaces.Get(ctx, workspaceID)
	if err != nil {
		return model.Invite{}, err
	}
	if ws == nil {
		return model.Invite{}, ErrWorkspaceNotFound
	}

	inviterName := inviterID
	if u, err := s.users.GetByID(ctx, inviterID); err == nil && u != nil {
		inviterName = u.DisplayName
	}

	inv := model.Invite{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		InviterID:   inviterID,
		Email:       email,
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Invite{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.workspaces.InsertInvite(ctx, tx, inv); err != nil {
		return model.Invite{}, fmt.Errorf("insert invite: %w", err)
	}

	data := model.InviteCreatedData{
		InviteID:    inv.ID,
		WorkspaceID: workspaceID,
		Workspace:   ws.Name,
		InviterID:   inviterID,
		InviterName: inviterName,
		Email:       email,
	}
	if err := s.appendEvent(ctx, tx, model.KeyWorkspaceInviteCreated, "workspace", workspaceID, "", data); err != nil {
		return model.Invite{}, fmt.Errorf("append outbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Invite{}, err
	}

	s.wakePublisher()
	return inv, nil
}

func (s *Service) DeleteWorkspace(ctx context.Context, userID, workspaceID string) error {
	ws, err := s.workspaces.Get(ctx, workspaceID)
	if err != nil {
		return err
	}
	if ws == nil {
		return ErrWorkspaceNotFound
	}
	if ws.OwnerID != userID {
		return ErrNotOwner
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.workspaces.Delete(ctx, tx, workspaceID); err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}

	data := model.WorkspaceDeletedData{WorkspaceID: workspaceID}
	if err := s.appendEvent(ctx, tx, model.KeyWorkspaceDeleted, "workspace", workspaceID, "", data); err != nil {
		return fmt.Errorf("append outbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.wakePublisher()
	return nil
}

// MarkRead advances the user's read cursor. The cursor is monotonic:
// a stale position is a no-op and emits no event. Other sessions of
// the same user learn about the advance via readreceipt.updated.
func (s *Service) MarkRead(ctx context.Context, userID, channelID string, messageNo int64, messageID string) (bool, error) {
	ch, err := s.channels.Get(ctx, channelID)
	if err != nil {
		return false, err
	}
	if ch == nil {
		return false, ErrChannelNotFound
	}

	rr := model.ReadReceipt{
		WorkspaceID:       ch.WorkspaceID,
		ChannelID:         channelID,
		UserID:            userID,
		LastReadMessageNo: messageNo,
		LastReadMessageID: messageID,
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	advanced, err := s.receipts.Advance(ctx, tx, rr)
	if err != nil {
		return false, fmt.Errorf("advance receipt: %w", err)
	}

	if advanced {
		if err := s.appendEvent(ctx, tx, model.KeyReadReceiptUpdated, "readreceipt", channelID+":"+userID, "", model.ReadReceiptData{ReadReceipt: rr}); err != nil {
			return false, fmt.Errorf("append outbox: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	if advanced {
		s.wakePublisher()
	}
	return advanced, nil
}
