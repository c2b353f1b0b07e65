package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/relaychat/relay/internal/model"
)

type ChannelsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, ch model.Channel) error
	Delete(ctx context.Context, tx *sqlx.Tx, id string) error
	Get(ctx context.Context, id string) (*model.Channel, error)

	// AllocateMessageNo atomically bumps the channel's counter and
	// returns the new value. Must run in the same transaction as the
	// message insert so the counter never runs ahead of committed rows.
	AllocateMessageNo(ctx context.Context, tx *sqlx.Tx, channelID string) (int64, error)

	AddMember(ctx context.Context, tx *sqlx.Tx, channelID, userID string) error
	RemoveMember(ctx context.Context, tx *sqlx.Tx, channelID, userID string) error
	IsMember(ctx context.Context, channelID, userID string) (bool, error)
	ListMemberIDs(ctx context.Context, channelID string) ([]string, error)
	ListByMember(ctx context.Context, userID string) ([]model.Channel, error)
}

type ChannelsRepositoryImpl struct {
	db *sqlx.DB
}

func NewChannelsRepository(db *sqlx.DB) *ChannelsRepositoryImpl {
	return &ChannelsRepositoryImpl{db: db}
}

var _ ChannelsRepository = (*ChannelsRepositoryImpl)(nil)

func (r *ChannelsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, ch model.Channel) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO channels (id, workspace_id, name, created_by, last_message_no, created_at)
		VALUES (?, ?, ?, ?, 0, NOW())
	`, ch.ID, ch.WorkspaceID, ch.Name, ch.CreatedBy)
	return err
}

func (r *ChannelsRepositoryImpl) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM channel_members WHERE channel_id = ?`, id); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	return err
}

func (r *ChannelsRepositoryImpl) Get(ctx context.Context, id string) (*model.Channel, error) {
	var ch model.Channel
	err := r.db.GetContext(ctx, &ch, `
		SELECT id, workspace_id, name, created_by, last_message_no, created_at
		  FROM channels WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// AllocateMessageNo uses LAST_INSERT_ID(expr) so the bumped value can
// be read back on the same connection without a second row lock. The
// UPDATE serializes concurrent senders per channel for the duration of
// their transactions, which is what makes message_no gap-free.
func (r *ChannelsRepositoryImpl) AllocateMessageNo(ctx context.Context, tx *sqlx.Tx, channelID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE channels
		   SET last_message_no = LAST_INSERT_ID(last_message_no + 1)
		 WHERE id = ?
	`, channelID)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, sql.ErrNoRows
	}

	var no int64
	if err := tx.QueryRowxContext(ctx, `SELECT LAST_INSERT_ID()`).Scan(&no); err != nil {
		return 0, err
	}
	return no, nil
}

func (r *ChannelsRepositoryImpl) AddMember(ctx context.Context, tx *sqlx.Tx, channelID, userID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO channel_members (channel_id, user_id, joined_at)
		VALUES (?, ?, NOW())
		ON DUPLICATE KEY UPDATE joined_at = joined_at
	`, channelID, userID)
	return err
}

func (r *ChannelsRepositoryImpl) RemoveMember(ctx context.Context, tx *sqlx.Tx, channelID, userID string) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM channel_members WHERE channel_id = ? AND user_id = ?
	`, channelID, userID)
	return err
}

func (r *ChannelsRepositoryImpl) IsMember(ctx context.Context, channelID, userID string) (bool, error) {
	var one int
	err := r.db.QueryRowxContext(ctx, `
		SELECT 1 FROM channel_members WHERE channel_id = ? AND user_id = ? LIMIT 1
	`, channelID, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *ChannelsRepositoryImpl) ListMemberIDs(ctx context.Context, channelID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT user_id FROM channel_members WHERE channel_id = ? ORDER BY user_id
	`, channelID)
	return ids, err
}

func (r *ChannelsRepositoryImpl) ListByMember(ctx context.Context, userID string) ([]model.Channel, error) {
	var chs []model.Channel
	err := r.db.SelectContext(ctx, &chs, `
		SELECT c.id, c.workspace_id, c.name, c.created_by, c.last_message_no, c.created_at
		  FROM channels c
		  JOIN channel_members m ON m.channel_id = c.id
		 WHERE m.user_id = ?
		 ORDER BY c.created_at
	`, userID)
	return chs, err
}
