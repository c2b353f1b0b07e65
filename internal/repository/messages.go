package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/relaychat/relay/internal/model"
)

// MessagesRepository defines persistence for the messages table.
// All reads return messages ascending by message_no; message_no is the
// only pagination cursor.
type MessagesRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, m model.Message) error
	UpdateContent(ctx context.Context, tx *sqlx.Tx, id, userID, content string) (model.Message, error)
	GetByID(ctx context.Context, id string) (*model.Message, error)

	// HistoryBefore returns up to limit messages with message_no < beforeNo.
	HistoryBefore(ctx context.Context, channelID string, beforeNo int64, limit int) ([]model.Message, error)
	// HistoryAfter returns up to limit messages with message_no > afterNo.
	HistoryAfter(ctx context.Context, channelID string, afterNo int64, limit int) ([]model.Message, error)
	// Latest returns the newest limit messages.
	Latest(ctx context.Context, channelID string, limit int) ([]model.Message, error)
}

type MessagesRepositoryImpl struct {
	db *sqlx.DB
}

func NewMessagesRepository(db *sqlx.DB) *MessagesRepositoryImpl {
	return &MessagesRepositoryImpl{db: db}
}

var _ MessagesRepository = (*MessagesRepositoryImpl)(nil)

const messageCols = `id, workspace_id, channel_id, user_id, content, message_no,
       parent_id, is_edited, client_msg_id, created_at, updated_at`

func (r *MessagesRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, m model.Message) error {
	const q = `
		INSERT INTO messages
		    (id, workspace_id, channel_id, user_id, content, message_no, parent_id, client_msg_id, created_at, updated_at)
		VALUES
		    (?,  ?,            ?,          ?,       ?,       ?,          ?,         ?,             NOW(),      NOW())
	`
	_, err := tx.ExecContext(ctx, q,
		m.ID, m.WorkspaceID, m.ChannelID, m.UserID, m.Content, m.MessageNo, m.ParentID, m.ClientMsgID,
	)
	return err
}

var ErrMessageNotFound = errors.New("message not found")

// UpdateContent edits a message in place. Only the author may edit.
func (r *MessagesRepositoryImpl) UpdateContent(ctx context.Context, tx *sqlx.Tx, id, userID, content string) (model.Message, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE messages
		   SET content = ?, is_edited = 1, updated_at = NOW()
		 WHERE id = ? AND user_id = ?
	`, content, id, userID)
	if err != nil {
		return model.Message{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Message{}, ErrMessageNotFound
	}

	var m model.Message
	err = tx.GetContext(ctx, &m, `SELECT `+messageCols+` FROM messages WHERE id = ?`, id)
	return m, err
}

func (r *MessagesRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Message, error) {
	var m model.Message
	err := r.db.GetContext(ctx, &m, `SELECT `+messageCols+` FROM messages WHERE id = ? LIMIT 1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MessagesRepositoryImpl) HistoryBefore(ctx context.Context, channelID string, beforeNo int64, limit int) ([]model.Message, error) {
	var rows []model.Message
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+messageCols+`
		  FROM messages
		 WHERE channel_id = ? AND message_no < ?
		 ORDER BY message_no DESC
		 LIMIT ?
	`, channelID, beforeNo, limit)
	if err != nil {
		return nil, err
	}
	reverse(rows)
	return rows, nil
}

func (r *MessagesRepositoryImpl) HistoryAfter(ctx context.Context, channelID string, afterNo int64, limit int) ([]model.Message, error) {
	var rows []model.Message
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+messageCols+`
		  FROM messages
		 WHERE channel_id = ? AND message_no > ?
		 ORDER BY message_no
		 LIMIT ?
	`, channelID, afterNo, limit)
	return rows, err
}

func (r *MessagesRepositoryImpl) Latest(ctx context.Context, channelID string, limit int) ([]model.Message, error) {
	var rows []model.Message
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+messageCols+`
		  FROM messages
		 WHERE channel_id = ?
		 ORDER BY message_no DESC
		 LIMIT ?
	`, channelID, limit)
	if err != nil {
		return nil, err
	}
	reverse(rows)
	return rows, nil
}

func reverse(ms []model.Message) {
	for i, j := 0, len(ms)-1; i < j; i, j = i+1, j-1 {
		ms[i], ms[j] = ms[j], ms[i]
	}
}
