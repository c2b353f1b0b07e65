package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/relaychat/relay/internal/model"
)

// ReadReceiptsRepository tracks per-user read cursors. Advance is the
// only writer and is monotonic: a stale position never regresses a
// more advanced one, no matter the arrival order of updates.
type ReadReceiptsRepository interface {
	Get(ctx context.Context, channelID, userID string) (*model.ReadReceipt, error)
	// Advance moves the cursor forward. Returns false when the stored
	// position is already at or past r.LastReadMessageNo.
	Advance(ctx context.Context, tx *sqlx.Tx, r model.ReadReceipt) (bool, error)
}

type ReadReceiptsRepositoryImpl struct {
	db *sqlx.DB
}

func NewReadReceiptsRepository(db *sqlx.DB) *ReadReceiptsRepositoryImpl {
	return &ReadReceiptsRepositoryImpl{db: db}
}

var _ ReadReceiptsRepository = (*ReadReceiptsRepositoryImpl)(nil)

func (r *ReadReceiptsRepositoryImpl) Get(ctx context.Context, channelID, userID string) (*model.ReadReceipt, error) {
	var rr model.ReadReceipt
	err := r.db.GetContext(ctx, &rr, `
		SELECT workspace_id, channel_id, user_id, last_read_message_no, last_read_message_id, last_read_at
		  FROM read_receipts
		 WHERE channel_id = ? AND user_id = ? LIMIT 1
	`, channelID, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rr, nil
}

func (r *ReadReceiptsRepositoryImpl) Advance(ctx context.Context, tx *sqlx.Tx, rr model.ReadReceipt) (bool, error) {
	// The GREATEST guard makes concurrent advances commutative; the
	// IF()s keep message id and timestamp consistent with whichever
	// position won.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO read_receipts
		    (workspace_id, channel_id, user_id, last_read_message_no, last_read_message_id, last_read_at)
		VALUES (?, ?, ?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE
		    last_read_message_id = IF(VALUES(last_read_message_no) > last_read_message_no, VALUES(last_read_message_id), last_read_message_id),
		    last_read_at         = IF(VALUES(last_read_message_no) > last_read_message_no, VALUES(last_read_at), last_read_at),
		    last_read_message_no = GREATEST(last_read_message_no, VALUES(last_read_message_no))
	`, rr.WorkspaceID, rr.ChannelID, rr.UserID, rr.LastReadMessageNo, rr.LastReadMessageID)
	if err != nil {
		return false, err
	}

	// MySQL reports 1 affected row for a fresh insert, 2 for an update
	// that changed something, 0 for a no-op update.
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
