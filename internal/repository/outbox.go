package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/relaychat/relay/internal/model"
)

// OutboxRepository defines persistence for the outbox table.
//
// Append requires the caller's transaction: an outbox row must never
// exist independently of the domain write it describes. The claim and
// mark methods are the publisher worker's side of the table; claiming
// uses FOR UPDATE SKIP LOCKED so concurrent publisher instances never
// pick the same row.
type OutboxRepository interface {
	Append(ctx context.Context, tx *sqlx.Tx, rec *model.EventRecord) error

	ClaimDue(ctx context.Context, tx *sqlx.Tx, now time.Time, limit int) ([]model.EventRecord, error)
	MarkPublished(ctx context.Context, tx *sqlx.Tx, id string, at time.Time) error
	ScheduleRetry(ctx context.Context, tx *sqlx.Tx, id string, nextRetryAt time.Time, lastErr string) error
	MarkFailed(ctx context.Context, tx *sqlx.Tx, id string, lastErr string) error

	PurgePublished(ctx context.Context, olderThan time.Time) (int64, error)
	ListRecent(ctx context.Context, limit int) ([]model.EventRecord, error)
}

type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

func (r *OutboxRepositoryImpl) Append(ctx context.Context, tx *sqlx.Tx, rec *model.EventRecord) error {
	const q = `
		INSERT INTO outbox_events
		    (id, aggregate_type, aggregate_id, event_type, routing_key, payload, status, attempts, created_at)
		VALUES
		    (?,  ?,              ?,            ?,          ?,           ?,       'pending', 0,     NOW())
	`
	_, err := tx.ExecContext(ctx, q,
		rec.ID, rec.AggregateType, rec.AggregateID, rec.EventType, rec.RoutingKey, rec.Payload,
	)
	return err
}

// ClaimDue locks up to limit due rows for this transaction. Rows locked
// by another publisher instance are skipped, not waited on.
func (r *OutboxRepositoryImpl) ClaimDue(ctx context.Context, tx *sqlx.Tx, now time.Time, limit int) ([]model.EventRecord, error) {
	const q = `
		SELECT id, aggregate_type, aggregate_id, event_type, routing_key, payload,
		       status, attempts, created_at, published_at, next_retry_at, last_error
		  FROM outbox_events
		 WHERE status = 'pending'
		   AND (next_retry_at IS NULL OR next_retry_at <= ?)
		 ORDER BY created_at
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED
	`
	var rows []model.EventRecord
	if err := tx.SelectContext(ctx, &rows, q, now, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *OutboxRepositoryImpl) MarkPublished(ctx context.Context, tx *sqlx.Tx, id string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE outbox_events
		   SET status = 'published', published_at = ?
		 WHERE id = ? AND status = 'pending'
	`, at, id)
	return err
}

func (r *OutboxRepositoryImpl) ScheduleRetry(ctx context.Context, tx *sqlx.Tx, id string, nextRetryAt time.Time, lastErr string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE outbox_events
		   SET attempts = attempts + 1, next_retry_at = ?, last_error = ?
		 WHERE id = ? AND status = 'pending'
	`, nextRetryAt, truncateErr(lastErr), id)
	return err
}

func (r *OutboxRepositoryImpl) MarkFailed(ctx context.Context, tx *sqlx.Tx, id string, lastErr string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE outbox_events
		   SET status = 'failed', attempts = attempts + 1, last_error = ?
		 WHERE id = ? AND status = 'pending'
	`, truncateErr(lastErr), id)
	return err
}

// PurgePublished deletes published rows past the retention window.
func (r *OutboxRepositoryImpl) PurgePublished(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM outbox_events
		 WHERE status = 'published' AND published_at < ?
	`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *OutboxRepositoryImpl) ListRecent(ctx context.Context, limit int) ([]model.EventRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []model.EventRecord
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, aggregate_type, aggregate_id, event_type, routing_key, payload,
		       status, attempts, created_at, published_at, next_retry_at, last_error
		  FROM outbox_events
		 ORDER BY created_at DESC
		 LIMIT ?
	`, limit)
	return rows, err
}

// last_error column is VARCHAR(1024)
func truncateErr(s string) string {
	if len(s) > 1024 {
		return s[:1024]
	}
	return s
}
