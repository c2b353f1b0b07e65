package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// ArchiveRow is one event landed in the ClickHouse archive. The table
// is a ReplacingMergeTree keyed by event_id, so replaying a duplicate
// delivery collapses to a single row.
type ArchiveRow struct {
	EventID       string    `db:"event_id"`
	EventType     string    `db:"event_type"`
	AggregateType string    `db:"aggregate_type"`
	AggregateID   string    `db:"aggregate_id"`
	WorkspaceID   string    `db:"workspace_id"`
	ChannelID     string    `db:"channel_id"`
	Payload       string    `db:"payload"`
	OccurredAt    time.Time `db:"occurred_at"`
}

// ArchiveRepository writes and lists the ClickHouse event archive.
type ArchiveRepository interface {
	InsertBatch(ctx context.Context, rows []ArchiveRow) error
	ListRecent(ctx context.Context, eventType string, limit int) ([]ArchiveRow, error)
}

type archiveRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewArchiveRepository(ch *sqlx.DB) ArchiveRepository {
	return &archiveRepository{ch: ch}
}

func (r *archiveRepository) InsertBatch(ctx context.Context, rows []ArchiveRow) error {
	if len(rows) == 0 {
		return nil
	}

	const q = `
		INSERT INTO relay.events_archive
		    (event_id, event_type, aggregate_type, aggregate_id, workspace_id, channel_id, payload, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, q,
			row.EventID, row.EventType, row.AggregateType, row.AggregateID,
			row.WorkspaceID, row.ChannelID, row.Payload, row.OccurredAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *archiveRepository) ListRecent(ctx context.Context, eventType string, limit int) ([]ArchiveRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	q := `
		SELECT event_id, event_type, aggregate_type, aggregate_id, workspace_id, channel_id, payload, occurred_at
		  FROM relay.events_archive FINAL
	`
	args := []any{}

	if eventType != "" {
		q += " WHERE event_type = ?"
		args = append(args, eventType)
	}

	q += " ORDER BY occurred_at DESC LIMIT ?"
	args = append(args, limit)

	var rows []ArchiveRow
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
