package handlers

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/relaychat/relay/internal/model"
	"github.com/relaychat/relay/internal/repository"
)

// Archive lands every event in the ClickHouse archive. Writes are
// buffered and flushed by size or time; the archive table collapses
// duplicate event IDs, so redelivered events are absorbed there.
type Archive struct {
	repo      repository.ArchiveRepository
	batchSize int
	batchWait time.Duration
	log       *zap.Logger

	in chan repository.ArchiveRow
}

func NewArchive(repo repository.ArchiveRepository, batchSize int, batchWait time.Duration, log *zap.Logger) *Archive {
	if batchSize <= 0 {
		batchSize = 200
	}
	if batchWait <= 0 {
		batchWait = 300 * time.Millisecond
	}

	return &Archive{
		repo:      repo,
		batchSize: batchSize,
		batchWait: batchWait,
		log:       log,
		in:        make(chan repository.ArchiveRow, batchSize*2),
	}
}

// Handle converts the envelope to an archive row and queues it for the
// batch writer. Queueing blocks when the writer is behind, which
// propagates backpressure to the consumer's prefetch window.
func (a *Archive) Handle(ctx context.Context, env model.Envelope) error {
	wsID, chID := scopeOf(env.Data)

	row := repository.ArchiveRow{
		EventID:       env.EventID,
		EventType:     env.EventType,
		AggregateType: env.AggregateType,
		AggregateID:   env.AggregateID,
		WorkspaceID:   wsID,
		ChannelID:     chID,
		Payload:       string(env.Data),
		OccurredAt:    env.Timestamp,
	}

	select {
	case a.in <- row:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the batch writer: size/time-based flush into ClickHouse.
// Blocks until ctx is cancelled; a final flush runs on the way out.
func (a *Archive) Run(ctx context.Context) {
	tick := time.NewTicker(a.batchWait)
	defer tick.Stop()

	batch := make([]repository.ArchiveRow, 0, a.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := a.repo.InsertBatch(context.WithoutCancel(ctx), batch); err != nil {
			a.log.Error("archive batch insert failed",
				zap.Int("rows", len(batch)),
				zap.Error(err),
			)
			// rows stay in the batch and retry on the next flush
			return
		}
		a.log.Debug("archive flushed", zap.Int("rows", len(batch)))
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case row := <-a.in:
			batch = append(batch, row)
			if len(batch) >= a.batchSize {
				flush()
			}

		case <-tick.C:
			flush()
		}
	}
}

// scopeOf pulls workspace/channel identifiers out of the known payload
// shapes; events without a channel scope archive with empty strings.
func scopeOf(data json.RawMessage) (workspaceID, channelID string) {
	var probe struct {
		WorkspaceID string `json:"workspaceId"`
		ChannelID   string `json:"channelId"`
		Message     *struct {
			WorkspaceID string `json:"workspaceId"`
			ChannelID   string `json:"channelId"`
		} `json:"message"`
		Channel *struct {
			ID          string `json:"id"`
			WorkspaceID string `json:"workspaceId"`
		} `json:"channel"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", ""
	}

	workspaceID = probe.WorkspaceID
	channelID = probe.ChannelID
	if probe.Message != nil {
		workspaceID = probe.Message.WorkspaceID
		channelID = probe.Message.ChannelID
	}
	if probe.Channel != nil {
		workspaceID = probe.Channel.WorkspaceID
		channelID = probe.Channel.ID
	}
	return workspaceID, channelID
}
