// Package outbox moves pending event rows to the broker. Delivery is
// at-least-once: a crash between broker ack and the published mark
// leaves the row pending, and the next cycle republishes it. Consumers
// are idempotent, so the duplicate is harmless.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/relaychat/relay/internal/backoff"
	"github.com/relaychat/relay/internal/broker"
	"github.com/relaychat/relay/internal/metrics"
	"github.com/relaychat/relay/internal/model"
	"github.com/relaychat/relay/internal/repository"
)

type Config struct {
	PollInterval     time.Duration // default 5s
	MaxBatchSize     int           // default 100
	MaxRetryAttempts int           // default 5
	RetryDelay       time.Duration // base for exponential backoff, default 2s
	MaxRetryDelay    time.Duration // cap, default 1m
	RetentionWindow  time.Duration // default 72h
	CleanupInterval  time.Duration // default 10m
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 100
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = time.Minute
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = 72 * time.Hour
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 10 * time.Minute
	}
}

// Publisher polls the outbox table and publishes due rows. Multiple
// instances may run concurrently: claiming uses SKIP LOCKED row locks,
// so no two instances publish the same row at the same time.
type Publisher struct {
	db     *sqlx.DB
	store  repository.OutboxRepository
	broker broker.Publisher
	cfg    Config
	log    *zap.Logger

	wakeCh chan struct{}
}

func NewPublisher(db *sqlx.DB, store repository.OutboxRepository, pub broker.Publisher, cfg Config, log *zap.Logger) *Publisher {
	cfg.defaults()
	return &Publisher{
		db:     db,
		store:  store,
		broker: pub,
		cfg:    cfg,
		log:    log,
		wakeCh: make(chan struct{}, 1),
	}
}

// Wake nudges the publisher to run a cycle now instead of waiting for
// the next poll tick. Safe to call from any goroutine; extra calls
// while a wake-up is already queued are dropped.
func (p *Publisher) Wake() {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled. Each cycle drains the table in
// batches until a batch comes back smaller than MaxBatchSize.
func (p *Publisher) Run(ctx context.Context) error {
	poll := time.NewTicker(p.cfg.PollInterval)
	defer poll.Stop()

	cleanup := time.NewTicker(p.cfg.CleanupInterval)
	defer cleanup.Stop()

	p.log.Info("outbox publisher started",
		zap.Duration("poll_interval", p.cfg.PollInterval),
		zap.Int("max_batch_size", p.cfg.MaxBatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-poll.C:
			p.drain(ctx)
		case <-p.wakeCh:
			p.drain(ctx)
		case <-cleanup.C:
			p.sweep(ctx)
		}
	}
}

func (p *Publisher) drain(ctx context.Context) {
	for {
		n, err := p.publishBatch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.log.Error("outbox batch failed", zap.Error(err))
			}
			return
		}
		if n < p.cfg.MaxBatchSize {
			return
		}
	}
}

// publishBatch claims due rows under one transaction, publishes each,
// and records the per-row outcome in the same transaction. A crash
// before commit leaves every row pending; already-published payloads
// are then redelivered, which downstream idempotency absorbs.
func (p *Publisher) publishBatch(ctx context.Context) (int, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	rows, err := p.store.ClaimDue(ctx, tx, now, p.cfg.MaxBatchSize)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	for i := range rows {
		if err := p.publishOne(ctx, tx, &rows[i]); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (p *Publisher) publishOne(ctx context.Context, tx *sqlx.Tx, rec *model.EventRecord) error {
	pubErr := p.broker.Publish(ctx, rec.RoutingKey, rec.Payload)
	if pubErr == nil {
		metrics.OutboxPublishedTotal.Inc()
		return p.store.MarkPublished(ctx, tx, rec.ID, time.Now())
	}
	if errors.Is(pubErr, context.Canceled) {
		return pubErr
	}

	attempts := rec.Attempts + 1
	if attempts >= p.cfg.MaxRetryAttempts {
		// Terminal. Never silently dropped: the row stays visible with
		// status=failed and the alert counter fires.
		metrics.OutboxFailedTotal.Inc()
		p.log.Error("outbox event exhausted retries",
			zap.String("event_id", rec.ID),
			zap.String("event_type", rec.EventType),
			zap.Int("attempts", attempts),
			zap.Error(pubErr),
		)
		return p.store.MarkFailed(ctx, tx, rec.ID, pubErr.Error())
	}

	metrics.OutboxRetriesTotal.Inc()
	next := time.Now().Add(backoff.Delay(p.cfg.RetryDelay, p.cfg.MaxRetryDelay, rec.Attempts))
	p.log.Warn("outbox publish failed, scheduling retry",
		zap.String("event_id", rec.ID),
		zap.String("event_type", rec.EventType),
		zap.Int("attempts", attempts),
		zap.Time("next_retry_at", next),
		zap.Error(pubErr),
	)
	return p.store.ScheduleRetry(ctx, tx, rec.ID, next, pubErr.Error())
}

func (p *Publisher) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-p.cfg.RetentionWindow)
	n, err := p.store.PurgePublished(ctx, cutoff)
	if err != nil {
		p.log.Error("outbox retention sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		metrics.OutboxPurgedTotal.Add(float64(n))
		p.log.Info("outbox retention sweep", zap.Int64("purged", n))
	}
}
