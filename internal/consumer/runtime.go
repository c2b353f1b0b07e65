package consumer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/relaychat/relay/internal/backoff"
	"github.com/relaychat/relay/internal/broker"
	"github.com/relaychat/relay/internal/metrics"
)

// State of the broker connection, reported for tests and diagnostics.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateConsuming
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateConsuming:
		return "consuming"
	default:
		return "disconnected"
	}
}

// Factory opens a fresh broker consumer. Called on every (re)connect
// so a broken connection is never reused.
type Factory func() (broker.Consumer, error)

type Config struct {
	Service              string
	Prefetch             int           // bounded in-flight messages, default 32
	ReconnectDelay       time.Duration // backoff base, default 1s
	MaxReconnectDelay    time.Duration // backoff cap, default 30s
	MaxReconnectAttempts int           // 0 = retry forever
}

func (c *Config) defaults() {
	if c.Prefetch <= 0 {
		c.Prefetch = 32
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Runtime drives one consuming service: connect, consume, route,
// ack or dead-letter, reconnect on failure with exponential backoff.
//
// Lifecycle: Disconnected -> Connecting -> Connected -> Consuming,
// any connection error drops back to Disconnected and the loop
// reconnects unless Shutdown was requested. The backoff counter resets
// after every successful connect.
type Runtime struct {
	factory Factory
	dlq     broker.DeadLetterer
	router  *Router
	cfg     Config
	log     *zap.Logger

	state        atomic.Int32
	shuttingDown atomic.Bool
}

func NewRuntime(factory Factory, dlq broker.DeadLetterer, router *Router, cfg Config, log *zap.Logger) *Runtime {
	cfg.defaults()
	return &Runtime{
		factory: factory,
		dlq:     dlq,
		router:  router,
		cfg:     cfg,
		log:     log.With(zap.String("service", cfg.Service)),
	}
}

func (r *Runtime) State() State { return State(r.state.Load()) }

func (r *Runtime) setState(s State) { r.state.Store(int32(s)) }

// Shutdown marks the runtime as intentionally stopping, suppressing
// further reconnect attempts. Cancel the Run context afterwards.
func (r *Runtime) Shutdown() { r.shuttingDown.Store(true) }

// Run blocks until ctx is cancelled, Shutdown is called, or the
// reconnect budget is exhausted.
func (r *Runtime) Run(ctx context.Context) error {
	attempt := 0

	for {
		if ctx.Err() != nil || r.shuttingDown.Load() {
			r.setState(StateDisconnected)
			return nil
		}

		r.setState(StateConnecting)
		c, err := r.factory()
		if err != nil {
			r.setState(StateDisconnected)
			attempt++
			metrics.ConsumerReconnectsTotal.WithLabelValues(r.cfg.Service).Inc()
			if r.cfg.MaxReconnectAttempts > 0 && attempt >= r.cfg.MaxReconnectAttempts {
				r.log.Error("reconnect budget exhausted", zap.Int("attempts", attempt), zap.Error(err))
				return err
			}
			delay := backoff.Delay(r.cfg.ReconnectDelay, r.cfg.MaxReconnectDelay, attempt-1)
			r.log.Warn("connect failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if !sleepCtx(ctx, delay) {
				return nil
			}
			continue
		}

		r.setState(StateConnected)
		attempt = 0
		r.log.Info("connected", zap.Strings("bindings", r.router.Bindings()))

		consumeErr := r.consume(ctx, c)
		_ = c.Close()
		r.setState(StateDisconnected)

		if ctx.Err() != nil || r.shuttingDown.Load() {
			return nil
		}

		attempt++
		metrics.ConsumerReconnectsTotal.WithLabelValues(r.cfg.Service).Inc()
		delay := backoff.Delay(r.cfg.ReconnectDelay, r.cfg.MaxReconnectDelay, attempt-1)
		r.log.Warn("connection lost, reconnecting",
			zap.Duration("delay", delay),
			zap.Error(consumeErr),
		)
		if !sleepCtx(ctx, delay) {
			return nil
		}
	}
}

// consume fetches until the connection breaks. Deliveries run in
// parallel across partitions but serially within one: group commits
// are cumulative per partition, so committing a later offset while an
// earlier one is still in flight would mark the earlier message
// consumed and lose it on a crash. Total in-flight work is bounded by
// a prefetch semaphore shared across partitions, so a slow handler
// applies backpressure to the fetch loop instead of queueing unbounded
// work.
func (r *Runtime) consume(ctx context.Context, c broker.Consumer) error {
	r.setState(StateConsuming)

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, r.cfg.Prefetch)
	lanes := make(map[int]chan broker.Delivery)
	var wg sync.WaitGroup
	defer func() {
		for _, lane := range lanes {
			close(lane)
		}
		wg.Wait()
	}()

	for {
		d, err := c.Fetch(cctx)
		if err != nil {
			return err
		}

		select {
		case sem <- struct{}{}:
		case <-cctx.Done():
			return cctx.Err()
		}

		lane, ok := lanes[d.Partition]
		if !ok {
			// lane buffer covers the whole prefetch window, so the
			// fetch loop never blocks on a busy lane
			lane = make(chan broker.Delivery, r.cfg.Prefetch)
			lanes[d.Partition] = lane
			wg.Add(1)
			go r.consumeLane(cctx, cancel, c, lane, sem, &wg)
		}
		lane <- d
	}
}

// consumeLane handles one partition's deliveries in order. A delivery
// that cannot be dead-lettered aborts the connection: any further
// commit on this partition would cover the uncommitted offset and turn
// the rejection into message loss, so the lane stops and redelivery
// retries from the last committed position.
func (r *Runtime) consumeLane(ctx context.Context, abort context.CancelFunc, c broker.Consumer, lane <-chan broker.Delivery, sem <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for d := range lane {
		ok := r.handle(ctx, c, d)
		<-sem
		if !ok {
			abort()
			for range lane {
				<-sem
			}
			return
		}
	}
}

// handle routes one delivery and commits it. It returns false only
// when the dead-letter write failed and the message must stay
// uncommitted.
func (r *Runtime) handle(ctx context.Context, c broker.Consumer, d broker.Delivery) bool {
	outcome, reason := r.router.Process(ctx, d)

	switch outcome {
	case OutcomeDeadLetter:
		metrics.ConsumerHandledTotal.WithLabelValues(r.cfg.Service, "dead_letter").Inc()
		if r.dlq != nil {
			if err := r.dlq.DeadLetter(ctx, d, reason); err != nil {
				r.log.Error("dead-letter write failed", zap.Error(err))
				return false
			}
		}
	default:
		metrics.ConsumerHandledTotal.WithLabelValues(r.cfg.Service, "ok").Inc()
	}

	if err := c.Commit(ctx, d); err != nil && ctx.Err() == nil {
		r.log.Error("commit failed", zap.Error(err))
	}
	return true
}

// sleepCtx waits d, returning false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
