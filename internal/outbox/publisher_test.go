package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaychat/relay/internal/model"
)

type markCall struct {
	id      string
	lastErr string
	nextAt  time.Time
}

// fakeStore records the per-row outcome calls. The tx parameter is
// passed through untouched, so these tests run without a database.
type fakeStore struct {
	published []markCall
	retried   []markCall
	failed    []markCall

	purged     int64
	purgeCalls []time.Time
}

func (f *fakeStore) Append(context.Context, *sqlx.Tx, *model.EventRecord) error { return nil }

func (f *fakeStore) ClaimDue(context.Context, *sqlx.Tx, time.Time, int) ([]model.EventRecord, error) {
	return nil, nil
}

func (f *fakeStore) MarkPublished(_ context.Context, _ *sqlx.Tx, id string, _ time.Time) error {
	f.published = append(f.published, markCall{id: id})
	return nil
}

func (f *fakeStore) ScheduleRetry(_ context.Context, _ *sqlx.Tx, id string, nextRetryAt time.Time, lastErr string) error {
	f.retried = append(f.retried, markCall{id: id, lastErr: lastErr, nextAt: nextRetryAt})
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, _ *sqlx.Tx, id string, lastErr string) error {
	f.failed = append(f.failed, markCall{id: id, lastErr: lastErr})
	return nil
}

func (f *fakeStore) PurgePublished(_ context.Context, olderThan time.Time) (int64, error) {
	f.purgeCalls = append(f.purgeCalls, olderThan)
	return f.purged, nil
}

func (f *fakeStore) ListRecent(context.Context, int) ([]model.EventRecord, error) { return nil, nil }

type fakeBroker struct {
	err       error
	publishes []string // routing keys in order
}

func (f *fakeBroker) Publish(_ context.Context, routingKey string, _ []byte) error {
	f.publishes = append(f.publishes, routingKey)
	return f.err
}

func (f *fakeBroker) Close() error { return nil }

func rec(id string, attempts int) *model.EventRecord {
	return &model.EventRecord{
		ID:         id,
		EventType:  "message.created",
		RoutingKey: "message.created",
		Payload:    []byte(`{"eventType":"message.created"}`),
		Status:     model.EventPending,
		Attempts:   attempts,
	}
}

func newTestPublisher(store *fakeStore, b *fakeBroker) *Publisher {
	return NewPublisher(nil, store, b, Config{
		MaxRetryAttempts: 3,
		RetryDelay:       2 * time.Second,
		MaxRetryDelay:    time.Minute,
		RetentionWindow:  72 * time.Hour,
	}, zap.NewNop())
}

func TestPublishOneMarksPublished(t *testing.T) {
	store := &fakeStore{}
	b := &fakeBroker{}
	p := newTestPublisher(store, b)

	require.NoError(t, p.publishOne(context.Background(), nil, rec("ev1", 0)))

	assert.Equal(t, []string{"message.created"}, b.publishes)
	require.Len(t, store.published, 1)
	assert.Equal(t, "ev1", store.published[0].id)
	assert.Empty(t, store.retried)
	assert.Empty(t, store.failed)
}

func TestPublishOneSchedulesRetryWithBackoff(t *testing.T) {
	store := &fakeStore{}
	b := &fakeBroker{err: errors.New("broker unavailable")}
	p := newTestPublisher(store, b)

	before := time.Now()
	require.NoError(t, p.publishOne(context.Background(), nil, rec("ev1", 0)))
	require.Len(t, store.retried, 1)
	assert.Equal(t, "broker unavailable", store.retried[0].lastErr)
	// first retry: base delay
	assert.WithinDuration(t, before.Add(2*time.Second), store.retried[0].nextAt, time.Second)

	// second failure doubles the delay
	require.NoError(t, p.publishOne(context.Background(), nil, rec("ev1", 1)))
	require.Len(t, store.retried, 2)
	assert.WithinDuration(t, before.Add(4*time.Second), store.retried[1].nextAt, time.Second)

	assert.Empty(t, store.published)
	assert.Empty(t, store.failed)
}

func TestPublishOneExhaustedRetriesMarksFailed(t *testing.T) {
	store := &fakeStore{}
	b := &fakeBroker{err: errors.New("broker unavailable")}
	p := newTestPublisher(store, b)

	// attempts so far: 2, budget: 3 -> this failure is terminal
	require.NoError(t, p.publishOne(context.Background(), nil, rec("ev1", 2)))

	require.Len(t, store.failed, 1)
	assert.Equal(t, "ev1", store.failed[0].id)
	assert.Equal(t, "broker unavailable", store.failed[0].lastErr)
	assert.Empty(t, store.retried)
}

func TestPublishOnePropagatesCancellation(t *testing.T) {
	store := &fakeStore{}
	b := &fakeBroker{err: context.Canceled}
	p := newTestPublisher(store, b)

	err := p.publishOne(context.Background(), nil, rec("ev1", 0))
	require.ErrorIs(t, err, context.Canceled)

	// cancellation is not a delivery verdict: no retry, no failure
	assert.Empty(t, store.retried)
	assert.Empty(t, store.failed)
}

func TestWakeCoalesces(t *testing.T) {
	p := newTestPublisher(&fakeStore{}, &fakeBroker{})

	p.Wake()
	p.Wake()
	p.Wake()

	assert.Len(t, p.wakeCh, 1, "pending wake-ups collapse into one")
}

func TestSweepUsesRetentionWindow(t *testing.T) {
	store := &fakeStore{purged: 7}
	p := newTestPublisher(store, &fakeBroker{})

	p.sweep(context.Background())

	require.Len(t, store.purgeCalls, 1)
	assert.WithinDuration(t, time.Now().Add(-72*time.Hour), store.purgeCalls[0], time.Second)
}
