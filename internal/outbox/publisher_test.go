package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepository is an in-memory stand-in for the GORM-backed Repository,
// mirroring the style of internal/saga's fakeSagaRepository.
type fakeRepository struct {
	mu     sync.Mutex
	events map[int64]*Event
	nextSeq int64
}

func newFakeRepository(events ...*Event) *fakeRepository {
	r := &fakeRepository{events: make(map[int64]*Event)}
	for _, e := range events {
		r.nextSeq++
		e.Seq = r.nextSeq
		r.events[e.Seq] = e
	}
	return r
}

func (r *fakeRepository) Create(ctx context.Context, event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	event.Seq = r.nextSeq
	r.events[event.Seq] = event
	return nil
}

func (r *fakeRepository) ClaimBatch(ctx context.Context, limit int) ([]*Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var claimed []*Event
	now := time.Now()
	for _, e := range r.events {
		if len(claimed) >= limit {
			break
		}
		if e.Status == StatusPending && !e.NextAttemptAt.After(now) {
			e.Status = StatusInFlight
			claimed = append(claimed, e)
		}
	}
	return claimed, nil
}

func (r *fakeRepository) MarkPublished(ctx context.Context, seq int64, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[seq]
	if !ok {
		return errors.New("not found")
	}
	e.Status = StatusPublished
	e.PublishedAt = &now
	return nil
}

func (r *fakeRepository) ResetToPending(ctx context.Context, seq int64, nextAttemptAt time.Time, lastErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[seq]
	if !ok {
		return errors.New("not found")
	}
	e.Status = StatusPending
	e.RetryCount++
	e.NextAttemptAt = nextAttemptAt
	e.LastError = lastErr
	return nil
}

func (r *fakeRepository) MarkFailed(ctx context.Context, seq int64, lastErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[seq]
	if !ok {
		return errors.New("not found")
	}
	e.Status = StatusFailed
	e.LastError = lastErr
	return nil
}

func (r *fakeRepository) SweepStaleInFlight(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeRepository) DeletePublishedBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	return 0, nil
}

// fakeBroker lets a test script per-call success/failure.
type fakeBroker struct {
	mu    sync.Mutex
	calls int
	fail  func(call int) error
}

func (b *fakeBroker) Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.fail != nil {
		return b.fail(b.calls)
	}
	return nil
}

func testEvent(id string) *Event {
	e, err := NewEvent(id, "order", "order-1", "order.created", "tenant-a", time.Now(), map[string]any{"orderId": "order-1"})
	if err != nil {
		panic(err)
	}
	return e
}

func testConfig() PublisherConfig {
	return PublisherConfig{
		Topic:      "fluxpay.events",
		BatchSize:  10,
		MaxRetries: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  time.Millisecond,
	}
}

func TestPublishBatchMarksSuccessfulSendsPublished(t *testing.T) {
	repo := newFakeRepository(testEvent("evt-1"), testEvent("evt-2"))
	broker := &fakeBroker{}
	p := NewPublisher(repo, broker, nil, testConfig())

	require.NoError(t, p.publishBatch(context.Background()))

	for _, e := range repo.events {
		assert.Equal(t, StatusPublished, e.Status)
		assert.NotNil(t, e.PublishedAt)
	}
	assert.Equal(t, 2, broker.calls)
}

func TestPublishBatchResetsToPendingOnRetryableFailure(t *testing.T) {
	repo := newFakeRepository(testEvent("evt-1"))
	broker := &fakeBroker{fail: func(call int) error { return errors.New("broker unavailable") }}
	p := NewPublisher(repo, broker, nil, testConfig())

	require.NoError(t, p.publishBatch(context.Background()))

	var e *Event
	for _, v := range repo.events {
		e = v
	}
	assert.Equal(t, StatusPending, e.Status)
	assert.Equal(t, 1, e.RetryCount)
	assert.Equal(t, "broker unavailable", e.LastError)
}

func TestPublishBatchMarksFailedAfterExhaustingRetries(t *testing.T) {
	event := testEvent("evt-1")
	event.RetryCount = 2 // one below MaxRetries=3: next failure exhausts it.
	repo := newFakeRepository(event)
	broker := &fakeBroker{fail: func(call int) error { return errors.New("still down") }}
	p := NewPublisher(repo, broker, nil, testConfig())

	require.NoError(t, p.publishBatch(context.Background()))

	var e *Event
	for _, v := range repo.events {
		e = v
	}
	assert.Equal(t, StatusFailed, e.Status)
	assert.Equal(t, "still down", e.LastError)
}

func TestPublishBatchOneFailureDoesNotAbortOthers(t *testing.T) {
	repo := newFakeRepository(testEvent("evt-1"), testEvent("evt-2"))
	broker := &fakeBroker{fail: func(call int) error {
		if call == 1 {
			return errors.New("first call fails")
		}
		return nil
	}}
	p := NewPublisher(repo, broker, nil, testConfig())

	require.NoError(t, p.publishBatch(context.Background()))

	var statuses []Status
	for _, e := range repo.events {
		statuses = append(statuses, e.Status)
	}
	assert.Contains(t, statuses, StatusPublished)
	assert.Contains(t, statuses, StatusPending)
}

// fakeWebhookEnqueuer records every event handed to it after a successful
// publish.
type fakeWebhookEnqueuer struct {
	enqueued []string
}

func (f *fakeWebhookEnqueuer) EnqueueForEvent(ctx context.Context, event *Event) error {
	f.enqueued = append(f.enqueued, event.EventID)
	return nil
}

func TestPublishOneEnqueuesWebhooksOnSuccess(t *testing.T) {
	repo := newFakeRepository(testEvent("evt-1"))
	broker := &fakeBroker{}
	webhooks := &fakeWebhookEnqueuer{}
	p := NewPublisher(repo, broker, webhooks, testConfig())

	require.NoError(t, p.publishBatch(context.Background()))

	assert.Equal(t, []string{"evt-1"}, webhooks.enqueued)
}
