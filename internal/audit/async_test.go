package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/pkg/backoff"
)

type slowRecorder struct {
	delay    time.Duration
	err      error
	mu       sync.Mutex
	records  []Entry
	finished bool
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *slowRecorder) Begin(ctx context.Context, c domain.Campaign, recipients []domain.RecipientEntry) error {
	return nil
}

func (s *slowRecorder) Record(ctx context.Context, e Entry) error {
	n := s.inFlight.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(s.delay)
	s.inFlight.Add(-1)

	s.mu.Lock()
	s.records = append(s.records, e)
	s.mu.Unlock()
	return s.err
}

func (s *slowRecorder) Finish(ctx context.Context, c domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	return nil
}

func (s *slowRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func TestAsync_RecordAndFlush(t *testing.T) {
	t.Parallel()

	next := &slowRecorder{delay: 5 * time.Millisecond}
	a := NewAsync(next, 4, 2)
	defer func() { _ = a.Close(time.Second) }()

	id := uuid.New()
	for i := 0; i < 10; i++ {
		require.NoError(t, a.Record(context.Background(), Entry{CampaignID: id, Position: i}))
	}

	require.NoError(t, a.Flush(context.Background()))
	assert.Equal(t, 10, next.count())
	assert.Equal(t, 0, a.Pending())
	assert.LessOrEqual(t, next.peak.Load(), int32(2))
}

func TestAsync_FinishFlushesFirst(t *testing.T) {
	t.Parallel()

	next := &slowRecorder{delay: 10 * time.Millisecond}
	a := NewAsync(next, 8, 1)
	defer func() { _ = a.Close(time.Second) }()

	c := domain.NewCampaign("d", domain.SenderIdentity{}, "s", "t", 3)
	for i := 0; i < 3; i++ {
		require.NoError(t, a.Record(context.Background(), Entry{CampaignID: c.ID, Position: i}))
	}

	require.NoError(t, a.Finish(context.Background(), c.Finish(3, 0)))
	assert.Equal(t, 3, next.count())
	assert.True(t, next.finished)
}

// gatedRecorder holds writes of one campaign until the gate is opened.
type gatedRecorder struct {
	slowRecorder
	held uuid.UUID
	gate chan struct{}
}

func (g *gatedRecorder) Record(ctx context.Context, e Entry) error {
	if e.CampaignID == g.held {
		<-g.gate
	}
	return g.slowRecorder.Record(ctx, e)
}

func TestAsync_FinishIgnoresOtherCampaigns(t *testing.T) {
	t.Parallel()

	a1 := domain.NewCampaign("d1", domain.SenderIdentity{}, "s", "t", 1)
	b := domain.NewCampaign("d2", domain.SenderIdentity{}, "s", "t", 1)

	next := &gatedRecorder{held: b.ID, gate: make(chan struct{})}
	a := NewAsync(next, 8, 2)
	defer func() { _ = a.Close(time.Second) }()
	defer close(next.gate)

	require.NoError(t, a.Record(context.Background(), Entry{CampaignID: b.ID}))
	require.NoError(t, a.Record(context.Background(), Entry{CampaignID: a1.ID}))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, a.Finish(ctx, a1.Finish(1, 0)))

	assert.True(t, next.finished)
	assert.Equal(t, 0, a.PendingFor(a1.ID))
	assert.Equal(t, 1, a.PendingFor(b.ID))
	assert.Equal(t, 1, a.Pending())
}

func TestAsync_FlushCampaignWaitsForOwnWrites(t *testing.T) {
	t.Parallel()

	c := domain.NewCampaign("d", domain.SenderIdentity{}, "s", "t", 1)
	next := &gatedRecorder{held: c.ID, gate: make(chan struct{})}
	a := NewAsync(next, 4, 1)
	defer func() { _ = a.Close(time.Second) }()

	require.NoError(t, a.Record(context.Background(), Entry{CampaignID: c.ID}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.FlushCampaign(ctx, c.ID), context.DeadlineExceeded)

	close(next.gate)
	require.NoError(t, a.FlushCampaign(context.Background(), c.ID))
	assert.Equal(t, 1, next.count())
	assert.NoError(t, a.FlushCampaign(context.Background(), uuid.New()), "unknown campaign has nothing queued")
}

func TestAsync_FlushRespectsContext(t *testing.T) {
	t.Parallel()

	next := &slowRecorder{delay: 200 * time.Millisecond}
	a := NewAsync(next, 1, 1)
	defer func() { _ = a.Close(time.Second) }()

	require.NoError(t, a.Record(context.Background(), Entry{}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Flush(ctx), context.DeadlineExceeded)
}

func TestAsync_ErrorHandler(t *testing.T) {
	t.Parallel()

	var failed atomic.Int32
	next := &slowRecorder{err: errors.New("db down")}
	a := NewAsync(next, 2, 1, WithErrorHandler(func(e Entry, err error) {
		failed.Add(1)
	}))
	defer func() { _ = a.Close(time.Second) }()

	require.NoError(t, a.Record(context.Background(), Entry{}))
	require.NoError(t, a.Record(context.Background(), Entry{}))
	require.NoError(t, a.Flush(context.Background()))

	assert.Equal(t, int32(2), failed.Load())
}

// flakyRecorder fails the first failures writes.
type flakyRecorder struct {
	slowRecorder
	failures atomic.Int32
}

func (f *flakyRecorder) Record(ctx context.Context, e Entry) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return f.slowRecorder.Record(ctx, e)
}

func TestAsync_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	next := &flakyRecorder{}
	next.failures.Store(2)

	var failed atomic.Int32
	retry := backoff.NewCalculator().WithSchedule([]time.Duration{time.Millisecond, time.Millisecond}).WithJitter(0)
	a := NewAsync(next, 2, 1, WithRetry(retry), WithErrorHandler(func(e Entry, err error) {
		failed.Add(1)
	}))
	defer func() { _ = a.Close(time.Second) }()

	require.NoError(t, a.Record(context.Background(), Entry{Position: 7}))
	require.NoError(t, a.Flush(context.Background()))

	assert.Equal(t, 1, next.count(), "the write succeeds on its third attempt")
	assert.Zero(t, failed.Load())
}

func TestAsync_RetriesExhausted(t *testing.T) {
	t.Parallel()

	next := &flakyRecorder{}
	next.failures.Store(10)

	var failed atomic.Int32
	retry := backoff.NewCalculator().WithSchedule([]time.Duration{time.Millisecond}).WithJitter(0)
	a := NewAsync(next, 2, 1, WithRetry(retry), WithErrorHandler(func(e Entry, err error) {
		failed.Add(1)
	}))
	defer func() { _ = a.Close(time.Second) }()

	require.NoError(t, a.Record(context.Background(), Entry{}))
	require.NoError(t, a.Flush(context.Background()))

	assert.Equal(t, int32(1), failed.Load())
	assert.Equal(t, int32(8), next.failures.Load(), "one attempt plus one retry")
	assert.Zero(t, next.count())
}

func TestAsync_Close(t *testing.T) {
	t.Parallel()

	next := &slowRecorder{delay: time.Millisecond}
	a := NewAsync(next, 16, 2)

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Record(context.Background(), Entry{Position: i}))
	}

	require.NoError(t, a.Close(time.Second))
	assert.Equal(t, 5, next.count(), "close drains queued entries")

	assert.ErrorIs(t, a.Record(context.Background(), Entry{}), ErrClosed)
	assert.NoError(t, a.Close(time.Second), "second close is a no-op")
}

func TestAsync_Defaults(t *testing.T) {
	t.Parallel()

	a := NewAsync(&slowRecorder{}, 0, 0)
	defer func() { _ = a.Close(time.Second) }()
	assert.Equal(t, DefaultBuffer, cap(a.tasks))
}
