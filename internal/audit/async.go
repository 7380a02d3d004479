package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/pkg/backoff"
)

// ErrClosed is returned when recording to a closed Async recorder.
var ErrClosed = errors.New("audit recorder closed")

// Default sizing for the async writer.
const (
	DefaultBuffer  = 256
	DefaultWorkers = 4
)

// ErrorHandler is called when a queued write fails.
type ErrorHandler func(e Entry, err error)

// Async queues Record calls onto a bounded channel drained by a fixed pool
// of workers. Begin and Finish are synchronous; Finish waits for the
// campaign's own queued writes first.
type Async struct {
	next    Recorder
	tasks   chan Entry
	onError ErrorHandler
	timeout time.Duration
	retry   *backoff.Calculator

	// mu guards closed and sends on tasks.
	mu     sync.RWMutex
	closed bool

	pmu        sync.Mutex
	pending    int
	idle       chan struct{}
	byCampaign map[uuid.UUID]*pendingWrites

	workers sync.WaitGroup
}

// AsyncOption configures an Async recorder.
type AsyncOption func(*Async)

// WithErrorHandler sets a callback for failed writes.
func WithErrorHandler(h ErrorHandler) AsyncOption {
	return func(a *Async) { a.onError = h }
}

// WithWriteTimeout bounds each queued write.
func WithWriteTimeout(d time.Duration) AsyncOption {
	return func(a *Async) { a.timeout = d }
}

// WithRetry retries a failed write on the calculator's schedule before
// reporting it.
func WithRetry(c *backoff.Calculator) AsyncOption {
	return func(a *Async) { a.retry = c }
}

// NewAsync starts workers draining a buffer of the given size.
func NewAsync(next Recorder, buffer, workers int, opts ...AsyncOption) *Async {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}

	a := &Async{
		next:    next,
		tasks:   make(chan Entry, buffer),
		timeout: 10 * time.Second,
		idle:    make(chan struct{}),

		byCampaign: make(map[uuid.UUID]*pendingWrites),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go a.work()
	}
	return a
}

func (a *Async) work() {
	defer a.workers.Done()
	for e := range a.tasks {
		a.write(e)
		a.done(e.CampaignID)
	}
}

func (a *Async) write(e Entry) {
	for failures := 1; ; failures++ {
		err := a.writeOnce(e)
		if err == nil {
			return
		}
		if a.retry == nil || !a.retry.ShouldRetry(failures) {
			log.Error("failed to record outcome",
				"campaign_id", e.CampaignID,
				"position", e.Position,
				"attempts", failures,
				"error", err,
			)
			if a.onError != nil {
				a.onError(e, err)
			}
			return
		}
		log.Warn("retrying outcome write",
			"campaign_id", e.CampaignID,
			"position", e.Position,
			"attempt", failures,
			"error", err,
		)
		_ = a.retry.Wait(context.Background(), failures)
	}
}

func (a *Async) writeOnce(e Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	return a.next.Record(ctx, e)
}

// pendingWrites counts queued or in-flight writes of one campaign.
type pendingWrites struct {
	n    int
	idle chan struct{}
}

func (a *Async) add(id uuid.UUID) {
	a.pmu.Lock()
	defer a.pmu.Unlock()
	a.pending++
	p, ok := a.byCampaign[id]
	if !ok {
		p = &pendingWrites{idle: make(chan struct{})}
		a.byCampaign[id] = p
	}
	p.n++
}

func (a *Async) done(id uuid.UUID) {
	a.pmu.Lock()
	defer a.pmu.Unlock()
	a.pending--
	if a.pending == 0 {
		close(a.idle)
		a.idle = make(chan struct{})
	}
	if p, ok := a.byCampaign[id]; ok {
		p.n--
		if p.n == 0 {
			close(p.idle)
			delete(a.byCampaign, id)
		}
	}
}

// Begin passes through to the wrapped recorder.
func (a *Async) Begin(ctx context.Context, c domain.Campaign, recipients []domain.RecipientEntry) error {
	return a.next.Begin(ctx, c, recipients)
}

// Record enqueues the entry. It blocks only while the buffer is full.
func (a *Async) Record(ctx context.Context, e Entry) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}

	a.add(e.CampaignID)
	select {
	case a.tasks <- e:
		return nil
	case <-ctx.Done():
		a.done(e.CampaignID)
		return ctx.Err()
	}
}

// Flush waits until every queued entry of every campaign has been written.
func (a *Async) Flush(ctx context.Context) error {
	for {
		a.pmu.Lock()
		if a.pending == 0 {
			a.pmu.Unlock()
			return nil
		}
		idle := a.idle
		a.pmu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// FlushCampaign waits until the queued entries of one campaign have been
// written. Writes of other campaigns are not waited for.
func (a *Async) FlushCampaign(ctx context.Context, id uuid.UUID) error {
	a.pmu.Lock()
	p, ok := a.byCampaign[id]
	a.pmu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-p.idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish flushes the campaign's queued writes, then passes through.
func (a *Async) Finish(ctx context.Context, c domain.Campaign) error {
	if err := a.FlushCampaign(ctx, c.ID); err != nil {
		return err
	}
	return a.next.Finish(ctx, c)
}

// Pending returns the number of queued or in-flight writes.
func (a *Async) Pending() int {
	a.pmu.Lock()
	defer a.pmu.Unlock()
	return a.pending
}

// PendingFor returns the number of queued or in-flight writes of one
// campaign.
func (a *Async) PendingFor(id uuid.UUID) int {
	a.pmu.Lock()
	defer a.pmu.Unlock()
	if p, ok := a.byCampaign[id]; ok {
		return p.n
	}
	return 0
}

// Close stops accepting entries and waits up to timeout for workers to
// drain the buffer.
func (a *Async) Close(timeout time.Duration) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.tasks)
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		log.Warn("audit writers did not drain before timeout", "pending", a.Pending())
		return context.DeadlineExceeded
	}
}
