// Package batch schedules a list of independent sends in bounded windows.
//
// Items are split into consecutive windows of Config.Concurrency. Sends in a
// window run concurrently, optionally paced by Config.Delay, and a window
// fully settles before the next one starts. The scheduler never fails as a
// whole: every item yields exactly one outcome, in input order.
package batch

import (
	"context"
	"time"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/internal/logging"
)

var log = logging.Component("batch")

// Config holds the window size and per-item pacing delay.
type Config = domain.RunConfig

// Item is one unit of work. Key identifies the item in progress labels and
// outcomes; Payload is handed to the SendFunc unchanged.
type Item[T any] struct {
	Key     string
	Payload T
}

// SendFunc performs one send. A nil error is a success.
type SendFunc[T any] func(ctx context.Context, payload T) error

// Observer receives activity produced while a run progresses.
type Observer interface {
	Record(ctx context.Context, a domain.Activity)
}

// Option configures a run.
type Option func(*options)

type options struct {
	progress   func(domain.ProgressSnapshot)
	outcome    func(index int, o domain.SendOutcome)
	observer   Observer
	campaignID string
	window     func(size int, elapsed time.Duration)
}

// WithProgress registers a callback for progress snapshots. It is only ever
// called from the coordinating goroutine.
func WithProgress(fn func(domain.ProgressSnapshot)) Option {
	return func(o *options) { o.progress = fn }
}

// WithOutcome registers a callback invoked once per settled item, in input order.
func WithOutcome(fn func(index int, o domain.SendOutcome)) Option {
	return func(o *options) { o.outcome = fn }
}

// WithObserver attaches an activity observer.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithWindow registers a callback invoked after each window settles, with
// the window's size and how long its sends took.
func WithWindow(fn func(size int, elapsed time.Duration)) Option {
	return func(o *options) { o.window = fn }
}

// WithCampaign tags observer activity with a campaign ID.
func WithCampaign(id string) Option {
	return func(o *options) { o.campaignID = id }
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *options) emit(p domain.ProgressSnapshot) {
	if o.progress != nil {
		o.progress(p)
	}
}

func (o *options) windowDone(size int, started time.Time) {
	if o.window != nil {
		o.window(size, time.Since(started))
	}
}

func (o *options) settle(ctx context.Context, index int, out domain.SendOutcome) {
	if o.outcome != nil {
		o.outcome(index, out)
	}
	if o.observer != nil {
		o.observer.Record(ctx, domain.OutcomeActivity(o.campaignID, out))
	}
}

func (o *options) note(ctx context.Context, level, msg string) {
	if o.observer == nil {
		return
	}
	a := domain.NewLogActivity(level, msg)
	a.CampaignID = o.campaignID
	o.observer.Record(ctx, a)
}
