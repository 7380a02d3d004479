package batch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
)

// Run dispatches items in windows of cfg.Concurrency and returns one outcome
// per item in input order.
//
// For every window, a label update is emitted per item before any send is
// issued. Each item after the first overall waits cfg.Delay before it is
// issued. Once the window settles, outcomes are classified in input order,
// each followed by a progress update, then a boundary update labelled
// domain.ProgressNextBatch or domain.ProgressCompleted.
func Run[T any](ctx context.Context, items []Item[T], cfg Config, send SendFunc[T], opts ...Option) []domain.SendOutcome {
	o := newOptions(opts)
	outcomes := make([]domain.SendOutcome, len(items))
	if len(items) == 0 {
		return outcomes
	}

	size := max(cfg.Concurrency, 1)
	delay := max(cfg.Delay, 0)
	windows := (len(items) + size - 1) / size
	snap := domain.ProgressSnapshot{Total: len(items)}

	log.Debug("run started", "items", len(items), "concurrency", size, "delay", delay, "windows", windows)
	o.note(ctx, domain.LevelInfo, fmt.Sprintf("starting %d sends in %d batches of up to %d", len(items), windows, size))

	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))

		for i := start; i < end; i++ {
			snap.Current = items[i].Key
			o.emit(snap)
		}

		windowStart := time.Now()
		var g errgroup.Group
		for i := start; i < end; i++ {
			if i > 0 && delay > 0 {
				sleep(ctx, delay)
			}
			idx := i
			g.Go(func() error {
				outcomes[idx] = runOne(ctx, items[idx], send)
				return nil
			})
		}
		_ = g.Wait()
		o.windowDone(end-start, windowStart)

		for i := start; i < end; i++ {
			out := outcomes[i]
			if out.Success {
				snap.Sent++
			} else {
				snap.Failed++
			}
			o.settle(ctx, i, out)
			snap.Current = out.Identity
			o.emit(snap)
		}

		if end < len(items) {
			snap.Current = domain.ProgressNextBatch
			o.note(ctx, domain.LevelDebug, fmt.Sprintf("batch %d/%d settled", start/size+1, windows))
		} else {
			snap.Current = domain.ProgressCompleted
		}
		o.emit(snap)
	}

	log.Debug("run finished", "sent", snap.Sent, "failed", snap.Failed)
	o.note(ctx, domain.LevelInfo, fmt.Sprintf("completed: %d sent, %d failed", snap.Sent, snap.Failed))
	return outcomes
}

// runOne performs a single send and converts every kind of failure,
// including a panic or a cancelled context, into a failed outcome.
func runOne[T any](ctx context.Context, item Item[T], send SendFunc[T]) (out domain.SendOutcome) {
	out = domain.SendOutcome{Identity: item.Key, StartedAt: time.Now()}
	defer func() {
		if r := recover(); r != nil {
			log.Error("send panicked", "identity", item.Key, "panic", r)
			out.Success = false
			out.Error = fmt.Sprintf("panic: %v", r)
		}
		out.Duration = time.Since(out.StartedAt)
	}()

	if ctx.Err() != nil {
		out.Error = domain.ErrRunCancelled.Error()
		return out
	}

	if err := send(ctx, item.Payload); err != nil {
		out.Error = err.Error()
		if out.Error == "" {
			out.Error = "send failed"
		}
		return out
	}
	out.Success = true
	return out
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
