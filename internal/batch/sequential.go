package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
)

// RunSequential sends items one at a time, waiting delay between items.
// Its progress stream is identical to Run with a concurrency of 1.
func RunSequential[T any](ctx context.Context, items []Item[T], delay time.Duration, send SendFunc[T], opts ...Option) []domain.SendOutcome {
	o := newOptions(opts)
	outcomes := make([]domain.SendOutcome, len(items))
	if len(items) == 0 {
		return outcomes
	}

	snap := domain.ProgressSnapshot{Total: len(items)}
	o.note(ctx, domain.LevelInfo, fmt.Sprintf("starting %d sends one at a time", len(items)))

	for i, item := range items {
		snap.Current = item.Key
		o.emit(snap)

		if i > 0 && delay > 0 {
			sleep(ctx, delay)
		}

		out := runOne(ctx, item, send)
		o.windowDone(1, out.StartedAt)
		outcomes[i] = out
		if out.Success {
			snap.Sent++
		} else {
			snap.Failed++
		}
		o.settle(ctx, i, out)
		snap.Current = out.Identity
		o.emit(snap)

		if i < len(items)-1 {
			snap.Current = domain.ProgressNextBatch
		} else {
			snap.Current = domain.ProgressCompleted
		}
		o.emit(snap)
	}

	o.note(ctx, domain.LevelInfo, fmt.Sprintf("completed: %d sent, %d failed", snap.Sent, snap.Failed))
	return outcomes
}
