package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
)

// DefaultProgressTimeout bounds a single progress save.
const DefaultProgressTimeout = 2 * time.Second

// progressWriter saves snapshots of one campaign from its own goroutine.
// Snapshots that arrive while a save is in flight are coalesced; the latest
// one is always saved.
type progressWriter struct {
	sink    ProgressSink
	id      uuid.UUID
	timeout time.Duration

	mu     sync.Mutex
	latest *domain.ProgressSnapshot

	wake chan struct{}
	done chan struct{}
}

func newProgressWriter(ctx context.Context, sink ProgressSink, id uuid.UUID, timeout time.Duration) *progressWriter {
	w := &progressWriter{
		sink:    sink,
		id:      id,
		timeout: timeout,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.loop(ctx)
	return w
}

// push never blocks.
func (w *progressWriter) push(p domain.ProgressSnapshot) {
	w.mu.Lock()
	w.latest = &p
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *progressWriter) loop(ctx context.Context) {
	defer close(w.done)
	for range w.wake {
		w.mu.Lock()
		p := w.latest
		w.latest = nil
		w.mu.Unlock()
		if p == nil {
			continue
		}

		saveCtx, cancel := context.WithTimeout(ctx, w.timeout)
		if err := w.sink.Save(saveCtx, w.id, *p); err != nil {
			log.Warn("failed to save progress", "campaign_id", w.id, "error", err)
		}
		cancel()
	}
}

// close waits for the last pushed snapshot to be saved. push must not be
// called afterwards.
func (w *progressWriter) close() {
	close(w.wake)
	<-w.done
}
