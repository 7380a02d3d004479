package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
)

type timeoutTransport struct {
	next    Transport
	timeout time.Duration
}

// WithTimeout bounds every send. A send still running when the deadline
// passes is reported as failed; one interrupted by the caller's context is
// reported as cancelled. A non-positive timeout returns t unchanged.
func WithTimeout(t Transport, timeout time.Duration) Transport {
	if timeout <= 0 {
		return t
	}
	return &timeoutTransport{next: t, timeout: timeout}
}

func (t *timeoutTransport) Name() string { return t.next.Name() }

func (t *timeoutTransport) Send(ctx context.Context, msg domain.Message) domain.SendResult {
	start := time.Now()
	sendCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan domain.SendResult, 1)
	go func() {
		done <- t.next.Send(sendCtx, msg)
	}()

	select {
	case res := <-done:
		return res
	case <-sendCtx.Done():
		if ctx.Err() != nil {
			return domain.NewFailureResult(0, domain.ErrRunCancelled.Error(), elapsedMs(start))
		}
		return domain.NewFailureResult(0,
			fmt.Sprintf("%s after %s", domain.ErrSendTimeout.Error(), t.timeout), elapsedMs(start))
	}
}
