// Package backoff spaces out retries of transient storage writes.
package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

// DefaultSchedule is the wait before each retry of a failed audit write:
// Retry 1: 100 milliseconds
// Retry 2: 500 milliseconds
// Retry 3: 2 seconds
// After the last retry the write is reported as failed.
var DefaultSchedule = []time.Duration{
	100 * time.Millisecond,
	500 * time.Millisecond,
	2 * time.Second,
}

// Calculator computes retry waits with optional jitter.
type Calculator struct {
	schedule    []time.Duration
	jitterRatio float64
}

// NewCalculator creates a calculator with the default schedule and 10% jitter.
func NewCalculator() *Calculator {
	return &Calculator{
		schedule:    DefaultSchedule,
		jitterRatio: 0.1,
	}
}

// WithSchedule returns a copy using schedule.
func (c *Calculator) WithSchedule(schedule []time.Duration) *Calculator {
	return &Calculator{
		schedule:    schedule,
		jitterRatio: c.jitterRatio,
	}
}

// WithJitter returns a copy with the jitter ratio (0.0 to 1.0).
func (c *Calculator) WithJitter(ratio float64) *Calculator {
	return &Calculator{
		schedule:    c.schedule,
		jitterRatio: min(max(ratio, 0), 1),
	}
}

// Duration returns the wait before retry number retry (1-indexed).
// Retries beyond the schedule use its last entry.
func (c *Calculator) Duration(retry int) time.Duration {
	if len(c.schedule) == 0 {
		return 0
	}
	retry = min(max(retry, 1), len(c.schedule))
	return c.addJitter(c.schedule[retry-1])
}

// MaxRetries returns the number of retries in the schedule.
func (c *Calculator) MaxRetries() int {
	return len(c.schedule)
}

// ShouldRetry reports whether another retry is allowed after failures
// failed attempts.
func (c *Calculator) ShouldRetry(failures int) bool {
	return failures <= len(c.schedule)
}

// Wait sleeps before retry number retry. It returns early with the
// context's error when ctx is done.
func (c *Calculator) Wait(ctx context.Context, retry int) error {
	timer := time.NewTimer(c.Duration(retry))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Calculator) addJitter(d time.Duration) time.Duration {
	if c.jitterRatio <= 0 {
		return d
	}
	jitter := float64(d) * c.jitterRatio
	delta := (rand.Float64()*2 - 1) * jitter
	return time.Duration(float64(d) + delta)
}
