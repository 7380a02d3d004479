package logstream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/internal/logging"
)

// DefaultCapacity is the number of entries kept in memory.
const DefaultCapacity = 1000

// Activity is the process-wide activity log. Each recorded entry is
// written to the structured log, kept in a fixed-size ring and published
// to live subscribers.
type Activity struct {
	pub Publisher

	mu      sync.RWMutex
	entries []domain.Activity
	next    int
	full    bool
}

// NewActivity creates an activity log holding up to capacity entries.
// pub may be nil.
func NewActivity(pub Publisher, capacity int) *Activity {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Activity{
		pub:     pub,
		entries: make([]domain.Activity, capacity),
	}
}

// Record stores and publishes an entry.
func (a *Activity) Record(ctx context.Context, entry domain.Activity) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Level == "" {
		entry.Level = domain.LevelInfo
	}

	a.logEntry(ctx, entry)

	// Progress is streamed but not kept; the ring holds log lines.
	if entry.Kind != domain.ActivityProgress {
		a.mu.Lock()
		a.entries[a.next] = entry
		a.next = (a.next + 1) % len(a.entries)
		if a.next == 0 {
			a.full = true
		}
		a.mu.Unlock()
	}

	if a.pub != nil {
		a.pub.Publish(entry)
	}
}

func (a *Activity) logEntry(ctx context.Context, entry domain.Activity) {
	if entry.Kind == domain.ActivityProgress {
		return
	}

	attrs := make([]any, 0, 10)
	if entry.CampaignID != "" {
		attrs = append(attrs, "campaign_id", entry.CampaignID)
	}
	if entry.Identity != "" {
		attrs = append(attrs, "recipient", logging.RedactEmail(entry.Identity))
	}
	if entry.Status != "" {
		attrs = append(attrs, "status", entry.Status)
	}
	if entry.Error != "" {
		attrs = append(attrs, "error", entry.Error)
	}
	if entry.DurationMs > 0 {
		attrs = append(attrs, "duration_ms", entry.DurationMs)
	}

	log.Log(ctx, slogLevel(entry.Level), entry.Message, attrs...)
}

func slogLevel(level string) slog.Level {
	switch level {
	case domain.LevelDebug:
		return slog.LevelDebug
	case domain.LevelWarn:
		return slog.LevelWarn
	case domain.LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Len returns the number of entries held.
func (a *Activity) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.full {
		return len(a.entries)
	}
	return a.next
}

// Snapshot returns held entries matching filter, oldest first. When limit
// is positive only the newest limit matches are returned.
func (a *Activity) Snapshot(filter *Filter, limit int) []domain.Activity {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var ordered []domain.Activity
	if a.full {
		ordered = append(ordered, a.entries[a.next:]...)
		ordered = append(ordered, a.entries[:a.next]...)
	} else {
		ordered = append(ordered, a.entries[:a.next]...)
	}

	out := make([]domain.Activity, 0, len(ordered))
	for i := range ordered {
		if filter.Matches(&ordered[i]) {
			out = append(out, ordered[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Clear drops all held entries.
func (a *Activity) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.entries)
	a.next = 0
	a.full = false
}
