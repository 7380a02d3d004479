// Package logstream provides the in-memory activity log and its real-time
// stream.
package logstream

import (
	"slices"
	"sync"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/internal/logging"
)

var log = logging.Component("logstream")

// Filter defines criteria for filtering activity entries.
type Filter struct {
	CampaignIDs []string `json:"campaign_ids,omitempty"`
	Kinds       []string `json:"kinds,omitempty"`
	Statuses    []string `json:"statuses,omitempty"`
	Level       string   `json:"level,omitempty"` // debug, info, warn, error
}

// Matches returns true if the entry matches the filter.
func (f *Filter) Matches(entry *domain.Activity) bool {
	if f == nil {
		return true
	}

	// Check level filter
	if f.Level != "" && !matchesLevel(entry.Level, f.Level) {
		return false
	}

	if len(f.CampaignIDs) > 0 && !contains(f.CampaignIDs, entry.CampaignID) {
		return false
	}

	if len(f.Kinds) > 0 && !contains(f.Kinds, string(entry.Kind)) {
		return false
	}

	if len(f.Statuses) > 0 && !contains(f.Statuses, entry.Status) {
		return false
	}

	return true
}

// matchesLevel returns true if entry level >= filter level.
func matchesLevel(entryLevel, filterLevel string) bool {
	levels := map[string]int{
		domain.LevelDebug: 0,
		domain.LevelInfo:  1,
		domain.LevelWarn:  2,
		domain.LevelError: 3,
	}
	entryLvl, ok1 := levels[entryLevel]
	filterLvl, ok2 := levels[filterLevel]
	if !ok1 || !ok2 {
		return true
	}
	return entryLvl >= filterLvl
}

func contains(slice []string, s string) bool {
	return slices.Contains(slice, s)
}

// Subscriber represents an activity stream subscriber.
type Subscriber struct {
	ID     string
	Filter *Filter
	Ch     chan domain.Activity
}

// Hub manages activity stream subscriptions.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	bufferSize  int
}

// NewHub creates a new hub. Each subscriber gets a buffer of bufferSize
// entries; entries for a subscriber with a full buffer are dropped.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a new subscription with the given filter.
func (h *Hub) Subscribe(id string, filter *Filter) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.subscribers[id]; ok {
		close(old.Ch)
	}

	sub := &Subscriber{
		ID:     id,
		Filter: filter,
		Ch:     make(chan domain.Activity, h.bufferSize),
	}
	h.subscribers[id] = sub

	log.Debug("subscriber added", "subscriber_id", id, "total", len(h.subscribers))
	return sub
}

// Unsubscribe removes a subscription.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subscribers[id]; ok {
		close(sub.Ch)
		delete(h.subscribers, id)
		log.Debug("subscriber removed", "subscriber_id", id, "total", len(h.subscribers))
	}
}

// Publish sends an entry to all matching subscribers without blocking.
func (h *Hub) Publish(entry domain.Activity) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		if sub.Filter.Matches(&entry) {
			select {
			case sub.Ch <- entry:
			default:
				// Channel full, drop entry to prevent blocking
				log.Debug("dropping activity for slow subscriber", "subscriber_id", sub.ID)
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Publisher is an interface for components that publish activity.
type Publisher interface {
	Publish(entry domain.Activity)
}
