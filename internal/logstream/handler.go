package logstream

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Handler handles activity HTTP requests.
type Handler struct {
	hub      *Hub
	activity *Activity
}

// NewHandler creates a new activity handler.
func NewHandler(hub *Hub, activity *Activity) *Handler {
	return &Handler{hub: hub, activity: activity}
}

// Router returns a chi router with activity routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)

	// SSE endpoint for streaming activity
	r.Get("/stream", h.Stream)

	r.Get("/stats", h.Stats)

	return r
}

// List returns held activity entries as JSON.
// Accepts the same filters as Stream plus limit.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := parseFilterFromQuery(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"entries": h.activity.Snapshot(filter, limit),
	})
}

// Stream streams activity via Server-Sent Events.
// Query parameters for filtering:
// - campaign_id: comma-separated list of campaign IDs
// - kind: comma-separated list of kinds (log, progress)
// - status: comma-separated list of statuses (sent, failed)
// - level: minimum log level (debug, info, warn, error)
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	filter := parseFilterFromQuery(r)

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	subscriberID := uuid.New().String()

	sub := h.hub.Subscribe(subscriberID, filter)
	defer h.hub.Unsubscribe(subscriberID)

	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	log.Debug("activity stream started", "subscriber_id", subscriberID)

	for {
		select {
		case <-r.Context().Done():
			log.Debug("activity stream closed", "subscriber_id", subscriberID)
			return
		case entry, ok := <-sub.Ch:
			if !ok {
				return
			}
			data, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: " + string(entry.Kind) + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(data)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

// Stats returns streaming statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"subscribers": h.hub.SubscriberCount(),
		"entries":     h.activity.Len(),
	})
}

// parseFilterFromQuery parses filter parameters from the request query string.
func parseFilterFromQuery(r *http.Request) *Filter {
	filter := &Filter{}
	q := r.URL.Query()

	if ids := q.Get("campaign_id"); ids != "" {
		filter.CampaignIDs = splitAndTrim(ids)
	}

	if kinds := q.Get("kind"); kinds != "" {
		filter.Kinds = splitAndTrim(kinds)
	}

	if statuses := q.Get("status"); statuses != "" {
		filter.Statuses = splitAndTrim(statuses)
	}

	if level := q.Get("level"); level != "" {
		filter.Level = strings.ToLower(strings.TrimSpace(level))
	}

	return filter
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
