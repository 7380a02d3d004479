// Package rest serves the campaign REST API: drafts, recipients, previews,
// sends and campaign history.
package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stiffinWanjohi/bulkmail/internal/audit"
	"github.com/stiffinWanjohi/bulkmail/internal/dispatch"
	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/internal/draft"
	"github.com/stiffinWanjohi/bulkmail/internal/logging"
	"github.com/stiffinWanjohi/bulkmail/internal/observability"
	"github.com/stiffinWanjohi/bulkmail/internal/progress"
	"github.com/stiffinWanjohi/bulkmail/internal/transport"
)

var log = logging.Component("rest")

const defaultMaxUpload = 5 << 20

// Handler provides REST API handlers.
type Handler struct {
	drafts    *draft.Store
	runner    *dispatch.Runner
	campaigns audit.Reader
	progress  *progress.Store
	transport transport.Transport
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	sendGuard func(http.Handler) http.Handler
	maxUpload int64
}

// NewHandler creates a REST handler over the draft store, the runner and
// the campaign history.
func NewHandler(drafts *draft.Store, runner *dispatch.Runner, campaigns audit.Reader) *Handler {
	return &Handler{
		drafts:    drafts,
		runner:    runner,
		campaigns: campaigns,
		metrics:   observability.NewMetrics(nil),
		tracer:    observability.NewTracer(nil),
		maxUpload: defaultMaxUpload,
	}
}

// WithProgressStore sets the store used for progress of runs that are not
// active in this process.
func (h *Handler) WithProgressStore(store *progress.Store) *Handler {
	h.progress = store
	return h
}

// WithTransport sets the transport used by connection tests.
func (h *Handler) WithTransport(t transport.Transport) *Handler {
	h.transport = t
	return h
}

// WithObservability sets metrics and tracing for connection tests.
func (h *Handler) WithObservability(metrics *observability.Metrics, tracer *observability.Tracer) *Handler {
	if metrics != nil {
		h.metrics = metrics
	}
	if tracer != nil {
		h.tracer = tracer
	}
	return h
}

// WithSendGuard wraps the routes that contact the mail provider, typically
// with a rate limit.
func (h *Handler) WithSendGuard(mw func(http.Handler) http.Handler) *Handler {
	h.sendGuard = mw
	return h
}

// WithMaxUpload sets the largest accepted recipient upload in bytes.
func (h *Handler) WithMaxUpload(n int64) *Handler {
	if n > 0 {
		h.maxUpload = n
	}
	return h
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message, code string) {
	respondJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// respondServiceError maps domain errors to HTTP statuses.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	var ve domain.ValidationError
	switch {
	case errors.As(err, &ve):
		respondJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": ve.Message,
			"field": ve.Field,
			"code":  "VALIDATION_ERROR",
		})
	case errors.Is(err, domain.ErrDraftNotFound):
		respondError(w, http.StatusNotFound, "Draft not found", "NOT_FOUND")
	case errors.Is(err, domain.ErrCampaignNotFound):
		respondError(w, http.StatusNotFound, "Campaign not found", "NOT_FOUND")
	case errors.Is(err, domain.ErrRunNotFound):
		respondError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, domain.ErrRowOutOfRange):
		respondError(w, http.StatusNotFound, err.Error(), "ROW_NOT_FOUND")
	case errors.Is(err, domain.ErrRunInProgress):
		respondError(w, http.StatusConflict, err.Error(), "RUN_IN_PROGRESS")
	default:
		log.Error(action+" failed", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to "+action, "INTERNAL_ERROR")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", "BAD_REQUEST")
		return false
	}
	return true
}
