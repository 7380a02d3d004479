package rest

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
)

// SendRequest overrides the draft's run settings for one send.
type SendRequest struct {
	Mode        *domain.RunMode `json:"mode,omitempty"`
	Concurrency *int            `json:"concurrency,omitempty"`
	DelayMs     *int64          `json:"delayMs,omitempty"`
}

// SendDraft handles POST /api/drafts/{draftId}/send
func (h *Handler) SendDraft(w http.ResponseWriter, r *http.Request) {
	d, err := h.drafts.Get(r.Context(), chi.URLParam(r, "draftId"))
	if err != nil {
		respondServiceError(w, r, err, "get draft")
		return
	}

	var req SendRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	mode := d.Mode
	if req.Mode != nil {
		mode = *req.Mode
	}
	cfg := d.Run
	if req.Concurrency != nil {
		cfg.Concurrency = *req.Concurrency
	}
	if req.DelayMs != nil {
		cfg.Delay = time.Duration(*req.DelayMs) * time.Millisecond
	}

	id, err := h.runner.Start(r.Context(), d, mode, cfg)
	if err != nil {
		respondServiceError(w, r, err, "start campaign")
		return
	}

	w.Header().Set("Location", "/api/campaigns/"+id.String())
	respondJSON(w, http.StatusAccepted, map[string]any{
		"campaignId": id.String(),
		"draftId":    d.ID,
		"status":     domain.CampaignStatusSending,
		"total":      d.RecipientCount(),
	})
}

// ListActiveCampaigns handles GET /api/campaigns
func (h *Handler) ListActiveCampaigns(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"data": h.runner.Active()})
}

// GetCampaign handles GET /api/campaigns/{campaignId}
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	c, err := h.campaigns.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "get campaign")
		return
	}

	resp := campaignToResponse(c)
	if p, active := h.runner.Progress(id); active {
		resp["active"] = true
		resp["progress"] = progressToResponse(p)
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetProgress handles GET /api/campaigns/{campaignId}/progress
//
// Active runs report their live snapshot. Otherwise the last stored snapshot
// is used, then the recorded final counts.
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	if p, active := h.runner.Progress(id); active {
		respondJSON(w, http.StatusOK, progressToResponse(p))
		return
	}

	if h.progress != nil {
		p, err := h.progress.Latest(r.Context(), id)
		if err == nil {
			respondJSON(w, http.StatusOK, progressToResponse(p))
			return
		}
		if !errors.Is(err, domain.ErrRunNotFound) {
			log.Warn("failed to read stored progress", "campaign_id", id, "error", err)
		}
	}

	c, err := h.campaigns.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "get progress")
		return
	}
	current := ""
	if c.Status.IsTerminal() {
		current = domain.ProgressCompleted
	}
	respondJSON(w, http.StatusOK, progressToResponse(domain.ProgressSnapshot{
		Total:   c.TotalRecipients,
		Sent:    c.SentCount,
		Failed:  c.FailedCount,
		Current: current,
	}))
}

// StreamProgress handles GET /api/campaigns/{campaignId}/progress/stream
//
// Streams snapshots as Server-Sent Events until the run completes or the
// client disconnects. Snapshots are published by whichever instance runs
// the campaign.
func (h *Handler) StreamProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	if h.progress == nil {
		respondError(w, http.StatusNotImplemented, "Progress streaming is not configured", "NOT_CONFIGURED")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming not supported", "INTERNAL_ERROR")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	updates := h.progress.Watch(ctx, id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if p, active := h.runner.Progress(id); active {
		writeProgressEvent(w, p)
	} else if p, err := h.progress.Latest(ctx, id); err == nil {
		writeProgressEvent(w, p)
		if completed(p) {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	for p := range updates {
		writeProgressEvent(w, p)
		flusher.Flush()
	}
}

func completed(p domain.ProgressSnapshot) bool {
	return p.Finished() && p.Current == domain.ProgressCompleted
}

func writeProgressEvent(w http.ResponseWriter, p domain.ProgressSnapshot) {
	data, err := json.Marshal(progressToResponse(p))
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("event: progress\ndata: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
}

// ListFailures handles GET /api/campaigns/{campaignId}/failures
func (h *Handler) ListFailures(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	if failures, active := h.runner.Failures(id); active {
		if failures == nil {
			failures = []domain.FailedRecipient{}
		}
		respondJSON(w, http.StatusOK, map[string]any{"data": failures, "active": true})
		return
	}

	if _, err := h.campaigns.Get(r.Context(), id); err != nil {
		respondServiceError(w, r, err, "get campaign")
		return
	}
	failures, err := h.campaigns.ListFailures(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "list failures")
		return
	}
	if failures == nil {
		failures = []domain.FailedRecipient{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": failures, "active": false})
}

// ExportLogs handles GET /api/campaigns/{campaignId}/logs.csv
func (h *Handler) ExportLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	if _, err := h.campaigns.Get(r.Context(), id); err != nil {
		respondServiceError(w, r, err, "get campaign")
		return
	}
	logs, err := h.campaigns.ListLogs(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "export logs")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="campaign-`+id.String()+`-logs.csv"`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"email", "status", "message", "created_at"})
	for _, l := range logs {
		_ = cw.Write([]string{l.Email, l.Status, l.Message, l.CreatedAt.UTC().Format(time.RFC3339)})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		log.Warn("log export interrupted", "campaign_id", id, "error", err)
	}
}

// CancelCampaign handles POST /api/campaigns/{campaignId}/cancel
func (h *Handler) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	if err := h.runner.Cancel(id); err != nil {
		respondServiceError(w, r, err, "cancel campaign")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"campaignId": id.String(), "cancelled": true})
}

func campaignID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "campaignId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid campaign ID", "BAD_REQUEST")
		return uuid.Nil, false
	}
	return id, true
}

func campaignToResponse(c domain.Campaign) map[string]any {
	resp := map[string]any{
		"id":              c.ID.String(),
		"draftId":         c.DraftID,
		"sender":          c.Sender.Redacted(),
		"subject":         c.Subject,
		"totalRecipients": c.TotalRecipients,
		"sentCount":       c.SentCount,
		"failedCount":     c.FailedCount,
		"status":          c.Status,
		"createdAt":       c.CreatedAt,
		"updatedAt":       c.UpdatedAt,
	}

	if c.CompletedAt != nil {
		resp["completedAt"] = c.CompletedAt
	}

	return resp
}

func progressToResponse(p domain.ProgressSnapshot) map[string]any {
	return map[string]any{
		"total":    p.Total,
		"sent":     p.Sent,
		"failed":   p.Failed,
		"current":  p.Current,
		"percent":  p.Percent(),
		"finished": p.Finished(),
		"label":    strconv.Itoa(p.Done()) + "/" + strconv.Itoa(p.Total),
	}
}
