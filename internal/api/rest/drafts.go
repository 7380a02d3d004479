package rest

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/internal/draft"
)

// SenderRequest is the sender block of a draft request. A blank app password
// on update keeps the stored one, since responses never return it.
type SenderRequest struct {
	Email       string `json:"email"`
	Name        string `json:"name"`
	AppPassword string `json:"appPassword,omitempty"`
}

// DraftRequest is the body for creating or updating a draft. Omitted fields
// are left unchanged on update.
type DraftRequest struct {
	Name        *string         `json:"name,omitempty"`
	Sender      *SenderRequest  `json:"sender,omitempty"`
	Subject     *string         `json:"subject,omitempty"`
	Template    *string         `json:"template,omitempty"`
	EmailColumn *string         `json:"emailColumn,omitempty"`
	Mode        *domain.RunMode `json:"mode,omitempty"`
	Concurrency *int            `json:"concurrency,omitempty"`
	DelayMs     *int64          `json:"delayMs,omitempty"`
}

func (req DraftRequest) apply(d draft.Draft) (draft.Draft, error) {
	if req.Name != nil {
		d.Name = strings.TrimSpace(*req.Name)
	}
	if req.Sender != nil {
		password := req.Sender.AppPassword
		if password == "" {
			password = d.Sender.AppPassword
		}
		d.Sender = domain.SenderIdentity{
			Email:       strings.TrimSpace(req.Sender.Email),
			Name:        strings.TrimSpace(req.Sender.Name),
			AppPassword: password,
		}
	}
	if req.Subject != nil {
		d.Subject = *req.Subject
	}
	if req.Template != nil {
		d.Template = *req.Template
	}
	if req.EmailColumn != nil {
		col := strings.TrimSpace(*req.EmailColumn)
		if col != "" && d.Recipients != nil && !d.Recipients.HasColumn(col) {
			return d, domain.NewValidationError("emailColumn", "column "+strconv.Quote(col)+" is not declared by the recipient list")
		}
		d.EmailColumn = col
	}
	if req.Mode != nil {
		if !req.Mode.Valid() {
			return d, domain.NewValidationError("mode", "must be sequential or concurrent")
		}
		d.Mode = *req.Mode
	}
	if req.Concurrency != nil {
		d.Run.Concurrency = *req.Concurrency
	}
	if req.DelayMs != nil {
		d.Run.Delay = time.Duration(*req.DelayMs) * time.Millisecond
	}
	return d, nil
}

// CreateDraft handles POST /api/drafts
func (h *Handler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	var req DraftRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	d, err := req.apply(draft.New(""))
	if err != nil {
		respondServiceError(w, r, err, "create draft")
		return
	}
	if d.Name == "" {
		d.Name = "Untitled campaign"
	}

	saved, err := h.drafts.Save(r.Context(), d)
	if err != nil {
		respondServiceError(w, r, err, "create draft")
		return
	}

	respondJSON(w, http.StatusCreated, draftToResponse(saved, true))
}

// ListDrafts handles GET /api/drafts
func (h *Handler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 200 {
		limit = l
	}

	drafts, err := h.drafts.List(r.Context(), limit)
	if err != nil {
		respondServiceError(w, r, err, "list drafts")
		return
	}

	response := make([]map[string]any, len(drafts))
	for i, d := range drafts {
		response[i] = draftToResponse(d, false)
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": response})
}

// GetDraft handles GET /api/drafts/{draftId}
func (h *Handler) GetDraft(w http.ResponseWriter, r *http.Request) {
	d, err := h.drafts.Get(r.Context(), chi.URLParam(r, "draftId"))
	if err != nil {
		respondServiceError(w, r, err, "get draft")
		return
	}
	respondJSON(w, http.StatusOK, draftToResponse(d, true))
}

// UpdateDraft handles PATCH /api/drafts/{draftId}
func (h *Handler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	d, err := h.drafts.Get(r.Context(), chi.URLParam(r, "draftId"))
	if err != nil {
		respondServiceError(w, r, err, "get draft")
		return
	}

	var req DraftRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if d, err = req.apply(d); err != nil {
		respondServiceError(w, r, err, "update draft")
		return
	}

	saved, err := h.drafts.Save(r.Context(), d)
	if err != nil {
		respondServiceError(w, r, err, "update draft")
		return
	}
	respondJSON(w, http.StatusOK, draftToResponse(saved, true))
}

// DeleteDraft handles DELETE /api/drafts/{draftId}
func (h *Handler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	if err := h.drafts.Delete(r.Context(), chi.URLParam(r, "draftId")); err != nil {
		respondServiceError(w, r, err, "delete draft")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// PreviewRequest selects the recipient row to render.
type PreviewRequest struct {
	Row int `json:"row"`
}

// PreviewDraft handles POST /api/drafts/{draftId}/preview
func (h *Handler) PreviewDraft(w http.ResponseWriter, r *http.Request) {
	d, err := h.drafts.Get(r.Context(), chi.URLParam(r, "draftId"))
	if err != nil {
		respondServiceError(w, r, err, "get draft")
		return
	}

	var req PreviewRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.runner.Preview(d, req.Row)
	if err != nil {
		respondServiceError(w, r, err, "render preview")
		return
	}

	unknown := p.Unknown
	if unknown == nil {
		unknown = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"row":                 p.Row,
		"to":                  p.Message.To,
		"from":                p.Message.Sender,
		"subject":             p.Message.Subject,
		"html":                p.Message.HTML,
		"variables":           p.Message.Variables,
		"unknownPlaceholders": unknown,
	})
}

func draftToResponse(d draft.Draft, withRecipients bool) map[string]any {
	d = d.Redacted()
	resp := map[string]any{
		"id":             d.ID,
		"name":           d.Name,
		"sender":         d.Sender,
		"subject":        d.Subject,
		"emailColumn":    d.EmailColumn,
		"mode":           d.Mode,
		"concurrency":    d.Run.Concurrency,
		"delayMs":        d.Run.Delay.Milliseconds(),
		"recipientCount": d.RecipientCount(),
		"createdAt":      d.CreatedAt,
		"updatedAt":      d.UpdatedAt,
	}

	if d.Recipients != nil {
		resp["columns"] = d.Recipients.Columns()
	}

	if withRecipients {
		resp["template"] = d.Template
		if d.Recipients != nil {
			resp["recipients"] = d.Recipients
		}
	}

	return resp
}
