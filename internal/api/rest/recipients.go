package rest

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/internal/draft"
	"github.com/stiffinWanjohi/bulkmail/internal/recipient"
	"github.com/stiffinWanjohi/bulkmail/internal/template"
)

// uploadField is the multipart form field holding a CSV upload.
const uploadField = "file"

// ReplaceRecipients handles PUT /api/drafts/{draftId}/recipients
//
// Accepts a raw CSV body (text/csv), a multipart form with a "file" field,
// or JSON {"columns": [...], "rows": [[...]]}.
func (h *Handler) ReplaceRecipients(w http.ResponseWriter, r *http.Request) {
	d, err := h.drafts.Get(r.Context(), chi.URLParam(r, "draftId"))
	if err != nil {
		respondServiceError(w, r, err, "get draft")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		set      *recipient.Set
		rejected []int
	)
	switch mediaType {
	case "application/json":
		set = &recipient.Set{}
		if err := json.NewDecoder(r.Body).Decode(set); err != nil {
			respondUploadError(w, r, err)
			return
		}
	case "multipart/form-data":
		file, _, err := r.FormFile(uploadField)
		if err != nil {
			respondUploadError(w, r, err)
			return
		}
		defer func() { _ = file.Close() }()
		set, rejected, err = parseCSV(file)
		if err != nil {
			respondUploadError(w, r, err)
			return
		}
	default:
		set, rejected, err = parseCSV(r.Body)
		if err != nil {
			respondUploadError(w, r, err)
			return
		}
	}

	saved, err := h.drafts.Save(r.Context(), d.WithRecipients(set))
	if err != nil {
		respondServiceError(w, r, err, "save recipients")
		return
	}

	if rejected == nil {
		rejected = []int{}
	}
	log.Info("recipients replaced", "draft_id", saved.ID, "rows", saved.RecipientCount(), "rejected", len(rejected))
	respondJSON(w, http.StatusOK, recipientsToResponse(saved, rejected))
}

func parseCSV(body io.Reader) (*recipient.Set, []int, error) {
	res, err := recipient.ParseCSV(body)
	if err != nil {
		return nil, nil, err
	}
	return res.Set, res.Rejected, nil
}

func respondUploadError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		respondError(w, http.StatusRequestEntityTooLarge,
			"Upload exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes", "UPLOAD_TOO_LARGE")
	case domain.IsValidationError(err):
		respondServiceError(w, r, err, "parse recipients")
	default:
		respondError(w, http.StatusBadRequest, "Invalid recipient list: "+err.Error(), "BAD_REQUEST")
	}
}

// RowRequest carries column values for one recipient row.
type RowRequest struct {
	Values map[string]string `json:"values"`
}

// AddRecipientRow handles POST /api/drafts/{draftId}/recipients/rows
func (h *Handler) AddRecipientRow(w http.ResponseWriter, r *http.Request) {
	h.editRows(w, r, func(set *recipient.Set, _ int) error {
		var req RowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return errBadBody
		}
		return set.Add(req.Values)
	}, http.StatusCreated)
}

// UpdateRecipientRow handles PUT /api/drafts/{draftId}/recipients/rows/{index}
func (h *Handler) UpdateRecipientRow(w http.ResponseWriter, r *http.Request) {
	h.editRows(w, r, func(set *recipient.Set, index int) error {
		var req RowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return errBadBody
		}
		return set.Update(index, req.Values)
	}, http.StatusOK)
}

// DeleteRecipientRow handles DELETE /api/drafts/{draftId}/recipients/rows/{index}
func (h *Handler) DeleteRecipientRow(w http.ResponseWriter, r *http.Request) {
	h.editRows(w, r, func(set *recipient.Set, index int) error {
		return set.Delete(index)
	}, http.StatusOK)
}

var errBadBody = errors.New("invalid request body")

func (h *Handler) editRows(w http.ResponseWriter, r *http.Request, edit func(*recipient.Set, int) error, status int) {
	d, err := h.drafts.Get(r.Context(), chi.URLParam(r, "draftId"))
	if err != nil {
		respondServiceError(w, r, err, "get draft")
		return
	}
	if d.Recipients == nil {
		respondServiceError(w, r, domain.NewValidationError("recipients", "upload a recipient list first"), "edit recipients")
		return
	}

	index := -1
	if raw := chi.URLParam(r, "index"); raw != "" {
		if index, err = strconv.Atoi(raw); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid row index", "BAD_REQUEST")
			return
		}
	}

	if err := edit(d.Recipients, index); err != nil {
		if errors.Is(err, errBadBody) {
			respondError(w, http.StatusBadRequest, "Invalid request body", "BAD_REQUEST")
			return
		}
		respondServiceError(w, r, err, "edit recipients")
		return
	}

	saved, err := h.drafts.Save(r.Context(), d)
	if err != nil {
		respondServiceError(w, r, err, "save recipients")
		return
	}
	respondJSON(w, status, recipientsToResponse(saved, nil))
}

func recipientsToResponse(d draft.Draft, rejected []int) map[string]any {
	resp := map[string]any{
		"draftId":     d.ID,
		"count":       d.RecipientCount(),
		"emailColumn": d.EmailColumn,
	}
	if d.Recipients != nil {
		resp["columns"] = d.Recipients.Columns()
		resp["recipients"] = d.Recipients
		unknown := template.Unknown(d.Template, d.Recipients.Columns())
		if unknown == nil {
			unknown = []string{}
		}
		resp["unknownPlaceholders"] = unknown
	}
	if rejected != nil {
		resp["rejectedLines"] = rejected
	}
	return resp
}
