package rest

import (
	"net/http"
	"strings"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/internal/observability"
	"github.com/stiffinWanjohi/bulkmail/internal/transport"
)

// ConnectionTestRequest names the sender to test. With a draft ID the
// draft's stored sender is used, and any sender fields given override it.
type ConnectionTestRequest struct {
	DraftID string         `json:"draftId,omitempty"`
	Sender  *SenderRequest `json:"sender,omitempty"`
}

// TestConnection handles POST /api/connection/test
//
// Sends the fixed test message from the sender to itself. The response is
// 200 with status "success" or "error"; a failed test is not an HTTP error.
func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	if h.transport == nil {
		respondError(w, http.StatusNotImplemented, "No mail transport configured", "NOT_CONFIGURED")
		return
	}

	var req ConnectionTestRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var sender domain.SenderIdentity
	if req.DraftID != "" {
		d, err := h.drafts.Get(r.Context(), req.DraftID)
		if err != nil {
			respondServiceError(w, r, err, "get draft")
			return
		}
		sender = d.Sender
	}
	if req.Sender != nil {
		if email := strings.TrimSpace(req.Sender.Email); email != "" {
			sender.Email = email
		}
		if name := strings.TrimSpace(req.Sender.Name); name != "" {
			sender.Name = name
		}
		if req.Sender.AppPassword != "" {
			sender.AppPassword = req.Sender.AppPassword
		}
	}

	ctx, span := h.tracer.StartSpan(r.Context(), observability.SpanConnectionTest,
		observability.WithSpanKind(observability.SpanKindClient),
		observability.WithAttributes(map[string]any{
			observability.AttrTransport: h.transport.Name(),
		}))
	defer span.End()

	state := transport.TestConnection(ctx, h.transport, sender)
	view := domain.ViewConnection(state)

	span.SetAttribute(observability.AttrSendStatus, view.Status)
	if view.Status == (domain.ConnectionOK{}).Status() {
		span.SetStatus(observability.SpanStatusOK, "")
	} else {
		span.SetStatus(observability.SpanStatusError, view.Detail)
	}
	h.metrics.ConnectionTested(ctx, h.transport.Name(), view.Status)

	respondJSON(w, http.StatusOK, view)
}
