package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Router creates a chi router with REST API routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	guard := h.sendGuard
	if guard == nil {
		guard = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/api", func(r chi.Router) {
		// Drafts
		r.Post("/drafts", h.CreateDraft)
		r.Get("/drafts", h.ListDrafts)
		r.Route("/drafts/{draftId}", func(r chi.Router) {
			r.Get("/", h.GetDraft)
			r.Patch("/", h.UpdateDraft)
			r.Delete("/", h.DeleteDraft)

			r.Put("/recipients", h.ReplaceRecipients)
			r.Post("/recipients/rows", h.AddRecipientRow)
			r.Put("/recipients/rows/{index}", h.UpdateRecipientRow)
			r.Delete("/recipients/rows/{index}", h.DeleteRecipientRow)

			r.Post("/preview", h.PreviewDraft)
			r.With(guard).Post("/send", h.SendDraft)
		})

		r.With(guard).Post("/connection/test", h.TestConnection)

		// Campaigns
		r.Get("/campaigns", h.ListActiveCampaigns)
		r.Route("/campaigns/{campaignId}", func(r chi.Router) {
			r.Get("/", h.GetCampaign)
			r.Get("/progress", h.GetProgress)
			r.Get("/progress/stream", h.StreamProgress)
			r.Get("/failures", h.ListFailures)
			r.Get("/logs.csv", h.ExportLogs)
			r.Post("/cancel", h.CancelCampaign)
		})
	})

	return r
}
