package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. Paths match
// the analysis pipeline's public surface, so the query client and the review
// console talk to either interchangeably.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	r.Post("/analize", h.AnalyzeTransaction)

	r.Route("/hitl", func(r chi.Router) {
		r.Get("/pending", h.ListPending)
		r.Get("/{transactionID}", h.GetPending)
		r.Post("/{transactionID}/review", h.SubmitReview)
	})

	r.Get("/transaction/{transactionID}", h.GetTransaction)
	r.Get("/transactions", h.ListTransactions)

	if h.Hub != nil {
		r.Get("/ws", h.Hub.HandleWS)
	}
}
