package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Plans
		r.Post("/plans", h.OrchestratePlan)

		// Executions
		r.Post("/executions", h.CreateExecution)
		r.Get("/executions", h.ListExecutions)
		r.Get("/executions/{id}", h.GetExecution)
		r.Get("/executions/{id}/wait", h.WaitExecution)
		r.Delete("/executions/{id}", h.CancelExecution)
		r.Post("/executions/{id}/status", h.AdvanceExecution)
		r.Post("/executions/{id}/complete", h.CompleteExecution)
		r.Post("/executions/{id}/fail", h.FailExecution)
		r.Post("/executions/{id}/approval", h.RequireApproval)

		// Approvals
		r.Post("/approvals", h.ResolveApproval)
	})
}
