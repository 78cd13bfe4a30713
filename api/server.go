/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests, origins from config

ROUTE GROUPS:
  /api/payees/*          Roster and compensation
  /api/runs/*            Payroll runs
  /api/payouts/*         Payout status
  /api/advances/*        Cash advances
  /api/adhoc-payments/*  One-off payments
  /api/scenarios/*       Demo rosters
  /healthz               Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/payroll/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultOrigins is used when no CORS origins are configured.
var DefaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/payees", func(r chi.Router) {
			r.Get("/", h.ListPayees)
			r.Post("/", h.CreatePayee)
			r.Get("/{id}", h.GetPayee)
			r.Put("/{id}", h.UpdatePayee)
			r.Delete("/{id}", h.DeletePayee)
			r.Post("/{id}/adjustments", h.CreateAdjustment)
			r.Delete("/{id}/adjustments/{adjID}", h.DeleteAdjustment)
			r.Get("/{id}/advances", h.ListPayeeAdvances)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.ListRuns)
			r.Post("/", h.RunPayroll)
			r.Get("/{id}", h.GetRun)
			r.Delete("/{id}", h.DeleteRun)
			r.Get("/{id}/reconciliation", h.GetReconciliation)
			r.Get("/{id}/payment-summary", h.GetPaymentSummary)
		})

		r.Route("/payouts", func(r chi.Router) {
			r.Patch("/{id}", h.UpdatePayout)
			r.Post("/{id}/paid", h.MarkPayoutPaid)
		})

		r.Route("/advances", func(r chi.Router) {
			r.Get("/", h.ListAdvances)
			r.Post("/", h.CreateAdvance)
			r.Get("/{id}", h.GetAdvance)
			r.Delete("/{id}", h.DeleteAdvance)
			r.Post("/{id}/approve", h.ApproveAdvance)
			r.Post("/{id}/repayments", h.RecordRepayment)
		})

		r.Route("/adhoc-payments", func(r chi.Router) {
			r.Get("/", h.ListAdhocPayments)
			r.Post("/", h.CreateAdhocPayment)
			r.Put("/{id}/status", h.SetAdhocPaymentStatus)
			r.Delete("/{id}", h.DeleteAdhocPayment)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
