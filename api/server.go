/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the POS frontend

ROUTE GROUPS:
  /api/customers/*      Customer records, availability, issuance, statements
  /api/credit-lines/*   Single-line payments
  /api/admin/*          Consistency sweep

SECURITY NOTE:
  No authentication middleware. Authentication belongs to the surrounding
  POS application's boundary, not this engine.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Customer routes
		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.ListCustomers)
			r.Post("/", h.CreateCustomer)
			r.Get("/{id}", h.GetCustomer)
			r.Get("/{id}/availability", h.CheckAvailability)
			r.Get("/{id}/credit-lines", h.ListCreditLines)
			r.Post("/{id}/credit-lines", h.IssueCredit)
			r.Post("/{id}/payments", h.ApplyPaymentBulk)
			r.Get("/{id}/statement", h.GetStatement)
		})

		// Credit line routes
		r.Route("/credit-lines", func(r chi.Router) {
			r.Post("/{id}/payments", h.ApplyPayment)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/consistency", h.RunConsistencyCheck)
		})
	})

	return r
}
