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
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/textbooks/*                Catalog and stock management
  /api/branches|teachers|students Directory
  /api/sets/*                     Textbook sets
  /api/distributions/*            Batch allocations and returns
  /api/individual-distributions/* Individual allocations and returns
  /api/statistics                 Reporting snapshot
  /api/scenarios/*                Demo scenarios

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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
		// Catalog routes
		r.Route("/textbooks", func(r chi.Router) {
			r.Get("/", h.ListTextbooks)
			r.Post("/", h.CreateTextbook)
			r.Get("/{id}", h.GetTextbook)
			r.Put("/{id}/stock", h.UpdateStock)
		})

		// Directory routes
		r.Route("/branches", func(r chi.Router) {
			r.Get("/", h.ListBranches)
			r.Post("/", h.CreateBranch)
		})
		r.Post("/teachers", h.CreateTeacher)
		r.Post("/students", h.CreateStudent)

		r.Route("/sets", func(r chi.Router) {
			r.Get("/", h.ListSets)
			r.Post("/", h.CreateSet)
		})

		// Batch distribution routes
		r.Route("/distributions", func(r chi.Router) {
			r.Get("/", h.ListDistributions)
			r.Post("/", h.CreateDistribution)
			r.Get("/{id}", h.GetDistribution)
			r.Post("/{id}/returns", h.ReturnDistribution)
			r.Delete("/{id}", h.DeleteDistribution)
		})

		// Individual distribution routes
		r.Route("/individual-distributions", func(r chi.Router) {
			r.Get("/", h.ListIndividualDistributions)
			r.Post("/", h.CreateIndividualDistribution)
			r.Get("/{id}", h.GetIndividualDistribution)
			r.Post("/{id}/return", h.ReturnIndividualDistribution)
			r.Delete("/{id}", h.DeleteIndividualDistribution)
		})

		// Reporting routes
		r.Get("/statistics", h.GetStatistics)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
