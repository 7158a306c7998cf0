/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. hlog:       Request-scoped zerolog logger and access log
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/health           Liveness
  /api/period           Active period
  /api/{groups,items,warehouses,contacts}
  /api/documents/*      Document create / revise / retire
  /api/balances, /api/reports/stock, /api/pending
  /api/imports/*        Batch import
  /api/audit/*          Ledger audit
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/hlog"
)

// NewRouter creates a new router with all routes configured.
// An empty origins list allows any origin.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(h.log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Get("/period", h.GetPeriod)
		r.Put("/period", h.SetPeriod)

		// Master data
		r.Get("/groups", h.ListGroups)
		r.Post("/groups", h.CreateGroup)
		r.Get("/items", h.ListItems)
		r.Post("/items", h.CreateItem)
		r.Get("/warehouses", h.ListWarehouses)
		r.Post("/warehouses", h.CreateWarehouse)
		r.Get("/contacts", h.ListContacts)
		r.Post("/contacts", h.CreateContact)

		// Document routes
		r.Route("/documents/{kind}", func(r chi.Router) {
			r.Get("/", h.ListDocuments)
			r.Post("/", h.CreateDocument)
			r.Get("/{id}", h.GetDocument)
			r.Put("/{id}", h.ReviseDocument)
			r.Delete("/{id}", h.RetireDocument)
		})

		// Reports
		r.Get("/balances", h.ListBalances)
		r.Get("/reports/stock", h.StockReport)
		r.Get("/pending", h.ListPending)

		r.Post("/imports/{kind}", h.ImportDocuments)

		r.Route("/audit", func(r chi.Router) {
			r.Get("/", h.GetAudit)
			r.Post("/run", h.RunAudit)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
