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
  /api/me                Authenticated account
  /api/credits/*         Ledger, packs, checkout
  /api/products/*        Sheets and generation
  /api/stripe/webhook    Payment notifications (signature auth, no JWT)
  /api/admin/*           Admin operations (JWT + admin role)
  /health, /metrics      Operational endpoints, unauthenticated

RATE LIMITING:
  Generation calls an external model and burns credits, so it is
  limited per account (10/minute) on top of authentication.

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: RequireAuth / RequireAdmin middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		AllowCredentials: true,
	}))

	// Operational endpoints
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Stripe authenticates with its signature header, not a JWT.
		r.Post("/stripe/webhook", h.HandleWebhook)

		// Everything else requires a valid token.
		r.Group(func(r chi.Router) {
			r.Use(h.RequireAuth)

			r.Get("/me", h.Me)

			r.Route("/credits", func(r chi.Router) {
				r.Get("/transactions", h.ListTransactions)
				r.Get("/packs", h.ListPacks)
				r.Post("/checkout", h.CreateCheckout)
			})

			r.Route("/products", func(r chi.Router) {
				r.Get("/", h.ListProducts)
				r.With(httprate.Limit(10, time.Minute,
					httprate.WithKeyFuncs(accountRateKey),
				)).Post("/generate", h.Generate)
				r.Get("/{id}", h.GetProduct)
				r.Get("/{id}/pdf", h.ExportPDF)
				r.Delete("/{id}", h.DeleteProduct)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.RequireAdmin)
				r.Post("/credits", h.AdminGrant)
				r.Get("/users", h.AdminListUsers)
				r.Get("/audit", h.AdminAudit)
			})
		})
	})

	return r
}

// accountRateKey buckets rate limits per authenticated account. Runs
// after RequireAuth, so the account is always present.
func accountRateKey(r *http.Request) (string, error) {
	if acct, ok := AccountFromContext(r.Context()); ok {
		return string(acct.ID), nil
	}
	return httprate.KeyByIP(r)
}
