/**
 * @description
 * This file sets up the HTTP router using go-chi/chi. It applies logging, recovery,
 * timeout and CORS middleware, mounts the ledger routes behind the wallet middleware and
 * exposes health and metrics endpoints.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures the optional parts of the router.
type RouterOptions struct {
	JWTSecret      string
	AllowedOrigins []string
	Metrics        http.Handler
}

// NewRouter creates a new Chi router and registers the subscription routes.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Subscription service is healthy"))
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(WalletAuthMiddleware(opts.JWTSecret))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/subscriptions", h.handleListSubscriptions)
			r.Post("/subscriptions", h.handleCreateSubscription)
			r.Get("/subscriptions/{id}", h.handleGetSubscription)
			r.Patch("/subscriptions/{id}", h.handlePatchSubscription)
			r.Get("/claimables", h.handleListClaimables)
		})

		// chain actions wait for confirmation; the settlement client bounds that wait
		// with CONFIRMATION_TIMEOUT instead of the request timeout
		if h.actions != nil {
			r.Post("/subscriptions/{id}/cancel", h.handleCancelSubscription)
			r.Post("/subscriptions/{id}/claim", h.handleClaimSubscription)
		}
	})

	return r
}
