/**
 * @description
 * This file sets up the HTTP router for the pool-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * any necessary middleware, such as for authentication and the allow-list
 * access gate.
 *
 * @notes
 * - The settlement-initiating routes (fulfill, redistribute) carry no route
 *   timeout: their requests are bounded by the configured per-claim and
 *   redistribution budgets, which may legitimately exceed a generic HTTP
 *   timeout while a chain confirmation is pending.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PoolRoutes creates and returns a new router for the pool service.
func PoolRoutes(h *PoolHandlers, jwtSecret string, gate Authorizer) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging and panic recovery.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication and allow-list membership.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))
		r.Use(AccessGateMiddleware(gate))

		r.Route("/pools/networks", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(60 * time.Second))

				r.Post("/", h.CreateNetworkHandler)
				r.Get("/", h.ListNetworksHandler)
			})

			r.Route("/{networkID}", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(middleware.Timeout(60 * time.Second))

					r.Get("/", h.GetNetworkHandler)

					r.Post("/members", h.AddMemberHandler)
					r.Get("/members/me", h.GetOwnMemberHandler)
					r.Post("/contributions", h.RecordContributionHandler)

					r.Post("/requests", h.CreateRequestHandler)
					r.Get("/requests", h.ListRequestsHandler)
					r.Get("/requests/{requestID}", h.GetRequestHandler)

					r.Post("/offers", h.CreateOfferHandler)
					r.Post("/offers/{offerID}/close", h.CloseOfferHandler)
				})

				// Settlement routes: the configured claim and redistribution
				// budgets bound these, not the generic route timeout.
				r.Post("/requests/{requestID}/fulfill", h.FulfillRequestHandler)
				r.Post("/redistribute", h.RedistributeHandler)
			})
		})
	})

	return r
}
