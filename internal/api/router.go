package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atmx/options-market/internal/metrics"
)

// NewRouter mounts the service, the websocket hub and the metrics
// endpoint. hub may be nil.
func NewRouter(svc *Service, hub *WSHub) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// CORS middleware for browser dashboards. Only reads are served.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"optionsim"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if hub != nil {
			// WebSocket feed of market events.
			r.Get("/ws", hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Get("/listings", svc.ListListings)
			r.Get("/contracts", svc.ListContracts)
			r.Get("/contracts/{contractID}", svc.GetContract)
			r.Get("/contracts/{contractID}/history", svc.GetContractHistory)

			r.Get("/users", svc.ListUsers)
			r.Get("/users/{userID}", svc.GetUser)
			r.Get("/users/{userID}/events", svc.GetUserEvents)

			r.Get("/prices", svc.GetPrices)
			r.Get("/rounds", svc.ListRounds)
			r.Get("/stats", svc.GetStats)
		})
	})

	return r
}
