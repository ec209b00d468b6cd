// Package metrics provides Prometheus instrumentation for the options
// market simulation.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atmx/options-market/internal/model"
)

var (
	// ContractsListed counts listings, partitioned by kind.
	ContractsListed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optionsim_contracts_listed_total",
		Help: "Total number of contracts listed",
	}, []string{"kind"})

	// ContractsSold counts purchases, partitioned by kind.
	ContractsSold = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optionsim_contracts_sold_total",
		Help: "Total number of contracts sold",
	}, []string{"kind"})

	// ContractsExercised counts exercises, partitioned by kind.
	ContractsExercised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optionsim_contracts_exercised_total",
		Help: "Total number of contracts exercised",
	}, []string{"kind"})

	ContractsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "optionsim_contracts_expired_total",
		Help: "Total number of contracts expired",
	})

	ContractsUnlisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "optionsim_contracts_unlisted_total",
		Help: "Total number of contracts withdrawn by their seller",
	})

	// SpotTrades counts spot desk fills by side.
	SpotTrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optionsim_spot_trades_total",
		Help: "Total number of spot desk trades",
	}, []string{"side"})

	// PremiumCents tracks cumulative premium paid, in cents.
	PremiumCents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "optionsim_premium_cents_total",
		Help: "Cumulative premium paid in cents",
	})

	// Rejections counts refused operations by operation and error reason.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optionsim_rejections_total",
		Help: "Operations rejected by the market",
	}, []string{"op", "reason"})

	// ActiveListings tracks Listed and Sold contracts.
	ActiveListings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "optionsim_active_listings",
		Help: "Number of contracts currently listed or sold",
	})

	// Round tracks the latest completed simulation round.
	Round = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "optionsim_round",
		Help: "Latest simulation round",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "optionsim_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optionsim_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "optionsim_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveEvent updates the lifecycle counters for one engine event.
func ObserveEvent(e model.Event) {
	kind := string(e.Kind)
	switch e.Type {
	case model.EventListed:
		ContractsListed.WithLabelValues(kind).Inc()
	case model.EventSold:
		ContractsSold.WithLabelValues(kind).Inc()
		PremiumCents.Add(float64(e.Cash))
	case model.EventExercised:
		ContractsExercised.WithLabelValues(kind).Inc()
	case model.EventExpired:
		ContractsExpired.Inc()
	case model.EventUnlisted:
		ContractsUnlisted.Inc()
	case model.EventSpotBuy:
		SpotTrades.WithLabelValues("buy").Inc()
	case model.EventSpotSell:
		SpotTrades.WithLabelValues("sell").Inc()
	}
}

// ObserveRejection counts a refused operation.
func ObserveRejection(op string, err error) {
	Rejections.WithLabelValues(op, model.Reason(err)).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
