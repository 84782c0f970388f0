// Package metrics provides Prometheus instrumentation for the yield ledger.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// InvestmentsTotal counts invest operations, partitioned by outcome.
	InvestmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "novax_investments_total",
		Help: "Total invest operations",
	}, []string{"outcome"})

	// WithdrawalsTotal counts withdraw operations, partitioned by outcome.
	WithdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "novax_withdrawals_total",
		Help: "Total withdraw operations",
	}, []string{"outcome"})

	// DistributionsTotal counts yield distributions, partitioned by outcome.
	DistributionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "novax_distributions_total",
		Help: "Total yield distributions",
	}, []string{"outcome"})

	// OrdersTotal counts marketplace fills, partitioned by outcome.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "novax_marketplace_orders_total",
		Help: "Total marketplace buy operations",
	}, []string{"outcome"})

	// ActivePools tracks the number of active pools.
	ActivePools = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "novax_active_pools",
		Help: "Number of currently active pools",
	})

	// ActiveListings tracks the number of active marketplace listings.
	ActiveListings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "novax_active_listings",
		Help: "Number of currently active listings",
	})

	// InvestedVolume accumulates invested settlement currency per pool.
	InvestedVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "novax_invested_volume_total",
		Help: "Cumulative invested volume in settlement currency",
	}, []string{"pool_id"})

	// TradedVolume accumulates marketplace trade volume.
	TradedVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "novax_traded_volume_total",
		Help: "Cumulative marketplace volume in settlement currency",
	})

	// SettlementFailures counts aborted operations caused by the gateway.
	SettlementFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "novax_settlement_failures_total",
		Help: "Operations aborted by settlement gateway failures",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "novax_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "novax_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "novax_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

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

		// Label with the chi route pattern, not the raw path: every route
		// embeds an id, so raw paths would have unbounded cardinality.
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
