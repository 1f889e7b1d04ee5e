// Package metrics provides Prometheus instrumentation for the risk engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RiskStateTransitions counts risk-state changes, partitioned by the
	// state entered.
	RiskStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_state_transitions_total",
		Help: "Total number of risk-state transitions",
	}, []string{"state"})

	// PortfolioUpdates counts published portfolio update entries.
	PortfolioUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "risk_portfolio_updates_total",
		Help: "Total number of published portfolio updates",
	})

	// QuoteUpdates counts quote updates, partitioned by whether they changed
	// a valuation.
	QuoteUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_quote_updates_total",
		Help: "Total number of quote updates processed",
	}, []string{"outcome"})

	// ConversionFailures counts currency conversions that failed for lack of
	// an exchange rate.
	ConversionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "risk_conversion_failures_total",
		Help: "Currency conversions with no listed exchange rate",
	})

	// FlatteningSubmissions counts flattening order submissions, partitioned
	// by outcome.
	FlatteningSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_flattening_submissions_total",
		Help: "Flattening order submissions",
	}, []string{"outcome"})

	// SubmissionRejections counts order submissions rejected by admission
	// checks, partitioned by reason.
	SubmissionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_submission_rejections_total",
		Help: "Order submissions rejected before reaching the market",
	}, []string{"reason"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "risk_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "risk_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
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
