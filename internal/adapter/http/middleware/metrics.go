package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerbridge_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledgerbridge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledgerbridge_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Metrics middleware records HTTP metrics.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := newStatusRecorder(w, false)
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := routeLabel(r)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routeLabel prefers the matched chi route pattern, falling back to a
// normalized path when the request did not go through a chi router.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return normalizePath(r.URL.Path)
}

// fixedTransferPaths are /transfers/* routes without a request ID segment.
var fixedTransferPaths = map[string]bool{
	"bank-to-brokerage": true,
	"brokerage-to-bank": true,
	"review":            true,
}

// normalizePath normalizes URL paths to avoid high cardinality.
// /transfers/3f2a9c1e-... -> /transfers/{requestId}
func normalizePath(path string) string {
	rest, ok := strings.CutPrefix(path, "/transfers/")
	if !ok || rest == "" {
		return path
	}

	segment, suffix, _ := strings.Cut(rest, "/")
	if fixedTransferPaths[segment] {
		return path
	}
	if suffix != "" {
		return "/transfers/{requestId}/" + suffix
	}
	return "/transfers/{requestId}"
}
