// Package metrics provides Prometheus instrumentation for the auction engine.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BidsTotal counts bid attempts, partitioned by outcome
	// (accepted, rejected, error).
	BidsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_bids_total",
		Help: "Total number of bid attempts",
	}, []string{"outcome"})

	// SalesTotal counts settled sales.
	SalesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_sales_total",
		Help: "Total number of confirmed sales",
	})

	// ResetsTotal counts full auction resets.
	ResetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_resets_total",
		Help: "Total number of auction resets",
	})

	// RemainingPlayers tracks the unsold-player count in the register.
	RemainingPlayers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auction_remaining_players",
		Help: "Number of unsold players remaining",
	})

	// IntegrityViolations counts locking-guarantee violations detected at
	// confirm time. Any non-zero value is alarm-worthy.
	IntegrityViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_integrity_violations_total",
		Help: "Detected locking-guarantee violations",
	})

	// WebSocketClients tracks connected WebSocket observers.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auction_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auction_http_request_duration_seconds",
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

		// Use the raw path for the label; the API surface is small enough
		// to keep cardinality in check.
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

// Hijack lets the WebSocket upgrade take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
