// Package metrics provides Prometheus instrumentation for the engine.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SnapshotFetches counts gateway fetches by result: hit, shared_hit, miss, unavailable.
	SnapshotFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snipebot_snapshot_fetches_total",
		Help: "Market data gateway fetches by result",
	}, []string{"result"})

	// UpstreamLatency tracks single upstream call latency by upstream name.
	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "snipebot_upstream_latency_seconds",
		Help:    "Upstream request latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"upstream"})

	// SafetyChecks counts oracle answers by result: safe, unsafe, degraded.
	SafetyChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snipebot_safety_checks_total",
		Help: "Safety oracle results",
	}, []string{"result"})

	// FilterDecisions counts qualification outcomes by reason ("pass" on success).
	FilterDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snipebot_filter_decisions_total",
		Help: "Qualification filter decisions by reason",
	}, []string{"reason"})

	// OpenPositions tracks positions currently monitored.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "snipebot_open_positions",
		Help: "Number of positions currently being monitored",
	})

	// Exits counts closed positions by exit reason.
	Exits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snipebot_exits_total",
		Help: "Closed positions by exit reason",
	}, []string{"reason"})

	// RealizedPnLUSD accumulates realized profit in USD, split by sign.
	RealizedPnLUSD = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snipebot_realized_pnl_usd_total",
		Help: "Absolute realized profit and loss in USD",
	}, []string{"sign"})

	// ExecutorLatency tracks executor calls by executor and side.
	ExecutorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "snipebot_executor_latency_seconds",
		Help:    "Trade executor latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"executor", "side"})

	// ExecutorFailures counts failed executor calls.
	ExecutorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snipebot_executor_failures_total",
		Help: "Failed trade executor calls",
	}, []string{"executor", "side"})

	// ScanCycles counts scheduler cycles by outcome: ok, empty, skipped.
	ScanCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snipebot_scan_cycles_total",
		Help: "Scan scheduler cycles by outcome",
	}, []string{"outcome"})

	// PositionSizeBase is the current per-trade size in base units.
	PositionSizeBase = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "snipebot_position_size_base",
		Help: "Current position size in base-asset units",
	})

	// TradesToday mirrors the daily trade counter.
	TradesToday = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "snipebot_trades_today",
		Help: "Trades closed in the current calendar day",
	})

	// WebSocketClients tracks connected dashboard clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "snipebot_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snipebot_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "snipebot_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObservePnL records a realized profit or loss.
func ObservePnL(usd float64) {
	if usd >= 0 {
		RealizedPnLUSD.WithLabelValues("profit").Add(usd)
		return
	}
	RealizedPnLUSD.WithLabelValues("loss").Add(-usd)
}

// Since observes the elapsed time since start on h.
func Since(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for the path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
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

// Hijack implements http.Hijacker so WebSocket upgrades pass through.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return h.Hijack()
}
