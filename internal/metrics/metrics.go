// Package metrics provides Prometheus instrumentation for the bot.
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
	"github.com/shopspring/decimal"

	"github.com/atmx/longshot/internal/model"
)

var (
	// ScansTotal counts scan cycles, partitioned by result (ok, error).
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "longshot_scans_total",
		Help: "Total number of scan cycles run",
	}, []string{"result"})

	// ScanDuration tracks the wall time of one cycle.
	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "longshot_scan_duration_seconds",
		Help:    "Scan cycle duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// MarketsSeen is the number of markets in the last feed pull.
	MarketsSeen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "longshot_markets_seen",
		Help: "Markets returned by the feed in the last cycle",
	})

	// Candidates is the number of candidates selected in the last cycle.
	Candidates = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "longshot_candidates",
		Help: "Candidates selected in the last cycle",
	})

	// FillsTotal counts committed orders, partitioned by mode.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "longshot_fills_total",
		Help: "Total number of orders committed",
	}, []string{"mode"})

	// OrderUSDTotal accumulates committed notional, partitioned by mode.
	OrderUSDTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "longshot_order_usd_total",
		Help: "Cumulative committed order notional in USD",
	}, []string{"mode"})

	// CashUsed, MarketValue and UnrealizedPnL mirror the ledger summary.
	CashUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "longshot_cash_used_usd",
		Help: "Total USD committed by paper fills",
	})
	MarketValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "longshot_market_value_usd",
		Help: "Marked value of open positions",
	})
	UnrealizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "longshot_unrealized_pnl_usd",
		Help: "Market value minus cash used",
	})

	// ExposureHeadroom is the global budget left after the last cycle.
	ExposureHeadroom = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "longshot_exposure_headroom_usd",
		Help: "Global exposure budget remaining after the last cycle",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "longshot_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "longshot_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "longshot_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveFill records one committed order.
func ObserveFill(f model.Fill) {
	FillsTotal.WithLabelValues(f.Mode).Inc()
	OrderUSDTotal.WithLabelValues(f.Mode).Add(f.OrderUSD.InexactFloat64())
}

// ObserveSummary mirrors the ledger summary into gauges.
func ObserveSummary(s model.Summary) {
	CashUsed.Set(s.CashUsedUSD.InexactFloat64())
	MarketValue.Set(s.MarketValue.InexactFloat64())
	UnrealizedPnL.Set(s.UnrealizedPnL.InexactFloat64())
}

// ObserveHeadroom records the remaining global budget, floored at zero.
func ObserveHeadroom(maxExposure, cashUsed decimal.Decimal) {
	ExposureHeadroom.Set(decimal.Max(decimal.Zero, maxExposure.Sub(cashUsed)).InexactFloat64())
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

// Hijack lets the WebSocket upgrade take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
