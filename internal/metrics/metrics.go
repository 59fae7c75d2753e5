// Package metrics provides Prometheus instrumentation for the jackpot engine.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coordinationlabs/jackpot-engine/internal/model"
)

var (
	// EventsTotal counts engine events, partitioned by type.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jackpot_events_total",
		Help: "Total number of engine events emitted",
	}, []string{"type"})

	// TicketsSold counts whole tickets sold.
	TicketsSold = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jackpot_tickets_sold_total",
		Help: "Total number of tickets sold",
	})

	// RoundsSettled counts settled rounds by outcome.
	RoundsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jackpot_rounds_settled_total",
		Help: "Total number of settled rounds",
	}, []string{"outcome"})

	// RandomnessLatency tracks the time between a round request and its
	// settlement.
	RandomnessLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "jackpot_randomness_latency_seconds",
		Help:    "Time from round request to randomness delivery in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	})

	// Pool tracks pool sizes in whole tokens, by pool.
	Pool = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "jackpot_pool_tokens",
		Help: "Current pool size in whole tokens",
	}, []string{"pool"})

	// ActiveParticipants tracks the size of the active sets.
	ActiveParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "jackpot_active_participants",
		Help: "Number of active ticket holders and LPs",
	}, []string{"kind"})

	// CapacityRejections counts operations rejected by a limit.
	CapacityRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jackpot_capacity_rejections_total",
		Help: "Operations rejected by the user, LP or pool cap limits",
	})

	// EventsDropped counts events the recorder could not queue.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jackpot_events_dropped_total",
		Help: "Events dropped because the recorder queue was full",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jackpot_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jackpot_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jackpot_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveSnapshot sets the pool and participant gauges.
func ObserveSnapshot(s *model.Snapshot) {
	dec := s.Params.TokenDecimals
	setPool("user", &s.UserPoolTotal, dec)
	setPool("lp", &s.LPPoolTotal, dec)
	setPool("lp_fees", &s.LPFeesTotal, dec)
	setPool("protocol_fee", &s.ProtocolFeeClaimable, dec)

	holders := 0
	for _, u := range s.Users {
		if u.Active {
			holders++
		}
	}
	ActiveParticipants.WithLabelValues("users").Set(float64(holders))
	ActiveParticipants.WithLabelValues("lps").Set(float64(len(s.LPs)))
}

func setPool(name string, amount *uint256.Int, decimals uint8) {
	Pool.WithLabelValues(name).Set(model.FormatAmount(amount, decimals).InexactFloat64())
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

// Hijack passes through to the underlying writer for WebSocket upgrades.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: %T does not support hijacking", w.ResponseWriter)
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
