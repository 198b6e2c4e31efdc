package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "custody_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custody_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "custody_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	payments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custody_layer",
			Subsystem: "escrow",
			Name:      "payments_total",
			Help:      "Total number of tap-to-pay deductions.",
		},
		[]string{"status"},
	)

	paymentAmount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "custody_layer",
			Subsystem: "escrow",
			Name:      "payment_amount",
			Help:      "Amount distribution of completed deductions.",
			Buckets:   prometheus.ExponentialBuckets(1, 10, 8), // 1 to 10M base units
		},
	)

	escrowsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "custody_layer",
			Subsystem: "escrow",
			Name:      "active_total",
			Help:      "Number of open escrow authorizations.",
		},
	)

	swaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "custody_layer",
			Subsystem: "swap",
			Name:      "payments_total",
			Help:      "Total number of swap-and-pay operations.",
		},
		[]string{"status"},
	)

	leaderboardUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "custody_layer",
			Subsystem: "stats",
			Name:      "leaderboard_updates_total",
			Help:      "Total number of leaderboard ranking refreshes.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		payments,
		paymentAmount,
		escrowsActive,
		swaps,
		leaderboardUpdates,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordPayment records a tap-to-pay outcome.
func RecordPayment(amount uint64, err error) {
	if err != nil {
		payments.WithLabelValues("rejected").Inc()
		return
	}
	payments.WithLabelValues("completed").Inc()
	paymentAmount.Observe(float64(amount))
}

// RecordSwap records a swap-and-pay outcome.
func RecordSwap(err error) {
	status := "completed"
	if err != nil {
		status = "rejected"
	}
	swaps.WithLabelValues(status).Inc()
}

// EscrowOpened tracks a newly created escrow authorization.
func EscrowOpened() { escrowsActive.Inc() }

// EscrowClosed tracks a deleted escrow authorization.
func EscrowClosed() { escrowsActive.Dec() }

// RecordLeaderboardUpdate tracks a ranking refresh.
func RecordLeaderboardUpdate() { leaderboardUpdates.Inc() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "escrows" && parts[0] != "stats" && parts[0] != "leaderboards" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/" + parts[0]
	}
	if len(parts) == 2 {
		return "/" + parts[0] + "/:id"
	}
	return "/" + parts[0] + "/:id/" + parts[2]
}
