package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"earnhub/pkg/logger"
)

// Low-overhead request telemetry: request counters and durations go to the
// default prometheus registry, and anything slower than slowThreshold also
// gets a structured log line.

var slowThreshold = 200 * time.Millisecond

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "earnhub_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})

	MessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "earnhub_chat_messages_total",
		Help: "Chat messages accepted into the room log.",
	})

	ViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "earnhub_moderation_violations_total",
		Help: "Messages blocked for forbidden terms.",
	})

	SanctionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "earnhub_moderation_sanctions_total",
		Help: "Sanctions issued, by level.",
	}, []string{"level"})

	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "earnhub_ledger_transactions_total",
		Help: "Ledger transitions, by kind and resulting status.",
	}, []string{"kind", "status"})

	DisputesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "earnhub_ledger_disputes_total",
		Help: "Dispute tickets filed.",
	})
)

// SetSlowThreshold sets the duration above which requests get a log line.
// Non-positive values keep the default.
func SetSlowThreshold(d time.Duration) {
	if d <= 0 {
		return
	}
	slowThreshold = d
}

// Middleware records request duration and logs slow requests.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(srw, r)
		dur := time.Since(start)
		requestDuration.WithLabelValues(r.URL.Path, http.StatusText(srw.status)).Observe(dur.Seconds())
		if dur > slowThreshold {
			logger.Warn("slow_request", "path", r.URL.Path, "method", r.Method, "duration_ms", dur.Milliseconds(), "status", srw.status)
		}
	})
}

// statusRecorder captures the response status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
