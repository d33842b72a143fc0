// Package metrics exposes the relay's Prometheus instrumentation: handshake
// and message counters, rate-limit rejections, and the gauges tracking the
// nonce tracker and offline store sizes.
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
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "secure_relay_active_sessions",
		Help: "Number of channels currently in the Active state",
	})

	HandshakesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secure_relay_handshakes_total",
			Help: "Total number of handshake attempts by outcome",
		},
		[]string{"outcome"}, // accepted, signature_invalid, timestamp_out_of_range, replay_detected, rate_limited, malformed
	)

	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secure_relay_messages_total",
			Help: "Total number of relayed message frames by outcome",
		},
		[]string{"outcome"}, // forwarded, sequence_error
	)

	MessageLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "secure_relay_message_relay_latency_seconds",
		Help:    "Time from frame receipt to forwarding or queueing",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secure_relay_rate_limit_rejections_total",
			Help: "Total number of handshake/message rate limit rejections",
		},
		[]string{"kind"}, // handshake, message
	)

	NonceTrackerSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "secure_relay_nonce_tracker_size",
		Help: "Current number of tracked handshake nonces",
	})

	StoredMessageCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "secure_relay_stored_messages",
		Help: "Current number of bounded offline messages held by the store",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secure_relay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "secure_relay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Middleware wraps an HTTP handler with request-count and latency metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHandshake records a handshake outcome.
func RecordHandshake(outcome string) {
	HandshakesTotal.WithLabelValues(outcome).Inc()
}

// RecordMessage records a relayed-message outcome and its latency.
func RecordMessage(outcome string, latency time.Duration) {
	MessagesTotal.WithLabelValues(outcome).Inc()
	MessageLatency.Observe(latency.Seconds())
}

// RecordRateLimitRejection records a handshake or message rate limit hit.
func RecordRateLimitRejection(kind string) {
	RateLimitRejectionsTotal.WithLabelValues(kind).Inc()
}
