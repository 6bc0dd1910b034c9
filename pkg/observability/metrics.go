// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the dolmetscher gateway.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and model.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dolmetscher_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "model"},
	)

	// RequestDuration records HTTP request duration in seconds by method and model.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dolmetscher_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "model"},
	)

	// StreamingConnections tracks the number of active SSE streaming connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dolmetscher_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// UpstreamRequestsTotal counts calls to the upstream Messages API.
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dolmetscher_upstream_requests_total",
			Help: "Upstream requests",
		},
		[]string{"model", "status"},
	)

	// UpstreamLatency records upstream latency in seconds, measured until the
	// full answer (or the end of the stream) was received.
	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dolmetscher_upstream_latency_seconds",
			Help:    "Upstream latency",
			Buckets: LLMBuckets,
		},
		[]string{"model"},
	)

	// UpstreamTokensTotal counts tokens reported by the upstream by direction.
	UpstreamTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dolmetscher_upstream_tokens_total",
			Help: "Token count",
		},
		[]string{"model", "direction"},
	)

	// StreamErrorsTotal counts streams that ended without [DONE], by kind.
	StreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dolmetscher_stream_errors_total",
			Help: "Aborted streams",
		},
		[]string{"kind"},
	)

	// MappingTruncationsTotal counts content dropped during translation
	// (extra tool calls, unresolvable images, orphan tool results).
	MappingTruncationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dolmetscher_mapping_truncations_total",
			Help: "Content dropped during translation",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		UpstreamRequestsTotal,
		UpstreamLatency,
		UpstreamTokensTotal,
		StreamErrorsTotal,
		MappingTruncationsTotal,
	)
}

// RecordUpstream records one finished upstream exchange.
func RecordUpstream(model, status string, d time.Duration, inputTokens, outputTokens int) {
	UpstreamRequestsTotal.WithLabelValues(model, status).Inc()
	UpstreamLatency.WithLabelValues(model).Observe(d.Seconds())
	if inputTokens > 0 {
		UpstreamTokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		UpstreamTokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// RecordTruncation counts one piece of content dropped while mapping.
func RecordTruncation(kind string, n int) {
	if n <= 0 {
		return
	}
	MappingTruncationsTotal.WithLabelValues(kind).Add(float64(n))
}

// RecordStreamError counts one aborted stream.
func RecordStreamError(kind string) {
	StreamErrorsTotal.WithLabelValues(kind).Inc()
}
