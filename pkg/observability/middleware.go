package observability

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

type labelsKeyType struct{}

// requestLabels is filled in by handlers further down the chain, after the
// request body has been decoded.
type requestLabels struct {
	mu        sync.Mutex
	model     string
	streaming bool
}

// SetModel records the model label for the request in flight. It is a
// no-op outside MetricsMiddleware.
func SetModel(ctx context.Context, model string) {
	l, ok := ctx.Value(labelsKeyType{}).(*requestLabels)
	if !ok || model == "" {
		return
	}
	l.mu.Lock()
	l.model = model
	l.mu.Unlock()
}

// MarkStreaming counts the request in flight as an active streaming
// connection until MetricsMiddleware returns. Repeated calls are ignored.
func MarkStreaming(ctx context.Context) {
	l, ok := ctx.Value(labelsKeyType{}).(*requestLabels)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.streaming {
		return
	}
	l.streaming = true
	StreamingConnections.Inc()
}

// MetricsMiddleware wraps an HTTP handler to record request metrics.
//
// It captures:
//   - dolmetscher_requests_total (counter): per request with method, status class, and model labels
//   - dolmetscher_request_duration_seconds (histogram): request duration with method and model labels
//   - dolmetscher_streaming_connections_active (gauge): raised while a streaming response is in flight
//
// The model label is "unknown" unless a handler calls SetModel.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		labels := &requestLabels{model: "unknown"}
		r = r.WithContext(context.WithValue(r.Context(), labelsKeyType{}, labels))

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			labels.mu.Lock()
			model, streaming := labels.model, labels.streaming
			labels.mu.Unlock()
			if streaming {
				StreamingConnections.Dec()
			}

			statusStr := strconv.Itoa(sw.status/100) + "xx"
			RequestsTotal.WithLabelValues(r.Method, statusStr, model).Inc()
			RequestDuration.WithLabelValues(r.Method, model).Observe(time.Since(start).Seconds())
		}()

		next.ServeHTTP(sw, r)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

// WriteHeader captures the status code and delegates to the underlying writer.
func (w *statusWriter) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

// Write delegates to the underlying writer and marks the status as written.
func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}

// Flush delegates to the underlying writer if it implements http.Flusher.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter, enabling http.ResponseController
// and similar utilities to access the original writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
