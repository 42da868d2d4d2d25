package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bomcat",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Number of API requests by route pattern and status code.",
	}, []string{"route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bomcat",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "API request latency by route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)

// statusRecorder captures the response status written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

// WriteHeader records statusCode before forwarding it.
func (s *statusRecorder) WriteHeader(statusCode int) {
	if s.status == 0 {
		s.status = statusCode
	}
	s.ResponseWriter.WriteHeader(statusCode)
}

// Write records an implicit 200 before forwarding body bytes.
func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// observe records metrics and one debug log line per request served by next.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		route := r.Pattern
		if route == "" || route == "/" {
			route = "unmatched"
		}
		elapsed := time.Since(started)
		requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		fields := []any{"method", r.Method, "path", r.URL.Path, "status", status, "elapsed", elapsed}
		if tenantID := r.Header.Get(HeaderTenantID); tenantID != "" {
			fields = append(fields, "tenant_id", tenantID)
		}
		if status >= http.StatusInternalServerError {
			h.logger.Error("api request failed", fields...)
			return
		}
		h.logger.Debug("api request", fields...)
	})
}
