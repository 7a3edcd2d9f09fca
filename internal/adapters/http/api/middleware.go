package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Dan-Hightower/hirebot/pkg/logger"
	"github.com/Dan-Hightower/hirebot/pkg/metrics"
)

// MetricsMiddleware wraps HTTP handlers to record Prometheus metrics. A
// panicking handler is answered with 500 and counted instead of taking the
// listener down.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		defer func() {
			if p := recover(); p != nil {
				logger.Get().Named("http").Error(r.Context(), "handler panicked",
					logger.String("endpoint", endpoint), logger.Any("panic", p))
				if !wrapped.wroteHeader {
					writeError(wrapped, http.StatusInternalServerError, "internal", nil)
				} else {
					wrapped.statusCode = http.StatusInternalServerError
				}
			}
			observe(endpoint, r.Method, wrapped.statusCode, time.Since(start))
		}()

		next.ServeHTTP(wrapped, r)
	}
}

func observe(endpoint, method string, status int, d time.Duration) {
	durationMs := float64(d.Milliseconds())
	code := strconv.Itoa(status)
	metrics.RecordHTTPRequest(endpoint, method, code)
	metrics.RecordHTTPRequestDuration(endpoint, method, code, durationMs)

	if status < http.StatusBadRequest {
		return
	}
	errorType := errorTypeOf(status)
	metrics.RecordErrorByEndpoint(endpoint, method, errorType)
	metrics.RecordErrorByType(errorType, severityOf(status))
	metrics.RecordErrorLatency("http", errorType, durationMs)
}

func errorTypeOf(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error"
	case status == http.StatusTooManyRequests:
		return "rate_limit"
	case status == http.StatusUnauthorized:
		return "unauthorized"
	case status == http.StatusNotFound:
		return "not_found"
	default:
		return "client_error"
	}
}

func severityOf(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "high"
	case status == http.StatusUnauthorized:
		// Repeated signature failures usually mean a rotated secret.
		return "high"
	default:
		return "medium"
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("failed to write response: %w", err)
	}
	return n, nil
}
