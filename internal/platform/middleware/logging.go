package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/workspacehq/gateway/internal/platform/logging"
	"github.com/workspacehq/gateway/internal/platform/metrics"
)

// LoggingMiddleware logs every completed request with its trace id,
// status, and duration.
type LoggingMiddleware struct {
	logger *logging.Logger
}

// NewLoggingMiddleware creates a request logging middleware.
func NewLoggingMiddleware(logger *logging.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush satisfies http.Flusher so streamed proxy responses still flush
// chunk-by-chunk through this middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Handler returns the logging middleware handler.
func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		traceID := logging.NewTraceID()
		ctx := logging.WithTraceID(r.Context(), traceID)
		w.Header().Set("X-Trace-Id", traceID)

		next.ServeHTTP(rec, r.WithContext(ctx))

		duration := time.Since(start)
		m.logger.LogRequest(ctx, r.Method, r.URL.Path, rec.status, duration)
		metrics.Global().RecordHTTPRequest(r.URL.Path, r.Method, strconv.Itoa(rec.status), duration)
	})
}
