// Structured request logging middleware for raw HTTP endpoints.
//
//   - Request/response logging with timing
//   - Correlation ID propagation (X-Request-ID header)
//   - Context-based request ID storage
//   - JSON structured logging
//
// Design Notes:
//   - Correlation IDs enable tracing a forecast request across the
//     pipeline, cache, and warming events it triggers
//   - Log level: Info for success, Warn for 4xx, Error for 5xx
package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// contextKey type for context keys to avoid collisions
type contextKey string

const requestIDKey contextKey = "request-id"

// RequestLogger is a middleware that logs HTTP requests with structured logging.
//
// Logs include request ID (from X-Request-ID header or generated), HTTP
// method and path, response status code, response size, duration, and
// remote address.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = NewRequestID()
		}

		r = r.WithContext(WithRequestID(r.Context(), requestID))

		w.Header().Set("X-Request-ID", requestID)

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK, // Default
		}

		next.ServeHTTP(wrapped, r)

		logRequest(requestID, r, wrapped.statusCode, wrapped.bytesWritten, time.Since(start))
	})
}

// WithRequestID adds a request ID to the context.
// Useful for manually propagating request IDs outside HTTP flows
// (cron-triggered warming, pubsub handlers).
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromCtx retrieves the request ID from the context.
// Returns empty string if not found.
func RequestIDFromCtx(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// NewRequestID creates a new UUID-based correlation ID.
func NewRequestID() string {
	return uuid.New().String()
}

// logEntry is the JSON shape of one request log line.
type logEntry struct {
	Timestamp  string `json:"timestamp"`
	Level      string `json:"level"`
	RequestID  string `json:"request_id"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Status     int    `json:"status"`
	Bytes      int64  `json:"bytes"`
	DurationMs int64  `json:"duration_ms"`
	RemoteAddr string `json:"remote_addr"`
}

// logRequest writes a structured JSON log entry.
func logRequest(requestID string, r *http.Request, status int, bytes int64, duration time.Duration) {
	level := "info"
	switch {
	case status >= 500:
		level = "error"
	case status >= 400:
		level = "warn"
	}

	entry := logEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		RequestID:  requestID,
		Method:     r.Method,
		Path:       r.URL.Path,
		Status:     status,
		Bytes:      bytes,
		DurationMs: duration.Milliseconds(),
		RemoteAddr: r.RemoteAddr,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("request %s %s status=%d (log marshal failed: %v)", r.Method, r.URL.Path, status, err)
		return
	}
	log.Println(string(data))
}

// responseWriter wraps http.ResponseWriter to capture status and size.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func (w *responseWriter) WriteHeader(statusCode int) {
	if w.wroteHeader {
		return
	}
	w.statusCode = statusCode
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriter) Write(data []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(data)
	w.bytesWritten += int64(n)
	return n, err
}
