// Package trace assigns request IDs and logs every finished request.
package trace

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"costlens/internal/log"
)

type ContextKey string

const (
	RequestIDKey    ContextKey = "request_id"
	RequestIDHeader            = "X-Request-ID"
)

// Observer receives the outcome of each request, typically for metrics.
type Observer interface {
	ObserveRequest(method string, status int, seconds float64)
}

type Middleware struct {
	extractIP func(*http.Request) string
	logger    *log.StructuredLogger
	observer  Observer
}

// NewMiddleware builds the tracer. observer may be nil.
func NewMiddleware(extractIP func(*http.Request) string, logger *log.Logger, observer Observer) *Middleware {
	return &Middleware{
		extractIP: extractIP,
		logger:    log.NewStructuredLogger(logger.WithComponent(log.ComponentHTTP)),
		observer:  observer,
	}
}

// Middleware keeps an incoming X-Request-ID or mints one, exposes it to
// handlers and echoes it back.
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = GenerateRequestID()
		}
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		r = r.WithContext(ctx)
		w.Header().Set(RequestIDHeader, requestID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		clientIP := ""
		if m.extractIP != nil {
			clientIP = m.extractIP(r)
		}
		m.logger.LogHTTPEnd(ctx, r, rw.statusCode, duration.Milliseconds(), clientIP)
		if m.observer != nil {
			m.observer.ObserveRequest(r.Method, rw.statusCode, duration.Seconds())
		}
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}

// GetRequestID extracts the request ID from ctx, or "".
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// RequestIDFromRequest adapts GetRequestID for log.RequestIDMiddleware.
func RequestIDFromRequest(r *http.Request) string {
	return GetRequestID(r.Context())
}
