package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/evicertia/pn-ec/internal/auth"
	"github.com/evicertia/pn-ec/internal/logger"
)

// RequestLog emits one access-log line per request with the identifiers
// operators grep for when tracing a delivery: the correlation ID and the
// client the request acted for. The client ID is only known once ClientAuth
// has run, so the middleware captures a slot for it up front and reads it
// back after the handler returns. Server errors log at error level.
func RequestLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			ctx := auth.CaptureClientID(r.Context())

			next.ServeHTTP(rec, r.WithContext(ctx))

			evt := log.Info()
			if rec.status >= http.StatusInternalServerError {
				evt = log.Error()
			}
			evt.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Int("bytes", rec.bytes).
				Dur("duration", time.Since(start)).
				Str("correlation_id", logger.CorrelationIDFromContext(ctx)).
				Str("client_id", auth.ClientIDFromContext(ctx)).
				Msg("request")
		})
	}
}

// responseRecorder remembers what went downstream so the access log can
// report it.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (rec *responseRecorder) WriteHeader(code int) {
	if !rec.wroteHeader {
		rec.status = code
		rec.wroteHeader = true
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *responseRecorder) Write(p []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(p)
	rec.bytes += n
	return n, err
}

// CorrelationID threads the caller's X-Correlation-ID through the request
// context and echoes it on the response, minting one when the caller sent
// none. Status events published downstream carry the same ID, so one value
// follows a delivery from admission through the workers to the tracker feed.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = logger.NewCorrelationID()
		}

		w.Header().Set("X-Correlation-ID", correlationID)

		ctx := logger.WithCorrelationID(r.Context(), correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Recover turns a handler panic into a 500 problem answer so one bad
// delivery request cannot take the listener down.
func Recover(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error().
						Interface("panic", err).
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Str("correlation_id", logger.CorrelationIDFromContext(r.Context())).
						Msg("panic recovered")
					respondProblem(w, r, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
