package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// HeaderCorrelationID carries the caller's correlation id end to end: into
// request logs, onto the execution row, and out to connector invocations.
const HeaderCorrelationID = "X-Correlation-Id"

type correlationIDKey struct{}

// CorrelationIDFromContext returns the correlation id Logger stamped on the
// request, or "" outside the middleware chain.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// Logger logs one line per request with the engine's tracing fields. A missing
// X-Correlation-Id is minted here so every downstream log line and connector
// call shares one id; the response echoes it back to the caller.
func Logger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			correlationID := r.Header.Get(HeaderCorrelationID)
			if correlationID == "" {
				correlationID = uuid.NewString()
			}
			r = r.WithContext(context.WithValue(r.Context(), correlationIDKey{}, correlationID))
			w.Header().Set(HeaderCorrelationID, correlationID)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				log.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("correlation_id", correlationID).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error().
						Interface("error", err).
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Str("request_id", middleware.GetReqID(r.Context())).
						Str("correlation_id", CorrelationIDFromContext(r.Context())).
						Msg("panic recovered")

					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
