package api

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pborman/uuid"
	"github.com/rs/zerolog"

	"github.com/meden/biosync/internal/bcontext"
)

func middlewareRequestID() func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			rid := r.Header.Get("x-request-id")
			if len(rid) == 0 {
				rid = uuid.New()
			}

			w.Header().Set("x-request-id", rid)
			r = r.WithContext(bcontext.WithRequestID(ctx, rid))

			h.ServeHTTP(w, r)
		})
	}
}

// statusRecorder remembers the response code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func middlewareLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			lg := logger.With().Str("request_id", bcontext.RequestID(ctx)).Logger()
			r = r.WithContext(lg.WithContext(ctx))

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			h.ServeHTTP(rec, r)

			lg.Info().
				Str("method", r.Method).
				Str("request_uri", r.RequestURI).
				Int("status", rec.status).
				Str("took", time.Since(start).String()).
				Msg("served")
		})
	}
}

func middlewareCounter(api *HTTP) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt64(&api.requestCount, 1)
			h.ServeHTTP(w, r)
		})
	}
}
