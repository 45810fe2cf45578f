// Package httpapi serves the aggregated snapshot over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"siri-poller/internal/logging"
	"siri-poller/internal/snapshot"
)

// SnapshotSource is the part of snapshot.Service the handlers read.
type SnapshotSource interface {
	Current(ctx context.Context) snapshot.Snapshot
	Last() (snapshot.Snapshot, bool)
}

type Options struct {
	CORSOrigins []string
	// CacheMaxAge is advertised in Cache-Control on snapshot responses.
	CacheMaxAge time.Duration
}

// NewRouter wires the snapshot routes:
//
//	GET /get_buses             lines with their vehicles
//	GET /api/snapshot          same payload
//	GET /api/snapshot/status   pass metadata
//	GET /api/lines/{line}      one line
//	GET /health
func NewRouter(src SnapshotSource, opts Options, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	h := &Handler{src: src, cacheMaxAge: opts.CacheMaxAge, now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{snapshotIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Get("/get_buses", h.GetBuses)
	r.Route("/api", func(r chi.Router) {
		r.Get("/snapshot", h.GetBuses)
		r.Get("/snapshot/status", h.GetStatus)
		r.Get("/lines/{line}", h.GetLine)
	})
	return r
}

// requestLogger puts a request scoped logger in the context and logs each
// request once it is served.
func requestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			logger := base.With(slog.String("request_id", middleware.GetReqID(r.Context())))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(logging.WithLogger(r.Context(), logger)))

			logging.LogOperation(logger, "http_request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)))
		})
	}
}
