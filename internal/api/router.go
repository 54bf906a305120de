// Package api serves recommendations over HTTP using the chi router.
//
// Routes:
//
//	GET  /healthz                 liveness
//	GET  /metrics                 Prometheus exposition
//	GET  /api/recommendations     recommend for ?q=...
//	GET  /api/stats               corpus and matrix statistics
//	POST /api/corpus/build        extend the corpus and swap the snapshot
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hurttlocker/terrorreco/internal/corpus"
	"github.com/hurttlocker/terrorreco/internal/logging"
	"github.com/hurttlocker/terrorreco/internal/recommend"
)

// requestTimeout bounds read endpoints. Builds run detached from it.
const requestTimeout = 30 * time.Second

// Handler holds the dependencies shared by all endpoints.
type Handler struct {
	engine *recommend.Engine
	build  corpus.BuildOptions
}

// NewHandler creates the HTTP handler set. build supplies the defaults for
// POST /api/corpus/build.
func NewHandler(engine *recommend.Engine, build corpus.BuildOptions) *Handler {
	return &Handler{engine: engine, build: build}
}

// Router configures all HTTP routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.With(chimiddleware.Timeout(requestTimeout)).Get("/recommendations", h.Recommendations)
		r.With(chimiddleware.Timeout(requestTimeout)).Get("/stats", h.Stats)
		r.Post("/corpus/build", h.Build)
	})

	return r
}

// requestLogger logs one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logging.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
