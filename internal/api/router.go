// Package api exposes scoring layers, jobs and the POI catalogue over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/geosight/geosight/internal/jobs"
	"github.com/geosight/geosight/internal/model"
	"github.com/geosight/geosight/internal/poi"
	"github.com/geosight/geosight/internal/store"
)

// JobService submits and kills scoring jobs. *jobs.Dispatcher implements it.
type JobService interface {
	Submit(ctx context.Context, req jobs.Request) (*model.ScoringJob, error)
	Kill(ctx context.Context, id string) error
}

// RouterConfig wires the handlers.
type RouterConfig struct {
	Jobs        JobService
	Store       store.Store
	Catalog     poi.Catalog
	CORSOrigins []string
}

// NewRouter builds the HTTP handler.
func NewRouter(cfg RouterConfig) http.Handler {
	h := &handler{jobs: cfg.Jobs, store: cfg.Store, catalog: cfg.Catalog}

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)

	r.Route("/scoring-layers", func(r chi.Router) {
		r.Post("/", h.createScoringLayer)
		r.Get("/", h.listJobs)
		r.Get("/{id}", h.getJob)
		r.Post("/{id}/kill", h.killJob)
	})

	r.Get("/poi", h.listPOI)
	r.Get("/layers/{id}/features", h.layerFeatures)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("component", "api"),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
