package service

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/packrat/pinserver/pkg/api"
	"github.com/packrat/pinserver/pkg/identity"
)

// Router builds the HTTP handler. auth establishes the caller identity; nil
// trusts the X-Remote-User header.
func (s *Service) Router(auth func(http.Handler) http.Handler) chi.Router {
	if auth == nil {
		auth = identity.HeaderMiddleware()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", identity.HeaderUser},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route(api.BasePath, func(r chi.Router) {
		r.Use(auth)
		r.Use(requestLogger(s.logger))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"operations": s.Operations()})
		})
		r.Post("/{operation}", func(w http.ResponseWriter, r *http.Request) {
			s.handleOperation(w, r, chi.URLParam(r, "operation"))
		})
	})
	return r
}

func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readyHandler reports ready when the database answers a ping.
func (s *Service) readyHandler(w http.ResponseWriter, r *http.Request) {
	inUse, waiting := s.pool.Stats()
	pool := map[string]int{"size": s.pool.Size(), "inUse": inUse, "waiting": waiting}

	dbStatus := map[string]string{"status": "up"}
	ready := true
	if s.db == nil {
		dbStatus["status"] = "not_configured"
		ready = false
	} else if sqlDB, err := s.db.DB(); err != nil {
		dbStatus["status"] = "down"
		dbStatus["error"] = err.Error()
		ready = false
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := sqlDB.PingContext(ctx); err != nil {
			dbStatus["status"] = "down"
			dbStatus["error"] = err.Error()
			ready = false
		}
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "database": dbStatus, "pool": pool})
}
