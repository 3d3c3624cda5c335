// Package api serves the read surface over HTTP: products, price history,
// charts, target management, and status. It is a consumer of the tables the
// engine writes; nothing here touches the scheduling columns beyond the
// target CRUD the store allows.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pricelens/pricelens/internal/cache"
	"github.com/pricelens/pricelens/internal/config"
	"github.com/pricelens/pricelens/internal/monitoring"
	"github.com/pricelens/pricelens/internal/store"
)

// Server holds the API's dependencies.
type Server struct {
	store     store.Store
	collector *monitoring.Collector
	health    *monitoring.HealthChecker
	cache     *cache.Cache
	cfg       config.APIConfig
	log       *zap.Logger
}

// NewServer wires the API. cache may be nil when redis is not configured.
func NewServer(st store.Store, collector *monitoring.Collector, health *monitoring.HealthChecker, c *cache.Cache, cfg config.APIConfig) *Server {
	return &Server{
		store:     st,
		collector: collector,
		health:    health,
		cache:     c,
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "api")),
	}
}

// Router builds the chi handler with CORS and a process-wide rate limit.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	if s.cfg.RateLimitRPS > 0 {
		limiter := rate.NewLimiter(rate.Limit(s.cfg.RateLimitRPS), s.cfg.RateLimitRPS)
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if !limiter.Allow() {
					writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
					return
				}
				next.ServeHTTP(w, req)
			})
		})
	}

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", s.handleListProducts)
		r.Get("/products/{id}", s.handleGetProduct)
		r.Get("/products/{id}/history", s.handleHistory)
		r.Get("/products/{id}/chart", s.handleChart)

		r.Get("/targets", s.handleListTargets)
		r.Post("/targets", s.handleCreateTarget)
		r.Patch("/targets/{id}", s.handleUpdateTarget)
		r.Delete("/targets/{id}", s.handleDeleteTarget)

		r.Get("/status", s.handleStatus)
	})
	return r
}

// Serve runs the HTTP server until ctx is cancelled, then drains with a
// 10 second grace period.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
