package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/cpe-server/cpe-server-pro/internal/acs"
	"github.com/cpe-server/cpe-server-pro/internal/config"
	"github.com/cpe-server/cpe-server-pro/internal/storage"
)

// RESTServer exposes the read-only operations surface: health and
// aggregate statistics. Management actions stay on the service layer.
type RESTServer struct {
	config  *config.Config
	store   storage.Store
	gateway acs.Gateway
	router  chi.Router
	server  *http.Server
}

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg *config.Config, store storage.Store, gateway acs.Gateway) *RESTServer {
	s := &RESTServer{
		config:  cfg,
		store:   store,
		gateway: gateway,
		router:  chi.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/healthz", s.HandleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr

	log.Info().Str("addr", addr).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
