package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/credit"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/triage"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, fraud *triage.Service, creditSvc *credit.Service, engine *rules.Engine, version string) *Server {
	handler := NewHandler(repo, cache, bus, fraud, creditSvc, engine, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Unified triage dispatch
	router.Post("/triage", handler.Triage)

	// Fraud triage
	router.Route("/fraud", func(r chi.Router) {
		r.Post("/triage", handler.FraudTriage)
		r.Post("/label", handler.Label)
		r.Get("/events", handler.ListEvents)

		r.Get("/rules/runtime", handler.ListRuntimeRules)
		r.Post("/rules/runtime", handler.CreateRuntimeRule)
		r.Delete("/rules/runtime", handler.ClearRuntimeRules)

		r.Get("/config", handler.GetConfig)
		r.Put("/config", handler.UpdateConfig)

		r.Post("/train-iforest", handler.TrainIForest)
		r.Get("/model-info", handler.ModelInfo)
	})

	// Credit triage
	router.Post("/credit/triage", handler.CreditTriage)

	// Analytics
	router.Get("/analytics/kpis", handler.KPIs)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
