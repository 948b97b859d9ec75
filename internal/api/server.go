package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/flowline-ai/flowline/internal/api/handlers"
	"github.com/flowline-ai/flowline/internal/api/middleware"
	"github.com/flowline-ai/flowline/internal/api/websocket"
	"github.com/flowline-ai/flowline/internal/domain/repositories"
	"github.com/flowline-ai/flowline/internal/domain/services"
	"github.com/flowline-ai/flowline/internal/engine/actions"
	"github.com/flowline-ai/flowline/internal/engine/lifecycle"
	"github.com/flowline-ai/flowline/internal/pkg/config"
	"github.com/flowline-ai/flowline/internal/pkg/metrics"
	pkgredis "github.com/flowline-ai/flowline/internal/pkg/redis"
)

type Server struct {
	cfg          *config.Config
	router       *chi.Mux
	httpServer   *http.Server
	wsHub        *websocket.Hub
	wsSubscriber *websocket.Subscriber
}

// Deps is everything the API surface needs. The worker pool runs elsewhere;
// this process only starts executions and serves reads.
type Deps struct {
	Engine    *services.EngineService
	Lifecycle *lifecycle.Manager
	Gateway   *repositories.Gateway
	Registry  *actions.Registry
	Redis     *pkgredis.Client
	DB        *gorm.DB
}

func NewServer(cfg *config.Config, deps *Deps) *Server {
	router := chi.NewRouter()

	wsHub := websocket.NewHub()
	go wsHub.Run()

	var wsSubscriber *websocket.Subscriber
	if deps.Redis != nil {
		wsSubscriber = websocket.NewSubscriber(deps.Redis.Client, wsHub)
		wsSubscriber.Start()
	}

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.Logger())
	router.Use(middleware.Recoverer())
	router.Use(metrics.Middleware)
	router.Use(chimiddleware.Timeout(60 * time.Second))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Correlation-Id"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	router.Use(corsHandler.Handler)

	auth := middleware.NewAuth(&cfg.JWT)
	router.Use(auth.ExtractPrincipal)

	workflowHandler := handlers.NewWorkflowHandler(deps.Lifecycle, deps.Gateway.Workflows)
	executionHandler := handlers.NewExecutionHandler(deps.Engine, deps.Gateway)
	catalogHandler := handlers.NewCatalogHandler(deps.Registry)
	wsHandler := handlers.NewWebSocketHandler(wsHub, deps.Gateway)

	healthHandler := handlers.NewHealthHandler(deps.DB, nil)
	if deps.Redis != nil {
		healthHandler = handlers.NewHealthHandler(deps.DB, deps.Redis.Client)
	}

	router.Get("/metrics", metrics.Handler().ServeHTTP)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health/live", healthHandler.Live)
		r.Get("/health/ready", healthHandler.Ready)

		r.Get("/actions", catalogHandler.List)

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", workflowHandler.List)

			r.Route("/{workflowID}", func(r chi.Router) {
				r.Get("/", workflowHandler.Get)
				r.Delete("/", workflowHandler.Delete)

				r.Put("/draft", workflowHandler.SaveDraft)
				r.Post("/validate", workflowHandler.Validate)
				r.Post("/publish", workflowHandler.Publish)
				r.Post("/activate", workflowHandler.Activate)
				r.Post("/archive", workflowHandler.Archive)
				r.Post("/reactivate", workflowHandler.Reactivate)
				r.Put("/enabled", workflowHandler.SetEnabled)
				r.Get("/versions", workflowHandler.ListVersions)

				r.Post("/execute", executionHandler.Execute)
				r.Get("/executions", executionHandler.ListByWorkflow)
			})
		})

		r.Route("/executions/{executionID}", func(r chi.Router) {
			r.Get("/", executionHandler.Get)
			r.Get("/attempts", executionHandler.Attempts)
			r.Get("/events", executionHandler.Events)
			r.Get("/children", executionHandler.Children)
			r.Get("/resource-links", executionHandler.ResourceLinks)
			r.Get("/stream", wsHandler.Stream)
		})
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		cfg:          cfg,
		router:       router,
		httpServer:   httpServer,
		wsHub:        wsHub,
		wsSubscriber: wsSubscriber,
	}
}

// Start serves until SIGINT or SIGTERM, then drains in-flight requests.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("Starting HTTP server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.Shutdown(ctx)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.wsSubscriber != nil {
		s.wsSubscriber.Stop()
	}
	s.wsHub.Stop()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	log.Info().Msg("Server stopped")
	return nil
}

func (s *Server) Router() *chi.Mux {
	return s.router
}
