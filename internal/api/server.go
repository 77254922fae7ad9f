package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"license-server/internal/auth"
	"license-server/internal/cache"
	"license-server/internal/database"
	"license-server/internal/events"
	"license-server/internal/history"
	"license-server/internal/license"
	"license-server/internal/logging"
	"license-server/internal/stats"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MetricsEnabled bool
}

// Services bundles the domain services mounted by the server
type Services struct {
	Auth     *auth.Service
	Licenses *license.Engine
	Stats    *stats.Service
	History  *history.Service
	Cache    *cache.CacheService // optional
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	repo       *database.Repository
	eventBus   *events.EventBus
	services   Services
	config     ServerConfig
	hub        *WSHub
	metrics    *Metrics
	logger     zerolog.Logger
}

// NewServer creates a new API server
func NewServer(config ServerConfig, repo *database.Repository, eventBus *events.EventBus, services Services, logger zerolog.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.GinMiddleware(logger))
	router.Use(cors.New(corsConfig(config.AllowedOrigins)))

	s := &Server{
		router:   router,
		repo:     repo,
		eventBus: eventBus,
		services: services,
		config:   config,
		hub:      NewWSHub(logger),
		logger:   logger.With().Str("component", "api").Logger(),
	}

	if config.MetricsEnabled {
		s.metrics = NewMetrics(s.hub)
		router.Use(s.metrics.Middleware())
		s.metrics.Attach(eventBus)
	}

	go s.hub.Run()
	s.hub.Attach(eventBus)

	s.setupRoutes()
	return s
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", logging.TraceIDHeader}
	cfg.ExposeHeaders = []string{"Content-Length", logging.TraceIDHeader}

	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/stats/ws", s.hub.ServeWS)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	public := s.router.Group("/")
	protected := s.router.Group("/", auth.Middleware(s.services.Auth))

	auth.NewHandlers(s.services.Auth).RegisterRoutes(public, protected)
	license.NewHandlers(s.services.Licenses).RegisterRoutes(public, protected)
	stats.NewHandlers(s.services.Stats).RegisterRoutes(public)
	history.NewHandlers(s.services.History).RegisterRoutes(protected)
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the stats feed hub
func (s *Server) Hub() *WSHub {
	return s.hub
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	s.hub.Stop()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Welcome to the License Server API"})
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{
		"status":   "healthy",
		"database": "healthy",
	}
	if s.services.Cache != nil {
		cacheStats := s.services.Cache.GetStats()
		body["cache"] = cacheStats.State
	}

	if err := s.repo.HealthCheck(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Database health check failed")
		body["status"] = "unhealthy"
		body["database"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}

	c.JSON(http.StatusOK, body)
}
