// Package http exposes the approval service over a JSON API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/application/service"
	"github.com/garyjia/approval-engine/internal/infrastructure/metrics"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Dependencies are the application components the HTTP layer calls.
// Exporter, Metrics and HealthCheck are optional.
type Dependencies struct {
	Approvals   service.ApprovalService
	Policies    port.PolicyRepository
	Exporter    port.RequestExporter
	Metrics     *metrics.Metrics
	HealthCheck func(ctx context.Context) error
}

// Server serves the approval API
type Server struct {
	config ServerConfig
	router *gin.Engine
	logger Logger

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer builds the router. Nothing listens until Start.
func NewServer(config ServerConfig, deps Dependencies, logger Logger) *Server {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultServerConfig().ShutdownTimeout
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{config: config, router: gin.New(), logger: logger}
	s.router.Use(gin.Recovery(), requestID())
	if deps.Metrics != nil {
		s.router.Use(deps.Metrics.Middleware())
	}
	s.router.Use(accessLog(logger))

	registerRoutes(s.router, deps, NewHandlers(deps, logger))
	return s
}

func registerRoutes(r *gin.Engine, deps Dependencies, h *Handlers) {
	r.GET("/health", h.HealthCheck)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := r.Group("/api/v1", requirePrincipal())

	approvals := api.Group("/approvals")
	approvals.POST("/check", h.Check)
	approvals.POST("", h.Submit)
	approvals.GET("", h.List)
	approvals.GET("/export", h.Export)
	approvals.GET("/pending", h.Pending)
	approvals.GET("/:id", h.Get)
	approvals.GET("/:id/capabilities", h.Capabilities)
	approvals.GET("/:id/history", h.History)
	approvals.POST("/:id/decisions", h.Decide)
	approvals.POST("/:id/cancel", h.Cancel)
	approvals.POST("/:id/escalate", h.Escalate)
	approvals.POST("/:id/expire", h.Expire)

	api.GET("/policies", h.ListPolicies)
	api.GET("/policies/:id", h.GetPolicy)
}

// Start listens until ctx is cancelled or the listener fails
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	srv := &http.Server{
		Addr:         s.Address(),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info("Starting HTTP server", "address", srv.Addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop drains in-flight requests for at most ShutdownTimeout
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the listen address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
