package container

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/application/service"
	"github.com/garyjia/approval-engine/internal/engine"
	"github.com/garyjia/approval-engine/internal/infrastructure/directory"
	"github.com/garyjia/approval-engine/internal/infrastructure/export"
	"github.com/garyjia/approval-engine/internal/infrastructure/metrics"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-engine/internal/infrastructure/policyfile"
	"github.com/garyjia/approval-engine/internal/infrastructure/worker"
	httpserver "github.com/garyjia/approval-engine/internal/interfaces/http"
	"github.com/garyjia/approval-engine/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components start in dependency order and are torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	database     *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle
	policies     *policyfile.Store
	directory    *directory.Directory

	// Infrastructure - Observability
	metrics *metrics.Metrics

	// Application
	engine     *engine.Engine
	dispatcher dispatcher.Dispatcher
	services   *ServiceBundle

	// Workers
	workers *worker.Manager

	// Interfaces
	server *httpserver.Server

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Approval port.ApprovalRepository
	Event    port.EventRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Approval     service.ApprovalService
	Notification service.NotificationService
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Database and repositories
// 2. Policies and directory
// 3. Engine, dispatcher and metrics
// 4. Application services
// 5. Workers
// 6. HTTP server (built here, served by Serve)
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	if err := c.initDefinitions(); err != nil {
		return fmt.Errorf("failed to load definitions: %w", err)
	}
	c.logger.Info("Policies and directory loaded")

	if err := c.initEngine(); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	c.logger.Info("Engine and dispatcher initialized")

	if err := c.initServices(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	if err := c.initWorkers(); err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers initialized and started")

	c.initServer()

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Serve runs the HTTP server until ctx is cancelled or the server fails.
func (c *Container) Serve(ctx context.Context) error {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()
	if server == nil {
		return fmt.Errorf("container not started")
	}
	return server.Start(ctx)
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	// Cancel context to signal all goroutines
	if c.cancel != nil {
		c.cancel()
	}

	if c.server != nil {
		if err := c.server.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop server: %w", err))
		}
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
	}

	// Closing the dispatcher waits for in-flight async notifications
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	if c.database != nil {
		if err := c.database.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors: %w", len(errs), errors.Join(errs...))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	switch {
	case c.database == nil:
		set("database", false, "not initialized")
	default:
		if err := c.database.HealthCheck(ctx); err != nil {
			set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("database", true, "")
		}
	}

	if c.workers != nil {
		var failed []string
		for _, st := range c.workers.States() {
			if st.StartErr != nil {
				failed = append(failed, st.Name)
			}
		}
		detail := ""
		if len(failed) > 0 {
			detail = "failed to start: " + strings.Join(failed, ", ")
		}
		set("workers", c.workers.Healthy(), detail)
	} else {
		set("workers", false, "not initialized")
	}

	if c.policies != nil {
		policies, _ := c.policies.List(ctx)
		set("policies", true, fmt.Sprintf("policy count: %d", len(policies)))
	} else {
		set("policies", false, "not initialized")
	}

	if c.dispatcher != nil {
		set("dispatcher", true, "")
	} else {
		set("dispatcher", false, "not initialized")
	}

	return status
}

// ReloadPolicies re-reads the policy file. On failure the loaded set is kept.
func (c *Container) ReloadPolicies() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.policies == nil {
		return fmt.Errorf("container not started")
	}
	return c.policies.Reload()
}

func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.database = dbBundle.DB
	c.db = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(c.database.DB, c.logger)
	if err != nil {
		_ = c.database.Close()
		return err
	}

	c.repositories = repos
	return nil
}

func (c *Container) initDefinitions() error {
	policies, err := ProvidePolicies(&c.config.Policies, c.logger)
	if err != nil {
		return err
	}
	c.policies = policies

	dir, err := ProvideDirectory(&c.config.Directory, c.logger)
	if err != nil {
		return err
	}
	c.directory = dir
	return nil
}

func (c *Container) initEngine() error {
	eng, err := ProvideEngine(&c.config.Engine, c.directory)
	if err != nil {
		return err
	}
	c.engine = eng

	disp, err := ProvideDispatcher(c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp

	if c.config.Metrics.Enabled {
		c.metrics = metrics.New()
		if err := c.metrics.Register(c.dispatcher); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return nil
}

func (c *Container) initServices() error {
	sender, err := ProvideNotificationSender(&c.config.Notification, c.directory, c.logger)
	if err != nil {
		return err
	}

	services, err := ProvideServices(&ServiceDeps{
		Engine:     c.engine,
		Repos:      c.repositories,
		Policies:   c.policies,
		TxManager:  c.db,
		Dispatcher: c.dispatcher,
		Directory:  c.directory,
		Sender:     sender,
		Config:     c.config,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}

	c.services = services
	return nil
}

func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&WorkerDeps{
		Approvals: c.services.Approval,
		Metrics:   c.metrics,
		WorkerCfg: &c.config.Worker,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.workers = workers

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	return nil
}

func (c *Container) initServer() {
	c.server = httpserver.NewServer(httpserver.ServerConfig{
		Host:         c.config.Server.Host,
		Port:         c.config.Server.Port,
		ReadTimeout:  c.config.Server.ReadTimeout,
		WriteTimeout: c.config.Server.WriteTimeout,
	}, httpserver.Dependencies{
		Approvals:   c.services.Approval,
		Policies:    c.policies,
		Exporter:    export.NewXLSXExporter(c.logger),
		Metrics:     c.metrics,
		HealthCheck: c.database.HealthCheck,
	}, &zapLoggerAdapter{logger: c.logger.Named("http")})
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Policies returns the policy store.
func (c *Container) Policies() *policyfile.Store {
	return c.policies
}

// Engine returns the approval engine.
func (c *Container) Engine() *engine.Engine {
	return c.engine
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.Manager {
	return c.workers
}

// Server returns the HTTP server.
func (c *Container) Server() *httpserver.Server {
	return c.server
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the service.Logger interface.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// dispatcherLoggerAdapter adapts zap.Logger to the dispatcher.Logger interface.
type dispatcherLoggerAdapter struct {
	logger *zap.Logger
}

func (a *dispatcherLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *dispatcherLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields. Errors keep
// zap's error encoding.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
