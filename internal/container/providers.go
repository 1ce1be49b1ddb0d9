package container

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/application/service"
	"github.com/garyjia/approval-engine/internal/engine"
	"github.com/garyjia/approval-engine/internal/infrastructure/directory"
	"github.com/garyjia/approval-engine/internal/infrastructure/external/lark"
	"github.com/garyjia/approval-engine/internal/infrastructure/metrics"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/repository"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-engine/internal/infrastructure/policyfile"
	"github.com/garyjia/approval-engine/internal/infrastructure/worker"
	"github.com/garyjia/approval-engine/internal/notification"
	"github.com/garyjia/approval-engine/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// ProvideDatabase opens the database, applies the embedded migrations and
// wraps the connection in a transaction manager.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).RunMigrations(database.EmbeddedMigrations()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Approval: repository.NewApprovalRepository(sqlDB, logger),
		Event:    repository.NewEventRepository(sqlDB, logger),
	}, nil
}

// ProvidePolicies loads the policy file.
func ProvidePolicies(cfg *PolicyConfig, logger *zap.Logger) (*policyfile.Store, error) {
	store, err := policyfile.Load(cfg.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	return store, nil
}

// ProvideDirectory loads the principal directory.
func ProvideDirectory(cfg *DirectoryConfig, logger *zap.Logger) (*directory.Directory, error) {
	if cfg.Path == "" {
		logger.Info("No directory configured; manager, role and department approvers will not resolve")
		return directory.New(nil)
	}
	dir, err := directory.Load(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load directory: %w", err)
	}
	return dir, nil
}

// ProvideEngine creates the approval engine backed by the directory.
func ProvideEngine(cfg *EngineConfig, dir *directory.Directory) (*engine.Engine, error) {
	emptyStep, err := engine.ParseEmptyStepPolicy(cfg.EmptyStepPolicy)
	if err != nil {
		return nil, err
	}
	return engine.New(
		engine.WithManagerLookup(dir),
		engine.WithApproverResolver(dir),
		engine.WithEmptyStepPolicy(emptyStep),
	), nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(&dispatcherLoggerAdapter{logger: logger}),
	), nil
}

// ProvideNotificationSender returns the Lark notifier when enabled, always
// preceded by the log sender.
func ProvideNotificationSender(cfg *NotificationConfig, dir *directory.Directory, logger *zap.Logger) (port.NotificationSender, error) {
	logSender := notification.NewLogSender(logger.Named("notification"))
	if !cfg.Enabled {
		return logSender, nil
	}

	client := lark.NewSDKClient(lark.Config{
		AppID:     cfg.AppID,
		AppSecret: cfg.AppSecret,
	}, logger)
	notifier := lark.NewNotifier(client, dir, cfg.ReceiveIDType, logger)

	logger.Info("Lark notifications enabled", zap.String("receive_id_type", cfg.ReceiveIDType))
	return notification.FanOut{logSender, notifier}, nil
}

// ServiceDeps holds dependencies for creating services.
type ServiceDeps struct {
	Engine     *engine.Engine
	Repos      *RepositoryBundle
	Policies   port.PolicyRepository
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Directory  *directory.Directory
	Sender     port.NotificationSender
	Config     *Config
	Logger     *zap.Logger
}

// ProvideServices creates the application services and subscribes the
// notification service to the dispatcher.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil || deps.Engine == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("engine, repositories and dispatcher are required")
	}

	logger := &zapLoggerAdapter{logger: deps.Logger}

	approvals := service.NewApprovalService(
		deps.Engine,
		deps.Repos.Approval,
		deps.Repos.Event,
		deps.Policies,
		deps.TxManager,
		deps.Dispatcher,
		deps.Directory,
		service.ApprovalServiceConfig{
			ViewerRole: deps.Config.Roles.Viewer,
			AdminRole:  deps.Config.Roles.Admin,
		},
		logger,
	)

	notifications := service.NewNotificationService(
		deps.Repos.Approval,
		deps.Sender,
		deps.Config.Notification.BaseURL,
		logger,
	)
	if err := notifications.Register(deps.Dispatcher); err != nil {
		return nil, fmt.Errorf("failed to register notifications: %w", err)
	}

	return &ServiceBundle{
		Approval:     approvals,
		Notification: notifications,
	}, nil
}

// WorkerDeps holds dependencies for creating workers.
type WorkerDeps struct {
	Approvals service.ApprovalService
	Metrics   *metrics.Metrics
	WorkerCfg *WorkerConfig
	Logger    *zap.Logger
}

// ProvideWorkers creates the worker manager with the sweep worker registered.
func ProvideWorkers(deps *WorkerDeps) (*worker.Manager, error) {
	if deps == nil || deps.Approvals == nil {
		return nil, fmt.Errorf("approval service is required")
	}

	var observer worker.SweepObserver
	if deps.Metrics != nil {
		observer = deps.Metrics.ObserveSweep
	}

	manager := worker.NewManager(deps.Logger)
	err := manager.Register(worker.NewSweepWorker(worker.SweepWorkerConfig{
		PollInterval: deps.WorkerCfg.SweepInterval,
		BatchSize:    deps.WorkerCfg.SweepBatchSize,
		SweepTimeout: deps.WorkerCfg.SweepTimeout,
	}, deps.Approvals, observer, deps.Logger.Named("sweep")))
	if err != nil {
		return nil, err
	}
	return manager, nil
}
