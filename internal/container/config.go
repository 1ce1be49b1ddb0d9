// Package container provides dependency injection and lifecycle management
// for the approval engine following Clean Architecture principles.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/approval-engine/internal/engine"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Engine configuration
	Engine EngineConfig

	// Policies is the policy definition file
	Policies PolicyConfig

	// Directory is the principal directory file
	Directory DirectoryConfig

	// Notification delivery configuration
	Notification NotificationConfig

	// Server configuration
	Server ServerConfig

	// Worker configuration
	Worker WorkerConfig

	// Metrics configuration
	Metrics MetricsConfig

	// Roles grants directory roles extra access
	Roles RolesConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration
}

// EngineConfig holds approval engine settings.
type EngineConfig struct {
	// EmptyStepPolicy is fail, skip or stall
	EmptyStepPolicy string
}

// PolicyConfig locates the policy definitions.
type PolicyConfig struct {
	Path string
}

// DirectoryConfig locates the principal directory. A missing file yields an
// empty directory.
type DirectoryConfig struct {
	Path string
}

// NotificationConfig holds notification delivery settings.
type NotificationConfig struct {
	// Enabled turns on Lark delivery; otherwise notifications are logged
	Enabled bool

	// AppID is the Lark application ID
	AppID string

	// AppSecret is the Lark application secret
	AppSecret string

	// ReceiveIDType is the Lark receive_id_type (open_id, user_id, email)
	ReceiveIDType string

	// BaseURL prefixes action links in notifications
	BaseURL string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind to
	Host string

	// Port to listen on
	Port int

	// ReadTimeout for HTTP server
	ReadTimeout time.Duration

	// WriteTimeout for HTTP server
	WriteTimeout time.Duration
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	SweepInterval  time.Duration
	SweepBatchSize int
	SweepTimeout   time.Duration
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
}

// RolesConfig names the directory roles with global access.
type RolesConfig struct {
	Viewer string
	Admin  string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/approvals.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Engine: EngineConfig{
			EmptyStepPolicy: string(engine.EmptyStepFail),
		},
		Policies: PolicyConfig{
			Path: "configs/policies.yaml",
		},
		Directory: DirectoryConfig{
			Path: "configs/directory.yaml",
		},
		Notification: NotificationConfig{
			ReceiveIDType: "open_id",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Worker: WorkerConfig{
			SweepInterval:  time.Minute,
			SweepBatchSize: 100,
			SweepTimeout:   30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Roles: RolesConfig{
			Viewer: "approval_viewer",
			Admin:  "approval_admin",
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Policies.Path == "" {
		return fmt.Errorf("policies.path is required")
	}
	if _, err := engine.ParseEmptyStepPolicy(c.Engine.EmptyStepPolicy); err != nil {
		return fmt.Errorf("engine.empty_step_policy: %w", err)
	}

	// Lark credentials are only needed when delivery is enabled
	if c.Notification.Enabled {
		if c.Notification.AppID == "" {
			return fmt.Errorf("notification.lark_app_id is required when notifications are enabled")
		}
		if c.Notification.AppSecret == "" {
			return fmt.Errorf("notification.lark_app_secret is required when notifications are enabled")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	return nil
}
