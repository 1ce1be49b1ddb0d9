package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/garyjia/approval-engine/internal/engine"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Engine       EngineConfig       `mapstructure:"engine"`
	Policies     PoliciesConfig     `mapstructure:"policies"`
	Directory    DirectoryConfig    `mapstructure:"directory"`
	Notification NotificationConfig `mapstructure:"notification"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Roles        RolesConfig        `mapstructure:"roles"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// EngineConfig holds approval engine configuration
type EngineConfig struct {
	EmptyStepPolicy string `mapstructure:"empty_step_policy"`
}

// PoliciesConfig locates the policy definitions
type PoliciesConfig struct {
	Path string `mapstructure:"path"`
}

// DirectoryConfig locates the principal directory
type DirectoryConfig struct {
	Path string `mapstructure:"path"`
}

// NotificationConfig holds notification delivery configuration
type NotificationConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	LarkAppID     string `mapstructure:"lark_app_id"`
	LarkAppSecret string `mapstructure:"lark_app_secret"`
	ReceiveIDType string `mapstructure:"receive_id_type"`
	BaseURL       string `mapstructure:"base_url"`
}

// WorkerConfig holds background worker configuration
type WorkerConfig struct {
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize int           `mapstructure:"sweep_batch_size"`
	SweepTimeout   time.Duration `mapstructure:"sweep_timeout"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// RolesConfig names directory roles with global access
type RolesConfig struct {
	Viewer string `mapstructure:"viewer"`
	Admin  string `mapstructure:"admin"`
}

// Load loads configuration from file and environment variables. An empty
// configPath uses defaults and the environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/approvals.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Engine and definitions
	v.SetDefault("engine.empty_step_policy", string(engine.EmptyStepFail))
	v.SetDefault("policies.path", "configs/policies.yaml")
	v.SetDefault("directory.path", "configs/directory.yaml")

	// Notification defaults
	v.SetDefault("notification.enabled", false)
	v.SetDefault("notification.receive_id_type", "open_id")

	// Worker defaults
	v.SetDefault("worker.sweep_interval", time.Minute)
	v.SetDefault("worker.sweep_batch_size", 100)
	v.SetDefault("worker.sweep_timeout", 30*time.Second)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("roles.viewer", "approval_viewer")
	v.SetDefault("roles.admin", "approval_admin")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"notification.lark_app_id":     "LARK_APP_ID",
		"notification.lark_app_secret": "LARK_APP_SECRET",
		"database.path":                "APPROVAL_DB_PATH",
		"policies.path":                "APPROVAL_POLICIES_PATH",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
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

	// Validate Lark credentials
	if c.Notification.Enabled {
		if c.Notification.LarkAppID == "" {
			return fmt.Errorf("notification.lark_app_id is required")
		}
		if c.Notification.LarkAppSecret == "" {
			return fmt.Errorf("notification.lark_app_secret is required")
		}
	}

	if c.Worker.SweepInterval <= 0 {
		return fmt.Errorf("worker.sweep_interval must be positive")
	}
	if c.Worker.SweepBatchSize <= 0 {
		return fmt.Errorf("worker.sweep_batch_size must be positive")
	}

	return nil
}
