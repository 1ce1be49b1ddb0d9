package config

import (
	"github.com/garyjia/approval-engine/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Engine: container.EngineConfig{
			EmptyStepPolicy: c.Engine.EmptyStepPolicy,
		},
		Policies: container.PolicyConfig{
			Path: c.Policies.Path,
		},
		Directory: container.DirectoryConfig{
			Path: c.Directory.Path,
		},
		Notification: container.NotificationConfig{
			Enabled:       c.Notification.Enabled,
			AppID:         c.Notification.LarkAppID,
			AppSecret:     c.Notification.LarkAppSecret,
			ReceiveIDType: c.Notification.ReceiveIDType,
			BaseURL:       c.Notification.BaseURL,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		Worker: container.WorkerConfig{
			SweepInterval:  c.Worker.SweepInterval,
			SweepBatchSize: c.Worker.SweepBatchSize,
			SweepTimeout:   c.Worker.SweepTimeout,
		},
		Metrics: container.MetricsConfig{
			Enabled: c.Metrics.Enabled,
		},
		Roles: container.RolesConfig{
			Viewer: c.Roles.Viewer,
			Admin:  c.Roles.Admin,
		},
	}
}
