package app

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/talkincode/walinkd/config"
	"github.com/talkincode/walinkd/internal/registry"
)

// ConfigProvider provides application configuration
type ConfigProvider interface {
	Config() *config.AppConfig
}

// RegistryProvider provides the session registry
type RegistryProvider interface {
	Registry() *registry.Registry
}

// SchedulerProvider provides task scheduling capability
type SchedulerProvider interface {
	Scheduler() *cron.Cron
}

// AppContext combines all provider interfaces for full application context.
// Services should depend on specific providers or this combined interface.
type AppContext interface {
	ConfigProvider
	RegistryProvider
	SchedulerProvider

	// RestoreSessions reloads the at-startup session snapshot
	RestoreSessions(ctx context.Context)
	// Release frees application resources
	Release()
}
