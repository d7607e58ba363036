// Package internal wires configuration, storage, services and routes into a
// runnable application.
package internal

import (
	"fmt"

	"github.com/karloscodes/cartridge"

	"visitrack/internal/config"
	"visitrack/internal/database"
)

// Application wraps cartridge.Application with the visitrack services.
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager // exposes MigrateDatabase to the entry points
	Services  *Services
}

// NewServerConfig is the cartridge server setup shared by the binary and the
// tests. Visits and admin calls come from scripts and server side
// integrations that never send Sec-Fetch-Site, so the global check is off.
// There are no templates or static assets to serve.
func NewServerConfig() *cartridge.ServerConfig {
	cfg := cartridge.DefaultServerConfig()
	cfg.EnableSecFetchSite = false
	cfg.EnableTemplates = false
	cfg.EnableStaticAssets = false
	return cfg
}

// NewApp creates a new application from the environment configuration.
func NewApp() (*Application, error) {
	return NewAppWithConfig(config.GetConfig())
}

// NewAppWithConfig creates a new application with the provided config. The
// scheduler runs as a cartridge background worker.
func NewAppWithConfig(cfg *config.Config, opts ...ServiceOption) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	services, err := NewServices(cfg, dbManager.GetConnection(), logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:       cfg,
		Logger:       logger,
		DBManager:    dbManager,
		ServerConfig: NewServerConfig(),
		RouteMountFunc: func(srv *cartridge.Server) {
			MountAppRoutes(srv, services)
		},
		BackgroundWorkers: []cartridge.BackgroundWorker{services.NewScheduler()},
	})
	if err != nil {
		services.Close()
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Services:    services,
	}, nil
}
