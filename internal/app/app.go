// Package app wires the operation catalog, logger, and pipeline loader into
// a runnable application instance.
package app

import (
	"io"
	"log/slog"

	"github.com/vk/byteflow/internal/registry"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	registry *registry.Registry
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and catalog.
func NewApp(outW io.Writer, cfg *Config, modules ...registry.Module) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	if err := reg.Install(modules...); err != nil {
		return nil, err
	}
	logger.Debug("All operation modules registered.", "count", len(modules), "operations", len(reg.List()))

	return &App{
		outW:     outW,
		logger:   logger,
		registry: reg,
	}, nil
}

// Registry returns the application's catalog. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}
