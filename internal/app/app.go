package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type App struct {
	logger *zap.Logger
}

type ServeConfig struct {
	ConfigPath string
}

type ValidateConfig struct {
	ConfigPath string
}

func New(logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		logger: logger.Named("app"),
	}
}

// Serve runs the broker until ctx is cancelled.
func (a *App) Serve(ctx context.Context, cfg ServeConfig) error {
	application, cleanup, err := InitializeApplication(ctx, cfg, LoggingConfig{Bootstrap: a.logger})
	if err != nil {
		return fmt.Errorf("initialize broker: %w", err)
	}
	defer cleanup()
	return application.Run()
}
