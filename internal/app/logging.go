package app

import (
	"fmt"

	"go.uber.org/zap"

	"computemesh/internal/domain"
)

// LoggingConfig configures logging wiring.
type LoggingConfig struct {
	// Bootstrap logs config loading before the configured logger exists.
	Bootstrap *zap.Logger
	// Override replaces the configured logger entirely; tests use it.
	Override *zap.Logger
}

// Logging bundles the process logger and its adjustable level.
type Logging struct {
	Logger *zap.Logger
	Level  zap.AtomicLevel
}

// NewLogging builds the process logger from the log section of the broker config.
func NewLogging(cfg LoggingConfig, broker domain.BrokerConfig) (Logging, error) {
	level, err := zap.ParseAtomicLevel(broker.Log.Level)
	if err != nil {
		return Logging{}, fmt.Errorf("log level: %w", err)
	}
	if cfg.Override != nil {
		return Logging{Logger: cfg.Override, Level: level}, nil
	}

	zc := zap.NewProductionConfig()
	zc.Level = level
	if broker.Log.Encoding == "console" {
		zc.Encoding = "console"
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	logger, err := zc.Build()
	if err != nil {
		return Logging{}, fmt.Errorf("build logger: %w", err)
	}
	return Logging{Logger: logger, Level: level}, nil
}

// NewLogger returns the logger from a Logging bundle.
func NewLogger(logging Logging) *zap.Logger {
	return logging.Logger
}

func bootstrapLogger(cfg LoggingConfig) *zap.Logger {
	if cfg.Bootstrap != nil {
		return cfg.Bootstrap
	}
	if cfg.Override != nil {
		return cfg.Override
	}
	return zap.NewNop()
}
