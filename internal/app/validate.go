package app

import (
	"context"

	"go.uber.org/zap"

	"computemesh/internal/infra/config"
)

// ValidateConfig validates the configuration at the provided path.
func (a *App) ValidateConfig(ctx context.Context, cfg ValidateConfig) error {
	brokerCfg, err := config.NewLoader(a.logger).Load(ctx, cfg.ConfigPath)
	if err != nil {
		return err
	}

	a.logger.Info("configuration validated",
		zap.String("config", cfg.ConfigPath),
		zap.String("listen", brokerCfg.ListenAddress),
		zap.String("identity_store", brokerCfg.IdentityStorePath),
		zap.Int("heartbeat_seconds", brokerCfg.HeartbeatIntervalSeconds),
	)
	return nil
}
