package app

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"computemesh/internal/domain"
	"computemesh/internal/infra/config"
	"computemesh/internal/infra/identity"
)

// IdentityConfig locates the identity store, either directly or through the broker config.
type IdentityConfig struct {
	ConfigPath string
	StorePath  string
}

func (a *App) openIdentityStore(ctx context.Context, cfg IdentityConfig) (*identity.Store, error) {
	path := strings.TrimSpace(cfg.StorePath)
	if path == "" {
		brokerCfg, err := config.NewLoader(a.logger).Load(ctx, cfg.ConfigPath)
		if err != nil {
			return nil, err
		}
		path = brokerCfg.IdentityStorePath
	}
	return identity.OpenStore(path, identity.Options{})
}

// AddIdentity creates an identity and returns its token.
func (a *App) AddIdentity(ctx context.Context, cfg IdentityConfig, id domain.Identity, role domain.Role) (string, error) {
	store, err := a.openIdentityStore(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer store.Close()

	token, err := store.Add(id, role)
	if err != nil {
		return "", err
	}
	a.logger.Info("identity added", zap.String("identity", id.String()), zap.String("role", string(role)))
	return token, nil
}

// ListIdentities returns every stored identity.
func (a *App) ListIdentities(ctx context.Context, cfg IdentityConfig) ([]identity.Record, error) {
	store, err := a.openIdentityStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.List()
}

// RemoveIdentity deletes an identity; live connections keep running until they reconnect.
func (a *App) RemoveIdentity(ctx context.Context, cfg IdentityConfig, id domain.Identity) error {
	store, err := a.openIdentityStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Remove(id); err != nil {
		return err
	}
	a.logger.Info("identity removed", zap.String("identity", id.String()))
	return nil
}
