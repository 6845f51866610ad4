package app

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"computemesh/internal/domain"
	"computemesh/internal/infra/httpapi"
	"computemesh/internal/infra/registry"
	"computemesh/internal/infra/rpc"
	"computemesh/internal/infra/telemetry"
)

// Application wires the broker runtime and its listeners.
type Application struct {
	ctx        context.Context
	configPath string
	cfg        domain.BrokerConfig

	logger    *zap.Logger
	metrics   *prometheus.Registry
	health    *telemetry.HealthTracker
	registry  *registry.Registry
	gateway   *httpapi.Server
	rpcServer *rpc.Server
	watcher   *ConfigWatcher
}

// ApplicationOptions captures dependencies and settings for Application.
type ApplicationOptions struct {
	Context     context.Context
	ServeConfig ServeConfig
	Config      domain.BrokerConfig
	Logger      *zap.Logger
	Metrics     *prometheus.Registry
	Health      *telemetry.HealthTracker
	Registry    *registry.Registry
	Gateway     *httpapi.Server
	RPCServer   *rpc.Server
	Watcher     *ConfigWatcher
}

// NewApplication constructs the broker runtime.
func NewApplication(opts ApplicationOptions) *Application {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Application{
		ctx:        ctx,
		configPath: opts.ServeConfig.ConfigPath,
		cfg:        opts.Config,
		logger:     logger.Named("app"),
		metrics:    opts.Metrics,
		health:     opts.Health,
		registry:   opts.Registry,
		gateway:    opts.Gateway,
		rpcServer:  opts.RPCServer,
		watcher:    opts.Watcher,
	}
}

// Run starts every listener and blocks until the context ends or one of them fails.
func (a *Application) Run() error {
	a.logger.Info("configuration loaded",
		zap.String("config", a.configPath),
		zap.String("listen", a.cfg.ListenAddress),
		zap.Duration("heartbeat", a.cfg.HeartbeatInterval()),
		zap.String("version", Version),
	)

	a.registry.StartReporter(defaultReporterInterval)
	defer a.registry.StopReporter()

	group, ctx := errgroup.WithContext(a.ctx)
	group.Go(func() error {
		return telemetry.StartHTTPServer(ctx, telemetry.HTTPServerOptions{
			Addr:          a.cfg.Observability.ListenAddress,
			EnableMetrics: a.cfg.Observability.Metrics,
			EnableHealthz: a.cfg.Observability.Healthz,
			Health:        a.health,
			Registry:      a.metrics,
			Connections:   a.registry.Connections,
		}, a.logger)
	})
	if a.rpcServer != nil && a.cfg.RPC.ListenAddress != "" {
		group.Go(func() error {
			return a.rpcServer.Run(ctx)
		})
	}
	if a.watcher != nil {
		group.Go(func() error {
			return a.watcher.Run(ctx)
		})
	}
	group.Go(func() error {
		return a.gateway.Run(ctx, a.cfg.ListenAddress)
	})

	err := group.Wait()
	a.logger.Info("broker stopped", zap.Error(err))
	return err
}
