package app

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"computemesh/internal/domain"
	"computemesh/internal/infra/config"
	"computemesh/internal/infra/correlate"
	"computemesh/internal/infra/dispatch"
	"computemesh/internal/infra/httpapi"
	"computemesh/internal/infra/identity"
	"computemesh/internal/infra/registry"
	"computemesh/internal/infra/rpc"
	"computemesh/internal/infra/selector"
	"computemesh/internal/infra/streamproxy"
	"computemesh/internal/infra/telemetry"
	"computemesh/internal/infra/transport"
)

// LoadBrokerConfig reads the config file named by the serve config.
func LoadBrokerConfig(ctx context.Context, cfg ServeConfig, logging LoggingConfig) (domain.BrokerConfig, error) {
	return config.NewLoader(bootstrapLogger(logging)).Load(ctx, cfg.ConfigPath)
}

func NewMetricsRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())
	return registry
}

func NewMetrics(registry *prometheus.Registry) domain.Metrics {
	return telemetry.NewPrometheusMetrics(registry)
}

func NewHealthTracker() *telemetry.HealthTracker {
	return telemetry.NewHealthTracker()
}

func NewCorrelationTable(metrics domain.Metrics, logger *zap.Logger) *correlate.Table {
	return correlate.NewTable(correlate.TableOptions{Logger: logger, Metrics: metrics})
}

// NewRegistry builds the connection registry; the cleanup closes every live connection.
func NewRegistry(
	cfg domain.BrokerConfig,
	pending *correlate.Table,
	metrics domain.Metrics,
	health *telemetry.HealthTracker,
	logger *zap.Logger,
) (*registry.Registry, func()) {
	reg := registry.New(registry.Options{
		Logger:            logger,
		Metrics:           metrics,
		Health:            health,
		Pending:           pending,
		HeartbeatInterval: cfg.HeartbeatInterval(),
		WriteTimeout:      cfg.WriteTimeout(),
	})
	return reg, reg.Close
}

func NewSelector(reg *registry.Registry) *selector.Selector {
	return selector.New(reg)
}

func NewDispatcher(
	cfg domain.BrokerConfig,
	reg *registry.Registry,
	pending *correlate.Table,
	sel *selector.Selector,
	metrics domain.Metrics,
	logger *zap.Logger,
) *dispatch.Dispatcher {
	return dispatch.New(reg, pending, sel, dispatch.Options{
		Logger:       logger,
		Metrics:      metrics,
		WriteTimeout: cfg.WriteTimeout(),
	})
}

func NewStreamProxy(cfg domain.BrokerConfig, sel *selector.Selector, timeouts *TimeoutStore, metrics domain.Metrics, logger *zap.Logger) *streamproxy.Proxy {
	return streamproxy.New(sel, streamproxy.Options{
		Logger:  logger,
		Metrics: metrics,
		Timeout: cfg.Timeouts.Stream(),
		TimeoutFunc: func() time.Duration {
			return timeouts.Timeouts().Stream()
		},
	})
}

// NewIdentityStore opens the identity database; the cleanup closes it.
func NewIdentityStore(cfg domain.BrokerConfig, logger *zap.Logger) (*identity.Store, func(), error) {
	store, err := identity.OpenStore(cfg.IdentityStorePath, identity.Options{})
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Warn("close identity store", zap.Error(err))
		}
	}, nil
}

func NewWebSocketHandler(
	cfg domain.BrokerConfig,
	store *identity.Store,
	reg *registry.Registry,
	d *dispatch.Dispatcher,
	logger *zap.Logger,
) *transport.Handler {
	return transport.NewHandler(transport.HandlerOptions{
		Logger:             logger,
		Authenticator:      store,
		Registry:           reg,
		Frames:             d,
		WriteTimeout:       cfg.WriteTimeout(),
		MinProviderVersion: cfg.MinProviderVersion,
	})
}

func NewGateway(
	store *identity.Store,
	d *dispatch.Dispatcher,
	proxy *streamproxy.Proxy,
	reg *registry.Registry,
	timeouts *TimeoutStore,
	ws *transport.Handler,
	logger *zap.Logger,
) *httpapi.Server {
	return httpapi.NewServer(httpapi.Options{
		Logger:        logger,
		Authenticator: store,
		Dispatcher:    d,
		Streamer:      proxy,
		Membership:    reg,
		Directory:     store,
		Timeouts:      timeouts,
		WebSocket:     ws,
	})
}

func NewRPCServer(cfg domain.BrokerConfig, reg *registry.Registry, logger *zap.Logger) *rpc.Server {
	return rpc.NewServer(cfg.RPC, reg, logger)
}

const defaultReporterInterval = 10 * time.Second
