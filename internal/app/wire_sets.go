//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"
)

var CoreInfraSet = wire.NewSet(
	LoadBrokerConfig,
	NewLogging,
	NewLogger,
	NewMetricsRegistry,
	NewMetrics,
	NewHealthTracker,
	NewTimeoutStore,
)

var BrokerSet = wire.NewSet(
	NewCorrelationTable,
	NewRegistry,
	NewSelector,
	NewDispatcher,
	NewStreamProxy,
	NewIdentityStore,
)

var ListenerSet = wire.NewSet(
	NewWebSocketHandler,
	NewGateway,
	NewRPCServer,
	NewConfigWatcher,
)

var AppSet = wire.NewSet(
	CoreInfraSet,
	BrokerSet,
	ListenerSet,
	wire.Struct(new(ApplicationOptions), "*"),
	NewApplication,
)
