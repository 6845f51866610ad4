package domain

const (
	DefaultListenAddress              = "0.0.0.0:8000"
	DefaultHeartbeatIntervalSeconds   = 30
	DefaultStatusTimeoutSeconds       = 30
	DefaultListTimeoutSeconds         = 60
	DefaultCommandTimeoutSeconds      = 60
	DefaultBroadcastTimeoutSeconds    = 30
	DefaultPullTimeoutSeconds         = 300
	DefaultStreamTimeoutSeconds       = 300
	DefaultWriteTimeoutSeconds        = 10
	DefaultIdentityStorePath          = "computemesh.db"
	DefaultObservabilityListenAddress = "0.0.0.0:9090"
	DefaultRPCListenAddress           = "127.0.0.1:9091"
	DefaultRPCKeepaliveTimeSeconds    = 30
	DefaultRPCKeepaliveTimeoutSeconds = 10
	DefaultLogLevel                   = "info"
	DefaultLogEncoding                = "json"
)

// ProviderHealthService is the gRPC health service name tracking provider availability.
const ProviderHealthService = "computemesh.providers"

const (
	FrameTypePing = "ping"
	FrameTypePong = "pong"
)
