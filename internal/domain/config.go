package domain

// BrokerConfig is the normalized broker configuration.
type BrokerConfig struct {
	ListenAddress            string
	HeartbeatIntervalSeconds int
	WriteTimeoutSeconds      int
	MinProviderVersion       string
	IdentityStorePath        string
	Timeouts                 TimeoutConfig
	Observability            ObservabilityConfig
	RPC                      RPCConfig
	Log                      LogConfig
}

// TimeoutConfig holds the per-operation-class wait deadlines.
// Status queries are short, model pulls are long.
type TimeoutConfig struct {
	StatusSeconds    int
	ListSeconds      int
	CommandSeconds   int
	BroadcastSeconds int
	PullSeconds      int
	StreamSeconds    int
}

type ObservabilityConfig struct {
	ListenAddress string
	Metrics       bool
	Healthz       bool
}

type RPCConfig struct {
	ListenAddress           string
	KeepaliveTimeSeconds    int
	KeepaliveTimeoutSeconds int
}

type LogConfig struct {
	Level    string
	Encoding string
}
