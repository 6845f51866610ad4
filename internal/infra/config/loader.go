package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"computemesh/internal/domain"
)

type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("config")}
}

func newBrokerViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listenAddress", domain.DefaultListenAddress)
	v.SetDefault("heartbeatIntervalSeconds", domain.DefaultHeartbeatIntervalSeconds)
	v.SetDefault("writeTimeoutSeconds", domain.DefaultWriteTimeoutSeconds)
	v.SetDefault("identityStorePath", domain.DefaultIdentityStorePath)
	v.SetDefault("timeouts.statusSeconds", domain.DefaultStatusTimeoutSeconds)
	v.SetDefault("timeouts.listSeconds", domain.DefaultListTimeoutSeconds)
	v.SetDefault("timeouts.commandSeconds", domain.DefaultCommandTimeoutSeconds)
	v.SetDefault("timeouts.broadcastSeconds", domain.DefaultBroadcastTimeoutSeconds)
	v.SetDefault("timeouts.pullSeconds", domain.DefaultPullTimeoutSeconds)
	v.SetDefault("timeouts.streamSeconds", domain.DefaultStreamTimeoutSeconds)
	v.SetDefault("observability.listenAddress", domain.DefaultObservabilityListenAddress)
	v.SetDefault("observability.metrics", true)
	v.SetDefault("observability.healthz", true)
	v.SetDefault("rpc.listenAddress", domain.DefaultRPCListenAddress)
	v.SetDefault("rpc.keepaliveTimeSeconds", domain.DefaultRPCKeepaliveTimeSeconds)
	v.SetDefault("rpc.keepaliveTimeoutSeconds", domain.DefaultRPCKeepaliveTimeoutSeconds)
	v.SetDefault("log.level", domain.DefaultLogLevel)
	v.SetDefault("log.encoding", domain.DefaultLogEncoding)
}

type rawBrokerConfig struct {
	ListenAddress            string                 `mapstructure:"listenAddress"`
	HeartbeatIntervalSeconds int                    `mapstructure:"heartbeatIntervalSeconds"`
	WriteTimeoutSeconds      int                    `mapstructure:"writeTimeoutSeconds"`
	MinProviderVersion       string                 `mapstructure:"minProviderVersion"`
	IdentityStorePath        string                 `mapstructure:"identityStorePath"`
	Timeouts                 rawTimeoutConfig       `mapstructure:"timeouts"`
	Observability            rawObservabilityConfig `mapstructure:"observability"`
	RPC                      rawRPCConfig           `mapstructure:"rpc"`
	Log                      rawLogConfig           `mapstructure:"log"`
}

type rawTimeoutConfig struct {
	StatusSeconds    int `mapstructure:"statusSeconds"`
	ListSeconds      int `mapstructure:"listSeconds"`
	CommandSeconds   int `mapstructure:"commandSeconds"`
	BroadcastSeconds int `mapstructure:"broadcastSeconds"`
	PullSeconds      int `mapstructure:"pullSeconds"`
	StreamSeconds    int `mapstructure:"streamSeconds"`
}

type rawObservabilityConfig struct {
	ListenAddress string `mapstructure:"listenAddress"`
	Metrics       bool   `mapstructure:"metrics"`
	Healthz       bool   `mapstructure:"healthz"`
}

type rawRPCConfig struct {
	ListenAddress           string `mapstructure:"listenAddress"`
	KeepaliveTimeSeconds    int    `mapstructure:"keepaliveTimeSeconds"`
	KeepaliveTimeoutSeconds int    `mapstructure:"keepaliveTimeoutSeconds"`
}

type rawLogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// Load reads, expands, validates and normalizes a broker config file.
// An empty path yields the defaults.
func (l *Loader) Load(ctx context.Context, path string) (domain.BrokerConfig, error) {
	var data []byte
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return domain.BrokerConfig{}, fmt.Errorf("read config: %w", err)
		}
		data = raw
	}
	return l.Parse(ctx, data, path)
}

// Parse is Load over an in-memory document; source is only used in log fields.
func (l *Loader) Parse(ctx context.Context, data []byte, source string) (domain.BrokerConfig, error) {
	expanded := ""
	if len(bytes.TrimSpace(data)) > 0 {
		out, missing, err := expandConfigEnv(data)
		if err != nil {
			return domain.BrokerConfig{}, err
		}
		if len(missing) > 0 {
			l.logger.Warn("missing environment variables in config", zap.String("path", source), zap.Strings("missing", missing))
		}
		expanded = out
	}

	if err := validateSchema(expanded); err != nil {
		return domain.BrokerConfig{}, err
	}

	v := newBrokerViper()
	if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
		return domain.BrokerConfig{}, fmt.Errorf("parse config: %w", err)
	}
	var raw rawBrokerConfig
	if err := v.Unmarshal(&raw); err != nil {
		return domain.BrokerConfig{}, fmt.Errorf("decode config: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return domain.BrokerConfig{}, err
	}

	cfg, errs := normalizeBrokerConfig(raw)
	if len(errs) > 0 {
		return domain.BrokerConfig{}, errors.New(strings.Join(errs, "; "))
	}
	return cfg, nil
}

func normalizeBrokerConfig(raw rawBrokerConfig) (domain.BrokerConfig, []string) {
	var errs []string

	listen := strings.TrimSpace(raw.ListenAddress)
	if err := validateListenAddress(listen); err != nil {
		errs = append(errs, "listenAddress "+err.Error())
	}
	if raw.HeartbeatIntervalSeconds < 1 {
		errs = append(errs, "heartbeatIntervalSeconds must be >= 1")
	}
	if raw.WriteTimeoutSeconds < 1 {
		errs = append(errs, "writeTimeoutSeconds must be >= 1")
	}

	minVersion := strings.TrimSpace(raw.MinProviderVersion)
	if minVersion != "" {
		if !strings.HasPrefix(minVersion, "v") {
			minVersion = "v" + minVersion
		}
		if !semver.IsValid(minVersion) {
			errs = append(errs, fmt.Sprintf("minProviderVersion %q is not a valid semantic version", raw.MinProviderVersion))
		}
	}

	storePath := strings.TrimSpace(raw.IdentityStorePath)
	if storePath == "" {
		errs = append(errs, "identityStorePath is required")
	}

	timeouts, timeoutErrs := normalizeTimeouts(raw.Timeouts)
	errs = append(errs, timeoutErrs...)
	observability, obsErrs := normalizeObservabilityConfig(raw.Observability)
	errs = append(errs, obsErrs...)
	rpcCfg, rpcErrs := normalizeRPCConfig(raw.RPC)
	errs = append(errs, rpcErrs...)
	logCfg, logErrs := normalizeLogConfig(raw.Log)
	errs = append(errs, logErrs...)

	return domain.BrokerConfig{
		ListenAddress:            listen,
		HeartbeatIntervalSeconds: raw.HeartbeatIntervalSeconds,
		WriteTimeoutSeconds:      raw.WriteTimeoutSeconds,
		MinProviderVersion:       minVersion,
		IdentityStorePath:        storePath,
		Timeouts:                 timeouts,
		Observability:            observability,
		RPC:                      rpcCfg,
		Log:                      logCfg,
	}, errs
}

func normalizeTimeouts(raw rawTimeoutConfig) (domain.TimeoutConfig, []string) {
	var errs []string
	check := func(name string, value int) {
		if value < 1 {
			errs = append(errs, fmt.Sprintf("timeouts.%s must be >= 1", name))
		}
	}
	check("statusSeconds", raw.StatusSeconds)
	check("listSeconds", raw.ListSeconds)
	check("commandSeconds", raw.CommandSeconds)
	check("broadcastSeconds", raw.BroadcastSeconds)
	check("pullSeconds", raw.PullSeconds)
	check("streamSeconds", raw.StreamSeconds)

	return domain.TimeoutConfig{
		StatusSeconds:    raw.StatusSeconds,
		ListSeconds:      raw.ListSeconds,
		CommandSeconds:   raw.CommandSeconds,
		BroadcastSeconds: raw.BroadcastSeconds,
		PullSeconds:      raw.PullSeconds,
		StreamSeconds:    raw.StreamSeconds,
	}, errs
}

func normalizeObservabilityConfig(raw rawObservabilityConfig) (domain.ObservabilityConfig, []string) {
	addr := strings.TrimSpace(raw.ListenAddress)
	if addr == "" {
		addr = domain.DefaultObservabilityListenAddress
	}
	var errs []string
	if err := validateListenAddress(addr); err != nil {
		errs = append(errs, "observability.listenAddress "+err.Error())
	}
	return domain.ObservabilityConfig{
		ListenAddress: addr,
		Metrics:       raw.Metrics,
		Healthz:       raw.Healthz,
	}, errs
}

func normalizeRPCConfig(raw rawRPCConfig) (domain.RPCConfig, []string) {
	var errs []string

	addr := strings.TrimSpace(raw.ListenAddress)
	if addr != "" {
		if err := validateListenAddress(addr); err != nil {
			errs = append(errs, "rpc.listenAddress "+err.Error())
		}
	}
	if raw.KeepaliveTimeSeconds < 0 {
		errs = append(errs, "rpc.keepaliveTimeSeconds must be >= 0")
	}
	if raw.KeepaliveTimeoutSeconds < 0 {
		errs = append(errs, "rpc.keepaliveTimeoutSeconds must be >= 0")
	}

	return domain.RPCConfig{
		ListenAddress:           addr,
		KeepaliveTimeSeconds:    raw.KeepaliveTimeSeconds,
		KeepaliveTimeoutSeconds: raw.KeepaliveTimeoutSeconds,
	}, errs
}

func normalizeLogConfig(raw rawLogConfig) (domain.LogConfig, []string) {
	level := strings.ToLower(strings.TrimSpace(raw.Level))
	var errs []string
	switch level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error (got %q)", raw.Level))
	}
	return domain.LogConfig{
		Level:    level,
		Encoding: strings.ToLower(strings.TrimSpace(raw.Encoding)),
	}, errs
}

func validateListenAddress(addr string) error {
	if addr == "" {
		return errors.New("is required")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("must be host:port: %w", err)
	}
	return nil
}
