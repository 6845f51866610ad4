package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"computemesh/internal/domain"
)

func defaultBrokerConfig() domain.BrokerConfig {
	return domain.BrokerConfig{
		ListenAddress:            domain.DefaultListenAddress,
		HeartbeatIntervalSeconds: domain.DefaultHeartbeatIntervalSeconds,
		WriteTimeoutSeconds:      domain.DefaultWriteTimeoutSeconds,
		IdentityStorePath:        domain.DefaultIdentityStorePath,
		Timeouts: domain.TimeoutConfig{
			StatusSeconds:    domain.DefaultStatusTimeoutSeconds,
			ListSeconds:      domain.DefaultListTimeoutSeconds,
			CommandSeconds:   domain.DefaultCommandTimeoutSeconds,
			BroadcastSeconds: domain.DefaultBroadcastTimeoutSeconds,
			PullSeconds:      domain.DefaultPullTimeoutSeconds,
			StreamSeconds:    domain.DefaultStreamTimeoutSeconds,
		},
		Observability: domain.ObservabilityConfig{
			ListenAddress: domain.DefaultObservabilityListenAddress,
			Metrics:       true,
			Healthz:       true,
		},
		RPC: domain.RPCConfig{
			ListenAddress:           domain.DefaultRPCListenAddress,
			KeepaliveTimeSeconds:    domain.DefaultRPCKeepaliveTimeSeconds,
			KeepaliveTimeoutSeconds: domain.DefaultRPCKeepaliveTimeoutSeconds,
		},
		Log: domain.LogConfig{Level: domain.DefaultLogLevel, Encoding: domain.DefaultLogEncoding},
	}
}

func TestLoader_Defaults(t *testing.T) {
	loader := NewLoader(zap.NewNop())
	cfg, err := loader.Load(context.Background(), "")
	require.NoError(t, err)
	if diff := cmp.Diff(defaultBrokerConfig(), cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoader_EmptyFileUsesDefaults(t *testing.T) {
	file := writeTempConfig(t, "")
	cfg, err := NewLoader(nil).Load(context.Background(), file)
	require.NoError(t, err)
	if diff := cmp.Diff(defaultBrokerConfig(), cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoader_Overrides(t *testing.T) {
	file := writeTempConfig(t, `
listenAddress: "127.0.0.1:8100"
heartbeatIntervalSeconds: 5
minProviderVersion: "1.4.0"
identityStorePath: /var/lib/computemesh/ids.db
timeouts:
  statusSeconds: 3
  pullSeconds: 900
observability:
  metrics: false
log:
  level: DEBUG
  encoding: console
`)

	cfg, err := NewLoader(zap.NewNop()).Load(context.Background(), file)
	require.NoError(t, err)

	want := defaultBrokerConfig()
	want.ListenAddress = "127.0.0.1:8100"
	want.HeartbeatIntervalSeconds = 5
	want.MinProviderVersion = "v1.4.0"
	want.IdentityStorePath = "/var/lib/computemesh/ids.db"
	want.Timeouts.StatusSeconds = 3
	want.Timeouts.PullSeconds = 900
	want.Observability.Metrics = false
	want.Log = domain.LogConfig{Level: "debug", Encoding: "console"}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoader_EnvExpansion(t *testing.T) {
	t.Setenv("MESH_LISTEN", "0.0.0.0:9000")
	t.Setenv("MESH_HEARTBEAT", "12")
	file := writeTempConfig(t, `
listenAddress: ${MESH_LISTEN}
heartbeatIntervalSeconds: ${MESH_HEARTBEAT}
identityStorePath: ${MESH_STORE:-/tmp/mesh.db}
`)

	cfg, err := NewLoader(zap.NewNop()).Load(context.Background(), file)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.ListenAddress)
	require.Equal(t, 12, cfg.HeartbeatIntervalSeconds)
	require.Equal(t, "/tmp/mesh.db", cfg.IdentityStorePath)
}

func TestLoader_SchemaUnknownKey(t *testing.T) {
	file := writeTempConfig(t, `
unknownKey: true
`)
	_, err := NewLoader(zap.NewNop()).Load(context.Background(), file)
	require.Error(t, err)
	require.Contains(t, err.Error(), "schema validation failed")
}

func TestLoader_SchemaWrongType(t *testing.T) {
	file := writeTempConfig(t, `
timeouts:
  commandSeconds: "slow"
`)
	_, err := NewLoader(zap.NewNop()).Load(context.Background(), file)
	require.Error(t, err)
	require.Contains(t, err.Error(), "schema validation failed")
}

func TestLoader_CollectsValidationErrors(t *testing.T) {
	file := writeTempConfig(t, `
listenAddress: "nope"
writeTimeoutSeconds: 0
minProviderVersion: "banana"
timeouts:
  streamSeconds: 0
log:
  level: loud
`)
	_, err := NewLoader(zap.NewNop()).Load(context.Background(), file)
	require.Error(t, err)
	for _, fragment := range []string{
		"listenAddress must be host:port",
		"writeTimeoutSeconds must be >= 1",
		"minProviderVersion",
		"timeouts.streamSeconds must be >= 1",
		"log.level",
	} {
		require.Contains(t, err.Error(), fragment)
	}
}

func TestLoader_RangeChecksOwnedByNormalizer(t *testing.T) {
	file := writeTempConfig(t, `
heartbeatIntervalSeconds: -1
writeTimeoutSeconds: 0
`)
	_, err := NewLoader(zap.NewNop()).Load(context.Background(), file)
	require.Error(t, err)
	require.NotContains(t, err.Error(), "schema validation failed")
	require.Contains(t, err.Error(), "heartbeatIntervalSeconds must be >= 1")
	require.Contains(t, err.Error(), "writeTimeoutSeconds must be >= 1")

	file = writeTempConfig(t, "broadcastConcurrency: 4\n")
	_, err = NewLoader(zap.NewNop()).Load(context.Background(), file)
	require.ErrorContains(t, err, "schema validation failed")
}

func TestLoader_ContextCanceled(t *testing.T) {
	file := writeTempConfig(t, "listenAddress: \"127.0.0.1:1\"\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLoader(zap.NewNop()).Load(ctx, file)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := NewLoader(zap.NewNop()).Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "read config")
}

func TestTimeoutAccessorsFallBack(t *testing.T) {
	var timeouts domain.TimeoutConfig
	require.Equal(t, domain.DefaultPullTimeoutSeconds, int(timeouts.Pull().Seconds()))
	timeouts.StatusSeconds = 2
	require.Equal(t, 2, int(timeouts.Status().Seconds()))
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "computemesh.yaml")
	normalized := strings.ReplaceAll(content, "\t", "  ")
	if err := os.WriteFile(path, []byte(normalized), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}
