package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"computemesh/internal/domain"
)

func TestStartHTTPServer_Metrics(t *testing.T) {
	listener := mustListen(t)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)
	metrics.ObserveSupersede()

	errChan := make(chan error, 1)
	go func() {
		errChan <- StartHTTPServer(ctx, HTTPServerOptions{
			Addr:          fmt.Sprintf("127.0.0.1:%d", port),
			EnableMetrics: true,
			Registry:      registry,
		}, zap.NewNop())
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
	waitForHTTPStatus(t, url, http.StatusOK, false)

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "computemesh_superseded_total 1")

	cancel()

	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop in time")
	}
}

func TestStartHTTPServer_PortInUse(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skip test due to listen error: %v", err)
	}
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err = StartHTTPServer(ctx, HTTPServerOptions{
		Addr:          listener.Addr().String(),
		EnableMetrics: true,
		Registry:      prometheus.NewRegistry(),
	}, zap.NewNop())
	if err == nil {
		t.Skip("listener reuse allowed on this platform")
	}
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "address already in use"))
}

func TestStartHTTPServer_NothingEnabled(t *testing.T) {
	err := StartHTTPServer(context.Background(), HTTPServerOptions{}, nil)
	require.NoError(t, err)
}

func TestStartHTTPServer_DebugConnections(t *testing.T) {
	listener := mustListen(t)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	established := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	go func() {
		_ = StartHTTPServer(ctx, HTTPServerOptions{
			Addr: fmt.Sprintf("127.0.0.1:%d", port),
			Connections: func() []domain.ConnectionInfo {
				return []domain.ConnectionInfo{{
					Identity:      "gpu-1",
					Role:          domain.RoleProvider,
					Endpoint:      "http://10.0.0.5:8080",
					EstablishedAt: established,
				}}
			},
		}, zap.NewNop())
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/debug/connections", port)
	waitForHTTPStatus(t, url, http.StatusOK, false)

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload struct {
		Connections []connectionView `json:"connections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Connections, 1)
	assert.Equal(t, "gpu-1", payload.Connections[0].Identity)
	assert.Equal(t, "provider", payload.Connections[0].Role)
	assert.Equal(t, "http://10.0.0.5:8080", payload.Connections[0].Endpoint)
	assert.True(t, established.Equal(payload.Connections[0].EstablishedAt))
}

func TestStartHTTPServer_Healthz(t *testing.T) {
	listener := mustListen(t)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := NewHealthTracker()
	beat := tracker.Register("test-loop", 200*time.Millisecond)

	errChan := make(chan error, 1)
	go func() {
		errChan <- StartHTTPServer(ctx, HTTPServerOptions{
			Addr:          fmt.Sprintf("127.0.0.1:%d", port),
			EnableHealthz: true,
			Health:        tracker,
		}, zap.NewNop())
	}()

	beat.Beat()
	waitForHTTPStatus(t, fmt.Sprintf("http://127.0.0.1:%d/healthz", port), http.StatusOK, true)
	waitForHTTPStatus(t, fmt.Sprintf("http://127.0.0.1:%d/healthz", port), http.StatusServiceUnavailable, true)

	cancel()

	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop in time")
	}
}

func mustListen(t *testing.T) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skip test due to listen error: %v", err)
	}
	return listener
}

func waitForHTTPStatus(t *testing.T, url string, status int, expectJSON bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != status {
			return false
		}
		if expectJSON {
			var report HealthReport
			if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
				return false
			}
			if status == http.StatusOK && report.Status != "ok" {
				return false
			}
		}
		return true
	}, 2*time.Second, 25*time.Millisecond)
}
