package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"computemesh/internal/domain"
	"computemesh/internal/infra/registry"
)

// ProviderWatcher streams registry membership snapshots.
type ProviderWatcher interface {
	WatchProviders(ctx context.Context) <-chan registry.ProviderSnapshot
}

// Server exposes grpc.health.v1 for the broker itself and for provider availability.
type Server struct {
	cfg       domain.RPCConfig
	providers ProviderWatcher
	logger    *zap.Logger

	mu         sync.Mutex
	grpcServer *grpc.Server
	listener   net.Listener
	health     *health.Server
	network    string
	address    string
}

func NewServer(cfg domain.RPCConfig, providers ProviderWatcher, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		providers: providers,
		logger:    logger.Named("rpc"),
	}
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	network, addr, err := parseListenAddress(s.cfg.ListenAddress)
	if err != nil {
		return err
	}
	if network == "unix" {
		if err := os.MkdirAll(filepath.Dir(addr), 0o755); err != nil {
			return fmt.Errorf("create rpc socket dir: %w", err)
		}
		if err := os.Remove(addr); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove rpc socket: %w", err)
		}
	}

	lis, err := net.Listen(network, addr)
	if err != nil {
		return fmt.Errorf("listen rpc: %w", err)
	}
	s.mu.Lock()
	s.network = network
	s.address = addr
	s.mu.Unlock()
	return s.Serve(ctx, lis)
}

// Serve runs the gRPC server on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	if s.providers == nil {
		_ = lis.Close()
		return errors.New("provider watcher is nil")
	}

	serverOpts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(requestContextUnaryServerInterceptor(s.logger)),
		grpc.ChainStreamInterceptor(requestContextStreamServerInterceptor()),
	}
	if keepaliveTime := s.cfg.KeepaliveServerDuration(); keepaliveTime > 0 {
		serverOpts = append(serverOpts, grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    keepaliveTime,
			Timeout: s.cfg.KeepaliveServerTimeout(),
		}))
	}

	grpcServer := grpc.NewServer(serverOpts...)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(domain.ProviderHealthService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	s.mu.Lock()
	s.grpcServer = grpcServer
	s.health = healthServer
	s.listener = lis
	s.mu.Unlock()

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go s.trackProviders(watchCtx, healthServer)

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()

	s.logger.Info("rpc server started", zap.String("address", lis.Addr().String()))

	select {
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case err := <-errCh:
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(stopCtx)
		return err
	}
}

func (s *Server) trackProviders(ctx context.Context, healthServer *health.Server) {
	updates := s.providers.WatchProviders(ctx)
	last := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot := <-updates:
			next := grpc_health_v1.HealthCheckResponse_NOT_SERVING
			if snapshot.Providers > 0 {
				next = grpc_health_v1.HealthCheckResponse_SERVING
			}
			if next == last {
				continue
			}
			last = next
			healthServer.SetServingStatus(domain.ProviderHealthService, next)
			s.logger.Info("provider availability changed",
				zap.String("status", next.String()),
				zap.Int("providers", snapshot.Providers),
			)
		}
	}
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	grpcServer := s.grpcServer
	healthServer := s.health
	listener := s.listener
	network, address := s.network, s.address
	s.grpcServer = nil
	s.mu.Unlock()

	if grpcServer == nil {
		return nil
	}
	if healthServer != nil {
		healthServer.Shutdown()
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		grpcServer.Stop()
		return ctx.Err()
	}

	if listener != nil {
		_ = listener.Close()
	}
	if network == "unix" && address != "" {
		_ = os.Remove(address)
	}
	return nil
}
