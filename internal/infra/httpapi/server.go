package httpapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"computemesh/internal/domain"
	"computemesh/internal/infra/dispatch"
	"computemesh/internal/infra/identity"
	"computemesh/internal/infra/registry"
	"computemesh/internal/infra/telemetry"
	"computemesh/internal/infra/transport"
)

const defaultMaxBodyBytes = 8 << 20

// Dispatcher relays commands to connected peers.
type Dispatcher interface {
	SendCommand(ctx context.Context, target domain.Identity, cmd domain.Command, timeout time.Duration) (domain.Reply, error)
	SendToProvider(ctx context.Context, cmd domain.Command, timeout time.Duration) (domain.Identity, domain.Reply, error)
	BroadcastCommand(ctx context.Context, cmd domain.Command, perRecipientTimeout time.Duration, audience dispatch.Audience) (map[domain.Identity]dispatch.BroadcastResult, error)
}

// Streamer proxies streaming completions to a provider endpoint.
type Streamer interface {
	Stream(ctx context.Context, w http.ResponseWriter, path string, body []byte) error
}

// Membership reports registry counts.
type Membership interface {
	Snapshot() registry.ProviderSnapshot
}

// Directory resolves known identities.
type Directory interface {
	Get(id domain.Identity) (identity.Record, error)
}

// TimeoutSource returns the current per-operation deadlines; it may change between calls.
type TimeoutSource interface {
	Timeouts() domain.TimeoutConfig
}

// TimeoutsFunc adapts a function to TimeoutSource.
type TimeoutsFunc func() domain.TimeoutConfig

func (f TimeoutsFunc) Timeouts() domain.TimeoutConfig { return f() }

type Options struct {
	Logger        *zap.Logger
	Authenticator domain.Authenticator
	Dispatcher    Dispatcher
	Streamer      Streamer
	Membership    Membership
	// Directory is optional; when set, direct commands to unknown identities answer 404.
	Directory Directory
	Timeouts  TimeoutSource
	// WebSocket is mounted at GET /ws when set.
	WebSocket    http.Handler
	MaxBodyBytes int64
}

// Server is the HTTP gateway in front of the broker core.
type Server struct {
	logger     *zap.Logger
	auth       domain.Authenticator
	dispatcher Dispatcher
	streamer   Streamer
	membership Membership
	directory  Directory
	timeouts   TimeoutSource
	websocket  http.Handler
	maxBody    int64
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeouts := opts.Timeouts
	if timeouts == nil {
		timeouts = TimeoutsFunc(func() domain.TimeoutConfig { return domain.TimeoutConfig{} })
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &Server{
		logger:     logger.Named("http"),
		auth:       opts.Authenticator,
		dispatcher: opts.Dispatcher,
		streamer:   opts.Streamer,
		membership: opts.Membership,
		directory:  opts.Directory,
		timeouts:   timeouts,
		websocket:  opts.WebSocket,
		maxBody:    maxBody,
	}
}

// Handler returns the routed handler wrapped with request context and access logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /send-command/{identity}", s.authenticated(s.handleSendCommand))
	mux.Handle("POST /broadcast-command", s.authenticated(s.handleBroadcast))
	mux.Handle("GET /v1/models", s.authenticated(s.handleListModels))
	mux.Handle("GET /v1/models/status", s.authenticated(s.handleModelStatus))
	mux.Handle("POST /v1/models/pull", s.authenticated(s.handlePullModel))
	mux.Handle("POST /v1/chat/completions", s.authenticated(s.handleChatCompletions))
	mux.HandleFunc("GET /public-stats", s.handlePublicStats)
	if s.websocket != nil {
		mux.Handle("GET /ws", s.websocket)
	}
	return telemetry.RequestContextMiddleware(s.accessLog(mux))
}

// Serve runs the gateway on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http gateway listening", zap.String("addr", lis.Addr().String()))
		errCh <- server.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http gateway: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http gateway: %w", err)
		}
		return nil
	}
}

// Run listens on addr and serves until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen http gateway: %w", err)
	}
	return s.Serve(ctx, lis)
}

type principalKey struct{}

func principalFrom(ctx context.Context) (domain.Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(domain.Principal)
	return principal, ok
}

func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := telemetry.LoggerWithRequest(r.Context(), s.logger)
		token := transport.BearerToken(r)
		if token == "" || s.auth == nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			s.writeError(w, logger, domain.ErrUnauthenticated)
			return
		}
		principal, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			s.writeError(w, logger, fmt.Errorf("%w: could not validate credentials", domain.ErrUnauthenticated))
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, principal)))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		telemetry.LoggerWithRequest(r.Context(), s.logger).Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			telemetry.DurationField(time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(p)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Flush() {
	_ = http.NewResponseController(r.ResponseWriter).Flush()
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.status = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}
