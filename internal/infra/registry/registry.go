package registry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"computemesh/internal/domain"
	"computemesh/internal/infra/telemetry"
)

// ErrClosed is returned by Register after Close.
var ErrClosed = errors.New("registry closed")

// PendingCanceler cancels in-flight commands owned by an identity.
type PendingCanceler interface {
	CancelAllForOwner(owner domain.Identity, err error) int
}

type Options struct {
	Logger            *zap.Logger
	Metrics           domain.Metrics
	Health            *telemetry.HealthTracker
	Pending           PendingCanceler
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
}

// Registry holds the single live connection per identity and the provider set.
type Registry struct {
	logger            *zap.Logger
	metrics           domain.Metrics
	health            *telemetry.HealthTracker
	pending           PendingCanceler
	heartbeatInterval time.Duration
	writeTimeout      time.Duration

	mu        sync.Mutex
	conns     map[domain.Identity]*Connection
	providers map[domain.Identity]struct{}
	subs      map[chan ProviderSnapshot]struct{}
	closed    bool

	monitors sync.WaitGroup

	reporterMu     sync.Mutex
	reporterCancel context.CancelFunc
	reporterDone   chan struct{}
}

func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	interval := opts.HeartbeatInterval
	if interval <= 0 {
		interval = time.Duration(domain.DefaultHeartbeatIntervalSeconds) * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = time.Duration(domain.DefaultWriteTimeoutSeconds) * time.Second
	}
	return &Registry{
		logger:            logger.Named("registry"),
		metrics:           metrics,
		health:            opts.Health,
		pending:           opts.Pending,
		heartbeatInterval: interval,
		writeTimeout:      writeTimeout,
		conns:             make(map[domain.Identity]*Connection),
		providers:         make(map[domain.Identity]struct{}),
		subs:              make(map[chan ProviderSnapshot]struct{}),
	}
}

// Register installs transport as the live connection for info.Identity. Any
// existing connection for the identity is superseded first: its context is
// cancelled, its pending commands fail and its transport is closed in the
// background with CloseSuperseded.
func (r *Registry) Register(info domain.ConnectionInfo, transport domain.Transport) (*Connection, error) {
	if info.Identity == "" {
		return nil, fmt.Errorf("%w: identity is required", domain.ErrInvalidRequest)
	}
	if transport == nil {
		return nil, fmt.Errorf("%w: transport is required", domain.ErrInvalidRequest)
	}
	if info.Role == "" {
		info.Role = domain.RolePlain
	}
	if info.Role != domain.RoleProvider {
		info.Endpoint = ""
	}
	if info.EstablishedAt.IsZero() {
		info.EstablishedAt = time.Now()
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn := &Connection{info: info, transport: transport, ctx: ctx, cancel: cancel}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	old := r.conns[info.Identity]
	if old != nil {
		r.evictLocked(old, fmt.Errorf("%w: superseded by a new connection", domain.ErrCancelled))
	}
	r.conns[info.Identity] = conn
	if conn.isProvider() {
		r.providers[info.Identity] = struct{}{}
	}
	r.monitors.Add(1)
	r.publishLocked()
	r.mu.Unlock()

	if old != nil {
		r.metrics.ObserveSupersede()
		r.logger.Info("connection superseded",
			telemetry.EventField(telemetry.EventSupersede),
			telemetry.IdentityField(info.Identity),
			telemetry.RoleField(old.Role()),
		)
		go closeTransport(r.logger, old, domain.CloseSuperseded)
	}

	r.logger.Info("connection registered",
		telemetry.EventField(telemetry.EventConnect),
		telemetry.IdentityField(info.Identity),
		telemetry.RoleField(info.Role),
		telemetry.EndpointField(info.Endpoint),
	)

	go r.monitor(conn)
	return conn, nil
}

// Unregister removes whatever connection is registered for identity. It is
// idempotent and reports whether a connection was removed.
func (r *Registry) Unregister(identity domain.Identity) bool {
	r.mu.Lock()
	conn := r.conns[identity]
	r.mu.Unlock()
	if conn == nil {
		r.logger.Debug("unregister for absent identity", telemetry.IdentityField(identity))
		return false
	}
	return r.remove(conn, domain.CloseNormal)
}

// UnregisterConn removes conn only while it is still the registered connection
// for its identity, so a superseded read loop cannot evict its replacement.
func (r *Registry) UnregisterConn(conn *Connection) bool {
	if conn == nil {
		return false
	}
	return r.remove(conn, domain.CloseNormal)
}

func (r *Registry) remove(conn *Connection, reason domain.CloseReason) bool {
	r.mu.Lock()
	if r.conns[conn.Identity()] != conn {
		r.mu.Unlock()
		return false
	}
	r.evictLocked(conn, fmt.Errorf("%w: %s disconnected", domain.ErrCancelled, conn.Identity()))
	r.publishLocked()
	r.mu.Unlock()

	r.logger.Info("connection unregistered",
		telemetry.EventField(telemetry.EventDisconnect),
		telemetry.IdentityField(conn.Identity()),
		telemetry.RoleField(conn.Role()),
		telemetry.DurationField(time.Since(conn.info.EstablishedAt)),
	)
	go closeTransport(r.logger, conn, reason)
	return true
}

// evictLocked drops conn from both maps and fails its pending commands. The
// correlation table lock nests inside the registry lock and never the reverse.
func (r *Registry) evictLocked(conn *Connection, cause error) {
	delete(r.conns, conn.Identity())
	delete(r.providers, conn.Identity())
	conn.cancel()
	if r.pending != nil {
		r.pending.CancelAllForOwner(conn.Identity(), cause)
	}
}

// Lookup returns the live connection for identity.
func (r *Registry) Lookup(identity domain.Identity) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[identity]
	return conn, ok
}

// IsCurrent reports whether conn is still the registered connection for its identity.
func (r *Registry) IsCurrent(conn *Connection) bool {
	if conn == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[conn.Identity()] == conn
}

// ListProviders returns the provider set, sorted.
func (r *Registry) ListProviders() []domain.Identity {
	r.mu.Lock()
	out := make([]domain.Identity, 0, len(r.providers))
	for id := range r.providers {
		out = append(out, id)
	}
	r.mu.Unlock()
	slices.Sort(out)
	return out
}

// ListConnected returns every registered identity regardless of role, sorted.
func (r *Registry) ListConnected() []domain.Identity {
	r.mu.Lock()
	out := make([]domain.Identity, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	r.mu.Unlock()
	slices.Sort(out)
	return out
}

// Connections describes every registered connection, sorted by identity.
func (r *Registry) Connections() []domain.ConnectionInfo {
	r.mu.Lock()
	out := make([]domain.ConnectionInfo, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn.info)
	}
	r.mu.Unlock()
	slices.SortFunc(out, func(a, b domain.ConnectionInfo) int {
		switch {
		case a.Identity < b.Identity:
			return -1
		case a.Identity > b.Identity:
			return 1
		default:
			return 0
		}
	})
	return out
}

// PickRandomProvider draws uniformly from the provider set. With requireEndpoint
// only providers that advertised an endpoint are candidates, and none is
// returned when that filtered set is empty.
func (r *Registry) PickRandomProvider(requireEndpoint bool) (domain.Identity, string, bool) {
	type candidate struct {
		identity domain.Identity
		endpoint string
	}

	r.mu.Lock()
	candidates := make([]candidate, 0, len(r.providers))
	for id := range r.providers {
		conn := r.conns[id]
		if conn == nil {
			continue
		}
		if requireEndpoint && conn.Endpoint() == "" {
			continue
		}
		candidates = append(candidates, candidate{identity: id, endpoint: conn.Endpoint()})
	}
	r.mu.Unlock()

	if len(candidates) == 0 {
		return "", "", false
	}
	picked := candidates[rand.IntN(len(candidates))]
	return picked.identity, picked.endpoint, true
}

// Close removes every connection with CloseShutdown and waits for their
// heartbeat monitors to exit.
func (r *Registry) Close() {
	r.StopReporter()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
		r.evictLocked(conn, fmt.Errorf("%w: broker shutting down", domain.ErrCancelled))
	}
	r.publishLocked()
	r.mu.Unlock()

	for _, conn := range conns {
		closeTransport(r.logger, conn, domain.CloseShutdown)
	}
	r.monitors.Wait()
}

func closeTransport(logger *zap.Logger, conn *Connection, reason domain.CloseReason) {
	if err := conn.transport.Close(reason); err != nil && !errors.Is(err, domain.ErrTransportClosed) {
		logger.Debug("transport close failed",
			telemetry.IdentityField(conn.Identity()),
			zap.Int("code", reason.Code),
			zap.Error(err),
		)
	}
}
