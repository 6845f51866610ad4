package transport

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"computemesh/internal/domain"
	"computemesh/internal/infra/registry"
	"computemesh/internal/infra/telemetry"
)

const defaultReadLimit = 16 << 20

// Registrar installs and removes connections.
type Registrar interface {
	Register(info domain.ConnectionInfo, transport domain.Transport) (*registry.Connection, error)
	UnregisterConn(conn *registry.Connection) bool
}

// FrameHandler consumes frames read from a registered connection.
type FrameHandler interface {
	HandleInboundFrame(source domain.Identity, raw []byte)
}

type HandlerOptions struct {
	Logger        *zap.Logger
	Authenticator domain.Authenticator
	Registry      Registrar
	Frames        FrameHandler
	WriteTimeout  time.Duration
	// MinProviderVersion rejects providers reporting an older semver agent version.
	MinProviderVersion string
	ReadLimit          int64
}

// Handler accepts peer connections on GET /ws?token=...&http_base_url=...&version=...
type Handler struct {
	logger       *zap.Logger
	auth         domain.Authenticator
	registry     Registrar
	frames       FrameHandler
	writeTimeout time.Duration
	minVersion   string
	readLimit    int64
	upgrader     websocket.Upgrader
}

func NewHandler(opts HandlerOptions) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	readLimit := opts.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	return &Handler{
		logger:       logger.Named("transport"),
		auth:         opts.Authenticator,
		registry:     opts.Registry,
		frames:       opts.Frames,
		writeTimeout: opts.WriteTimeout,
		minVersion:   canonicalVersion(opts.MinProviderVersion),
		readLimit:    readLimit,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := telemetry.LoggerWithRequest(ctx, h.logger)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(h.readLimit)
	ws := NewWebSocket(conn, h.writeTimeout)

	query := r.URL.Query()
	principal, err := h.authenticate(r)
	if err != nil {
		logger.Warn("websocket authentication failed", zap.Error(err))
		_ = ws.Close(domain.CloseReason{Code: domain.ClosePolicyViolation.Code, Text: "authentication failed"})
		return
	}
	logger = logger.With(telemetry.IdentityField(principal.Identity), telemetry.RoleField(principal.Role))

	version := strings.TrimSpace(query.Get("version"))
	if principal.Role == domain.RoleProvider {
		if err := h.checkVersion(version); err != nil {
			logger.Warn("provider rejected", zap.String("version", version), zap.Error(err))
			_ = ws.Close(domain.CloseReason{Code: domain.ClosePolicyViolation.Code, Text: err.Error()})
			return
		}
	}

	endpoint := ""
	if principal.Role == domain.RoleProvider {
		raw := query.Get("http_base_url")
		if normalized, ok := NormalizeEndpoint(raw); ok {
			endpoint = normalized
		} else if raw != "" {
			logger.Warn("provider advertised an invalid endpoint", zap.String("http_base_url", raw))
		} else {
			logger.Info("provider connected without an endpoint")
		}
	}

	registered, err := h.registry.Register(domain.ConnectionInfo{
		Identity:      principal.Identity,
		Role:          principal.Role,
		Endpoint:      endpoint,
		Version:       version,
		EstablishedAt: time.Now(),
	}, ws)
	if err != nil {
		logger.Error("register connection failed", zap.Error(err))
		_ = ws.Close(domain.CloseShutdown)
		return
	}

	h.readLoop(logger, registered, ws)
}

func (h *Handler) readLoop(logger *zap.Logger, conn *registry.Connection, ws *WebSocket) {
	defer func() {
		h.registry.UnregisterConn(conn)
		_ = ws.Close(domain.CloseNormal)
	}()

	for {
		raw, err := ws.ReadFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("peer disconnected unexpectedly", zap.Error(err))
			} else {
				logger.Info("peer disconnected", zap.Error(err))
			}
			return
		}
		h.frames.HandleInboundFrame(conn.Identity(), raw)
	}
}

func (h *Handler) authenticate(r *http.Request) (domain.Principal, error) {
	if h.auth == nil {
		return domain.Principal{}, domain.ErrUnauthenticated
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = BearerToken(r)
	}
	if token == "" {
		return domain.Principal{}, domain.ErrUnauthenticated
	}
	return h.auth.Authenticate(r.Context(), token)
}

func (h *Handler) checkVersion(version string) error {
	if h.minVersion == "" {
		return nil
	}
	canonical := canonicalVersion(version)
	if canonical == "" {
		return errors.New("provider version missing or not semver")
	}
	if semver.Compare(canonical, h.minVersion) < 0 {
		return errors.New("provider version " + version + " is older than " + h.minVersion)
	}
	return nil
}

func canonicalVersion(version string) string {
	version = strings.TrimSpace(version)
	if version == "" {
		return ""
	}
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	if !semver.IsValid(version) {
		return ""
	}
	return semver.Canonical(version)
}

// NormalizeEndpoint accepts absolute http(s) URLs with a host and trims any
// trailing slash.
func NormalizeEndpoint(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	return strings.TrimRight(raw, "/"), true
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
