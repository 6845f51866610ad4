package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Identity is the stable key of one logical client across reconnects.
type Identity string

func (i Identity) String() string {
	return string(i)
}

// Role decides whether a connected identity may receive relayed commands.
type Role string

const (
	RolePlain    Role = "plain"
	RoleProvider Role = "provider"
)

// ParseRole normalizes a role name.
func ParseRole(value string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RolePlain, "":
		return RolePlain, nil
	case RoleProvider:
		return RoleProvider, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, value)
	}
}

// CloseReason is the status sent to a peer when the broker closes its transport.
type CloseReason struct {
	Code int
	Text string
}

var (
	CloseNormal          = CloseReason{Code: 1000, Text: "connection closed"}
	CloseSuperseded      = CloseReason{Code: 1001, Text: "new connection established"}
	CloseHeartbeatFailed = CloseReason{Code: 1001, Text: "heartbeat failed"}
	ClosePolicyViolation = CloseReason{Code: 1008, Text: "policy violation"}
	CloseShutdown        = CloseReason{Code: 1001, Text: "broker shutting down"}
)

// Transport is one persistent bidirectional channel to a peer.
// WriteFrame must be safe for concurrent use.
type Transport interface {
	WriteFrame(ctx context.Context, frame []byte) error
	Close(reason CloseReason) error
	Done() <-chan struct{}
}

// Principal is an authenticated peer.
type Principal struct {
	Identity Identity
	Role     Role
}

// Authenticator resolves a bearer token into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Principal, error)
}

// ConnectionInfo describes a registered connection without exposing its transport.
type ConnectionInfo struct {
	Identity      Identity
	Role          Role
	Endpoint      string
	Version       string
	EstablishedAt time.Time
}

// Command is one relayed request.
type Command struct {
	Method string          `json:"method"`
	URL    string          `json:"url"`
	Data   json.RawMessage `json:"data"`
}

// Validate checks the command fields required on the wire.
func (c Command) Validate() error {
	if strings.TrimSpace(c.Method) == "" {
		return fmt.Errorf("%w: method is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	if len(c.Data) > 0 && !json.Valid(c.Data) {
		return fmt.Errorf("%w: data is not valid json", ErrInvalidRequest)
	}
	return nil
}

// Reply is the payload a provider returned for one command.
// Error-shaped replies are kept as-is; callers inspect them with ProviderError.
type Reply struct {
	CommandID string
	From      Identity
	Result    json.RawMessage
	Error     json.RawMessage
}

// ProviderError returns the application error embedded in the reply, if any.
// Both {"error": ...} frames and results shaped like {"error": ...} count.
func (r Reply) ProviderError() error {
	if detail := errorDetail(r.Error); detail != "" {
		return &ProviderError{Identity: r.From, Detail: detail}
	}
	trimmed := bytes.TrimSpace(r.Result)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var shaped struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &shaped); err != nil {
		return nil
	}
	if detail := errorDetail(shaped.Error); detail != "" {
		return &ProviderError{Identity: r.From, Detail: detail}
	}
	return nil
}

// Body returns the result value, or JSON null when the provider sent none.
func (r Reply) Body() json.RawMessage {
	if len(bytes.TrimSpace(r.Result)) == 0 {
		return json.RawMessage("null")
	}
	return r.Result
}

func errorDetail(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("false")) {
		return ""
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		return text
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(trimmed, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(trimmed)
}
