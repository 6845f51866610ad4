package telemetry

import (
	"time"

	"go.uber.org/zap"

	"computemesh/internal/domain"
)

const (
	FieldEvent      = "event"
	FieldIdentity   = "identity"
	FieldRole       = "role"
	FieldCommandID  = "command_id"
	FieldEndpoint   = "endpoint"
	FieldDurationMs = "duration_ms"
	FieldLogSource  = "log_source"
	FieldRequestID  = "request_id"
	FieldTraceID    = "trace_id"
	FieldSpanID     = "span_id"
)

const (
	EventConnect          = "connect"
	EventSupersede        = "supersede"
	EventDisconnect       = "disconnect"
	EventHeartbeatFailure = "heartbeat_failure"
	EventCommandSent      = "command_sent"
	EventCommandTimeout   = "command_timeout"
	EventSendFailure      = "send_failure"
	EventOwnerCancel      = "owner_cancel"
	EventUnknownReply     = "unknown_reply"
	EventMalformedFrame   = "malformed_frame"
	EventBroadcast        = "broadcast"
	EventStreamError      = "stream_error"
)

const (
	LogSourceCore = "core"
	LogSourceHTTP = "http"
)

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func IdentityField(identity domain.Identity) zap.Field {
	return zap.String(FieldIdentity, string(identity))
}

func RoleField(role domain.Role) zap.Field {
	return zap.String(FieldRole, string(role))
}

func CommandIDField(id string) zap.Field {
	return zap.String(FieldCommandID, id)
}

func EndpointField(endpoint string) zap.Field {
	return zap.String(FieldEndpoint, endpoint)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}

func RequestIDField(value string) zap.Field {
	return zap.String(FieldRequestID, value)
}

func TraceIDField(value string) zap.Field {
	return zap.String(FieldTraceID, value)
}

func SpanIDField(value string) zap.Field {
	return zap.String(FieldSpanID, value)
}
