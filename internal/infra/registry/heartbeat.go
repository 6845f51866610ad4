package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"computemesh/internal/domain"
	"computemesh/internal/infra/telemetry"
)

var pingFrame = []byte(`{"type":"` + domain.FrameTypePing + `"}`)

// monitor probes conn every heartbeat interval until it is no longer the
// registered connection for its identity. Probe replies are not awaited; a
// failed write or a closed transport removes the connection.
func (r *Registry) monitor(conn *Connection) {
	defer r.monitors.Done()

	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		if !r.IsCurrent(conn) {
			return
		}
		select {
		case <-conn.ctx.Done():
			return
		case <-conn.transport.Done():
			if r.remove(conn, domain.CloseNormal) {
				r.logger.Info("transport closed under heartbeat monitor",
					telemetry.EventField(telemetry.EventDisconnect),
					telemetry.IdentityField(conn.Identity()),
				)
			}
			return
		case <-ticker.C:
		}
		if !r.IsCurrent(conn) {
			return
		}

		writeCtx, cancel := context.WithTimeout(conn.ctx, r.writeTimeout)
		err := conn.transport.WriteFrame(writeCtx, pingFrame)
		cancel()
		if err == nil {
			continue
		}
		if conn.ctx.Err() != nil {
			return
		}
		if r.remove(conn, domain.CloseHeartbeatFailed) {
			r.metrics.ObserveHeartbeatFailure()
			r.logger.Warn("heartbeat failed",
				telemetry.EventField(telemetry.EventHeartbeatFailure),
				telemetry.IdentityField(conn.Identity()),
				zap.Error(err),
			)
		}
		return
	}
}
