package dispatch

import (
	"go.uber.org/zap"

	"computemesh/internal/domain"
	"computemesh/internal/infra/telemetry"
)

const maxLoggedFrameBytes = 100

// HandleInboundFrame routes one frame read from source's connection. Liveness
// acks are discarded, malformed frames and unknown or late replies are logged
// and dropped. It never fails so a bad frame cannot end a healthy read loop.
func (d *Dispatcher) HandleInboundFrame(source domain.Identity, raw []byte) {
	frame, err := decodeInbound(raw)
	if err != nil {
		d.metrics.ObserveDroppedFrame(domain.DropMalformed)
		d.logger.Warn("dropping malformed frame",
			telemetry.EventField(telemetry.EventMalformedFrame),
			telemetry.IdentityField(source),
			zap.String("frame", truncate(raw)),
			zap.Error(err),
		)
		return
	}

	switch frame.Type {
	case domain.FrameTypePong, domain.FrameTypePing:
		return
	}

	commandID := frame.commandID()
	if commandID == "" {
		d.metrics.ObserveDroppedFrame(domain.DropNoCommand)
		d.logger.Warn("dropping frame without command id",
			telemetry.EventField(telemetry.EventMalformedFrame),
			telemetry.IdentityField(source),
			zap.String("frame", truncate(raw)),
		)
		return
	}

	reply := domain.Reply{
		CommandID: commandID,
		From:      source,
		Result:    frame.Result,
		Error:     frame.Error,
	}
	if !d.pending.Resolve(commandID, reply) {
		d.metrics.ObserveDroppedFrame(domain.DropUnknown)
	}
}

func truncate(raw []byte) string {
	if len(raw) <= maxLoggedFrameBytes {
		return string(raw)
	}
	return string(raw[:maxLoggedFrameBytes]) + "..."
}
