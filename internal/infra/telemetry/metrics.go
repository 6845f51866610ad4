package telemetry

import (
	"time"

	"computemesh/internal/domain"
)

type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) SetConnections(_ domain.Role, _ int) {}

func (n *NoopMetrics) ObserveSupersede() {}

func (n *NoopMetrics) ObserveHeartbeatFailure() {}

func (n *NoopMetrics) ObserveCommand(_ domain.CommandOutcome, _ time.Duration) {}

func (n *NoopMetrics) SetPendingCommands(_ int) {}

func (n *NoopMetrics) ObserveDroppedFrame(_ domain.DropReason) {}

func (n *NoopMetrics) ObserveStreamProxy(_ domain.StreamOutcome) {}

var _ domain.Metrics = (*NoopMetrics)(nil)
