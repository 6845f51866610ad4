package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"computemesh/internal/domain"
)

type PrometheusMetrics struct {
	connections       *prometheus.GaugeVec
	superseded        prometheus.Counter
	heartbeatFailures prometheus.Counter
	commands          *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec
	pendingCommands   prometheus.Gauge
	droppedFrames     *prometheus.CounterVec
	streamProxy       *prometheus.CounterVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		connections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "computemesh_connections",
				Help: "Current number of registered connections",
			},
			[]string{"role"},
		),
		superseded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "computemesh_superseded_total",
				Help: "Total number of connections replaced by a newer connection for the same identity",
			},
		),
		heartbeatFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "computemesh_heartbeat_failures_total",
				Help: "Total number of connections dropped after a failed liveness probe",
			},
		),
		commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "computemesh_commands_total",
				Help: "Total number of relayed commands by terminal outcome",
			},
			[]string{"outcome"},
		),
		commandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "computemesh_command_duration_seconds",
				Help:    "Time from command allocation to terminal outcome in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		pendingCommands: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "computemesh_pending_commands",
				Help: "Current number of commands awaiting a reply",
			},
		),
		droppedFrames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "computemesh_dropped_frames_total",
				Help: "Total number of inbound frames discarded",
			},
			[]string{"reason"},
		),
		streamProxy: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "computemesh_stream_proxy_total",
				Help: "Total number of proxied streams by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (p *PrometheusMetrics) SetConnections(role domain.Role, count int) {
	p.connections.WithLabelValues(string(role)).Set(float64(count))
}

func (p *PrometheusMetrics) ObserveSupersede() {
	p.superseded.Inc()
}

func (p *PrometheusMetrics) ObserveHeartbeatFailure() {
	p.heartbeatFailures.Inc()
}

func (p *PrometheusMetrics) ObserveCommand(outcome domain.CommandOutcome, duration time.Duration) {
	p.commands.WithLabelValues(string(outcome)).Inc()
	p.commandDuration.WithLabelValues(string(outcome)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) SetPendingCommands(count int) {
	p.pendingCommands.Set(float64(count))
}

func (p *PrometheusMetrics) ObserveDroppedFrame(reason domain.DropReason) {
	p.droppedFrames.WithLabelValues(string(reason)).Inc()
}

func (p *PrometheusMetrics) ObserveStreamProxy(outcome domain.StreamOutcome) {
	p.streamProxy.WithLabelValues(string(outcome)).Inc()
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
