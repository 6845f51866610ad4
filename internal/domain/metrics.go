package domain

import "time"

// CommandOutcome labels the terminal state of one relayed command.
type CommandOutcome string

const (
	// CommandCompleted indicates a reply resolved the command.
	CommandCompleted CommandOutcome = "completed"
	// CommandTimedOut indicates the caller's deadline elapsed first.
	CommandTimedOut CommandOutcome = "timed_out"
	// CommandCancelled indicates the owning connection went away.
	CommandCancelled CommandOutcome = "cancelled"
	// CommandSendFailed indicates the frame could not be written.
	CommandSendFailed CommandOutcome = "send_failed"
	// CommandNotConnected indicates the target had no live connection.
	CommandNotConnected CommandOutcome = "not_connected"
)

// DropReason labels why an inbound frame was discarded.
type DropReason string

const (
	DropMalformed DropReason = "malformed"
	DropNoCommand DropReason = "missing_command_id"
	DropUnknown   DropReason = "unknown_command_id"
)

// StreamOutcome labels how a streaming proxy request ended.
type StreamOutcome string

const (
	StreamCompleted     StreamOutcome = "completed"
	StreamUpstreamError StreamOutcome = "upstream_error"
	StreamTransportErr  StreamOutcome = "transport_error"
	StreamNoProvider    StreamOutcome = "no_provider"
)

// Metrics records broker telemetry.
type Metrics interface {
	SetConnections(role Role, count int)
	ObserveSupersede()
	ObserveHeartbeatFailure()
	ObserveCommand(outcome CommandOutcome, duration time.Duration)
	SetPendingCommands(count int)
	ObserveDroppedFrame(reason DropReason)
	ObserveStreamProxy(outcome StreamOutcome)
}
