package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"computemesh/internal/domain"
	"computemesh/internal/infra/correlate"
	"computemesh/internal/infra/registry"
	"computemesh/internal/infra/selector"
	"computemesh/internal/infra/telemetry"
)

// Connections resolves live connections by identity.
type Connections interface {
	Lookup(identity domain.Identity) (*registry.Connection, bool)
	ListConnected() []domain.Identity
	ListProviders() []domain.Identity
}

// Picker chooses a provider for relayed commands.
type Picker interface {
	PickForRelay() (selector.Target, error)
}

type Options struct {
	Logger       *zap.Logger
	Metrics      domain.Metrics
	WriteTimeout time.Duration
}

// Dispatcher composes the registry and the correlation table into
// request/response and fan-out semantics. It owns neither.
type Dispatcher struct {
	conns   Connections
	pending *correlate.Table
	picker  Picker

	logger       *zap.Logger
	metrics      domain.Metrics
	writeTimeout time.Duration
}

func New(conns Connections, pending *correlate.Table, picker Picker, opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = time.Duration(domain.DefaultWriteTimeoutSeconds) * time.Second
	}
	return &Dispatcher{
		conns:        conns,
		pending:      pending,
		picker:       picker,
		logger:       logger.Named("dispatch"),
		metrics:      metrics,
		writeTimeout: writeTimeout,
	}
}

// SendCommand relays cmd to target and waits for its reply, the timeout, the
// caller's context, or the loss of target's connection, whichever comes first.
// A reply carrying an application error is returned together with a
// *domain.ProviderError.
func (d *Dispatcher) SendCommand(ctx context.Context, target domain.Identity, cmd domain.Command, timeout time.Duration) (domain.Reply, error) {
	reply, err := d.sendCommand(ctx, target, cmd, timeout)
	return reply, opError("dispatch.SendCommand", err)
}

func (d *Dispatcher) sendCommand(ctx context.Context, target domain.Identity, cmd domain.Command, timeout time.Duration) (domain.Reply, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cmd.Validate(); err != nil {
		return domain.Reply{}, err
	}
	if timeout <= 0 {
		timeout = time.Duration(domain.DefaultCommandTimeoutSeconds) * time.Second
	}
	start := time.Now()
	logger := telemetry.LoggerWithRequest(ctx, d.logger).With(telemetry.IdentityField(target))

	conn, ok := d.conns.Lookup(target)
	if !ok {
		d.metrics.ObserveCommand(domain.CommandNotConnected, time.Since(start))
		return domain.Reply{}, fmt.Errorf("%w: %s", domain.ErrNotConnected, target)
	}

	commandID, slot := d.pending.Allocate(target)
	logger = logger.With(telemetry.CommandIDField(commandID))

	// The connection may have been removed between Lookup and Allocate, after
	// its owner-wide cancellation already ran.
	if conn.Context().Err() != nil {
		d.pending.Cancel(commandID, domain.ErrNotConnected)
		d.metrics.ObserveCommand(domain.CommandNotConnected, time.Since(start))
		return domain.Reply{}, fmt.Errorf("%w: %s", domain.ErrNotConnected, target)
	}

	frame, err := encodeCommand(commandID, cmd)
	if err != nil {
		d.pending.Cancel(commandID, err)
		d.metrics.ObserveCommand(domain.CommandSendFailed, time.Since(start))
		return domain.Reply{}, fmt.Errorf("%w: encode command: %v", domain.ErrSendFailed, err)
	}

	writeCtx, cancelWrite := context.WithTimeout(ctx, d.writeTimeout)
	err = conn.Send(writeCtx, frame)
	cancelWrite()
	if err != nil {
		sendErr := fmt.Errorf("%w: %s: %v", domain.ErrSendFailed, target, err)
		if d.pending.Cancel(commandID, sendErr) {
			d.metrics.ObserveCommand(domain.CommandSendFailed, time.Since(start))
			logger.Warn("command write failed",
				telemetry.EventField(telemetry.EventSendFailure),
				zap.Error(err),
			)
			return domain.Reply{}, sendErr
		}
		// A concurrent resolution won the slot; report what it decided.
		return d.finish(<-slot.Done(), start)
	}
	logger.Debug("command sent",
		telemetry.EventField(telemetry.EventCommandSent),
		zap.String("method", cmd.Method),
		zap.String("url", cmd.URL),
	)

	return d.await(ctx, logger, slot, commandID, start, timeout)
}

func (d *Dispatcher) await(ctx context.Context, logger *zap.Logger, slot *correlate.Slot, commandID string, start time.Time, timeout time.Duration) (domain.Reply, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var outcome correlate.Outcome
	select {
	case outcome = <-slot.Done():
	case <-timer.C:
		if d.pending.Cancel(commandID, fmt.Errorf("%w after %s", domain.ErrTimeout, timeout)) {
			logger.Warn("command timed out",
				telemetry.EventField(telemetry.EventCommandTimeout),
				telemetry.DurationField(time.Since(start)),
			)
		}
		outcome = <-slot.Done()
	case <-ctx.Done():
		d.pending.Cancel(commandID, ctx.Err())
		outcome = <-slot.Done()
	}
	return d.finish(outcome, start)
}

func (d *Dispatcher) finish(outcome correlate.Outcome, start time.Time) (domain.Reply, error) {
	d.metrics.ObserveCommand(outcomeLabel(outcome.Err), time.Since(start))
	if outcome.Err != nil {
		return domain.Reply{}, outcome.Err
	}
	if err := outcome.Reply.ProviderError(); err != nil {
		return outcome.Reply, err
	}
	return outcome.Reply, nil
}

func outcomeLabel(err error) domain.CommandOutcome {
	switch {
	case err == nil:
		return domain.CommandCompleted
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return domain.CommandTimedOut
	case errors.Is(err, domain.ErrSendFailed):
		return domain.CommandSendFailed
	default:
		return domain.CommandCancelled
	}
}

// SendToProvider relays cmd to a randomly chosen provider.
func (d *Dispatcher) SendToProvider(ctx context.Context, cmd domain.Command, timeout time.Duration) (domain.Identity, domain.Reply, error) {
	if d.picker == nil {
		return "", domain.Reply{}, opError("dispatch.SendToProvider", domain.ErrNoProvider)
	}
	target, err := d.picker.PickForRelay()
	if err != nil {
		return "", domain.Reply{}, opError("dispatch.SendToProvider", err)
	}
	reply, err := d.SendCommand(ctx, target.Identity, cmd, timeout)
	return target.Identity, reply, err
}

// opError tags err with the failing operation and its error code.
func opError(op string, err error) error {
	if err == nil {
		return nil
	}
	code, ok := domain.CodeFrom(err)
	if !ok {
		code = domain.CodeInternal
	}
	return domain.Wrap(code, op, err)
}
