package streamproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"computemesh/internal/domain"
	"computemesh/internal/infra/selector"
	"computemesh/internal/infra/telemetry"
)

const (
	// DefaultPath is appended to the provider endpoint.
	DefaultPath = "/v1/chat/completions"

	doneEvent       = "data: [DONE]\n\n"
	copyBufferBytes = 32 * 1024
	errorBodyBytes  = 4 * 1024
)

// Picker chooses a provider that advertised a reachable endpoint.
type Picker interface {
	PickForStream() (selector.Target, error)
}

type Options struct {
	Logger  *zap.Logger
	Metrics domain.Metrics
	Client  *http.Client
	// Timeout bounds the whole upstream exchange.
	Timeout time.Duration
	// TimeoutFunc, when set, is read on every request and wins over Timeout
	// while it returns a positive value.
	TimeoutFunc func() time.Duration
}

// Proxy forwards streaming requests straight to a provider's HTTP endpoint.
// It never touches the correlation table.
type Proxy struct {
	picker  Picker
	logger  *zap.Logger
	metrics domain.Metrics
	client  *http.Client
	timeout time.Duration
	current func() time.Duration
}

func New(picker Picker, opts Options) *Proxy {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Duration(domain.DefaultStreamTimeoutSeconds) * time.Second
	}
	return &Proxy{
		picker:  picker,
		logger:  logger.Named("streamproxy"),
		metrics: metrics,
		client:  client,
		timeout: timeout,
		current: opts.TimeoutFunc,
	}
}

func (p *Proxy) requestTimeout() time.Duration {
	if p.current != nil {
		if timeout := p.current(); timeout > 0 {
			return timeout
		}
	}
	return p.timeout
}

// errorEvent is the terminal SSE payload written when the upstream fails.
type errorEvent struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Stream picks a provider and relays body to <endpoint><path> with streaming
// forced on, copying the response to w as it arrives. An error is returned only
// when nothing has been written yet (invalid body, no provider); every later
// failure ends the stream with an error event followed by [DONE].
func (p *Proxy) Stream(ctx context.Context, w http.ResponseWriter, path string, body []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if path == "" {
		path = DefaultPath
	}
	payload, err := forceStream(body)
	if err != nil {
		return err
	}

	target, err := p.picker.PickForStream()
	if err != nil {
		p.metrics.ObserveStreamProxy(domain.StreamNoProvider)
		return err
	}

	logger := telemetry.LoggerWithRequest(ctx, p.logger).With(
		telemetry.IdentityField(target.Identity),
		telemetry.EndpointField(target.Endpoint),
	)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, p.requestTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build upstream request: %v", domain.ErrInvalidRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if requestID, ok := telemetry.RequestIDFromContext(ctx); ok {
		req.Header.Set(telemetry.RequestIDHeader, requestID)
	}

	out := newEventWriter(w)

	resp, err := p.client.Do(req)
	if err != nil {
		code := http.StatusServiceUnavailable
		message := fmt.Sprintf("Failed to connect to provider: %v", err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			code = http.StatusGatewayTimeout
			message = "Timeout during streaming response from provider"
		}
		p.fail(logger, out, domain.StreamTransportErr, message, code, err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyBytes))
		logger.Error("provider rejected stream",
			telemetry.EventField(telemetry.EventStreamError),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", detail),
		)
		p.fail(logger, out, domain.StreamUpstreamError, fmt.Sprintf("Provider error %d", resp.StatusCode), resp.StatusCode, nil)
		return nil
	}

	buf := make([]byte, copyBufferBytes)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := out.write(buf[:n]); err != nil {
				// The caller went away; nothing left to tell it.
				logger.Info("caller disconnected during stream", zap.Error(err))
				p.metrics.ObserveStreamProxy(domain.StreamTransportErr)
				return nil
			}
		}
		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		code := http.StatusBadGateway
		message := fmt.Sprintf("Stream from provider interrupted: %v", readErr)
		if errors.Is(readErr, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			code = http.StatusGatewayTimeout
			message = "Timeout during streaming response from provider"
		}
		p.fail(logger, out, domain.StreamTransportErr, message, code, readErr)
		return nil
	}

	p.metrics.ObserveStreamProxy(domain.StreamCompleted)
	logger.Info("stream proxy finished",
		telemetry.DurationField(time.Since(start)),
		zap.Int64("bytes", out.written),
	)
	return nil
}

func (p *Proxy) fail(logger *zap.Logger, out *eventWriter, outcome domain.StreamOutcome, message string, code int, cause error) {
	p.metrics.ObserveStreamProxy(outcome)
	if cause != nil {
		logger.Error("stream proxy failed",
			telemetry.EventField(telemetry.EventStreamError),
			zap.Int("code", code),
			zap.Error(cause),
		)
	}
	if err := out.writeError(message, code); err != nil {
		logger.Debug("write terminal error event", zap.Error(err))
	}
}

// forceStream sets "stream": true on a JSON object body.
func forceStream(body []byte) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("%w: request body must be a JSON object", domain.ErrInvalidRequest)
		}
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	fields["stream"] = json.RawMessage("true")
	return json.Marshal(fields)
}
