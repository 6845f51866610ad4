package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"computemesh/internal/domain"
	"computemesh/internal/infra/telemetry"
)

// Audience selects the recipients of a broadcast.
type Audience string

const (
	// AudienceAll targets every connected identity regardless of role.
	AudienceAll Audience = "all"
	// AudienceProviders targets only identities registered as providers.
	AudienceProviders Audience = "providers"
)

// ParseAudience normalizes an audience name; empty means AudienceAll.
func ParseAudience(value string) (Audience, error) {
	switch Audience(strings.ToLower(strings.TrimSpace(value))) {
	case "", AudienceAll:
		return AudienceAll, nil
	case AudienceProviders:
		return AudienceProviders, nil
	default:
		return "", fmt.Errorf("%w: unknown audience %q", domain.ErrInvalidRequest, value)
	}
}

// BroadcastResult is one recipient's outcome.
type BroadcastResult struct {
	Reply domain.Reply
	Err   error
}

// BroadcastCommand sends cmd to a snapshot of the audience and waits for every
// recipient independently. Each entry is bounded by perRecipientTimeout and
// one recipient's failure never affects another entry.
func (d *Dispatcher) BroadcastCommand(ctx context.Context, cmd domain.Command, perRecipientTimeout time.Duration, audience Audience) (map[domain.Identity]BroadcastResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cmd.Validate(); err != nil {
		return nil, opError("dispatch.BroadcastCommand", err)
	}
	if perRecipientTimeout <= 0 {
		perRecipientTimeout = time.Duration(domain.DefaultBroadcastTimeoutSeconds) * time.Second
	}

	var recipients []domain.Identity
	switch audience {
	case AudienceProviders:
		recipients = d.conns.ListProviders()
	case AudienceAll, "":
		recipients = d.conns.ListConnected()
	default:
		return nil, opError("dispatch.BroadcastCommand", fmt.Errorf("%w: unknown audience %q", domain.ErrInvalidRequest, audience))
	}

	logger := telemetry.LoggerWithRequest(ctx, d.logger)
	logger.Info("broadcasting command",
		telemetry.EventField(telemetry.EventBroadcast),
		zap.String("url", cmd.URL),
		zap.String("audience", string(audience)),
		zap.Int("recipients", len(recipients)),
	)

	results := make(map[domain.Identity]BroadcastResult, len(recipients))
	var mu sync.Mutex

	// Every recipient starts at once so each entry's deadline runs from the
	// broadcast start. Workers never return an error.
	var group errgroup.Group
	for _, id := range recipients {
		group.Go(func() error {
			reply, err := d.SendCommand(ctx, id, cmd, perRecipientTimeout)
			mu.Lock()
			results[id] = BroadcastResult{Reply: reply, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
		}
	}
	logger.Info("broadcast finished",
		telemetry.EventField(telemetry.EventBroadcast),
		zap.Int("recipients", len(recipients)),
		zap.Int("failed", failed),
	)
	return results, nil
}
