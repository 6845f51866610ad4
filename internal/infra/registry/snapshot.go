package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"computemesh/internal/domain"
	"computemesh/internal/infra/telemetry"
)

// ProviderSnapshot summarizes registry membership after a change.
type ProviderSnapshot struct {
	Providers   int
	Connections int
	// WithEndpoint counts providers that advertised a reachable endpoint.
	WithEndpoint int
}

// WatchProviders streams membership snapshots until ctx is done. The current
// snapshot is delivered immediately; slow readers only see the latest value.
func (r *Registry) WatchProviders(ctx context.Context) <-chan ProviderSnapshot {
	ch := make(chan ProviderSnapshot, 1)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	sendLatest(ch, r.snapshotLocked())
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.subs, ch)
		r.mu.Unlock()
	}()
	return ch
}

// Snapshot returns current membership counts.
func (r *Registry) Snapshot() ProviderSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() ProviderSnapshot {
	snapshot := ProviderSnapshot{
		Providers:   len(r.providers),
		Connections: len(r.conns),
	}
	for id := range r.providers {
		if conn := r.conns[id]; conn != nil && conn.Endpoint() != "" {
			snapshot.WithEndpoint++
		}
	}
	return snapshot
}

// publishLocked fans the current membership out to the gauges and every
// subscriber. Callers hold r.mu, so subscribers see changes in order.
func (r *Registry) publishLocked() {
	snapshot := r.snapshotLocked()
	r.metrics.SetConnections(domain.RoleProvider, snapshot.Providers)
	r.metrics.SetConnections(domain.RolePlain, snapshot.Connections-snapshot.Providers)
	for ch := range r.subs {
		sendLatest(ch, snapshot)
	}
}

// sendLatest replaces any unread value in ch. It never blocks while ch has a
// single writer.
func sendLatest(ch chan ProviderSnapshot, snapshot ProviderSnapshot) {
	for {
		select {
		case ch <- snapshot:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// StartReporter periodically logs membership and refreshes the connection
// gauges. It registers a health beat when a tracker is configured.
func (r *Registry) StartReporter(interval time.Duration) {
	if interval <= 0 {
		interval = r.heartbeatInterval
	}
	r.reporterMu.Lock()
	if r.reporterCancel != nil {
		r.reporterMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.reporterCancel = cancel
	r.reporterDone = done
	r.reporterMu.Unlock()

	var beat *telemetry.Heartbeat
	if r.health != nil {
		beat = r.health.Register("registry_reporter", interval*3)
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer beat.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				beat.Beat()
				snapshot := r.Snapshot()
				r.metrics.SetConnections(domain.RoleProvider, snapshot.Providers)
				r.metrics.SetConnections(domain.RolePlain, snapshot.Connections-snapshot.Providers)
				r.logger.Debug("registry membership",
					zap.Int("providers", snapshot.Providers),
					zap.Int("connections", snapshot.Connections),
					zap.Int("providers_with_endpoint", snapshot.WithEndpoint),
				)
			}
		}
	}()
}

// StopReporter ends the reporter loop.
func (r *Registry) StopReporter() {
	r.reporterMu.Lock()
	cancel := r.reporterCancel
	done := r.reporterDone
	r.reporterCancel = nil
	r.reporterDone = nil
	r.reporterMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
