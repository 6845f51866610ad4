package domain

import "time"

func secondsOr(seconds, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}

// HeartbeatInterval returns the per-connection probe interval, defaulting when unset.
func (c BrokerConfig) HeartbeatInterval() time.Duration {
	return secondsOr(c.HeartbeatIntervalSeconds, DefaultHeartbeatIntervalSeconds)
}

// WriteTimeout bounds a single frame write.
func (c BrokerConfig) WriteTimeout() time.Duration {
	return secondsOr(c.WriteTimeoutSeconds, DefaultWriteTimeoutSeconds)
}

// Status returns the deadline for short status queries.
func (t TimeoutConfig) Status() time.Duration {
	return secondsOr(t.StatusSeconds, DefaultStatusTimeoutSeconds)
}

// List returns the deadline for model listing.
func (t TimeoutConfig) List() time.Duration {
	return secondsOr(t.ListSeconds, DefaultListTimeoutSeconds)
}

// Command returns the deadline for direct commands.
func (t TimeoutConfig) Command() time.Duration {
	return secondsOr(t.CommandSeconds, DefaultCommandTimeoutSeconds)
}

// Broadcast returns the per-recipient deadline for broadcasts.
func (t TimeoutConfig) Broadcast() time.Duration {
	return secondsOr(t.BroadcastSeconds, DefaultBroadcastTimeoutSeconds)
}

// Pull returns the deadline for model pulls.
func (t TimeoutConfig) Pull() time.Duration {
	return secondsOr(t.PullSeconds, DefaultPullTimeoutSeconds)
}

// Stream returns the overall deadline for one proxied stream.
func (t TimeoutConfig) Stream() time.Duration {
	return secondsOr(t.StreamSeconds, DefaultStreamTimeoutSeconds)
}

// KeepaliveServerDuration returns the keepalive time duration for RPC servers.
func (c RPCConfig) KeepaliveServerDuration() time.Duration {
	if c.KeepaliveTimeSeconds <= 0 {
		return 0
	}
	return time.Duration(c.KeepaliveTimeSeconds) * time.Second
}

// KeepaliveServerTimeout returns the keepalive timeout duration for RPC servers.
func (c RPCConfig) KeepaliveServerTimeout() time.Duration {
	if c.KeepaliveTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.KeepaliveTimeoutSeconds) * time.Second
}
