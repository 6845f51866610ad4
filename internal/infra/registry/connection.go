package registry

import (
	"context"

	"computemesh/internal/domain"
)

// Connection is one registered transport bound to an identity. Its context is
// cancelled when the registry removes it for any reason.
type Connection struct {
	info      domain.ConnectionInfo
	transport domain.Transport
	ctx       context.Context
	cancel    context.CancelFunc
}

func (c *Connection) Identity() domain.Identity {
	return c.info.Identity
}

func (c *Connection) Role() domain.Role {
	return c.info.Role
}

func (c *Connection) Endpoint() string {
	return c.info.Endpoint
}

func (c *Connection) Info() domain.ConnectionInfo {
	return c.info
}

// Context is done once the connection is no longer registered.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Send writes one frame to the peer.
func (c *Connection) Send(ctx context.Context, frame []byte) error {
	return c.transport.WriteFrame(ctx, frame)
}

func (c *Connection) isProvider() bool {
	return c.info.Role == domain.RoleProvider
}
