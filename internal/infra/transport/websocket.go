package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"computemesh/internal/domain"
)

const closeGracePeriod = time.Second

// WebSocket adapts a gorilla connection to domain.Transport. Writes are
// serialized; reads belong to the single read loop that owns the connection.
type WebSocket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func NewWebSocket(conn *websocket.Conn, writeTimeout time.Duration) *WebSocket {
	if writeTimeout <= 0 {
		writeTimeout = time.Duration(domain.DefaultWriteTimeoutSeconds) * time.Second
	}
	return &WebSocket{
		conn:         conn,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

// WriteFrame sends frame as one text message, bounded by the write timeout
// and ctx's deadline, whichever is earlier.
func (t *WebSocket) WriteFrame(ctx context.Context, frame []byte) error {
	select {
	case <-t.done:
		return domain.ErrTransportClosed
	default:
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	deadline := time.Now().Add(t.writeTimeout)
	if ctx != nil {
		if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

// ReadFrame blocks for the next data message.
func (t *WebSocket) ReadFrame() ([]byte, error) {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close sends a close frame carrying reason and tears down the socket. Only
// the first call has any effect.
func (t *WebSocket) Close(reason domain.CloseReason) error {
	err := domain.ErrTransportClosed
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(reason.Code, reason.Text),
			time.Now().Add(closeGracePeriod),
		)
		t.writeMu.Unlock()
		err = t.conn.Close()
		close(t.done)
	})
	return err
}

func (t *WebSocket) Done() <-chan struct{} {
	return t.done
}

var _ domain.Transport = (*WebSocket)(nil)
