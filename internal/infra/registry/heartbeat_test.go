package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"computemesh/internal/domain"
	"computemesh/internal/infra/correlate"
)

func TestHeartbeat_SendsPings(t *testing.T) {
	reg := New(Options{HeartbeatInterval: 10 * time.Millisecond})
	t.Cleanup(reg.Close)

	transport := newFakeTransport()
	_, err := reg.Register(provider("7", ""), transport)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return transport.frameCount() >= 2
	}, time.Second, 5*time.Millisecond)

	transport.mu.Lock()
	first := string(transport.frames[0])
	transport.mu.Unlock()
	require.JSONEq(t, `{"type":"ping"}`, first)
}

func TestHeartbeat_WriteFailureUnregisters(t *testing.T) {
	table := correlate.NewTable(correlate.TableOptions{})
	reg := New(Options{Pending: table, HeartbeatInterval: 10 * time.Millisecond})
	t.Cleanup(reg.Close)

	transport := newFakeTransport()
	transport.failWrites(errors.New("broken pipe"))
	_, err := reg.Register(provider("7", ""), transport)
	require.NoError(t, err)
	_, slot := table.Allocate("7")

	require.Eventually(t, func() bool {
		_, ok := reg.Lookup("7")
		return !ok
	}, time.Second, 5*time.Millisecond)

	select {
	case outcome := <-slot.Done():
		require.ErrorIs(t, outcome.Err, domain.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("pending command not cancelled after heartbeat failure")
	}
	require.Eventually(t, func() bool {
		reasons := transport.closeReasons()
		return len(reasons) == 1 && reasons[0] == domain.CloseHeartbeatFailed
	}, time.Second, 5*time.Millisecond)
}

func TestHeartbeat_ClosedTransportUnregisters(t *testing.T) {
	reg := New(Options{HeartbeatInterval: time.Hour})
	t.Cleanup(reg.Close)

	transport := newFakeTransport()
	_, err := reg.Register(provider("7", ""), transport)
	require.NoError(t, err)

	transport.once.Do(func() { close(transport.done) })

	require.Eventually(t, func() bool {
		_, ok := reg.Lookup("7")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestHeartbeat_SupersededMonitorLeavesReplacement(t *testing.T) {
	reg := New(Options{HeartbeatInterval: 10 * time.Millisecond})
	t.Cleanup(reg.Close)

	oldTransport := newFakeTransport()
	_, err := reg.Register(provider("7", ""), oldTransport)
	require.NoError(t, err)
	newTransport := newFakeTransport()
	newConn, err := reg.Register(provider("7", ""), newTransport)
	require.NoError(t, err)

	oldTransport.failWrites(errors.New("closed"))
	require.Eventually(t, func() bool {
		return newTransport.frameCount() >= 3
	}, time.Second, 5*time.Millisecond)

	current, ok := reg.Lookup("7")
	require.True(t, ok)
	require.Same(t, newConn, current)
}
