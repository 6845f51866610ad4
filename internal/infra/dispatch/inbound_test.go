package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"computemesh/internal/domain"
	"computemesh/internal/infra/correlate"
	"computemesh/internal/infra/registry"
	"computemesh/internal/infra/selector"
)

func TestHandleInboundFrame_UnknownIDIsLogged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	table := correlate.NewTable(correlate.TableOptions{Logger: zap.New(core)})
	reg := registry.New(registry.Options{Pending: table, HeartbeatInterval: time.Hour})
	t.Cleanup(reg.Close)
	d := New(reg, table, selector.New(reg), Options{Logger: zap.New(core)})

	pendingID, slot := table.Allocate("7")

	require.NotPanics(t, func() {
		d.HandleInboundFrame("7", []byte(`{"command_id":"abc","result":{"ok":true}}`))
	})

	require.True(t, table.Has(pendingID))
	select {
	case <-slot.Done():
		t.Fatal("unrelated waiter affected")
	default:
	}
	require.Equal(t, 1, logs.FilterField(zap.String("event", "unknown_reply")).Len())
}

func TestHandleInboundFrame_DropsBadFrames(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	table := correlate.NewTable(correlate.TableOptions{})
	d := New(nil, table, nil, Options{Logger: zap.New(core)})
	id, slot := table.Allocate("7")

	frames := []string{
		`not json`,
		`{"type":"pong"}`,
		`{"result":{"ok":true}}`,
		`{"command_id":null,"result":1}`,
		`{"command_id":{"nested":true}}`,
		``,
	}
	for _, raw := range frames {
		require.NotPanics(t, func() { d.HandleInboundFrame("7", []byte(raw)) })
	}

	require.True(t, table.Has(id))
	select {
	case <-slot.Done():
		t.Fatal("waiter resolved by a bad frame")
	default:
	}
	require.Equal(t, 5, logs.FilterField(zap.String("event", "malformed_frame")).Len())
}

func TestHandleInboundFrame_ResolvesNumericID(t *testing.T) {
	table := correlate.NewTable(correlate.TableOptions{NewID: func() string { return "42" }})
	d := New(nil, table, nil, Options{})
	_, slot := table.Allocate("7")

	d.HandleInboundFrame("7", []byte(`{"command_id":42,"error":{"message":"oom"}}`))

	select {
	case outcome := <-slot.Done():
		require.NoError(t, outcome.Err)
		require.EqualError(t, outcome.Reply.ProviderError(), "provider 7 error: oom")
	case <-time.After(time.Second):
		t.Fatal("numeric command id not resolved")
	}
}

func TestHandleInboundFrame_PongDuringCommand(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "7", domain.RoleProvider, func(frame commandFrame) (string, bool) {
		return `{"type":"pong"}`, true
	})

	_, err := h.dispatcher.SendCommand(context.Background(), "7", listModels, 50*time.Millisecond)
	require.ErrorIs(t, err, domain.ErrTimeout)
}
