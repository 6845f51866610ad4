package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"computemesh/internal/domain"
	"computemesh/internal/infra/registry"
)

func TestBroadcastCommand_IsolatesSlowRecipient(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "a", domain.RoleProvider, echoResult(`"a"`))
	h.connect(t, "b", domain.RoleProvider, silent)
	h.connect(t, "c", domain.RolePlain, echoResult(`"c"`))

	start := time.Now()
	results, err := h.dispatcher.BroadcastCommand(context.Background(), listModels, 100*time.Millisecond, AudienceAll)
	require.NoError(t, err)
	require.Less(t, time.Since(start), time.Second)

	require.Len(t, results, 3)
	require.NoError(t, results["a"].Err)
	require.JSONEq(t, `"a"`, string(results["a"].Reply.Body()))
	require.ErrorIs(t, results["b"].Err, domain.ErrTimeout)
	require.NoError(t, results["c"].Err)
	require.Zero(t, h.table.Len())
}

func TestBroadcastCommand_SilentFleetFinishesWithinOneTimeout(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		h.connect(t, id, domain.RoleProvider, silent)
	}

	const timeout = 200 * time.Millisecond
	start := time.Now()
	results, err := h.dispatcher.BroadcastCommand(context.Background(), listModels, timeout, AudienceAll)
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.Less(t, elapsed, 2*timeout)

	require.Len(t, results, 6)
	for id, result := range results {
		require.ErrorIs(t, result.Err, domain.ErrTimeout, string(id))
	}
	require.Zero(t, h.table.Len())
}

// vanishingConnections lists an identity that is already gone by lookup time.
type vanishingConnections struct {
	*registry.Registry
	gone domain.Identity
}

func (c vanishingConnections) ListConnected() []domain.Identity {
	return append(c.Registry.ListConnected(), c.gone)
}

func TestBroadcastCommand_RecipientGoneBeforeSend(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "a", domain.RoleProvider, echoResult(`"a"`))
	h.connect(t, "b", domain.RolePlain, echoResult(`"b"`))

	d := New(vanishingConnections{Registry: h.registry, gone: "ghost"}, h.table, nil, Options{})
	results, err := d.BroadcastCommand(context.Background(), listModels, time.Second, AudienceAll)
	require.NoError(t, err)

	require.Len(t, results, 3)
	require.NoError(t, results["a"].Err)
	require.NoError(t, results["b"].Err)
	require.ErrorIs(t, results["ghost"].Err, domain.ErrNotConnected)
	require.Zero(t, h.table.Len())
}

func TestBroadcastCommand_ProvidersAudience(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "a", domain.RoleProvider, echoResult(`1`))
	h.connect(t, "c", domain.RolePlain, echoResult(`2`))

	results, err := h.dispatcher.BroadcastCommand(context.Background(), listModels, time.Second, AudienceProviders)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Contains(t, results, domain.Identity("a"))
}

func TestBroadcastCommand_Empty(t *testing.T) {
	h := newHarness(t)
	results, err := h.dispatcher.BroadcastCommand(context.Background(), listModels, time.Second, AudienceAll)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestBroadcastCommand_UnknownAudience(t *testing.T) {
	h := newHarness(t)
	_, err := h.dispatcher.BroadcastCommand(context.Background(), listModels, time.Second, Audience("everyone"))
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestParseAudience(t *testing.T) {
	audience, err := ParseAudience("")
	require.NoError(t, err)
	require.Equal(t, AudienceAll, audience)

	audience, err = ParseAudience(" Providers ")
	require.NoError(t, err)
	require.Equal(t, AudienceProviders, audience)

	_, err = ParseAudience("nobody")
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}
