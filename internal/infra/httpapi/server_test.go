package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"computemesh/internal/domain"
	"computemesh/internal/infra/correlate"
	"computemesh/internal/infra/dispatch"
	"computemesh/internal/infra/identity"
	"computemesh/internal/infra/registry"
	"computemesh/internal/infra/selector"
	"computemesh/internal/infra/streamproxy"
)

type wireCommand struct {
	CommandID string          `json:"command_id"`
	Method    string          `json:"method"`
	URL       string          `json:"url"`
	Data      json.RawMessage `json:"data"`
}

type fakePeer struct {
	mu      sync.Mutex
	got     []wireCommand
	respond func(wireCommand) (string, bool)
	deliver func([]byte)
	done    chan struct{}
	once    sync.Once
}

func (p *fakePeer) WriteFrame(_ context.Context, raw []byte) error {
	var cmd wireCommand
	if err := json.Unmarshal(raw, &cmd); err != nil || cmd.CommandID == "" {
		return nil
	}
	p.mu.Lock()
	p.got = append(p.got, cmd)
	p.mu.Unlock()
	if p.respond != nil {
		if reply, ok := p.respond(cmd); ok {
			go p.deliver([]byte(reply))
		}
	}
	return nil
}

func (p *fakePeer) Close(domain.CloseReason) error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *fakePeer) Done() <-chan struct{} { return p.done }

func (p *fakePeer) commands() []wireCommand {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]wireCommand(nil), p.got...)
}

func replyWith(result string) func(wireCommand) (string, bool) {
	return func(cmd wireCommand) (string, bool) {
		return fmt.Sprintf(`{"command_id":%q,"result":%s}`, cmd.CommandID, result), true
	}
}

type stack struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	store      *identity.Store
	server     *httptest.Server
	token      string
}

func newStack(t *testing.T, timeouts domain.TimeoutConfig) *stack {
	t.Helper()

	store, err := identity.OpenStore(filepath.Join(t.TempDir(), "ids.db"), identity.Options{Cost: bcrypt.MinCost})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	token, err := store.Add("caller", domain.RolePlain)
	require.NoError(t, err)

	table := correlate.NewTable(correlate.TableOptions{})
	reg := registry.New(registry.Options{Pending: table, HeartbeatInterval: time.Hour})
	t.Cleanup(reg.Close)
	sel := selector.New(reg)
	d := dispatch.New(reg, table, sel, dispatch.Options{})

	api := NewServer(Options{
		Authenticator: store,
		Dispatcher:    d,
		Streamer:      streamproxy.New(sel, streamproxy.Options{}),
		Membership:    reg,
		Directory:     store,
		Timeouts:      TimeoutsFunc(func() domain.TimeoutConfig { return timeouts }),
	})
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)

	return &stack{registry: reg, dispatcher: d, store: store, server: server, token: token}
}

func (s *stack) connect(t *testing.T, id domain.Identity, role domain.Role, endpoint string, respond func(wireCommand) (string, bool)) *fakePeer {
	t.Helper()
	_, err := s.store.Add(id, role)
	require.NoError(t, err)
	peer := &fakePeer{respond: respond, done: make(chan struct{})}
	peer.deliver = func(raw []byte) { s.dispatcher.HandleInboundFrame(id, raw) }
	_, err = s.registry.Register(domain.ConnectionInfo{Identity: id, Role: role, Endpoint: endpoint}, peer)
	require.NoError(t, err)
	return peer
}

func (s *stack) do(t *testing.T, method, path, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, s.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+s.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(raw)
}

func TestSendCommand_RelaysReply(t *testing.T) {
	s := newStack(t, domain.TimeoutConfig{})
	peer := s.connect(t, "gpu-1", domain.RoleProvider, "", replyWith(`{"ok":true}`))

	status, body := s.do(t, http.MethodPost, "/send-command/gpu-1", `{"method":"GET","url":"/health"}`)
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"message":"command delivered to gpu-1","response":{"ok":true}}`, body)

	cmds := peer.commands()
	require.Len(t, cmds, 1)
	require.Equal(t, "/health", cmds[0].URL)
}

func TestSendCommand_Unauthenticated(t *testing.T) {
	s := newStack(t, domain.TimeoutConfig{})

	resp, err := http.Post(s.server.URL+"/send-command/gpu-1", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))

	s.token = "caller.not-the-secret"
	status, _ := s.do(t, http.MethodPost, "/send-command/gpu-1", `{"method":"GET","url":"/"}`)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestSendCommand_UnknownAndDisconnected(t *testing.T) {
	s := newStack(t, domain.TimeoutConfig{})

	status, _ := s.do(t, http.MethodPost, "/send-command/ghost", `{"method":"GET","url":"/"}`)
	require.Equal(t, http.StatusNotFound, status)

	_, err := s.store.Add("offline", domain.RoleProvider)
	require.NoError(t, err)
	status, body := s.do(t, http.MethodPost, "/send-command/offline", `{"method":"GET","url":"/"}`)
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Contains(t, body, string(domain.CodeUnavailable))
}

func TestSendCommand_InvalidBody(t *testing.T) {
	s := newStack(t, domain.TimeoutConfig{})
	s.connect(t, "gpu-1", domain.RoleProvider, "", replyWith(`{}`))

	status, _ := s.do(t, http.MethodPost, "/send-command/gpu-1", `not json`)
	require.Equal(t, http.StatusBadRequest, status)
	status, _ = s.do(t, http.MethodPost, "/send-command/gpu-1", `{"method":"GET"}`)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestSendCommand_ProviderErrorIsBadGateway(t *testing.T) {
	s := newStack(t, domain.TimeoutConfig{})
	s.connect(t, "gpu-1", domain.RoleProvider, "", replyWith(`{"error":"disk full"}`))

	status, body := s.do(t, http.MethodPost, "/send-command/gpu-1", `{"method":"POST","url":"/v1/models/pull"}`)
	require.Equal(t, http.StatusBadGateway, status)
	require.Contains(t, body, "disk full")
}

func TestSendCommand_TimeoutIsGatewayTimeout(t *testing.T) {
	s := newStack(t, domain.TimeoutConfig{CommandSeconds: 1})
	s.connect(t, "gpu-1", domain.RoleProvider, "", nil)

	status, _ := s.do(t, http.MethodPost, "/send-command/gpu-1", `{"method":"GET","url":"/slow"}`)
	require.Equal(t, http.StatusGatewayTimeout, status)
}

func TestBroadcast_ProvidersOnly(t *testing.T) {
	s := newStack(t, domain.TimeoutConfig{BroadcastSeconds: 1})
	s.connect(t, "gpu-1", domain.RoleProvider, "", replyWith(`"pong-1"`))
	s.connect(t, "gpu-2", domain.RoleProvider, "", nil)
	plain := s.connect(t, "laptop", domain.RolePlain, "", replyWith(`"never"`))

	status, body := s.do(t, http.MethodPost, "/broadcast-command?audience=providers", `{"method":"GET","url":"/ping"}`)
	require.Equal(t, http.StatusOK, status)

	var resp struct {
		Audience string                     `json:"audience"`
		Results  map[string]json.RawMessage `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	require.Equal(t, "providers", resp.Audience)
	require.Len(t, resp.Results, 2)
	require.JSONEq(t, `"pong-1"`, string(resp.Results["gpu-1"]))
	require.Contains(t, string(resp.Results["gpu-2"]), "error")
	require.Empty(t, plain.commands())

	status, _ = s.do(t, http.MethodPost, "/broadcast-command?audience=everyone", `{"method":"GET","url":"/ping"}`)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestListModels(t *testing.T) {
	s := newStack(t, domain.TimeoutConfig{})

	status, _ := s.do(t, http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusServiceUnavailable, status)

	s.connect(t, "gpu-1", domain.RoleProvider, "", replyWith(`{"object":"list","data":[{"id":"llama"}]}`))
	status, body := s.do(t, http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"data":[{"id":"llama"}],"provider_id":"gpu-1"}`, body)

	status, body = s.do(t, http.MethodGet, "/v1/models/status", "")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, `"provider_id":"gpu-1"`)
}

func TestListModels_UnexpectedShape(t *testing.T) {
	s := newStack(t, domain.TimeoutConfig{})
	s.connect(t, "gpu-1", domain.RoleProvider, "", replyWith(`{"data":"nope"}`))

	status, body := s.do(t, http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"data":[],"provider_id":"gpu-1"}`, body)
}

func TestPullModel(t *testing.T) {
	s := newStack(t, domain.TimeoutConfig{})
	peer := s.connect(t, "gpu-1", domain.RoleProvider, "", replyWith(`{"status":"pulling"}`))

	status, body := s.do(t, http.MethodPost, "/v1/models/pull",
		`{"model":"https://huggingface.co/TheBloke/Mistral-GGUF/blob/main/mistral.Q4.gguf"}`)
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"status":"pulling"}`, body)

	cmds := peer.commands()
	require.Len(t, cmds, 1)
	require.Equal(t, http.MethodPost, cmds[0].Method)
	require.Equal(t, "/v1/models/pull", cmds[0].URL)
	require.JSONEq(t, `{"model":"TheBloke:Mistral-GGUF:mistral.Q4.gguf"}`, string(cmds[0].Data))

	status, _ = s.do(t, http.MethodPost, "/v1/models/pull", `{"model":"llama"}`)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestChatCompletions_Streams(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"stream":true`)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[]}\n\ndata: [DONE]\n\n")
	}))
	defer upstream.Close()

	s := newStack(t, domain.TimeoutConfig{})
	status, _ := s.do(t, http.MethodPost, "/v1/chat/completions", `{"model":"llama","messages":[]}`)
	require.Equal(t, http.StatusServiceUnavailable, status)

	s.connect(t, "gpu-1", domain.RoleProvider, upstream.URL, nil)
	status, body := s.do(t, http.MethodPost, "/v1/chat/completions", `{"model":"llama","messages":[]}`)
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, `data: {"choices":[]}`)
	require.Contains(t, body, "data: [DONE]")
}

func TestPublicStats(t *testing.T) {
	s := newStack(t, domain.TimeoutConfig{})
	s.connect(t, "gpu-1", domain.RoleProvider, "", nil)
	s.connect(t, "laptop", domain.RolePlain, "", nil)

	resp, err := http.Get(s.server.URL + "/public-stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"active_nodes":1,"connected":2}`, string(raw))
}

func TestRequestIDEchoed(t *testing.T) {
	s := newStack(t, domain.TimeoutConfig{})
	req, err := http.NewRequest(http.MethodGet, s.server.URL+"/public-stats", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
}
