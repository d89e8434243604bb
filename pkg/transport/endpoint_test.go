package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/wspush/pkg/event"
	"github.com/vango-dev/wspush/pkg/message"
	"github.com/vango-dev/wspush/pkg/push"
	"github.com/vango-dev/wspush/pkg/pushtest"
	"github.com/vango-dev/wspush/pkg/registry"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	server   *httptest.Server
	registry *registry.Registry
	sessions *pushtest.Sessions
	view     *pushtest.View

	mu    sync.Mutex
	kinds []message.Kind
}

func newHarness(t *testing.T, config Config) *harness {
	t.Helper()

	h := &harness{
		registry: registry.New(),
		sessions: pushtest.NewSessions(),
		view:     pushtest.NewView("view1"),
	}
	h.sessions.Add("sess1", h.view, pushtest.NewView(registry.ResourceView("feed")))
	h.view.OnDeliver = func(ctx context.Context, p *event.Payload) error {
		h.mu.Lock()
		h.kinds = append(h.kinds, p.Kind())
		h.mu.Unlock()

		if text, ok := p.Text(); ok {
			return p.Responder().WriteText("echo:" + text)
		}
		if data, ok := p.Binary(); ok {
			return p.Responder().WriteBinary(data)
		}
		return nil
	}

	pconfig := push.DefaultProcessorConfig()
	pconfig.Logger = quietLogger()
	processor := push.NewProcessor(push.NewDirectory(&push.Application{ID: "app", Sessions: h.sessions}), pconfig)

	if config.App == "" && config.AppFunc == nil {
		config.App = "app"
	}
	endpoint := NewEndpoint(h.registry, processor, config, WithLogger(quietLogger()))
	h.server = httptest.NewServer(endpoint)
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) url(query string) string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + "/?" + query
}

func (h *harness) Kinds() []message.Kind {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]message.Kind(nil), h.kinds...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Dial() error = %v (status %d)", err, status)
	}
	return ws
}

func TestEndpoint_EchoRoundTrip(t *testing.T) {
	h := newHarness(t, Config{})
	ws := dial(t, h.url("session=sess1&view=view1"), nil)
	defer ws.Close()

	key := registry.Key{App: "app", Session: "sess1", View: "view1"}
	waitFor(t, "registration", func() bool { return h.registry.Get(key) != nil })

	if err := ws.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if mt != websocket.TextMessage || string(data) != "echo:ping" {
		t.Errorf("reply = %d %q, want text echo:ping", mt, data)
	}

	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	mt, data, err = ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if mt != websocket.BinaryMessage || string(data) != "\x01\x02\x03" {
		t.Errorf("reply = %d %v, want binary [1 2 3]", mt, data)
	}
}

func TestEndpoint_LifecycleDispatches(t *testing.T) {
	h := newHarness(t, Config{})
	ws := dial(t, h.url("session=sess1&view=view1"), nil)

	key := registry.Key{App: "app", Session: "sess1", View: "view1"}
	waitFor(t, "registration", func() bool { return h.registry.Get(key) != nil })

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	ws.Close()

	waitFor(t, "deregistration", func() bool { return h.registry.Get(key) == nil })

	kinds := h.Kinds()
	if len(kinds) != 2 || kinds[0] != message.KindConnected || kinds[1] != message.KindClosed {
		t.Fatalf("kinds = %v, want [connected closed]", kinds)
	}

	payloads := h.view.Payloads()
	closed, ok := payloads[len(payloads)-1].Message().(message.Closed)
	if !ok {
		t.Fatalf("last message = %T, want message.Closed", payloads[len(payloads)-1].Message())
	}
	if closed.Code != websocket.CloseNormalClosure || closed.Reason != "bye" {
		t.Errorf("Closed = %+v, want code 1000 reason bye", closed)
	}
}

func TestEndpoint_ClosedReportsReservedCodes(t *testing.T) {
	tests := []struct {
		name  string
		close func(ws *websocket.Conn)
		want  int
	}{
		{
			name: "close frame without status",
			close: func(ws *websocket.Conn) {
				_ = ws.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(time.Second))
				ws.Close()
			},
			want: websocket.CloseNoStatusReceived,
		},
		{
			name: "dropped connection",
			close: func(ws *websocket.Conn) {
				ws.UnderlyingConn().Close()
			},
			want: websocket.CloseAbnormalClosure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			ws := dial(t, h.url("session=sess1&view=view1"), nil)

			key := registry.Key{App: "app", Session: "sess1", View: "view1"}
			waitFor(t, "registration", func() bool { return h.registry.Get(key) != nil })

			tt.close(ws)
			waitFor(t, "deregistration", func() bool { return h.registry.Get(key) == nil })

			payloads := h.view.Payloads()
			closed, ok := payloads[len(payloads)-1].Message().(message.Closed)
			if !ok {
				t.Fatalf("last message = %T, want message.Closed", payloads[len(payloads)-1].Message())
			}
			if closed.Code != tt.want {
				t.Errorf("Closed.Code = %d, want %d", closed.Code, tt.want)
			}
		})
	}
}

func TestEndpoint_SessionFromCookie(t *testing.T) {
	h := newHarness(t, Config{SessionCookie: "sid"})
	header := http.Header{}
	header.Set("Cookie", "sid=sess1")
	ws := dial(t, h.url("view=view1"), header)
	defer ws.Close()

	key := registry.Key{App: "app", Session: "sess1", View: "view1"}
	waitFor(t, "registration", func() bool { return h.registry.Get(key) != nil })
}

func TestEndpoint_ResourceTarget(t *testing.T) {
	h := newHarness(t, Config{})
	ws := dial(t, h.url("session=sess1&resource=feed"), nil)
	defer ws.Close()

	key := registry.Key{App: "app", Session: "sess1", View: "resource:feed"}
	waitFor(t, "registration", func() bool { return h.registry.Get(key) != nil })
}

func TestEndpoint_BadRequests(t *testing.T) {
	h := newHarness(t, Config{})

	tests := []struct {
		name  string
		query string
	}{
		{"no view or resource", "session=sess1"},
		{"no session", "view=view1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(h.url(tt.query), nil)
			if err == nil {
				t.Fatal("Dial() succeeded, want handshake failure")
			}
			if resp == nil || resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("response = %v, want 400", resp)
			}
		})
	}
	if got := h.registry.Len(); got != 0 {
		t.Errorf("registry Len() = %d, want 0", got)
	}
}

func TestEndpoint_UnknownSessionClosesConnection(t *testing.T) {
	h := newHarness(t, Config{})
	ws := dial(t, h.url("session=nobody&view=view1"), nil)
	defer ws.Close()

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()

	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("ReadMessage() error = %v, want close 1008", err)
	}
	if got := h.registry.Len(); got != 0 {
		t.Errorf("registry Len() = %d, want 0", got)
	}
}

func TestEndpoint_OriginFilter(t *testing.T) {
	h := newHarness(t, Config{AllowedOrigins: []string{"https://good.example"}})

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(h.url("session=sess1&view=view1"), header)
	if err == nil {
		t.Fatal("Dial() from disallowed origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %v, want 403", resp)
	}

	header.Set("Origin", "https://good.example")
	ws := dial(t, h.url("session=sess1&view=view1"), header)
	ws.Close()
}

func TestEndpoint_ReplacedRegistrationSurvivesOldClose(t *testing.T) {
	h := newHarness(t, Config{})
	key := registry.Key{App: "app", Session: "sess1", View: "view1"}

	first := dial(t, h.url("session=sess1&view=view1"), nil)
	waitFor(t, "first registration", func() bool { return h.registry.Get(key) != nil })
	firstHandle := h.registry.Get(key)

	second := dial(t, h.url("session=sess1&view=view1"), nil)
	defer second.Close()
	waitFor(t, "second registration", func() bool {
		cur := h.registry.Get(key)
		return cur != nil && cur != firstHandle
	})
	secondHandle := h.registry.Get(key)

	first.Close()
	waitFor(t, "first handle closed", func() bool { return !firstHandle.IsOpen() })

	if h.registry.Get(key) != secondHandle {
		t.Error("closing the old connection removed the new registration")
	}
}

func TestEndpoint_AppFromRequest(t *testing.T) {
	h := newHarness(t, Config{AppFunc: func(r *http.Request) string { return r.URL.Query().Get("app") }})
	ws := dial(t, h.url("app=app&session=sess1&view=view1"), nil)
	defer ws.Close()

	key := registry.Key{App: "app", Session: "sess1", View: "view1"}
	waitFor(t, "registration", func() bool { return h.registry.Get(key) != nil })
}

func TestSameOriginCheck(t *testing.T) {
	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "example.com", true},
		{"https://example.com", "example.com", true},
		{"https://other.com", "example.com", false},
		{"https://example.com:8443", "example.com", false},
		{"://bad", "example.com", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Host = tt.host
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := SameOriginCheck(r); got != tt.want {
			t.Errorf("SameOriginCheck(origin=%q, host=%q) = %v, want %v", tt.origin, tt.host, got, tt.want)
		}
	}
}

func TestOriginCheck_Wildcard(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://anything.example")
	if !OriginCheck([]string{"*"})(r) {
		t.Error("wildcard origin list rejected a request")
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	c := Config{ReadTimeout: 10 * time.Second, PingInterval: 20 * time.Second}.withDefaults()
	if c.PingInterval >= c.ReadTimeout {
		t.Errorf("PingInterval %v not below ReadTimeout %v", c.PingInterval, c.ReadTimeout)
	}
	if c.SessionCookie != "wspush_session" || c.MaxMessageSize != 64*1024 || c.CheckOrigin == nil {
		t.Errorf("defaults not applied: %+v", c)
	}
}
