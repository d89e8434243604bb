package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vango-dev/wspush/pkg/message"
	"github.com/vango-dev/wspush/pkg/registry"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type call struct {
	method string
	key    registry.Key
	msg    message.Message
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []call
	one   bool
	n     int
}

func (f *fakeBroadcaster) BroadcastOne(ctx context.Context, key registry.Key, msg message.Message) bool {
	f.record(call{"one", key, msg})
	return f.one
}

func (f *fakeBroadcaster) BroadcastSession(ctx context.Context, app, session string, msg message.Message) int {
	f.record(call{"session", registry.Key{App: app, Session: session}, msg})
	return f.n
}

func (f *fakeBroadcaster) BroadcastAll(ctx context.Context, app string, msg message.Message) int {
	f.record(call{"all", registry.Key{App: app}, msg})
	return f.n
}

func (f *fakeBroadcaster) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeBroadcaster) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func TestHandle_Routing(t *testing.T) {
	tests := []struct {
		name   string
		env    string
		method string
		key    registry.Key
	}{
		{"all", `{"app":"a","payload":1}`, "all", registry.Key{App: "a"}},
		{"session", `{"app":"a","session":"s","payload":1}`, "session", registry.Key{App: "a", Session: "s"}},
		{"one", `{"app":"a","session":"s","view":"v","payload":1}`, "one", registry.Key{App: "a", Session: "s", View: "v"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBroadcaster{one: true, n: 3}
			r := New(nil, b, WithLogger(quietLogger()))

			if _, err := r.Handle(context.Background(), []byte(tt.env)); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			calls := b.Calls()
			if len(calls) != 1 {
				t.Fatalf("calls = %d, want 1", len(calls))
			}
			if calls[0].method != tt.method || calls[0].key != tt.key {
				t.Errorf("call = %s %v, want %s %v", calls[0].method, calls[0].key, tt.method, tt.key)
			}
			if _, ok := calls[0].msg.(message.Push); !ok {
				t.Errorf("message = %T, want message.Push", calls[0].msg)
			}
		})
	}
}

func TestHandle_TaskCounts(t *testing.T) {
	b := &fakeBroadcaster{one: false, n: 4}
	r := New(nil, b, WithLogger(quietLogger()))

	n, err := r.Handle(context.Background(), []byte(`{"app":"a","payload":null}`))
	if err != nil || n != 4 {
		t.Errorf("Handle(all) = %d, %v; want 4, nil", n, err)
	}
	n, err = r.Handle(context.Background(), []byte(`{"app":"a","session":"s","view":"v","payload":null}`))
	if err != nil || n != 0 {
		t.Errorf("Handle(one, unregistered) = %d, %v; want 0, nil", n, err)
	}
}

func TestHandle_DecodesPayload(t *testing.T) {
	b := &fakeBroadcaster{}
	r := New(nil, b, WithLogger(quietLogger()))

	if _, err := r.Handle(context.Background(), []byte(`{"app":"a","payload":{"count":2}}`)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	push := b.Calls()[0].msg.(message.Push)
	m, ok := push.Payload.(map[string]any)
	if !ok || m["count"] != float64(2) {
		t.Errorf("payload = %#v, want map with count 2", push.Payload)
	}
}

func TestHandle_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `nope`},
		{"missing app", `{"payload":1}`},
		{"view without session", `{"app":"a","view":"v"}`},
		{"bad payload", `{"app":"a","payload":{]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBroadcaster{}
			r := New(nil, b, WithLogger(quietLogger()))
			if _, err := r.Handle(context.Background(), []byte(tt.data)); !errors.Is(err, ErrInvalidEnvelope) {
				t.Errorf("Handle() error = %v, want ErrInvalidEnvelope", err)
			}
			if len(b.Calls()) != 0 {
				t.Error("invalid envelope was broadcast")
			}
		})
	}
}

func TestEnvelope_JSONShape(t *testing.T) {
	env := Envelope{Origin: "n1", App: "a", Payload: json.RawMessage(`"x"`)}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if got := string(data); got != `{"origin":"n1","app":"a","payload":"x"}` {
		t.Errorf("json = %s", got)
	}
}

func TestNew_Defaults(t *testing.T) {
	r := New(nil, nil, WithLogger(quietLogger()))
	if r.Channel() != DefaultChannel {
		t.Errorf("Channel() = %q, want %q", r.Channel(), DefaultChannel)
	}
	if r.NodeID() == "" {
		t.Error("NodeID() is empty")
	}

	r = New(nil, nil, WithChannel("c"), WithNodeID("n"))
	if r.Channel() != "c" || r.NodeID() != "n" {
		t.Errorf("options not applied: %q %q", r.Channel(), r.NodeID())
	}
}

func TestPublish_RejectsInvalidEnvelope(t *testing.T) {
	r := New(nil, nil, WithLogger(quietLogger()))
	if err := r.Publish(context.Background(), Envelope{}); !errors.Is(err, ErrInvalidEnvelope) {
		t.Errorf("Publish() error = %v, want ErrInvalidEnvelope", err)
	}
}

// TestRelay_RoundTrip needs a Redis server; set WSPUSH_TEST_REDIS_URL to run it.
func TestRelay_RoundTrip(t *testing.T) {
	url := os.Getenv("WSPUSH_TEST_REDIS_URL")
	if url == "" {
		t.Skip("WSPUSH_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL() error = %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	b := &fakeBroadcaster{n: 1}
	r := New(client, b, WithChannel("wspush:test:"+time.Now().Format("150405.000")), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for len(b.Calls()) == 0 && time.Now().Before(deadline) {
		if err := r.PublishAll(ctx, "a", map[string]int{"n": 1}); err != nil {
			t.Fatalf("PublishAll() error = %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if len(b.Calls()) == 0 {
		t.Fatal("published envelope never arrived")
	}
}
