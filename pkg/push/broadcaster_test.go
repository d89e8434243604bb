package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/wspush/pkg/conn"
	"github.com/vango-dev/wspush/pkg/event"
	"github.com/vango-dev/wspush/pkg/message"
	"github.com/vango-dev/wspush/pkg/pushtest"
	"github.com/vango-dev/wspush/pkg/registry"
	"github.com/vango-dev/wspush/pkg/view"
)

// recordingDispatcher records targets and fails or panics on chosen views.
type recordingDispatcher struct {
	mu      sync.Mutex
	keys    []registry.Key
	ctxErrs []error
	fail    map[string]error
	panics  map[string]bool
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, key registry.Key, h conn.Handle, msg message.Message) error {
	d.mu.Lock()
	d.keys = append(d.keys, key)
	d.ctxErrs = append(d.ctxErrs, ctx.Err())
	err := d.fail[key.View]
	boom := d.panics[key.View]
	d.mu.Unlock()

	if boom {
		panic("dispatch panic for " + key.View)
	}
	return err
}

func (d *recordingDispatcher) Keys() []registry.Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]registry.Key(nil), d.keys...)
}

func TestBroadcastOne_Unregistered(t *testing.T) {
	reg := registry.New()
	exec := &pushtest.Executor{}
	d := &recordingDispatcher{}
	b := NewBroadcaster(reg, d, WithExecutor(exec), WithLogger(quietLogger()))

	key := registry.Key{App: "app", Session: "s", View: "v"}
	if b.BroadcastOne(context.Background(), key, message.Push{Payload: 1}) {
		t.Error("BroadcastOne() = true for unregistered key")
	}
	if got := exec.Submitted(); got != 0 {
		t.Errorf("submitted = %d, want 0", got)
	}
}

func TestBroadcastOne_Registered(t *testing.T) {
	reg := registry.New()
	key := registry.Key{App: "app", Session: "s", View: "v"}
	reg.Set(key, pushtest.NewHandle("c"))

	exec := &pushtest.Executor{}
	d := &recordingDispatcher{}
	b := NewBroadcaster(reg, d, WithExecutor(exec), WithLogger(quietLogger()))

	if !b.BroadcastOne(context.Background(), key, message.Push{Payload: 1}) {
		t.Fatal("BroadcastOne() = false for registered key")
	}
	if got := d.Keys(); len(got) != 1 || got[0] != key {
		t.Errorf("dispatched keys = %v, want [%v]", got, key)
	}
}

func TestBroadcastAll_OneTaskPerConnection(t *testing.T) {
	reg := registry.New()
	for i := 0; i < 4; i++ {
		reg.Set(registry.Key{App: "app", Session: "s", View: fmt.Sprintf("v%d", i)}, pushtest.NewHandle(fmt.Sprint(i)))
	}
	reg.Set(registry.Key{App: "other", Session: "s", View: "v"}, pushtest.NewHandle("x"))

	exec := &pushtest.Executor{Hold: true}
	d := &recordingDispatcher{}
	b := NewBroadcaster(reg, d, WithExecutor(exec), WithLogger(quietLogger()))

	n := b.BroadcastAll(context.Background(), "app", message.Push{Payload: "tick"})
	if n != 4 {
		t.Errorf("BroadcastAll() = %d, want 4", n)
	}
	if got := exec.Submitted(); got != 4 {
		t.Errorf("submitted = %d, want 4", got)
	}
	if got := len(d.Keys()); got != 0 {
		t.Errorf("dispatched before run = %d, want 0", got)
	}

	exec.RunAll()
	for _, k := range d.Keys() {
		if k.App != "app" {
			t.Errorf("dispatched to foreign app %q", k.App)
		}
	}
	if got := len(d.Keys()); got != 4 {
		t.Errorf("dispatched = %d, want 4", got)
	}
}

func TestBroadcastAll_FailureIsolation(t *testing.T) {
	reg := registry.New()
	for i := 1; i <= 5; i++ {
		reg.Set(registry.Key{App: "app", Session: "s", View: fmt.Sprintf("v%d", i)}, pushtest.NewHandle(fmt.Sprint(i)))
	}

	d := &recordingDispatcher{
		fail:   map[string]error{"v3": errors.New("task 3 failed")},
		panics: map[string]bool{"v4": true},
	}
	b := NewBroadcaster(reg, d, WithLogger(quietLogger()))

	if n := b.BroadcastAll(context.Background(), "app", message.Push{Payload: 1}); n != 5 {
		t.Errorf("BroadcastAll() = %d, want 5", n)
	}
	if got := len(d.Keys()); got != 5 {
		t.Errorf("dispatched = %d, want 5", got)
	}
}

func TestBroadcastSession(t *testing.T) {
	reg := registry.New()
	reg.Set(registry.Key{App: "app", Session: "s1", View: "a"}, pushtest.NewHandle("1"))
	reg.Set(registry.Key{App: "app", Session: "s1", View: "b"}, pushtest.NewHandle("2"))
	reg.Set(registry.Key{App: "app", Session: "s2", View: "a"}, pushtest.NewHandle("3"))

	d := &recordingDispatcher{}
	b := NewBroadcaster(reg, d, WithLogger(quietLogger()))

	if n := b.BroadcastSession(context.Background(), "app", "s1", message.Push{Payload: 1}); n != 2 {
		t.Errorf("BroadcastSession() = %d, want 2", n)
	}
	for _, k := range d.Keys() {
		if k.Session != "s1" {
			t.Errorf("dispatched to session %q", k.Session)
		}
	}
}

func TestBroadcast_TasksOutliveProducerContext(t *testing.T) {
	reg := registry.New()
	reg.Set(registry.Key{App: "app", Session: "s", View: "v"}, pushtest.NewHandle("c"))

	exec := &pushtest.Executor{Hold: true}
	d := &recordingDispatcher{}
	b := NewBroadcaster(reg, d, WithExecutor(exec), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	b.BroadcastAll(ctx, "app", message.Push{Payload: 1})
	cancel()
	exec.RunAll()

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.ctxErrs) != 1 || d.ctxErrs[0] != nil {
		t.Errorf("task context errors = %v, want [nil]", d.ctxErrs)
	}
}

func TestBroadcast_RejectedTasksNotCounted(t *testing.T) {
	reg := registry.New()
	reg.Set(registry.Key{App: "app", Session: "s", View: "v"}, pushtest.NewHandle("c"))

	exec := &pushtest.Executor{Reject: ErrExecutorClosed}
	b := NewBroadcaster(reg, &recordingDispatcher{}, WithExecutor(exec), WithLogger(quietLogger()))

	if n := b.BroadcastAll(context.Background(), "app", message.Push{Payload: 1}); n != 0 {
		t.Errorf("BroadcastAll() = %d, want 0", n)
	}
}

func TestBroadcast_EndToEndThroughProcessor(t *testing.T) {
	f := newFixture(t)
	f.view.OnDeliver = func(ctx context.Context, p *event.Payload) error {
		v, ok := p.Push()
		if !ok {
			return errors.New("not a push")
		}
		return p.Responder().WriteText(fmt.Sprint(v))
	}

	reg := registry.New()
	reg.Set(f.key, f.handle)
	pool := NewPool(2, quietLogger())
	b := NewBroadcaster(reg, f.processor, WithExecutor(pool), WithLogger(quietLogger()))

	if !b.BroadcastOne(context.Background(), f.key, message.Push{Payload: "hello"}) {
		t.Fatal("BroadcastOne() = false")
	}
	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("pool Close() error = %v", err)
	}

	if got := f.handle.Texts(); len(got) != 1 || got[0] != "hello" {
		t.Errorf("texts = %v, want [hello]", got)
	}
	if got := f.session.Commits(); got != 1 {
		t.Errorf("commits = %d, want 1", got)
	}
}

func TestBroadcast_SnapshotIgnoresLaterRegistrations(t *testing.T) {
	reg := registry.New()
	reg.Set(registry.Key{App: "app", Session: "s", View: "v1"}, pushtest.NewHandle("1"))

	exec := &pushtest.Executor{Hold: true}
	d := &recordingDispatcher{}
	b := NewBroadcaster(reg, d, WithExecutor(exec), WithLogger(quietLogger()))

	n := b.BroadcastAll(context.Background(), "app", message.Push{Payload: 1})
	reg.Set(registry.Key{App: "app", Session: "s", View: "v2"}, pushtest.NewHandle("2"))
	exec.RunAll()

	if n != 1 || len(d.Keys()) != 1 {
		t.Errorf("BroadcastAll() = %d, dispatched %d; want 1, 1", n, len(d.Keys()))
	}
}

func TestBroadcast_ListenerBroadcastsToOwnView(t *testing.T) {
	f := newFixture(t)
	reg := registry.New()
	reg.Set(f.key, f.handle)

	var b *Broadcaster
	tree := view.New(f.key.View, view.NewNode("root", view.ListenerFunc(func(ctx context.Context, p *event.Payload) error {
		switch m := p.Message().(type) {
		case message.Text:
			b.BroadcastAll(ctx, f.key.App, message.Push{Payload: m.Text})
		case message.Push:
			return p.Responder().WriteText(fmt.Sprint("pushed ", m.Payload))
		}
		return nil
	})))
	f.session.AddView(tree)
	b = NewBroadcaster(reg, f.processor, WithLogger(quietLogger()))

	done := make(chan error, 1)
	go func() {
		done <- f.processor.Dispatch(context.Background(), f.key, f.handle, message.Text{Text: "hi"})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch blocked on a broadcast back into its own view")
	}

	if got := f.handle.Texts(); len(got) != 1 || got[0] != "pushed hi" {
		t.Errorf("texts = %v, want [pushed hi]", got)
	}
	if got := f.session.Commits(); got != 2 {
		t.Errorf("commits = %d, want 2", got)
	}
}
