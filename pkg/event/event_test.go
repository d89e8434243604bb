package event

import (
	"testing"

	"github.com/vango-dev/wspush/pkg/message"
	"github.com/vango-dev/wspush/pkg/registry"
)

func TestPayloadAccessors(t *testing.T) {
	key := registry.Key{App: "a", Session: "s", View: "v"}

	p := New(key, message.Text{Text: "ping"}, nil)
	if p.Key() != key {
		t.Fatalf("Key() = %v, want %v", p.Key(), key)
	}
	if p.Kind() != message.KindText {
		t.Fatalf("Kind() = %v", p.Kind())
	}
	if s, ok := p.Text(); !ok || s != "ping" {
		t.Fatalf("Text() = (%q, %v)", s, ok)
	}
	if _, ok := p.Binary(); ok {
		t.Fatal("Binary() ok for text message")
	}
	if _, ok := p.Push(); ok {
		t.Fatal("Push() ok for text message")
	}

	b := New(key, message.Binary{Data: []byte("xyz"), Offset: 1, Length: 1}, nil)
	if data, ok := b.Binary(); !ok || string(data) != "y" {
		t.Fatalf("Binary() = (%q, %v)", data, ok)
	}

	pp := New(key, message.Push{Payload: 42}, nil)
	if v, ok := pp.Push(); !ok || v != 42 {
		t.Fatalf("Push() = (%v, %v)", v, ok)
	}
}

func TestPayloadStop(t *testing.T) {
	p := New(registry.Key{}, message.Push{}, nil)
	if p.Stopped() {
		t.Fatal("new payload already stopped")
	}
	p.Stop()
	if !p.Stopped() {
		t.Fatal("Stop() had no effect")
	}
}
