// Package event defines the payload that the push core delivers to a view's
// listener tree.
//
// A Payload wraps one message together with a Responder. Listeners use the
// Responder to build the reply for the current dispatch (WriteText,
// WriteBinary) or to send frames straight away (Push, PushBinary). Any
// listener may call Stop to keep the payload from reaching listeners that
// have not been visited yet.
package event

import (
	"context"

	"github.com/vango-dev/wspush/pkg/message"
	"github.com/vango-dev/wspush/pkg/registry"
)

// Responder builds replies for the dispatch that produced a Payload.
//
// WriteText and WriteBinary append to the dispatch's response buffer, which
// is flushed once delivery completes. A buffer holds either text or binary,
// never both. Push and PushBinary bypass the buffer and write one frame to
// the connection immediately.
type Responder interface {
	WriteText(text string) error
	WriteBinary(data []byte) error
	Push(ctx context.Context, text string) error
	PushBinary(ctx context.Context, data []byte) error
}

// Payload is what listeners receive for one dispatch.
type Payload struct {
	key       registry.Key
	msg       message.Message
	responder Responder
	stopped   bool
}

// New creates a payload for msg addressed to key.
func New(key registry.Key, msg message.Message, responder Responder) *Payload {
	return &Payload{key: key, msg: msg, responder: responder}
}

// Key returns the (app, session, view) the payload is addressed to.
func (p *Payload) Key() registry.Key { return p.key }

// Message returns the wrapped message.
func (p *Payload) Message() message.Message { return p.msg }

// Kind returns the kind of the wrapped message.
func (p *Payload) Kind() message.Kind { return p.msg.Kind() }

// Responder returns the reply builder for this dispatch.
func (p *Payload) Responder() Responder { return p.responder }

// Stop prevents delivery to listeners that have not been visited yet.
func (p *Payload) Stop() { p.stopped = true }

// Stopped reports whether Stop has been called.
func (p *Payload) Stopped() bool { return p.stopped }

// Text returns the text of a Text message.
func (p *Payload) Text() (string, bool) {
	m, ok := p.msg.(message.Text)
	return m.Text, ok
}

// Binary returns the selected bytes of a Binary message.
func (p *Payload) Binary() ([]byte, bool) {
	m, ok := p.msg.(message.Binary)
	if !ok {
		return nil, false
	}
	return m.Bytes(), true
}

// Push returns the application payload of a Push message.
func (p *Payload) Push() (any, bool) {
	m, ok := p.msg.(message.Push)
	return m.Payload, ok
}
