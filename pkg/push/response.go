package push

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/vango-dev/wspush/pkg/conn"
)

type responseKind uint8

const (
	responseEmpty responseKind = iota
	responseText
	responseBinary
)

// ResponseBuffer accumulates the reply of one dispatch.
//
// A buffer holds either text or binary content. The first write decides
// which; a write of the other kind fails with ErrMixedResponse and leaves
// the buffer unchanged.
type ResponseBuffer struct {
	mu       sync.Mutex
	kind     responseKind
	text     strings.Builder
	binary   bytes.Buffer
	released bool
}

// NewResponseBuffer returns an empty buffer.
func NewResponseBuffer() *ResponseBuffer {
	return &ResponseBuffer{}
}

// WriteText appends s to the pending text reply.
func (b *ResponseBuffer) WriteText(s string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return ErrResponseReleased
	}
	if b.kind == responseBinary {
		return ErrMixedResponse
	}
	b.kind = responseText
	b.text.WriteString(s)
	return nil
}

// WriteBinary appends data to the pending binary reply.
func (b *ResponseBuffer) WriteBinary(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return ErrResponseReleased
	}
	if b.kind == responseText {
		return ErrMixedResponse
	}
	b.kind = responseBinary
	b.binary.Write(data)
	return nil
}

// Len returns the number of pending bytes.
func (b *ResponseBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text.Len() + b.binary.Len()
}

// Flush sends the pending reply to h as one frame and empties the buffer.
// An empty buffer sends nothing. A closed handle discards the reply without
// error, since the client went away during the dispatch. It returns the
// number of bytes sent.
func (b *ResponseBuffer) Flush(ctx context.Context, h conn.Handle) (int, error) {
	b.mu.Lock()
	kind := b.kind
	text := b.text.String()
	binary := append([]byte(nil), b.binary.Bytes()...)
	b.resetLocked()
	b.mu.Unlock()

	if kind == responseEmpty || h == nil || !h.IsOpen() {
		return 0, nil
	}

	var err error
	n := 0
	switch kind {
	case responseText:
		err = h.SendText(ctx, text)
		n = len(text)
	case responseBinary:
		err = h.SendBinary(ctx, binary)
		n = len(binary)
	}
	if errors.Is(err, conn.ErrClosed) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Reset discards the pending reply without sending it.
func (b *ResponseBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

// release discards the pending reply and rejects later writes.
func (b *ResponseBuffer) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
	b.released = true
}

func (b *ResponseBuffer) resetLocked() {
	b.kind = responseEmpty
	b.text.Reset()
	b.binary.Reset()
}

// responder is the event.Responder handed to listeners.
type responder struct {
	buf    *ResponseBuffer
	handle conn.Handle
}

func (r *responder) WriteText(text string) error { return r.buf.WriteText(text) }

func (r *responder) WriteBinary(data []byte) error { return r.buf.WriteBinary(data) }

func (r *responder) Push(ctx context.Context, text string) error {
	return r.handle.SendText(ctx, text)
}

func (r *responder) PushBinary(ctx context.Context, data []byte) error {
	return r.handle.SendBinary(ctx, data)
}
