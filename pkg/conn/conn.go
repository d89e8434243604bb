// Package conn defines the connection handle used by the push core and a
// gorilla/websocket backed implementation.
package conn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrClosed is returned when sending on a handle that has been closed.
var ErrClosed = errors.New("conn: connection closed")

// Handle is one live duplex connection.
//
// IsOpen may be called from any goroutine. Once Close has been called,
// IsOpen reports false forever and every send returns ErrClosed.
type Handle interface {
	ID() string
	IsOpen() bool
	SendText(ctx context.Context, text string) error
	SendBinary(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// Options configures a WSConn.
type Options struct {
	// ID overrides the generated connection identity.
	ID string

	// WriteTimeout bounds every write. A deadline on the context passed to
	// a send wins when it is earlier.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// Logger receives debug output. Default: slog.Default().
	Logger *slog.Logger
}

// WSConn adapts a *websocket.Conn to Handle.
type WSConn struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration
	logger       *slog.Logger

	mu        sync.Mutex // Protects ws writes
	open      atomic.Bool
	closeOnce sync.Once

	bytesSent atomic.Uint64
}

// NewWSConn wraps ws. The returned handle is open.
func NewWSConn(ws *websocket.Conn, opts Options) *WSConn {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &WSConn{
		id:           opts.ID,
		ws:           ws,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger.With("conn_id", opts.ID),
	}
	c.open.Store(true)
	return c
}

// ID returns the connection identity.
func (c *WSConn) ID() string { return c.id }

// IsOpen reports whether Close has not been called yet.
func (c *WSConn) IsOpen() bool { return c.open.Load() }

// BytesSent returns the number of payload bytes written so far.
func (c *WSConn) BytesSent() uint64 { return c.bytesSent.Load() }

// SendText writes one text frame.
func (c *WSConn) SendText(ctx context.Context, text string) error {
	return c.write(ctx, websocket.TextMessage, []byte(text))
}

// SendBinary writes one binary frame.
func (c *WSConn) SendBinary(ctx context.Context, data []byte) error {
	return c.write(ctx, websocket.BinaryMessage, data)
}

// Ping writes a ping control frame.
func (c *WSConn) Ping() error {
	if !c.open.Load() {
		return ErrClosed
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *WSConn) write(ctx context.Context, messageType int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open.Load() {
		return ErrClosed
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(messageType, data); err != nil {
		return err
	}
	c.bytesSent.Add(uint64(len(data)))
	return nil
}

// Close sends a close frame with code and reason and releases the
// underlying connection. Only the first call has any effect. Codes that
// must not appear on the wire, such as 1005 and 1006, are sent as 1000.
func (c *WSConn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.open.Store(false)

		c.mu.Lock()
		msg := websocket.FormatCloseMessage(SendableCloseCode(code), reason)
		if werr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout)); werr != nil {
			c.logger.Debug("close frame not sent", "error", werr)
		}
		c.mu.Unlock()

		err = c.ws.Close()
	})
	return err
}

// SendableCloseCode returns code if a close frame may carry it, and
// CloseNormalClosure otherwise. 1004, 1005, 1006 and 1015 are reserved for
// reporting; codes outside 1000-1014 and 3000-4999 are undefined.
func SendableCloseCode(code int) int {
	switch code {
	case 1004, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
		return websocket.CloseNormalClosure
	}
	if (code >= 1000 && code <= 1014) || (code >= 3000 && code <= 4999) {
		return code
	}
	return websocket.CloseNormalClosure
}
