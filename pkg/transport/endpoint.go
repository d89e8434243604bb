// Package transport connects websocket clients to the push core.
//
// An Endpoint upgrades HTTP requests that name an application, a session
// and a view (or a resource), registers the connection, and turns the
// connection's lifecycle and frames into dispatches:
//
//	open   -> register, then dispatch Connected
//	text   -> dispatch Text
//	binary -> dispatch Binary
//	close  -> dispatch Closed, remove own registration, close the handle
package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/wspush/pkg/conn"
	"github.com/vango-dev/wspush/pkg/message"
	"github.com/vango-dev/wspush/pkg/push"
	"github.com/vango-dev/wspush/pkg/registry"
)

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithLogger sets the endpoint logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Endpoint) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records opened and closed connections in m.
func WithMetrics(m *push.Metrics) Option {
	return func(e *Endpoint) {
		e.metrics = m
	}
}

// Endpoint is an http.Handler serving websocket connections.
type Endpoint struct {
	config     Config
	registry   *registry.Registry
	dispatcher push.Dispatcher
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	metrics    *push.Metrics
}

// NewEndpoint creates an endpoint registering connections in reg and
// dispatching their traffic through d.
func NewEndpoint(reg *registry.Registry, d push.Dispatcher, config Config, opts ...Option) *Endpoint {
	config = config.withDefaults()
	e := &Endpoint{
		config:     config,
		registry:   reg,
		dispatcher: d,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "transport")
	return e
}

// Target extracts the registry key an upgrade request addresses.
// The view comes from the "view" query parameter, or from "resource" for
// resource endpoints.
func (e *Endpoint) Target(r *http.Request) (registry.Key, error) {
	var key registry.Key

	key.App = e.config.App
	if e.config.AppFunc != nil {
		key.App = e.config.AppFunc(r)
	}
	if key.App == "" {
		return key, ErrMissingApp
	}

	q := r.URL.Query()
	key.Session = q.Get("session")
	if key.Session == "" {
		if c, err := r.Cookie(e.config.SessionCookie); err == nil {
			key.Session = c.Value
		}
	}
	if key.Session == "" {
		return key, ErrMissingSession
	}

	switch {
	case q.Get("view") != "":
		key.View = q.Get("view")
	case q.Get("resource") != "":
		key.View = registry.ResourceView(q.Get("resource"))
	default:
		return key, ErrMissingView
	}
	return key, nil
}

// ServeHTTP upgrades the request and serves the connection until it ends.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key, err := e.Target(r)
	if err != nil {
		e.logger.Debug("upgrade rejected", "error", err, "remote", r.RemoteAddr)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		e.logger.Debug("upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	h := conn.NewWSConn(ws, conn.Options{
		WriteTimeout: e.config.WriteTimeout,
		Logger:       e.logger,
	})
	e.serve(r.Context(), key, ws, h)
}

func (e *Endpoint) serve(ctx context.Context, key registry.Key, ws *websocket.Conn, h *conn.WSConn) {
	logger := e.logger.With("app", key.App, "session", key.Session, "view", key.View, "conn_id", h.ID())

	e.registry.Set(key, h)
	e.metrics.ConnectionOpened()
	logger.Debug("connection opened")

	err := e.dispatcher.Dispatch(ctx, key, h, message.Connected{App: key.App, Session: key.Session, View: key.View})
	if errors.Is(err, push.ErrUnknownApplication) || errors.Is(err, push.ErrSessionNotFound) {
		e.finish(ctx, logger, key, h, websocket.ClosePolicyViolation, "unknown session")
		return
	}

	done := make(chan struct{})
	go e.heartbeat(logger, h, done)

	code, reason := e.readLoop(ctx, logger, key, ws, h)
	close(done)
	e.finish(ctx, logger, key, h, code, reason)
}

// readLoop dispatches inbound frames until the connection fails and
// returns the close code and reason to report.
func (e *Endpoint) readLoop(ctx context.Context, logger *slog.Logger, key registry.Key, ws *websocket.Conn, h *conn.WSConn) (int, string) {
	ws.SetReadLimit(e.config.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(e.config.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(e.config.ReadTimeout))
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			return closeStatus(logger, err)
		}
		_ = ws.SetReadDeadline(time.Now().Add(e.config.ReadTimeout))

		var msg message.Message
		switch messageType {
		case websocket.TextMessage:
			msg = message.Text{Text: string(data)}
		case websocket.BinaryMessage:
			msg = message.NewBinary(data)
		default:
			continue
		}

		if err := e.dispatcher.Dispatch(ctx, key, h, msg); err != nil {
			logger.Debug("inbound dispatch failed", "error", err)
		}
	}
}

func (e *Endpoint) heartbeat(logger *slog.Logger, h *conn.WSConn, done <-chan struct{}) {
	ticker := time.NewTicker(e.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := h.Ping(); err != nil {
				logger.Debug("ping failed", "error", err)
				return
			}
		case <-done:
			return
		}
	}
}

// finish runs the close sequence: Closed dispatch, compare-and-delete of
// the registration, then closing the handle. The Closed message carries
// code as observed; the close frame uses conn.SendableCloseCode.
func (e *Endpoint) finish(ctx context.Context, logger *slog.Logger, key registry.Key, h *conn.WSConn, code int, reason string) {
	ctx = context.WithoutCancel(ctx)

	closed := message.Closed{App: key.App, Session: key.Session, View: key.View, Code: code, Reason: reason}
	if err := e.dispatcher.Dispatch(ctx, key, h, closed); err != nil {
		logger.Debug("close dispatch failed", "error", err)
	}

	if !e.registry.Remove(key, h) {
		logger.Debug("registration already replaced")
	}
	if err := h.Close(code, reason); err != nil {
		logger.Debug("close failed", "error", err)
	}
	e.metrics.ConnectionClosed()
	logger.Debug("connection closed", "code", code, "bytes_sent", h.BytesSent())
}

// closeStatus maps a read error to the close code and reason to report.
func closeStatus(logger *slog.Logger, err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if websocket.IsUnexpectedCloseError(err,
			websocket.CloseGoingAway,
			websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			logger.Warn("unexpected close", "error", err)
		}
		return ce.Code, ce.Text
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		return websocket.CloseMessageTooBig, "message too big"
	}
	logger.Debug("read error", "error", err)
	return websocket.CloseAbnormalClosure, ""
}
