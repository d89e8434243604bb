package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/vango-dev/wspush/pkg/conn"
	"github.com/vango-dev/wspush/pkg/event"
	"github.com/vango-dev/wspush/pkg/message"
	"github.com/vango-dev/wspush/pkg/registry"
	"github.com/vango-dev/wspush/pkg/session"
	"go.opentelemetry.io/otel/trace"
)

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	// Scope holds the active execution context between Enter and Restore.
	// Default: a new GoroutineScope.
	Scope Scope

	// ResolveTimeout bounds session lookup and view resolution. A timeout
	// is treated as "not found". Zero means no bound.
	// Default: 5 seconds.
	ResolveTimeout time.Duration

	// Logger receives dispatch diagnostics.
	// Default: slog.Default().
	Logger *slog.Logger

	// Metrics records dispatch counters. Nil records nothing.
	Metrics *Metrics

	// Tracer creates dispatch spans.
	// Default: otel.Tracer("wspush").
	Tracer trace.Tracer
}

// DefaultProcessorConfig returns a ProcessorConfig with sensible defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		ResolveTimeout: 5 * time.Second,
	}
}

// Processor runs dispatches.
type Processor struct {
	directory      *Directory
	scope          Scope
	resolveTimeout time.Duration
	logger         *slog.Logger
	metrics        *Metrics
	tracer         trace.Tracer

	seq atomic.Uint64
}

// NewProcessor creates a processor dispatching to the applications in dir.
func NewProcessor(dir *Directory, config ProcessorConfig) *Processor {
	if config.Scope == nil {
		config.Scope = NewGoroutineScope()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Processor{
		directory:      dir,
		scope:          config.Scope,
		resolveTimeout: config.ResolveTimeout,
		logger:         config.Logger.With("component", "push_processor"),
		metrics:        config.Metrics,
		tracer:         resolveTracer(config.Tracer),
	}
}

// Scope returns the scope the processor installs contexts in.
func (p *Processor) Scope() Scope { return p.scope }

// Dispatch processes msg for the target key over handle h.
//
// A nil or closed handle makes Dispatch a no-op returning nil: nothing is
// resolved and no context is established. Any other failure aborts this
// dispatch only and is returned as a *DispatchError. Flush I/O errors are
// logged and do not fail the dispatch.
func (p *Processor) Dispatch(ctx context.Context, key registry.Key, h conn.Handle, msg message.Message) error {
	if msg == nil {
		return &DispatchError{Key: key, Op: "dispatch", Err: ErrNilMessage}
	}
	kind := msg.Kind()

	if h == nil || !h.IsOpen() {
		p.logger.Debug("connection missing or closed, dispatch skipped",
			"app", key.App, "session", key.Session, "view", key.View, "kind", kind.String())
		p.metrics.observeClosed(kind)
		return nil
	}

	start := time.Now()
	ctx, span := startDispatchSpan(ctx, p.tracer, key, kind)

	err := p.dispatch(ctx, span, key, h, msg, start)

	endDispatchSpan(span, err)
	p.metrics.observeDispatch(kind, err, time.Since(start))
	if err != nil {
		p.report(key, kind, err)
	}
	return err
}

func (p *Processor) dispatch(ctx context.Context, span trace.Span, key registry.Key, h conn.Handle, msg message.Message, start time.Time) error {
	kind := msg.Kind()

	app := p.directory.Lookup(key.App)
	if app == nil {
		return &DispatchError{Key: key, Op: "resolve application", Err: ErrUnknownApplication}
	}

	sess, reused, err := p.resolveSession(ctx, app, key, kind)
	if err != nil {
		return err
	}

	d := &Dispatch{
		ID:       p.seq.Add(1),
		Key:      key,
		Kind:     kind,
		Started:  start,
		response: NewResponseBuffer(),
	}
	ec := &ExecutionContext{Application: app, Session: sess, Dispatch: d}
	span.SetAttributes(attrReused.Bool(reused), attrDispatch.Int64(int64(d.ID)))

	// Deferred in reverse: commit, release the buffer, restore the scope.
	snap := p.scope.Enter(ec)
	defer p.scope.Restore(snap)
	defer d.response.release()
	defer p.commit(ctx, key, sess)

	ctx = WithExecutionContext(ctx, ec)

	view, ok := p.findView(ctx, sess, key.View)
	if !ok {
		return &DispatchError{Key: key, Op: "resolve view", Err: ErrViewNotFound}
	}

	payload := event.New(key, msg, &responder{buf: d.response, handle: h})
	if err := p.deliver(ctx, view, payload); err != nil {
		d.response.Reset()
		return &DispatchError{Key: key, Op: "deliver", Err: err}
	}

	if kind.Notification() {
		d.response.Reset()
		return nil
	}

	n, ferr := d.response.Flush(ctx, h)
	p.metrics.observeFlush(kind, n, ferr)
	if ferr != nil {
		p.logger.Error("flush failed",
			"app", key.App, "session", key.Session, "view", key.View,
			"conn_id", h.ID(), "error", ferr)
	}
	return nil
}

// resolveSession returns the session for key, reusing the one of the
// active context when the reuse policy allows it.
func (p *Processor) resolveSession(ctx context.Context, app *Application, key registry.Key, kind message.Kind) (session.Session, bool, error) {
	if cur := p.scope.Current(); cur != nil && !kind.PushClass() &&
		cur.Application == app && cur.Session != nil && cur.Session.ID() == key.Session {
		return cur.Session, true, nil
	}

	if app.Sessions == nil {
		return nil, false, &DispatchError{Key: key, Op: "resolve session", Err: ErrSessionNotFound}
	}

	rctx, cancel := p.resolveContext(ctx)
	defer cancel()

	sess, err := app.Sessions.Lookup(rctx, key.Session)
	if err != nil {
		return nil, false, &DispatchError{Key: key, Op: "resolve session", Err: fmt.Errorf("%w: %w", ErrSessionNotFound, err)}
	}
	if sess == nil {
		return nil, false, &DispatchError{Key: key, Op: "resolve session", Err: ErrSessionNotFound}
	}
	return sess, false, nil
}

func (p *Processor) findView(ctx context.Context, sess session.Session, viewID string) (session.View, bool) {
	rctx, cancel := p.resolveContext(ctx)
	defer cancel()

	v, ok := sess.FindView(rctx, viewID)
	if !ok || v == nil || rctx.Err() != nil {
		return nil, false
	}
	return v, true
}

func (p *Processor) resolveContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.resolveTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.resolveTimeout)
}

// deliver hands payload to view, converting listener panics into errors.
func (p *Processor) deliver(ctx context.Context, view session.View, payload *event.Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &DeliveryError{View: view.ID(), Panic: r, Stack: debug.Stack()}
		}
	}()

	if derr := view.Deliver(ctx, payload); derr != nil {
		return &DeliveryError{View: view.ID(), Err: derr}
	}
	return nil
}

// commit ends the session's request turn. It must not be skipped when the
// caller's context is cancelled.
func (p *Processor) commit(ctx context.Context, key registry.Key, sess session.Session) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("session commit panicked",
				"app", key.App, "session", key.Session, "panic", r)
		}
	}()

	if err := sess.Commit(context.WithoutCancel(ctx)); err != nil {
		p.logger.Warn("session commit failed",
			"app", key.App, "session", key.Session, "error", err)
	}
}

func (p *Processor) report(key registry.Key, kind message.Kind, err error) {
	attrs := []any{
		"app", key.App,
		"session", key.Session,
		"view", key.View,
		"kind", kind.String(),
		"error", err,
	}

	var de *DeliveryError
	switch {
	case errors.As(err, &de):
		if de.Panic != nil {
			attrs = append(attrs, "stack", string(de.Stack))
		}
		p.logger.Error("delivery failed", attrs...)
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrViewNotFound):
		p.logger.Warn("dispatch target not found", attrs...)
	default:
		p.logger.Warn("dispatch aborted", attrs...)
	}
}
