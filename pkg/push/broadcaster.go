package push

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/vango-dev/wspush/pkg/conn"
	"github.com/vango-dev/wspush/pkg/message"
	"github.com/vango-dev/wspush/pkg/registry"
)

// Dispatcher processes one message for one target. *Processor implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, key registry.Key, h conn.Handle, msg message.Message) error
}

// Broadcast task results used as metric labels.
const (
	taskOK       = "ok"
	taskFailed   = "failed"
	taskPanicked = "panicked"
	taskRejected = "rejected"
)

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithExecutor sets the executor that runs broadcast tasks.
// Default: CallerRuns.
func WithExecutor(exec Executor) BroadcasterOption {
	return func(b *Broadcaster) {
		if exec != nil {
			b.exec = exec
		}
	}
}

// WithLogger sets the broadcaster logger.
func WithLogger(logger *slog.Logger) BroadcasterOption {
	return func(b *Broadcaster) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records broadcast task results in m.
func WithMetrics(m *Metrics) BroadcasterOption {
	return func(b *Broadcaster) {
		b.metrics = m
	}
}

// Broadcaster fans messages out to registered connections.
//
// Every target becomes its own task on the executor. A task that fails
// or panics is logged and never affects the other tasks. Broadcast methods
// report how many tasks were submitted, not how many succeeded.
type Broadcaster struct {
	registry   *registry.Registry
	dispatcher Dispatcher
	exec       Executor
	logger     *slog.Logger
	metrics    *Metrics
}

// NewBroadcaster creates a broadcaster over reg that hands every task to d.
func NewBroadcaster(reg *registry.Registry, d Dispatcher, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		registry:   reg,
		dispatcher: d,
		exec:       CallerRuns,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "push_broadcaster")
	return b
}

// BroadcastOne dispatches msg to the connection registered under key.
// It returns false, submitting nothing, when no connection is registered.
func (b *Broadcaster) BroadcastOne(ctx context.Context, key registry.Key, msg message.Message) bool {
	h := b.registry.Get(key)
	if h == nil {
		b.logger.Debug("no connection registered", "app", key.App, "session", key.Session, "view", key.View)
		return false
	}
	return b.submit(ctx, registry.Entry{Key: key, Handle: h}, msg)
}

// BroadcastSession dispatches msg to every connection of one session and
// returns the number of tasks submitted.
func (b *Broadcaster) BroadcastSession(ctx context.Context, app, session string, msg message.Message) int {
	return b.fanOut(ctx, b.registry.GetSession(app, session), msg)
}

// BroadcastAll dispatches msg to every connection of app and returns the
// number of tasks submitted.
func (b *Broadcaster) BroadcastAll(ctx context.Context, app string, msg message.Message) int {
	return b.fanOut(ctx, b.registry.GetAll(app), msg)
}

func (b *Broadcaster) fanOut(ctx context.Context, entries []registry.Entry, msg message.Message) int {
	n := 0
	for _, e := range entries {
		if b.submit(ctx, e, msg) {
			n++
		}
	}
	return n
}

func (b *Broadcaster) submit(ctx context.Context, e registry.Entry, msg message.Message) bool {
	// Tasks may outlive the producer's request.
	ctx = context.WithoutCancel(ctx)

	err := b.exec.Submit(func() { b.run(ctx, e, msg) })
	if err != nil {
		b.logger.Warn("broadcast task rejected",
			"app", e.Key.App, "session", e.Key.Session, "view", e.Key.View, "error", err)
		b.metrics.observeTask(taskRejected)
		return false
	}
	return true
}

func (b *Broadcaster) run(ctx context.Context, e registry.Entry, msg message.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("broadcast task panicked",
				"app", e.Key.App, "session", e.Key.Session, "view", e.Key.View,
				"panic", r, "stack", string(debug.Stack()))
			b.metrics.observeTask(taskPanicked)
		}
	}()

	if err := b.dispatcher.Dispatch(ctx, e.Key, e.Handle, msg); err != nil {
		b.logger.Warn("broadcast task failed",
			"app", e.Key.App, "session", e.Key.Session, "view", e.Key.View, "error", err)
		b.metrics.observeTask(taskFailed)
		return
	}
	b.metrics.observeTask(taskOK)
}
