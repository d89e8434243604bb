package push

import (
	"context"
	"sync"
	"time"

	"github.com/vango-dev/wspush/internal/goid"
	"github.com/vango-dev/wspush/pkg/message"
	"github.com/vango-dev/wspush/pkg/registry"
	"github.com/vango-dev/wspush/pkg/session"
)

// Application is one application known to the push core.
type Application struct {
	ID       string
	Sessions session.Lookup
}

// Dispatch describes one processing turn for one message and one target.
type Dispatch struct {
	ID      uint64
	Key     registry.Key
	Kind    message.Kind
	Started time.Time

	response *ResponseBuffer
}

// Response returns the reply buffer of the dispatch.
func (d *Dispatch) Response() *ResponseBuffer { return d.response }

// ExecutionContext is the state that is active for the duration of one
// dispatch.
type ExecutionContext struct {
	Application *Application
	Session     session.Session
	Dispatch    *Dispatch
}

// Snapshot is the context that was active before Scope.Enter. The zero
// Snapshot means "no context".
type Snapshot struct {
	prev *ExecutionContext
}

// Empty reports whether no context was active when the snapshot was taken.
func (s Snapshot) Empty() bool { return s.prev == nil }

// Context returns the captured context, or nil.
func (s Snapshot) Context() *ExecutionContext { return s.prev }

// Scope holds the active ExecutionContext of the calling goroutine.
//
// Enter and Restore are strictly nested: every Enter is paired with a
// Restore of the snapshot it returned, on every exit path.
type Scope interface {
	// Current returns the active context, or nil.
	Current() *ExecutionContext

	// Enter installs ec and returns what was active before.
	Enter(ec *ExecutionContext) Snapshot

	// Restore reinstates snap exactly, including "no context".
	Restore(snap Snapshot)
}

// GoroutineScope keys the active context by goroutine.
type GoroutineScope struct {
	contexts sync.Map // goroutine ID -> *ExecutionContext
}

// NewGoroutineScope returns an empty scope.
func NewGoroutineScope() *GoroutineScope {
	return &GoroutineScope{}
}

// Current returns the context active on the calling goroutine.
func (s *GoroutineScope) Current() *ExecutionContext {
	if ec, ok := s.contexts.Load(goid.ID()); ok {
		return ec.(*ExecutionContext)
	}
	return nil
}

// Enter installs ec on the calling goroutine.
func (s *GoroutineScope) Enter(ec *ExecutionContext) Snapshot {
	gid := goid.ID()
	var snap Snapshot
	if prev, ok := s.contexts.Load(gid); ok {
		snap.prev = prev.(*ExecutionContext)
	}
	s.set(gid, ec)
	return snap
}

// Restore reinstates snap on the calling goroutine. Restoring an empty
// snapshot removes the goroutine's entry.
func (s *GoroutineScope) Restore(snap Snapshot) {
	s.set(goid.ID(), snap.prev)
}

// Len returns the number of goroutines with an active context.
func (s *GoroutineScope) Len() int {
	n := 0
	s.contexts.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *GoroutineScope) set(gid uint64, ec *ExecutionContext) {
	if ec == nil {
		s.contexts.Delete(gid)
		return
	}
	s.contexts.Store(gid, ec)
}


// NopScope never holds a context. With it, every dispatch resolves its
// session freshly and listeners read the context from their
// context.Context only.
type NopScope struct{}

func (NopScope) Current() *ExecutionContext          { return nil }
func (NopScope) Enter(ec *ExecutionContext) Snapshot { return Snapshot{} }
func (NopScope) Restore(snap Snapshot)               {}

type execContextKey struct{}

// WithExecutionContext returns a copy of ctx carrying ec.
func WithExecutionContext(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, execContextKey{}, ec)
}

// FromContext returns the ExecutionContext carried by ctx, or nil.
func FromContext(ctx context.Context) *ExecutionContext {
	ec, _ := ctx.Value(execContextKey{}).(*ExecutionContext)
	return ec
}
