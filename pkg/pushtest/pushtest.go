package pushtest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vango-dev/wspush/pkg/conn"
	"github.com/vango-dev/wspush/pkg/event"
	"github.com/vango-dev/wspush/pkg/session"
)

// Handle is a conn.Handle that records sends.
type Handle struct {
	id   string
	open atomic.Bool

	mu       sync.Mutex
	texts    []string
	binaries [][]byte
	closes   int
	sendErr  error
}

// NewHandle returns an open handle.
func NewHandle(id string) *Handle {
	h := &Handle{id: id}
	h.open.Store(true)
	return h
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) IsOpen() bool { return h.open.Load() }

// SetOpen flips the open flag without recording a Close.
func (h *Handle) SetOpen(open bool) { h.open.Store(open) }

// FailSends makes every later send return err.
func (h *Handle) FailSends(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendErr = err
}

func (h *Handle) SendText(ctx context.Context, text string) error {
	if !h.open.Load() {
		return conn.ErrClosed
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return h.sendErr
	}
	h.texts = append(h.texts, text)
	return nil
}

func (h *Handle) SendBinary(ctx context.Context, data []byte) error {
	if !h.open.Load() {
		return conn.ErrClosed
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return h.sendErr
	}
	h.binaries = append(h.binaries, append([]byte(nil), data...))
	return nil
}

func (h *Handle) Close(code int, reason string) error {
	h.open.Store(false)
	h.mu.Lock()
	h.closes++
	h.mu.Unlock()
	return nil
}

// Texts returns a copy of the text frames sent so far.
func (h *Handle) Texts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.texts...)
}

// Binaries returns a copy of the binary frames sent so far.
func (h *Handle) Binaries() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.binaries...)
}

// Sends returns the total number of frames sent.
func (h *Handle) Sends() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.texts) + len(h.binaries)
}

// Closes returns how many times Close was called.
func (h *Handle) Closes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

// View is a session.View that records delivered payloads.
type View struct {
	id string

	// OnDeliver, when set, runs for every payload after it is recorded.
	OnDeliver func(ctx context.Context, p *event.Payload) error

	mu       sync.Mutex
	payloads []*event.Payload
}

// NewView returns an empty recording view.
func NewView(id string) *View {
	return &View{id: id}
}

func (v *View) ID() string { return v.id }

func (v *View) Deliver(ctx context.Context, p *event.Payload) error {
	v.mu.Lock()
	v.payloads = append(v.payloads, p)
	fn := v.OnDeliver
	v.mu.Unlock()

	if fn != nil {
		return fn(ctx, p)
	}
	return nil
}

// Payloads returns a copy of the delivered payloads.
func (v *View) Payloads() []*event.Payload {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]*event.Payload(nil), v.payloads...)
}

// Session is a session.Session with a fixed set of views.
type Session struct {
	id string

	mu    sync.Mutex
	views map[string]session.View

	findViews atomic.Int32
	commits   atomic.Int32
}

func (s *Session) ID() string { return s.id }

func (s *Session) FindView(ctx context.Context, viewID string) (session.View, bool) {
	s.findViews.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[viewID]
	return v, ok
}

func (s *Session) Commit(ctx context.Context) error {
	s.commits.Add(1)
	return nil
}

// AddView registers v in the session.
func (s *Session) AddView(v session.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[v.ID()] = v
}

// FindViewCalls returns how many times FindView ran.
func (s *Session) FindViewCalls() int { return int(s.findViews.Load()) }

// Commits returns how many times Commit ran.
func (s *Session) Commits() int { return int(s.commits.Load()) }

// Sessions is a session.Lookup over fake sessions.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
	err      error

	lookups atomic.Int32
}

// NewSessions returns an empty lookup.
func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]*Session)}
}

// Add creates (or reuses) session id and registers views in it.
func (s *Sessions) Add(id string, views ...session.View) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{id: id, views: make(map[string]session.View)}
		s.sessions[id] = sess
	}
	for _, v := range views {
		sess.views[v.ID()] = v
	}
	return sess
}

// Fail makes every later Lookup return err.
func (s *Sessions) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Sessions) Lookup(ctx context.Context, sessionID string) (session.Session, error) {
	s.lookups.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return sess, nil
}

// Lookups returns how many times Lookup ran.
func (s *Sessions) Lookups() int { return int(s.lookups.Load()) }

// Executor counts submitted tasks. By default tasks run inline; with Hold
// set they are kept until RunAll. With Reject set, Submit refuses tasks.
type Executor struct {
	Hold   bool
	Reject error

	mu      sync.Mutex
	pending []func()
	count   int
}

func (e *Executor) Submit(task func()) error {
	e.mu.Lock()
	if e.Reject != nil {
		e.mu.Unlock()
		return e.Reject
	}
	e.count++
	if e.Hold {
		e.pending = append(e.pending, task)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	task()
	return nil
}

// Submitted returns how many tasks were submitted.
func (e *Executor) Submitted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// RunAll runs and clears every held task.
func (e *Executor) RunAll() {
	e.mu.Lock()
	tasks := e.pending
	e.pending = nil
	e.mu.Unlock()

	for _, task := range tasks {
		task()
	}
}
