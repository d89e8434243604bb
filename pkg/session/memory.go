package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Memory is an in-memory session owned by a Manager.
type Memory struct {
	id      string
	manager *Manager

	mu         sync.RWMutex
	views      map[string]View
	createdAt  time.Time
	lastActive time.Time

	commits atomic.Uint64
}

// ID returns the session ID.
func (s *Memory) ID() string { return s.id }

// CreatedAt returns when the session was created.
func (s *Memory) CreatedAt() time.Time { return s.createdAt }

// LastActive returns when the session was last looked up or committed.
func (s *Memory) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Commits returns how many request turns have been committed.
func (s *Memory) Commits() uint64 { return s.commits.Load() }

// AddView registers v, replacing any view with the same ID.
func (s *Memory) AddView(v View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[v.ID()] = v
}

// RemoveView evicts the view with the given ID.
func (s *Memory) RemoveView(viewID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.views, viewID)
}

// Views returns the number of views held by the session.
func (s *Memory) Views() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.views)
}

// FindView returns a registered view. Unknown IDs are passed to the
// manager's ViewFactory, if any, and the created view is kept.
func (s *Memory) FindView(ctx context.Context, viewID string) (View, bool) {
	if ctx.Err() != nil {
		return nil, false
	}

	s.mu.RLock()
	v, ok := s.views[viewID]
	s.mu.RUnlock()
	if ok {
		return v, true
	}

	factory := s.manager.config.ViewFactory
	if factory == nil {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.views[viewID]; ok {
		return v, true
	}
	v = factory(s.id, viewID)
	if v == nil {
		return nil, false
	}
	s.views[viewID] = v
	return v, true
}

// Commit ends a request turn and runs the manager's commit hooks.
func (s *Memory) Commit(ctx context.Context) error {
	s.touch(s.manager.now())
	s.commits.Add(1)
	s.manager.committed(s)
	return nil
}

func (s *Memory) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}
