package session

import (
	"context"
	"errors"

	"github.com/vango-dev/wspush/pkg/event"
)

// Error types for session management.
var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a session has been idle for longer
	// than the configured timeout.
	ErrSessionExpired = errors.New("session has expired")

	// ErrMaxSessionsReached is returned when the maximum session limit is reached.
	ErrMaxSessionsReached = errors.New("maximum session limit reached")

	// ErrManagerStopped is returned when operations are attempted on a stopped manager.
	ErrManagerStopped = errors.New("session manager is stopped")

	// ErrDuplicateSession is returned when creating a session whose ID is taken.
	ErrDuplicateSession = errors.New("session already exists")
)

// View is a server-held stateful unit that receives dispatched payloads.
type View interface {
	// ID returns the view identifier within its session.
	ID() string

	// Deliver hands p to the view's listeners. Implementations deliver
	// breadth-first and honour p.Stopped().
	Deliver(ctx context.Context, p *event.Payload) error
}

// Session is one server-side user session.
type Session interface {
	ID() string

	// FindView returns the view with the given ID, or false if it was never
	// created or has been evicted.
	FindView(ctx context.Context, viewID string) (View, bool)

	// Commit ends a request turn. It runs after every dispatch that
	// resolved the session, including failed ones.
	Commit(ctx context.Context) error
}

// Lookup resolves sessions by ID.
type Lookup interface {
	Lookup(ctx context.Context, sessionID string) (Session, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, sessionID string) (Session, error)

// Lookup calls f.
func (f LookupFunc) Lookup(ctx context.Context, sessionID string) (Session, error) {
	return f(ctx, sessionID)
}
