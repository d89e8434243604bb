// Package registry maps (application, session, view) keys to live
// connection handles.
//
// The registry is a single flat map from a composite Key to a handle,
// guarded by one RWMutex. No I/O ever happens under the lock. Lookups that
// return several handles return a copy, so later registrations never change
// a result that has already been handed out.
package registry

import (
	"strings"
	"sync"

	"github.com/vango-dev/wspush/pkg/conn"
)

// resourcePrefix marks view keys that address a named resource endpoint
// rather than a view instance.
const resourcePrefix = "resource:"

// Key identifies the connection of one view within one session of one
// application.
type Key struct {
	App     string
	Session string
	View    string
}

// String returns "app/session/view".
func (k Key) String() string {
	return k.App + "/" + k.Session + "/" + k.View
}

// ResourceView returns the view key used for connections that target a
// named resource endpoint instead of a view instance.
func ResourceView(name string) string {
	return resourcePrefix + name
}

// IsResourceView reports whether view was produced by ResourceView and
// returns the resource name.
func IsResourceView(view string) (string, bool) {
	if name, ok := strings.CutPrefix(view, resourcePrefix); ok {
		return name, true
	}
	return "", false
}

// Entry is one registration in a snapshot.
type Entry struct {
	Key    Key
	Handle conn.Handle
}

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[Key]conn.Handle
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{conns: make(map[Key]conn.Handle)}
}

// Set registers h under key, replacing any previous handle.
// A nil h removes the registration unconditionally.
func (r *Registry) Set(key Key, h conn.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h == nil {
		delete(r.conns, key)
		return
	}
	r.conns[key] = h
}

// Remove deletes the registration for key only if it still points at h.
// It reports whether anything was removed. A stale removal, made after a
// newer handle replaced h, leaves the newer handle in place.
func (r *Registry) Remove(key Key, h conn.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.conns[key]
	if !ok || cur != h {
		return false
	}
	delete(r.conns, key)
	return true
}

// Get returns the handle registered under key, or nil.
func (r *Registry) Get(key Key) conn.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[key]
}

// GetAll returns a snapshot of every registration for app.
func (r *Registry) GetAll(app string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for k, h := range r.conns {
		if k.App == app {
			out = append(out, Entry{Key: k, Handle: h})
		}
	}
	return out
}

// GetSession returns a snapshot of every registration for one session of
// app.
func (r *Registry) GetSession(app, session string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for k, h := range r.conns {
		if k.App == app && k.Session == session {
			out = append(out, Entry{Key: k, Handle: h})
		}
	}
	return out
}

// Len returns the total number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
