// Package session provides the session and view-manager side of the push
// core.
//
// The push core only needs three capabilities from a session subsystem:
//
//   - Lookup: resolve a session by ID, failing with ErrSessionNotFound or
//     ErrSessionExpired when it is gone
//   - Session.FindView: resolve a view instance by ID within the session
//   - Session.Commit: mark the end of a request turn so pending view state
//     can be persisted
//
// Manager and Memory are the in-memory implementation used by the wspush
// server and by tests. Applications with their own session layer implement
// Lookup, Session and View directly.
//
// # Expiry
//
// A session expires when it has not been looked up or committed for
// ManagerConfig.IdleTimeout. Expired sessions are removed lazily on lookup
// and by a background cleanup loop.
package session
