package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ViewFactory creates a view on first use. It returns nil when viewID does
// not name a view the application can create.
type ViewFactory func(sessionID, viewID string) View

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	// IdleTimeout is how long a session survives without activity.
	// Zero disables expiry.
	// Default: 30 minutes.
	IdleTimeout time.Duration

	// CleanupInterval is how often to remove expired sessions.
	// Zero disables the background loop; expiry is still enforced on Lookup.
	// Default: 1 minute.
	CleanupInterval time.Duration

	// MaxSessions is the maximum number of live sessions. 0 means no limit.
	MaxSessions int

	// ViewFactory, when set, creates views that FindView does not know yet.
	ViewFactory ViewFactory
}

// DefaultManagerConfig returns a ManagerConfig with sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		IdleTimeout:     30 * time.Minute,
		CleanupInterval: 1 * time.Minute,
	}
}

// Manager owns the in-memory sessions of one application.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Memory

	config ManagerConfig
	logger *slog.Logger

	hooksMu  sync.RWMutex
	onCommit []func(*Memory)

	// now is overrideable for tests.
	now func() time.Time

	done    chan struct{}
	stopped bool
}

// NewManager creates a session manager and starts its cleanup loop.
func NewManager(config ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		sessions: make(map[string]*Memory),
		config:   config,
		logger:   logger.With("component", "session_manager"),
		now:      time.Now,
		done:     make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go m.cleanupLoop()
	}
	return m
}

// Create starts a new session. An empty id generates one.
func (m *Manager) Create(id string) (*Memory, error) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, ErrManagerStopped
	}
	if _, exists := m.sessions[id]; exists {
		return nil, ErrDuplicateSession
	}
	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		return nil, ErrMaxSessionsReached
	}

	now := m.now()
	s := &Memory{
		id:         id,
		manager:    m,
		views:      make(map[string]View),
		createdAt:  now,
		lastActive: now,
	}
	m.sessions[id] = s

	m.logger.Debug("session created", "session_id", id, "count", len(m.sessions))
	return s, nil
}

// Lookup resolves a live session and refreshes its activity time.
func (m *Manager) Lookup(ctx context.Context, sessionID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, ErrManagerStopped
	}

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	now := m.now()
	if m.expiredLocked(s, now) {
		m.removeLocked(sessionID)
		return nil, ErrSessionExpired
	}
	s.touch(now)
	return s, nil
}

// Get returns a session without touching it, or nil.
func (m *Manager) Get(sessionID string) *Memory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// Remove ends a session.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(sessionID)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// OnCommit registers fn to run after every session commit.
func (m *Manager) OnCommit(fn func(*Memory)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.onCommit = append(m.onCommit, fn)
}

// Shutdown stops the cleanup loop and drops all sessions.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}
	m.stopped = true
	close(m.done)

	m.logger.Info("session manager stopped", "sessions", len(m.sessions))
	m.sessions = make(map[string]*Memory)
	return ctx.Err()
}

func (m *Manager) committed(s *Memory) {
	m.hooksMu.RLock()
	hooks := m.onCommit
	m.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(s)
	}
}

func (m *Manager) expiredLocked(s *Memory, now time.Time) bool {
	if m.config.IdleTimeout <= 0 {
		return false
	}
	return now.Sub(s.LastActive()) > m.config.IdleTimeout
}

// removeLocked removes a session (must be called with lock held).
func (m *Manager) removeLocked(sessionID string) {
	if _, exists := m.sessions[sessionID]; !exists {
		return
	}
	delete(m.sessions, sessionID)

	m.logger.Debug("session removed",
		"session_id", sessionID,
		"remaining", len(m.sessions))
}

// cleanupLoop periodically removes expired sessions.
func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupExpired()
		case <-m.done:
			return
		}
	}
}

// cleanupExpired removes every expired session and returns how many were
// removed.
func (m *Manager) cleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return 0
	}

	now := m.now()
	var expired []string
	for id, s := range m.sessions {
		if m.expiredLocked(s, now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		m.removeLocked(id)
	}
	if len(expired) > 0 {
		m.logger.Debug("expired sessions cleaned up", "count", len(expired))
	}
	return len(expired)
}
