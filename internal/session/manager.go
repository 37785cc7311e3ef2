package session

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager limits.
const (
	DefaultIdleTimeout = 30 * time.Minute
	DefaultMaxSessions = 1000
)

// Manager hands out independent sessions keyed by random IDs. Sessions idle
// for longer than IdleTimeout are dropped, and when MaxSessions are live the
// least recently used one makes room for a new one.
type Manager struct {
	// IdleTimeout zero means DefaultIdleTimeout.
	IdleTimeout time.Duration
	// MaxSessions zero means DefaultMaxSessions.
	MaxSessions int

	mu       sync.Mutex
	sessions map[string]*managed
	newFn    func() (*Session, error)
	now      func() time.Time
}

type managed struct {
	sess     *Session
	lastUsed time.Time
}

// NewManager returns a Manager that builds sessions with newFn.
func NewManager(newFn func() (*Session, error)) *Manager {
	return &Manager{sessions: map[string]*managed{}, newFn: newFn, now: time.Now}
}

// Detached builds a session that is not registered. It serves views for
// callers that have no session yet, so reading a page keeps nothing alive.
func (m *Manager) Detached() (*Session, error) {
	return m.newFn()
}

// Get returns the live session for id and marks it used.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.evictIdleLocked(now)
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastUsed = now
	return e.sess, true
}

// Create builds a new session under a fresh ID.
func (m *Manager) Create() (string, *Session, error) {
	s, err := m.newFn()
	if err != nil {
		return "", nil, err
	}
	id := uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.evictIdleLocked(now)
	for len(m.sessions) >= m.maxSessions() {
		m.evictOldestLocked()
	}
	m.sessions[id] = &managed{sess: s, lastUsed: now}
	return id, s, nil
}

// GetOrCreate returns the session for id, or a new one (with a new ID) when
// id is unknown or has expired.
func (m *Manager) GetOrCreate(id string) (string, *Session, error) {
	if s, ok := m.Get(id); ok {
		return id, s, nil
	}
	return m.Create()
}

// Len is the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) idleTimeout() time.Duration {
	if m.IdleTimeout > 0 {
		return m.IdleTimeout
	}
	return DefaultIdleTimeout
}

func (m *Manager) maxSessions() int {
	if m.MaxSessions > 0 {
		return m.MaxSessions
	}
	return DefaultMaxSessions
}

func (m *Manager) evictIdleLocked(now time.Time) {
	ttl := m.idleTimeout()
	for id, e := range m.sessions {
		if now.Sub(e.lastUsed) > ttl {
			m.dropLocked(id, "idle")
		}
	}
}

func (m *Manager) evictOldestLocked() {
	var oldest string
	var at time.Time
	for id, e := range m.sessions {
		if oldest == "" || e.lastUsed.Before(at) {
			oldest, at = id, e.lastUsed
		}
	}
	if oldest != "" {
		m.dropLocked(oldest, "capacity")
	}
}

func (m *Manager) dropLocked(id, reason string) {
	delete(m.sessions, id)
	log.Printf("session: evicted reason=%s live=%d", reason, len(m.sessions))
}
