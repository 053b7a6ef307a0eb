package sessions

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// updateBuffer is how many undelivered updates a slow watcher may lag
// behind before further updates are dropped for it.
const updateBuffer = 16

// Session is one websocket client watching a relay.
type Session struct {
	ID        string
	Remote    string
	CreatedAt time.Time

	updates chan []byte
}

// Updates returns the channel of encoded updates for this session. It is
// closed when the session is removed.
func (s *Session) Updates() <-chan []byte {
	return s.updates
}

// Manager manages active watch sessions
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	seq      atomic.Uint64
	dropped  atomic.Uint64
}

// NewManager creates a new session manager
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

// Create creates a new session
func (m *Manager) Create(remote string) *Session {
	session := &Session{
		ID:        fmt.Sprintf("watch-%d", m.seq.Add(1)),
		Remote:    remote,
		CreatedAt: time.Now(),
		updates:   make(chan []byte, updateBuffer),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[session.ID] = session
	return session
}

// Get retrieves a session by ID
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	return session, ok
}

// Remove removes a session and closes its update channel
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return
	}
	delete(m.sessions, id)
	close(session.updates)
}

// Broadcast queues msg on every session without blocking. Sessions whose
// buffer is full miss the update.
func (m *Manager) Broadcast(msg []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, session := range m.sessions {
		select {
		case session.updates <- msg:
		default:
			m.dropped.Add(1)
		}
	}
}

// Dropped returns how many updates were dropped for slow sessions.
func (m *Manager) Dropped() uint64 {
	return m.dropped.Load()
}

// GetAll returns all active sessions
func (m *Manager) GetAll() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// Count returns the number of active sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.sessions)
}
