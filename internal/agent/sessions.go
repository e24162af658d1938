package agent

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SessionManager tracks open chat websockets per visitor and tab session.
// A visitor holds at most one connection per session; a reconnect replaces
// the previous one.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// GetActive returns the active connection for a visitor and session.
func (m *SessionManager) GetActive(visitorID, sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[visitorID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register adds a connection, closing any connection it replaces.
func (m *SessionManager) Register(visitorID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[visitorID]; !exists {
		m.active[visitorID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[visitorID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[visitorID][sessionID] = conn
	slog.Info("Chat session registered", "visitor_id", visitorID, "session_id", sessionID)
}

// Unregister removes a connection if it is still the current one.
func (m *SessionManager) Unregister(visitorID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[visitorID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, visitorID)
			}
			slog.Info("Chat session unregistered", "visitor_id", visitorID, "session_id", sessionID)
		}
	}
}

// Count returns the number of open connections.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// CloseAll terminates every open connection. Used on shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for visitorID, sessions := range m.active {
		for sid, conn := range sessions {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			slog.Info("Chat session closed", "visitor_id", visitorID, "session_id", sid)
		}
	}
	m.active = make(map[string]map[string]*websocket.Conn)
}
