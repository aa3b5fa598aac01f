package session

import (
	"log/slog"
	"sync"
	"time"
)

// Session tracks one identity's live connection and its game context.
type Session struct {
	ConnID        string
	Identity      string
	Name          string
	LobbyID       string
	InGame        bool
	BeingReplaced bool
	JoinedAt      time.Time
	LastActivity  time.Time
}

// Manager enforces the one-session-per-identity rule. An identity that
// connects while already holding a session either resumes it, replaces
// it, or is rejected; the caller drives that protocol, the manager
// supplies the bookkeeping.
type Manager struct {
	mu         sync.Mutex
	byIdentity map[string]*Session
	byConn     map[string]*Session
	logger     *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		byIdentity: make(map[string]*Session),
		byConn:     make(map[string]*Session),
		logger:     logger,
	}
}

// IsConnected reports whether the identity holds any session, replaced
// or not.
func (m *Manager) IsConnected(identity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byIdentity[identity]
	return ok
}

// Get returns the identity's session, or nil if none exists or the
// existing one is in the middle of being replaced.
func (m *Manager) Get(identity string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.byIdentity[identity]
	if s == nil || s.BeingReplaced {
		return nil
	}
	return s
}

// GetByConn returns the session bound to the connection, or nil.
func (m *Manager) GetByConn(connID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byConn[connID]
}

// MarkForReplacement flags the identity's current session so that
// lookups ignore it while the old connection is notified and severed.
// Returns the flagged session, or nil if the identity has none.
func (m *Manager) MarkForReplacement(identity string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.byIdentity[identity]
	if s == nil {
		return nil
	}
	s.BeingReplaced = true
	return s
}

// CreateResult reports the outcome of Create.
type CreateResult struct {
	Session  *Session
	Previous *Session
	IsNew    bool
}

// Create registers a session for the identity on the given connection.
// If the identity already has a session it is superseded; game context
// carries over to the new session unless the old one was explicitly
// marked for replacement, in which case the player starts clean.
func (m *Manager) Create(identity, name, connID string) *CreateResult {
	return m.register(identity, name, connID, false)
}

// Resume supersedes the identity's session with a new connection,
// carrying game context over even when the old session was marked for
// replacement. Used by the reconnect takeover, where the old connection
// is notified and severed first but the player keeps their game.
func (m *Manager) Resume(identity, name, connID string) *CreateResult {
	return m.register(identity, name, connID, true)
}

func (m *Manager) register(identity, name, connID string, keepContext bool) *CreateResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	prev := m.byIdentity[identity]

	s := &Session{
		ConnID:       connID,
		Identity:     identity,
		Name:         name,
		JoinedAt:     now,
		LastActivity: now,
	}

	if prev != nil {
		delete(m.byConn, prev.ConnID)
		if keepContext || !prev.BeingReplaced {
			s.LobbyID = prev.LobbyID
			s.InGame = prev.InGame
		}
		m.logger.Info("session superseded",
			"identity", identity, "old_conn", prev.ConnID, "new_conn", connID,
			"forced", prev.BeingReplaced)
	}

	m.byIdentity[identity] = s
	m.byConn[connID] = s

	return &CreateResult{Session: s, Previous: prev, IsNew: prev == nil}
}

// UpdateActivity refreshes the session's activity timestamp.
func (m *Manager) UpdateActivity(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.byConn[connID]; s != nil {
		s.LastActivity = time.Now()
	}
}

// UpdateLobby records which lobby the session's player occupies. An
// empty id clears the association.
func (m *Manager) UpdateLobby(identity, lobbyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.byIdentity[identity]; s != nil {
		s.LobbyID = lobbyID
		s.LastActivity = time.Now()
	}
}

// SetInGame flips the in-game flag for the identity's session. In-game
// sessions survive inactivity sweeps.
func (m *Manager) SetInGame(identity string, inGame bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.byIdentity[identity]; s != nil {
		s.InGame = inGame
		s.LastActivity = time.Now()
	}
}

// Remove deletes the session bound to the connection. It is a no-op if
// the identity has since been bound to a newer connection.
func (m *Manager) Remove(connID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.byConn[connID]
	if s == nil {
		return nil
	}
	delete(m.byConn, connID)
	if cur := m.byIdentity[s.Identity]; cur == s {
		delete(m.byIdentity, s.Identity)
	}
	return s
}

// CleanupInactive removes sessions idle beyond maxIdle. Sessions in an
// active game or mid-replacement are never swept.
func (m *Manager) CleanupInactive(maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cleaned := 0
	for identity, s := range m.byIdentity {
		if s.InGame || s.BeingReplaced {
			continue
		}
		if now.Sub(s.LastActivity) > maxIdle {
			delete(m.byIdentity, identity)
			delete(m.byConn, s.ConnID)
			cleaned++
		}
	}

	if cleaned > 0 {
		m.logger.Info("removed inactive sessions", "count", cleaned)
	}
	return cleaned
}

// Stats summarizes the manager for the stats endpoint.
type Stats struct {
	TotalSessions  int `json:"total_sessions"`
	InGameSessions int `json:"in_game_sessions"`
}

func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Stats
	s.TotalSessions = len(m.byIdentity)
	for _, sess := range m.byIdentity {
		if sess.InGame {
			s.InGameSessions++
		}
	}
	return s
}
