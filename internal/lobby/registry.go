package lobby

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quiz-arena/internal/domain"
)

// Registry is the authoritative in-memory collection of lobbies. All
// lobby state is ephemeral and rebuilt from scratch on process restart.
//
// The registry's own mutex makes each operation safe in isolation;
// multi-operation sequences are serialized by the game coordinator.
type Registry struct {
	mu         sync.Mutex
	lobbies    []*domain.Lobby
	minPlayers int
	logger     *slog.Logger
}

// NewRegistry creates an empty lobby registry. minPlayers is the lower
// bound for a game to start (at least 2).
func NewRegistry(minPlayers int, logger *slog.Logger) *Registry {
	if minPlayers < 2 {
		minPlayers = 2
	}
	return &Registry{
		minPlayers: minPlayers,
		logger:     logger,
	}
}

// JoinResult reports the outcome of JoinOrCreate.
type JoinResult struct {
	Lobby       *domain.Lobby
	Player      *domain.Player
	Reconnected bool
	Created     bool
}

// JoinOrCreate places the identity in an open lobby with the given
// capacity, creating one if none exists. If a player with the same
// identity already belongs to a lobby this is a reconnection: the
// connection reference is updated in place and no duplicate entry is
// created.
func (r *Registry) JoinOrCreate(identity, name, connID string, capacity int) *JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	// Reconnection into an existing membership takes priority over
	// lobby assignment.
	for _, l := range r.lobbies {
		if p := l.PlayerByIdentity(identity); p != nil {
			r.logger.Info("player reconnecting, updating connection",
				"lobby_id", l.ID, "identity", identity)
			p.ConnID = connID
			l.Touch(now)
			return &JoinResult{Lobby: l, Player: p, Reconnected: true}
		}
	}

	var lobby *domain.Lobby
	for _, l := range r.lobbies {
		if l.IsOpen() {
			lobby = l
			break
		}
	}

	created := false
	if lobby == nil {
		lobby = &domain.Lobby{
			ID:           uuid.New().String(),
			Capacity:     capacity,
			State:        domain.LobbyWaiting,
			LastActivity: now,
		}
		r.lobbies = append(r.lobbies, lobby)
		created = true
		r.logger.Info("lobby created", "lobby_id", lobby.ID, "capacity", capacity)
	}

	player := &domain.Player{
		ConnID:   connID,
		Identity: identity,
		Name:     name,
		State:    domain.PlayerActive,
		JoinedAt: now,
	}
	lobby.Players = append(lobby.Players, player)
	lobby.Touch(now)

	return &JoinResult{Lobby: lobby, Player: player, Created: created}
}

// FindByConn returns the lobby holding the given connection, or nil.
func (r *Registry) FindByConn(connID string) *domain.Lobby {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findByConn(connID)
}

func (r *Registry) findByConn(connID string) *domain.Lobby {
	for _, l := range r.lobbies {
		if l.PlayerByConn(connID) != nil {
			return l
		}
	}
	return nil
}

// FindByID returns the lobby with the given id, or nil.
func (r *Registry) FindByID(id string) *domain.Lobby {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findByID(id)
}

func (r *Registry) findByID(id string) *domain.Lobby {
	for _, l := range r.lobbies {
		if l.ID == id {
			return l
		}
	}
	return nil
}

// RebindConnection points the identity's player record in the lobby at
// a new connection, as happens when a session resumes on a fresh
// socket.
func (r *Registry) RebindConnection(lobbyID, identity, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.findByID(lobbyID)
	if l == nil {
		return domain.ErrLobbyNotFound
	}
	p := l.PlayerByIdentity(identity)
	if p == nil {
		return domain.ErrPlayerNotFound
	}
	p.ConnID = connID
	l.Touch(time.Now())
	return nil
}

// SetReady marks the connection's player ready. When the member count is
// within [minPlayers, capacity] and everyone is ready, the lobby
// transitions to playing: the at-start total is frozen and the start
// timestamp recorded. Returns the lobby and whether the game started.
func (r *Registry) SetReady(connID string) (*domain.Lobby, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.findByConn(connID)
	if l == nil {
		return nil, false, domain.ErrLobbyNotFound
	}

	p := l.PlayerByConn(connID)
	p.Ready = true
	l.Touch(time.Now())

	if l.State != domain.LobbyWaiting {
		return l, false, nil
	}

	allReady := true
	for _, m := range l.Players {
		if !m.Ready {
			allReady = false
			break
		}
	}

	if allReady && len(l.Players) >= r.minPlayers && len(l.Players) <= l.Capacity {
		if err := l.Transition(domain.LobbyPlaying); err != nil {
			return l, false, err
		}
		l.StartedAt = time.Now()
		l.TotalPlayersAtStart = len(l.Players)
		r.logger.Info("game starting",
			"lobby_id", l.ID, "players", l.TotalPlayersAtStart)
		return l, true, nil
	}

	return l, false, nil
}

// RemovePlayer removes a player from a non-playing lobby and reports
// whether the lobby became empty. Actively playing lobbies keep their
// player records so statistics remain available for ranking.
func (r *Registry) RemovePlayer(connID string) (*domain.Lobby, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.findByConn(connID)
	if l == nil {
		return nil, false, domain.ErrLobbyNotFound
	}
	if l.State == domain.LobbyPlaying {
		return l, false, domain.ErrLobbyPlaying
	}

	for i, p := range l.Players {
		if p.ConnID == connID {
			l.Players = append(l.Players[:i], l.Players[i+1:]...)
			r.logger.Info("player removed from lobby",
				"lobby_id", l.ID, "identity", p.Identity, "remaining", len(l.Players))
			break
		}
	}
	l.Touch(time.Now())

	return l, len(l.Players) == 0, nil
}

// Remove drops the lobby with the given id from the registry.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, l := range r.lobbies {
		if l.ID == id {
			r.lobbies = append(r.lobbies[:i], r.lobbies[i+1:]...)
			r.logger.Info("lobby removed", "lobby_id", id)
			return true
		}
	}
	return false
}

// CleanupEmpty removes lobbies with no players and returns how many
// were removed.
func (r *Registry) CleanupEmpty() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cleaned := 0
	kept := r.lobbies[:0]
	for _, l := range r.lobbies {
		if len(l.Players) == 0 {
			cleaned++
			continue
		}
		kept = append(kept, l)
	}
	r.lobbies = kept

	if cleaned > 0 {
		r.logger.Info("removed empty lobbies", "count", cleaned)
	}
	return cleaned
}

// CleanupInactive removes lobbies idle beyond maxIdle. Only waiting and
// finished lobbies are eligible, never playing ones.
func (r *Registry) CleanupInactive(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cleaned := 0
	kept := r.lobbies[:0]
	for _, l := range r.lobbies {
		idle := now.Sub(l.LastActivity)
		if idle > maxIdle && l.State != domain.LobbyPlaying {
			r.logger.Info("removed inactive lobby",
				"lobby_id", l.ID, "state", l.State, "idle", idle)
			cleaned++
			continue
		}
		kept = append(kept, l)
	}
	r.lobbies = kept

	return cleaned
}

// Stats summarizes the registry for the stats endpoint.
type Stats struct {
	TotalLobbies    int `json:"total_lobbies"`
	WaitingLobbies  int `json:"waiting_lobbies"`
	PlayingLobbies  int `json:"playing_lobbies"`
	FinishedLobbies int `json:"finished_lobbies"`
	EmptyLobbies    int `json:"empty_lobbies"`
	TotalPlayers    int `json:"total_players"`
}

// GetStats returns aggregate lobby statistics.
func (r *Registry) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s Stats
	s.TotalLobbies = len(r.lobbies)
	for _, l := range r.lobbies {
		if len(l.Players) == 0 {
			s.EmptyLobbies++
			continue
		}
		s.TotalPlayers += len(l.Players)
		switch l.State {
		case domain.LobbyPlaying:
			s.PlayingLobbies++
		case domain.LobbyFinished:
			s.FinishedLobbies++
		default:
			s.WaitingLobbies++
		}
	}
	return s
}
