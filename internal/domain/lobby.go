package domain

import "time"

// LobbyState represents the phase a lobby is in
type LobbyState string

const (
	LobbyWaiting  LobbyState = "waiting"
	LobbyPlaying  LobbyState = "playing"
	LobbyFinished LobbyState = "finished"
)

// PlayerState represents a player's phase within a lobby
type PlayerState string

const (
	// PlayerActive is a player still in contention
	PlayerActive PlayerState = "active"
	// PlayerEliminated is a player removed from contention
	PlayerEliminated PlayerState = "eliminated"
	// PlayerWinner is a confirmed winner; winners count as alive until finalize
	PlayerWinner PlayerState = "winner"
)

// lobbyTransitions enumerates the legal lobby state changes
var lobbyTransitions = map[LobbyState][]LobbyState{
	LobbyWaiting: {LobbyPlaying, LobbyFinished},
	LobbyPlaying: {LobbyFinished},
}

// playerTransitions enumerates the legal player state changes
var playerTransitions = map[PlayerState][]PlayerState{
	PlayerActive: {PlayerEliminated, PlayerWinner},
}

// Player is a lobby-scoped participant. The connection reference is
// reassigned in place on reconnect, never duplicated. Answer counters are
// client-reported and last-write-wins: a newer report always overwrites.
type Player struct {
	ConnID            string      `json:"-"`
	Identity          string      `json:"identity"`
	Name              string      `json:"name"`
	Ready             bool        `json:"ready"`
	State             PlayerState `json:"state"`
	CorrectAnswers    int         `json:"correct_answers"`
	QuestionsAnswered int         `json:"questions_answered"`
	CompletedAll      bool        `json:"completed_all"`
	Won               bool        `json:"won"`
	FinalPosition     int         `json:"final_position,omitempty"`
	JoinedAt          time.Time   `json:"joined_at"`
	EliminatedAt      time.Time   `json:"eliminated_at,omitempty"`
}

// Alive reports whether the player is still in contention. Confirmed
// winners stay alive until finalize.
func (p *Player) Alive() bool {
	return p.State == PlayerActive || p.State == PlayerWinner
}

// Transition moves the player to state s, rejecting illegal changes such
// as eliminated back to active or winner to eliminated.
func (p *Player) Transition(s PlayerState) error {
	if p.State == s {
		return nil
	}
	for _, allowed := range playerTransitions[p.State] {
		if allowed == s {
			p.State = s
			return nil
		}
	}
	return ErrIllegalTransition
}

// Lobby is a bounded group of players progressing through one game
// instance together. Players hold join order, not ranking order.
type Lobby struct {
	ID                  string     `json:"id"`
	Players             []*Player  `json:"players"`
	Capacity            int        `json:"capacity"`
	State               LobbyState `json:"state"`
	CurrentQuestion     int        `json:"current_question"`
	EliminationOrder    []string   `json:"elimination_order"`
	StartedAt           time.Time  `json:"started_at,omitempty"`
	TotalPlayersAtStart int        `json:"total_players_at_start"`
	LastActivity        time.Time  `json:"-"`
}

// Transition moves the lobby to state s, rejecting illegal changes.
func (l *Lobby) Transition(s LobbyState) error {
	if l.State == s {
		return nil
	}
	for _, allowed := range lobbyTransitions[l.State] {
		if allowed == s {
			l.State = s
			return nil
		}
	}
	return ErrIllegalTransition
}

// Touch updates the lobby's activity timestamp.
func (l *Lobby) Touch(now time.Time) {
	l.LastActivity = now
}

// IsOpen reports whether the lobby can accept another player.
func (l *Lobby) IsOpen() bool {
	return l.State == LobbyWaiting && len(l.Players) < l.Capacity
}

// PlayerByConn returns the member holding the given connection, or nil.
func (l *Lobby) PlayerByConn(connID string) *Player {
	for _, p := range l.Players {
		if p.ConnID == connID {
			return p
		}
	}
	return nil
}

// PlayerByIdentity returns the member with the given identity key, or nil.
func (l *Lobby) PlayerByIdentity(identity string) *Player {
	for _, p := range l.Players {
		if p.Identity == identity {
			return p
		}
	}
	return nil
}

// AlivePlayers returns the members still in contention, in join order.
func (l *Lobby) AlivePlayers() []*Player {
	var alive []*Player
	for _, p := range l.Players {
		if p.Alive() {
			alive = append(alive, p)
		}
	}
	return alive
}

// TotalPlayers returns the frozen at-start count, falling back to the
// current member count for lobbies that never started.
func (l *Lobby) TotalPlayers() int {
	if l.TotalPlayersAtStart > 0 {
		return l.TotalPlayersAtStart
	}
	return len(l.Players)
}

// AppendElimination records identity in the elimination order exactly once.
func (l *Lobby) AppendElimination(identity string) {
	for _, id := range l.EliminationOrder {
		if id == identity {
			return
		}
	}
	l.EliminationOrder = append(l.EliminationOrder, identity)
}

// GameResult is one player's outcome of a finished game, handed to the
// persistence collaborators fire-and-forget.
type GameResult struct {
	LobbyID           string        `json:"lobby_id"`
	Identity          string        `json:"identity"`
	Name              string        `json:"name"`
	Position          int           `json:"position"`
	Won               bool          `json:"won"`
	CorrectAnswers    int           `json:"correct_answers"`
	QuestionsAnswered int           `json:"questions_answered"`
	TotalPlayers      int           `json:"total_players"`
	Elapsed           time.Duration `json:"elapsed_ms"`
	FinishedAt        time.Time     `json:"finished_at"`
}
