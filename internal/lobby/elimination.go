package lobby

import (
	"time"

	"github.com/quiz-arena/internal/domain"
)

// EliminationResult describes what happened when a player was removed
// from the running game.
type EliminationResult struct {
	Lobby            *domain.Lobby
	Player           *domain.Player
	Position         int
	AliveAfter       int
	GameOver         bool
	AutoWinner       *domain.Player
	AutoWinCandidate bool
}

// Eliminate marks the connection's player as eliminated, assigns their
// final position and updates their answer counters. Position is the
// number of players still alive after the removal plus one, so the
// first of four players out takes fourth place.
//
// When exactly two players are alive beforehand, the survivor becomes
// an automatic-winner candidate; the caller decides when to crown them.
// A player who already holds winner state is never demoted, that case
// returns ErrAlreadyWinner. Repeat eliminations return
// ErrAlreadyEliminated and leave the recorded position untouched.
func (r *Registry) Eliminate(connID string, questionIndex, correct, answered int) (*EliminationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.findByConn(connID)
	if l == nil {
		return nil, domain.ErrLobbyNotFound
	}
	if l.State != domain.LobbyPlaying {
		return nil, domain.ErrGameNotActive
	}

	p := l.PlayerByConn(connID)
	if p.State == domain.PlayerWinner {
		return nil, domain.ErrAlreadyWinner
	}
	if p.State == domain.PlayerEliminated {
		return nil, domain.ErrAlreadyEliminated
	}

	aliveBefore := len(l.AlivePlayers())

	// Last write wins on counters, the client's latest report is
	// trusted.
	p.CorrectAnswers = correct
	p.QuestionsAnswered = answered
	if questionIndex > l.CurrentQuestion {
		l.CurrentQuestion = questionIndex
	}

	if err := p.Transition(domain.PlayerEliminated); err != nil {
		return nil, err
	}
	if p.EliminatedAt.IsZero() {
		p.EliminatedAt = time.Now()
	}
	l.AppendElimination(p.Identity)

	aliveAfter := aliveBefore - 1
	p.FinalPosition = aliveAfter + 1

	res := &EliminationResult{
		Lobby:      l,
		Player:     p,
		Position:   p.FinalPosition,
		AliveAfter: aliveAfter,
	}

	if aliveBefore == 2 {
		res.AutoWinCandidate = true
	}

	// A lone survivor is crowned immediately but the lobby stays
	// playing until the winner confirms or the finish timer fires.
	if aliveAfter == 1 {
		for _, m := range l.Players {
			if !m.Alive() {
				continue
			}
			if m.State != domain.PlayerWinner {
				if err := m.Transition(domain.PlayerWinner); err == nil {
					m.Won = true
					m.FinalPosition = 1
				}
			}
			res.AutoWinner = m
			break
		}
	}
	if aliveAfter == 0 {
		res.GameOver = true
	}

	l.Touch(time.Now())
	r.logger.Info("player eliminated",
		"lobby_id", l.ID, "identity", p.Identity,
		"position", p.FinalPosition, "alive", aliveAfter)

	return res, nil
}

// DeclareWinner crowns the connection's player as first place and closes
// the game. Any other player still alive is eliminated in the same step;
// those without an earlier recorded position share the last place, the
// frozen at-start player count.
func (r *Registry) DeclareWinner(connID string, correct, answered int) (*domain.Lobby, *domain.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.findByConn(connID)
	if l == nil {
		return nil, nil, domain.ErrLobbyNotFound
	}
	if l.State != domain.LobbyPlaying {
		return nil, nil, domain.ErrGameNotActive
	}

	p := l.PlayerByConn(connID)
	if p.State == domain.PlayerEliminated {
		return nil, nil, domain.ErrAlreadyEliminated
	}

	p.CorrectAnswers = correct
	p.QuestionsAnswered = answered

	if p.State != domain.PlayerWinner {
		if err := p.Transition(domain.PlayerWinner); err != nil {
			return nil, nil, err
		}
	}
	p.Won = true
	p.FinalPosition = 1

	now := time.Now()
	for _, m := range l.Players {
		if m == p || m.State != domain.PlayerActive {
			continue
		}
		if err := m.Transition(domain.PlayerEliminated); err != nil {
			continue
		}
		if m.EliminatedAt.IsZero() {
			m.EliminatedAt = now
		}
		if m.FinalPosition == 0 {
			m.FinalPosition = l.TotalPlayers()
		}
		l.AppendElimination(m.Identity)
	}

	if err := l.Transition(domain.LobbyFinished); err != nil {
		return nil, nil, err
	}
	l.Touch(now)

	r.logger.Info("winner declared",
		"lobby_id", l.ID, "identity", p.Identity,
		"correct", correct, "answered", answered)

	return l, p, nil
}

// MarkWinner promotes an alive player to winner state without closing
// the lobby. Used when a lone survivor is crowned while the finish
// sequence is still pending.
func (r *Registry) MarkWinner(lobbyID, identity string) (*domain.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.findByID(lobbyID)
	if l == nil {
		return nil, domain.ErrLobbyNotFound
	}
	p := l.PlayerByIdentity(identity)
	if p == nil {
		return nil, domain.ErrPlayerNotFound
	}
	if p.State == domain.PlayerWinner {
		return p, nil
	}
	if err := p.Transition(domain.PlayerWinner); err != nil {
		return nil, err
	}
	p.Won = true
	p.FinalPosition = 1
	return p, nil
}

// RecordProgress updates a player's answer counters without changing
// their state. Used for the completed-all-questions flow and for late
// statistics reconciliation.
func (r *Registry) RecordProgress(lobbyID, identity string, correct, answered int, completedAll bool) (*domain.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.findByID(lobbyID)
	if l == nil {
		return nil, domain.ErrLobbyNotFound
	}
	p := l.PlayerByIdentity(identity)
	if p == nil {
		return nil, domain.ErrPlayerNotFound
	}

	p.CorrectAnswers = correct
	p.QuestionsAnswered = answered
	if completedAll {
		p.CompletedAll = true
	}
	l.Touch(time.Now())

	return p, nil
}

// GameEnd describes whether a lobby's game should close out.
type GameEnd struct {
	ShouldEnd bool
	Winner    *domain.Player
}

// CheckGameEnd reports whether the game is over: true with the sole
// alive player as winner when one remains, true with no winner when
// none remain.
func (r *Registry) CheckGameEnd(lobbyID string) (*GameEnd, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.findByID(lobbyID)
	if l == nil {
		return nil, domain.ErrLobbyNotFound
	}

	alive := l.AlivePlayers()
	switch len(alive) {
	case 0:
		return &GameEnd{ShouldEnd: true}, nil
	case 1:
		return &GameEnd{ShouldEnd: true, Winner: alive[0]}, nil
	default:
		return &GameEnd{}, nil
	}
}

// BackfillEliminations stamps a timestamp on eliminated players that
// are missing one, so ranking tie-breaks never compare a zero time.
func (r *Registry) BackfillEliminations(lobbyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.findByID(lobbyID)
	if l == nil {
		return domain.ErrLobbyNotFound
	}

	now := time.Now()
	for _, p := range l.Players {
		if p.State == domain.PlayerEliminated && p.EliminatedAt.IsZero() {
			p.EliminatedAt = now
			r.logger.Warn("backfilled missing elimination timestamp",
				"lobby_id", l.ID, "identity", p.Identity)
		}
		if p.State == domain.PlayerEliminated {
			l.AppendElimination(p.Identity)
		}
	}
	return nil
}

// FinishLobby transitions a playing lobby to finished. Safe to call on
// an already finished lobby.
func (r *Registry) FinishLobby(lobbyID string) (*domain.Lobby, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.findByID(lobbyID)
	if l == nil {
		return nil, domain.ErrLobbyNotFound
	}
	if l.State == domain.LobbyFinished {
		return l, nil
	}
	if err := l.Transition(domain.LobbyFinished); err != nil {
		return nil, err
	}
	l.Touch(time.Now())
	return l, nil
}

// AllCompleted reports whether every player in the lobby has either
// finished all questions or been eliminated.
func (r *Registry) AllCompleted(lobbyID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.findByID(lobbyID)
	if l == nil {
		return false, domain.ErrLobbyNotFound
	}
	for _, m := range l.Players {
		if m.State == domain.PlayerEliminated {
			continue
		}
		if !m.CompletedAll {
			return false, nil
		}
	}
	return true, nil
}
