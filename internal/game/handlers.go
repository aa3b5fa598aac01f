package game

import (
	"errors"
	"time"

	"github.com/quiz-arena/internal/domain"
	"github.com/quiz-arena/internal/lobby"
)

const (
	purposeFinish   = "finish"
	purposeTeardown = "teardown"
)

func (c *Coordinator) handleJoinLobby(connID string, payload *domain.ClientPayload) {
	if payload.Identity == "" || payload.Name == "" {
		c.sendError(connID, "identity and name are required")
		return
	}

	if existing := c.sessions.Get(payload.Identity); existing != nil && existing.ConnID != connID {
		c.sender.Send(connID, domain.MsgSessionConflict, map[string]any{
			"identity": payload.Identity,
			"message":  "identity already connected elsewhere",
		})
		return
	}

	created := c.sessions.Create(payload.Identity, payload.Name, connID)

	res := c.lobbies.JoinOrCreate(payload.Identity, payload.Name, connID, c.lobbyCfg.DefaultCapacity)
	c.sessions.UpdateLobby(payload.Identity, res.Lobby.ID)

	c.sender.Send(connID, domain.MsgJoinConfirmed, map[string]any{
		"lobby_id":    res.Lobby.ID,
		"player_name": res.Player.Name,
		"reconnected": res.Reconnected,
		"new_session": created.IsNew,
	})
	c.broadcastLobbyUpdate(res.Lobby)
}

func (c *Coordinator) handleSetReady(connID string) {
	l, started, err := c.lobbies.SetReady(connID)
	if err != nil {
		c.sendError(connID, "not in a lobby")
		return
	}

	c.sender.Send(connID, domain.MsgReadyConfirmed, map[string]any{"lobby_id": l.ID})
	c.broadcastLobbyUpdate(l)

	if !started {
		return
	}

	names := make([]string, 0, len(l.Players))
	for _, p := range l.Players {
		names = append(names, p.Name)
		c.sessions.SetInGame(p.Identity, true)
	}
	c.broadcast(l, domain.MsgGameStarted, &domain.GameStartedPayload{
		TotalPlayers: l.TotalPlayersAtStart,
		Players:      names,
	})
}

func (c *Coordinator) handlePlayerLost(connID string, payload *domain.ClientPayload) {
	res, err := c.lobbies.Eliminate(connID,
		payload.QuestionIndex, payload.CorrectAnswers, payload.QuestionsAnswered)

	switch {
	case err == nil:
		// Late statistics from a previously disconnected player may
		// instead arrive here after reconnect; either way the counters
		// are now recorded.
		c.resolvePendingStats(res.Lobby.ID, res.Player.Identity)
		c.afterElimination(res, "answered_wrong")

	case errors.Is(err, domain.ErrAlreadyEliminated):
		// Repeat report. Record the fresher counters, ack with the
		// position assigned the first time.
		l := c.lobbies.FindByConn(connID)
		if l == nil {
			c.sendError(connID, "not in a lobby")
			return
		}
		p := l.PlayerByConn(connID)
		if _, uerr := c.lobbies.RecordProgress(l.ID, p.Identity,
			payload.CorrectAnswers, payload.QuestionsAnswered, false); uerr != nil {
			c.logger.Warn("recording late statistics failed", "error", uerr)
		}
		c.resolvePendingStats(l.ID, p.Identity)
		c.sender.Send(connID, domain.MsgEliminationConfirmed, map[string]any{
			"position": p.FinalPosition,
			"repeat":   true,
		})

	case errors.Is(err, domain.ErrAlreadyWinner):
		c.sender.Send(connID, domain.MsgError, map[string]string{
			"message": "winner cannot be eliminated",
		})

	default:
		c.sendError(connID, "elimination rejected")
	}
}

// afterElimination performs the shared fan-out once a player has been
// removed from contention: confirm to the loser, announce to the lobby,
// and drive the endgame when the field is down to one or zero.
func (c *Coordinator) afterElimination(res *lobby.EliminationResult, reason string) {
	l, p := res.Lobby, res.Player

	if p.ConnID != "" {
		c.sender.Send(p.ConnID, domain.MsgEliminationConfirmed, map[string]any{
			"position": res.Position,
		})
	}

	elim := &domain.PlayerEliminatedPayload{
		Name:        p.Name,
		Position:    res.Position,
		PlayersLeft: res.AliveAfter,
		Reason:      reason,
	}
	elim.Stats.CorrectAnswers = p.CorrectAnswers
	elim.Stats.QuestionsAnswered = p.QuestionsAnswered
	c.broadcast(l, domain.MsgPlayerEliminated, elim)
	c.broadcast(l, domain.MsgPlayersRemaining, map[string]any{
		"count": res.AliveAfter,
		"names": aliveNames(l),
	})

	switch {
	case res.AutoWinner != nil:
		c.broadcast(l, domain.MsgAutomaticWinnerNote, map[string]any{
			"winner": res.AutoWinner.Name,
		})
		// The winner's client gets a moment to confirm with its final
		// counters before the ranking locks in.
		c.scheduleFinish(l.ID, c.cfg.AutoWinnerDelay)

	case res.GameOver:
		c.scheduleFinish(l.ID, c.cfg.FinishDelay)
	}
}

func aliveNames(l *domain.Lobby) []string {
	alive := l.AlivePlayers()
	names := make([]string, 0, len(alive))
	for _, p := range alive {
		names = append(names, p.Name)
	}
	return names
}

func (c *Coordinator) handlePlayerWon(connID string, payload *domain.ClientPayload) {
	l, p, err := c.lobbies.DeclareWinner(connID,
		payload.CorrectAnswers, payload.QuestionsAnswered)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyEliminated) {
			c.sendError(connID, "eliminated player cannot win")
		} else {
			c.sendError(connID, "victory rejected")
		}
		return
	}

	c.resolvePendingStats(l.ID, p.Identity)
	c.sender.Send(connID, domain.MsgVictoryConfirmed, map[string]any{
		"position": 1,
	})
	c.scheduleFinish(l.ID, c.cfg.FinishDelay)
}

// handleAutomaticWinner is the winner-side confirmation of an automatic
// win: the lone survivor reports its final counters and the server
// verifies the claim before treating it like an ordinary victory.
func (c *Coordinator) handleAutomaticWinner(connID string, payload *domain.ClientPayload) {
	l := c.lobbies.FindByConn(connID)
	if l == nil {
		c.sendError(connID, "not in a lobby")
		return
	}

	p := l.PlayerByConn(connID)
	if !p.Alive() {
		c.sendError(connID, "eliminated player cannot win")
		return
	}
	if len(l.AlivePlayers()) != 1 {
		c.sendError(connID, "automatic win requires a lone survivor")
		return
	}

	if l.State == domain.LobbyPlaying {
		if _, _, err := c.lobbies.DeclareWinner(connID,
			payload.CorrectAnswers, payload.QuestionsAnswered); err != nil {
			c.sendError(connID, "victory rejected")
			return
		}
	} else {
		if _, err := c.lobbies.RecordProgress(l.ID, p.Identity,
			payload.CorrectAnswers, payload.QuestionsAnswered, false); err != nil {
			c.sendError(connID, "victory rejected")
			return
		}
	}

	c.resolvePendingStats(l.ID, p.Identity)
	c.sender.Send(connID, domain.MsgVictoryConfirmed, map[string]any{
		"position": 1,
	})
	c.scheduleFinish(l.ID, c.cfg.FinishDelay)
}

func (c *Coordinator) handlePlayerFinished(connID string, payload *domain.ClientPayload) {
	l := c.lobbies.FindByConn(connID)
	if l == nil {
		c.sendError(connID, "not in a lobby")
		return
	}

	p := l.PlayerByConn(connID)
	if _, err := c.lobbies.RecordProgress(l.ID, p.Identity,
		payload.CorrectAnswers, payload.QuestionsAnswered, true); err != nil {
		c.sendError(connID, "progress rejected")
		return
	}
	c.resolvePendingStats(l.ID, p.Identity)

	var stillPlaying []string
	for _, m := range l.Players {
		if m.Alive() && !m.CompletedAll {
			stillPlaying = append(stillPlaying, m.Name)
		}
	}
	c.sender.Send(connID, domain.MsgWaitingForOthers, map[string]any{
		"lobby_id":      l.ID,
		"still_playing": stillPlaying,
	})
	c.broadcast(l, domain.MsgPlayerFinishedAll, map[string]any{
		"name": p.Name,
	})

	done, err := c.lobbies.AllCompleted(l.ID)
	if err != nil || !done {
		return
	}
	c.scheduleFinish(l.ID, c.cfg.FinishDelay)
}

func (c *Coordinator) handleCheckSession(connID string, payload *domain.ClientPayload) {
	if payload.Identity == "" {
		c.sendError(connID, "identity is required")
		return
	}

	sess := c.sessions.Get(payload.Identity)
	if sess == nil {
		c.sender.Send(connID, domain.MsgSessionFound, map[string]any{
			"exists": false,
		})
		return
	}

	c.sender.Send(connID, domain.MsgSessionFound, map[string]any{
		"exists": true,
		"session": &domain.SessionInfo{
			Name:         sess.Name,
			LobbyID:      sess.LobbyID,
			InGame:       sess.InGame,
			LastActivity: sess.LastActivity,
		},
	})
}

func (c *Coordinator) handleReconnect(connID string, payload *domain.ClientPayload) {
	if payload.Identity == "" {
		c.sendError(connID, "identity is required")
		return
	}

	prev := c.sessions.Get(payload.Identity)
	if prev == nil {
		c.sender.Send(connID, domain.MsgReconnectResult, map[string]any{
			"success": false,
			"message": "no session to resume",
		})
		return
	}

	// The old connection is told it lost the session and severed
	// before the takeover binds, so the identity never holds two live
	// connections.
	if prev.ConnID != connID {
		c.sessions.MarkForReplacement(payload.Identity)
		c.sender.Disconnect(prev.ConnID, domain.MsgSessionReplaced, map[string]any{
			"message": "your session resumed on another connection",
		})
	}

	name := prev.Name
	if payload.Name != "" {
		name = payload.Name
	}
	created := c.sessions.Resume(payload.Identity, name, connID)
	sess := created.Session

	response := map[string]any{
		"success":  true,
		"lobby_id": sess.LobbyID,
		"in_game":  sess.InGame,
	}

	if sess.LobbyID != "" {
		if l := c.lobbies.FindByID(sess.LobbyID); l != nil {
			c.lobbies.RebindConnection(l.ID, payload.Identity, connID)
			response["lobby"] = lobbySnapshot(l)
		} else {
			// Lobby torn down while the player was away.
			c.sessions.UpdateLobby(payload.Identity, "")
			c.sessions.SetInGame(payload.Identity, false)
			response["lobby_id"] = ""
			response["in_game"] = false
		}
	}

	c.sender.Send(connID, domain.MsgReconnectResult, response)
	c.logger.Info("session resumed",
		"identity", payload.Identity, "conn_id", connID, "lobby_id", sess.LobbyID)
}

// handleForceNewSession replaces an identity's existing session: the old
// connection is told it has been replaced, then severed, and only then
// is the fresh session created with no inherited game context.
func (c *Coordinator) handleForceNewSession(connID string, payload *domain.ClientPayload) {
	if payload.Identity == "" || payload.Name == "" {
		c.sendError(connID, "identity and name are required")
		return
	}

	if old := c.sessions.MarkForReplacement(payload.Identity); old != nil && old.ConnID != connID {
		c.sender.Disconnect(old.ConnID, domain.MsgSessionReplaced, map[string]any{
			"message": "your session was opened on another connection",
		})
	}

	c.sessions.Create(payload.Identity, payload.Name, connID)
	c.sender.Send(connID, domain.MsgNewSessionCreated, map[string]any{
		"identity": payload.Identity,
	})
}

func (c *Coordinator) handleLogout(connID string) {
	sess := c.sessions.Remove(connID)
	if sess != nil {
		if l, empty, err := c.lobbies.RemovePlayer(connID); err == nil {
			if empty {
				c.lobbies.Remove(l.ID)
			} else {
				c.broadcastLobbyUpdate(l)
			}
		}
		c.logger.Info("player logged out", "identity", sess.Identity)
	}
	c.sender.Disconnect(connID, domain.MsgLogoutConfirmed, map[string]any{
		"message": "logged out",
	})
}

func (c *Coordinator) handleGetLobbyState(connID string) {
	l := c.lobbies.FindByConn(connID)
	if l == nil {
		c.sendError(connID, "not in a lobby")
		return
	}
	c.sender.Send(connID, domain.MsgLobbyState, lobbySnapshot(l))
}

func (c *Coordinator) handleSessionStatus(connID string) {
	sess := c.sessions.GetByConn(connID)
	if sess == nil {
		c.sendError(connID, "no session")
		return
	}
	c.sender.Send(connID, domain.MsgSessionStats, map[string]any{
		"stats": c.sessions.GetStats(),
		"session": &domain.SessionInfo{
			Name:         sess.Name,
			LobbyID:      sess.LobbyID,
			InGame:       sess.InGame,
			LastActivity: sess.LastActivity,
		},
	})
}

// addPendingStats registers an identity whose final counters may still
// arrive, typically after a mid-game disconnect.
func (c *Coordinator) addPendingStats(lobbyID, identity string) {
	set := c.pending[lobbyID]
	if set == nil {
		set = make(map[string]bool)
		c.pending[lobbyID] = set
	}
	set[identity] = true
}

// resolvePendingStats clears an identity from the lobby's wait set. If a
// finalize was parked behind the set and it is now empty, the finalize
// runs immediately instead of waiting out its window.
func (c *Coordinator) resolvePendingStats(lobbyID, identity string) {
	set := c.pending[lobbyID]
	if set == nil || !set[identity] {
		return
	}
	delete(set, identity)
	if len(set) == 0 {
		delete(c.pending, lobbyID)
		if c.awaitingFinish[lobbyID] {
			c.logger.Info("all pending statistics arrived, finalizing early",
				"lobby_id", lobbyID)
			c.timers.cancel(lobbyID, purposeFinish)
			c.finishGame(lobbyID)
		}
	}
}

// scheduleFinish arms the finalize timer for the lobby. When identities
// with recent eliminations still owe statistics, the delay is widened to
// the pending-statistics window so a quick reconnect can land its
// counters first.
func (c *Coordinator) scheduleFinish(lobbyID string, delay time.Duration) {
	if c.finished[lobbyID] {
		return
	}

	c.pruneStalePending(lobbyID)
	if set := c.pending[lobbyID]; len(set) > 0 {
		c.awaitingFinish[lobbyID] = true
		if c.cfg.PendingStatsWindow > delay {
			delay = c.cfg.PendingStatsWindow
		}
		c.logger.Info("delaying finalize for pending statistics",
			"lobby_id", lobbyID, "waiting_on", len(set), "delay", delay)
	}

	c.timers.schedule(lobbyID, purposeFinish, delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.finishGame(lobbyID)
	})
}

// pruneStalePending drops identities whose elimination is too old for a
// late report to still be expected.
func (c *Coordinator) pruneStalePending(lobbyID string) {
	set := c.pending[lobbyID]
	if len(set) == 0 {
		return
	}
	l := c.lobbies.FindByID(lobbyID)
	if l == nil {
		delete(c.pending, lobbyID)
		return
	}
	cutoff := time.Now().Add(-c.cfg.StatsRecencyWindow)
	for identity := range set {
		p := l.PlayerByIdentity(identity)
		if p == nil || p.EliminatedAt.IsZero() || p.EliminatedAt.Before(cutoff) {
			delete(set, identity)
		}
	}
	if len(set) == 0 {
		delete(c.pending, lobbyID)
	}
}
