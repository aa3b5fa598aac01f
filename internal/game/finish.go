package game

import (
	"context"
	"fmt"
	"time"

	"github.com/quiz-arena/internal/domain"
	"github.com/quiz-arena/internal/lobby"
)

// finishGame finalizes a game exactly once: it computes the validated
// ranking, broadcasts one personalized results message to every member,
// hands the results to the recorders and schedules lobby teardown.
// Callers must hold the coordinator mutex.
func (c *Coordinator) finishGame(lobbyID string) {
	if c.finished[lobbyID] {
		return
	}

	l := c.lobbies.FindByID(lobbyID)
	if l == nil {
		return
	}

	// Guard first so concurrent triggers racing through timers observe
	// the finalize as taken.
	c.finished[lobbyID] = true
	delete(c.awaitingFinish, lobbyID)
	delete(c.pending, lobbyID)

	if err := c.lobbies.BackfillEliminations(lobbyID); err != nil {
		c.logger.Warn("elimination backfill failed", "lobby_id", lobbyID, "error", err)
	}

	ranking, err := lobby.ComputeFinalRanking(l, c.logger)
	if err != nil {
		// Release the guard so a later trigger can retry once more
		// statistics have arrived.
		delete(c.finished, lobbyID)
		c.logger.Error("finalize aborted, ranking invalid",
			"lobby_id", lobbyID, "error", err)
		return
	}

	if _, err := c.lobbies.FinishLobby(lobbyID); err != nil {
		c.logger.Error("marking lobby finished failed",
			"lobby_id", lobbyID, "error", err)
	}

	now := time.Now()
	elapsed := time.Duration(0)
	if !l.StartedAt.IsZero() {
		elapsed = now.Sub(l.StartedAt)
	}

	payload := &domain.GameEndedPayload{
		Winner:           ranking.Winner,
		Positions:        ranking.Positions,
		Ranking:          ranking.Order,
		TotalPlayers:     ranking.TotalPlayers,
		EliminationOrder: ranking.EliminationOrder,
		Stats:            ranking.Stats,
	}

	for _, p := range l.Players {
		c.sessions.SetInGame(p.Identity, false)
		c.sessions.UpdateLobby(p.Identity, "")

		if p.ConnID == "" {
			continue
		}
		personal := *payload
		personal.YourStats = &domain.PersonalStats{
			CorrectAnswers:    p.CorrectAnswers,
			QuestionsAnswered: p.QuestionsAnswered,
			FinalPosition:     ranking.Positions[p.Name],
			Won:               ranking.Positions[p.Name] == 1,
			GameTime:          formatGameTime(elapsed),
		}
		c.sender.Send(p.ConnID, domain.MsgGameEnded, &personal)
	}

	c.logger.Info("game finished",
		"lobby_id", lobbyID, "winner", ranking.Winner,
		"players", ranking.TotalPlayers, "elapsed", elapsed,
		"fallback_ranking", ranking.UsedFallback)

	c.recordResults(l, ranking, elapsed, now)

	// Members may still fetch lobby state during the grace window, the
	// lobby itself is torn down afterwards.
	c.timers.schedule(lobbyID, purposeTeardown, c.cfg.FinalizeGrace, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.teardown(lobbyID)
	})
}

// recordResults fans results out to every recorder in the background.
// Persistence is best effort and never blocks or fails the game flow.
func (c *Coordinator) recordResults(l *domain.Lobby, ranking *lobby.Ranking, elapsed time.Duration, finishedAt time.Time) {
	if len(c.recorders) == 0 {
		return
	}

	results := make([]domain.GameResult, 0, len(l.Players))
	for _, p := range l.Players {
		pos := ranking.Positions[p.Name]
		results = append(results, domain.GameResult{
			LobbyID:           l.ID,
			Identity:          p.Identity,
			Name:              p.Name,
			Position:          pos,
			Won:               pos == 1,
			CorrectAnswers:    p.CorrectAnswers,
			QuestionsAnswered: p.QuestionsAnswered,
			TotalPlayers:      ranking.TotalPlayers,
			Elapsed:           elapsed,
			FinishedAt:        finishedAt,
		})
	}

	for _, rec := range c.recorders {
		go func(rec ResultRecorder) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := rec.RecordGameResults(ctx, results); err != nil {
				c.logger.Error("recording game results failed",
					"lobby_id", l.ID, "recorder", fmt.Sprintf("%T", rec), "error", err)
			}
		}(rec)
	}
}

// teardown removes a finalized lobby and clears its finalize guard.
// Callers must hold the coordinator mutex.
func (c *Coordinator) teardown(lobbyID string) {
	c.timers.cancelLobby(lobbyID)
	c.lobbies.Remove(lobbyID)
	delete(c.finished, lobbyID)
	delete(c.pending, lobbyID)
	delete(c.awaitingFinish, lobbyID)
	c.logger.Info("lobby torn down", "lobby_id", lobbyID)
}

// formatGameTime renders a duration as m:ss for the results payload.
func formatGameTime(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
