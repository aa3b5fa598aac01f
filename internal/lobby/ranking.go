package lobby

import (
	"log/slog"
	"sort"

	"github.com/quiz-arena/internal/domain"
)

// Ranking is the validated final standing of a finished game.
type Ranking struct {
	// Positions maps player name to final position, 1 is the winner.
	Positions map[string]int
	// Order lists player names best to worst.
	Order []string
	// Winner is the name of the first-place player, empty when no
	// player won.
	Winner string
	// Stats holds per-player answer counters keyed by name.
	Stats map[string]domain.PlayerStats
	// EliminationOrder lists identities in the order they fell.
	EliminationOrder []string
	TotalPlayers     int
	UsedFallback     bool
}

// ComputeFinalRanking produces a complete standing for every player in
// the lobby. All players are reranked by performance at finalize time;
// positions assigned during the game are overwritten, so a player who
// answered more questions correctly outranks the survivor who outlasted
// them. The result is validated to be an exact permutation of 1..N; if
// validation fails a score-based fallback reranks everyone, and if even
// that is inconsistent an error is returned.
//
// Sort criteria, applied in order:
//  1. correct answers, descending
//  2. questions answered, descending
//  3. alive players rank ahead of eliminated ones
//  4. among eliminated players, the later elimination ranks higher
//  5. original order (stable sort) breaks remaining ties
func ComputeFinalRanking(l *domain.Lobby, logger *slog.Logger) (*Ranking, error) {
	total := l.TotalPlayers()
	players := make([]*domain.Player, len(l.Players))
	copy(players, l.Players)

	sort.SliceStable(players, func(i, j int) bool {
		a, b := players[i], players[j]
		if a.CorrectAnswers != b.CorrectAnswers {
			return a.CorrectAnswers > b.CorrectAnswers
		}
		if a.QuestionsAnswered != b.QuestionsAnswered {
			return a.QuestionsAnswered > b.QuestionsAnswered
		}
		if a.Alive() != b.Alive() {
			return a.Alive()
		}
		if !a.Alive() && !b.Alive() {
			return a.EliminatedAt.After(b.EliminatedAt)
		}
		return false
	})

	positions := make(map[string]int, len(players))
	for i, p := range players {
		positions[p.Name] = i + 1
	}

	usedFallback := false
	if !validPermutation(positions, total) {
		logger.Error("final ranking failed validation, applying score fallback",
			"lobby_id", l.ID, "positions", positions, "total", total)
		usedFallback = true
		positions = scoreFallback(players)
		if !validPermutation(positions, total) {
			return nil, domain.ErrInvalidRanking
		}
	}

	rank := &Ranking{
		Positions:        positions,
		Order:            make([]string, total),
		Stats:            make(map[string]domain.PlayerStats, len(players)),
		EliminationOrder: append([]string(nil), l.EliminationOrder...),
		TotalPlayers:     total,
		UsedFallback:     usedFallback,
	}
	for _, p := range players {
		pos := positions[p.Name]
		p.FinalPosition = pos
		p.Won = pos == 1
		rank.Order[pos-1] = p.Name
		if pos == 1 {
			rank.Winner = p.Name
		}
		rank.Stats[p.Name] = domain.PlayerStats{
			CorrectAnswers:    p.CorrectAnswers,
			QuestionsAnswered: p.QuestionsAnswered,
			FinalPosition:     pos,
			Won:               pos == 1,
			Alive:             p.Alive(),
		}
	}

	return rank, nil
}

// scoreFallback discards recorded positions and reranks purely on a
// composite score of correct answers weighted over questions answered.
func scoreFallback(players []*domain.Player) map[string]int {
	ranked := make([]*domain.Player, len(players))
	copy(ranked, players)
	sort.SliceStable(ranked, func(i, j int) bool {
		si := ranked[i].CorrectAnswers*1000 + ranked[i].QuestionsAnswered
		sj := ranked[j].CorrectAnswers*1000 + ranked[j].QuestionsAnswered
		return si > sj
	})
	positions := make(map[string]int, len(ranked))
	for i, p := range ranked {
		positions[p.Name] = i + 1
	}
	return positions
}

// validPermutation reports whether positions assigns each of 1..total
// exactly once.
func validPermutation(positions map[string]int, total int) bool {
	if len(positions) != total {
		return false
	}
	seen := make(map[int]bool, total)
	for _, pos := range positions {
		if pos < 1 || pos > total || seen[pos] {
			return false
		}
		seen[pos] = true
	}
	return true
}
