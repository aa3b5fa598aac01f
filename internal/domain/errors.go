package domain

import "errors"

// Domain errors
var (
	ErrLobbyNotFound     = errors.New("lobby not found")
	ErrPlayerNotFound    = errors.New("player not found in lobby")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionConflict   = errors.New("identity already has an active session")
	ErrGameNotActive     = errors.New("game is not active")
	ErrLobbyPlaying      = errors.New("lobby is actively playing")
	ErrAlreadyEliminated = errors.New("player already eliminated")
	ErrAlreadyWinner     = errors.New("player already confirmed winner")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrInvalidRanking    = errors.New("final ranking is not a valid permutation")
	ErrInvalidPayload    = errors.New("invalid message payload")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrLobbyNotFound) ||
		errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, ErrSessionNotFound)
}
