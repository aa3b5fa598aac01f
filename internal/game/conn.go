package game

import (
	"context"

	"github.com/quiz-arena/internal/domain"
)

// Sender delivers outbound messages to connections. Implementations
// must not block the caller; slow consumers are the transport's problem.
type Sender interface {
	Send(connID, msgType string, data any)
	// Disconnect notifies the connection with a final message of the
	// given type, then severs it.
	Disconnect(connID, msgType string, data any)
}

// ResultRecorder persists the outcome of a finished game. Recorders run
// fire-and-forget: a failing recorder never blocks or aborts
// finalization.
type ResultRecorder interface {
	RecordGameResults(ctx context.Context, results []domain.GameResult) error
}
