package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quiz-arena/internal/config"
	"github.com/quiz-arena/internal/lobby"
	"github.com/quiz-arena/internal/session"
)

// Sweeper handles periodic cleanup of empty lobbies, abandoned lobbies
// and inactive sessions
type Sweeper struct {
	lobbies  *lobby.Registry
	sessions *session.Manager
	lobbyCfg *config.LobbyConfig
	sessCfg  *config.SessionConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewSweeper creates a new cleanup sweeper
func NewSweeper(
	lobbies *lobby.Registry,
	sessions *session.Manager,
	lobbyCfg *config.LobbyConfig,
	sessCfg *config.SessionConfig,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		lobbies:  lobbies,
		sessions: sessions,
		lobbyCfg: lobbyCfg,
		sessCfg:  sessCfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (w *Sweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("cleanup sweeper started", "interval", w.lobbyCfg.CleanupInterval)

	go w.run(ctx)
	return nil
}

// Stop stops the background cleanup process
func (w *Sweeper) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("cleanup sweeper stopped")
	return nil
}

// run is the main worker loop
func (w *Sweeper) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.lobbyCfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep performs one cleanup pass
func (w *Sweeper) sweep() {
	start := time.Now()

	emptied := w.lobbies.CleanupEmpty()
	abandoned := w.lobbies.CleanupInactive(w.lobbyCfg.InactivityThreshold)
	sessions := w.sessions.CleanupInactive(w.sessCfg.InactivityThreshold)

	if emptied > 0 || abandoned > 0 || sessions > 0 {
		w.logger.Info("cleanup pass completed",
			"empty_lobbies", emptied,
			"abandoned_lobbies", abandoned,
			"inactive_sessions", sessions,
			"duration", time.Since(start))
	}
}
