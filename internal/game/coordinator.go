package game

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quiz-arena/internal/config"
	"github.com/quiz-arena/internal/domain"
	"github.com/quiz-arena/internal/lobby"
	"github.com/quiz-arena/internal/session"
)

// Coordinator owns the game lifecycle. Every inbound event, disconnect
// and timer callback funnels through its single mutex, so handlers run
// one at a time and never observe half-applied state.
type Coordinator struct {
	mu sync.Mutex

	cfg      config.GameConfig
	lobbyCfg config.LobbyConfig

	lobbies  *lobby.Registry
	sessions *session.Manager

	sender    Sender
	recorders []ResultRecorder
	timers    *timerSet

	// finished guards finalization per lobby: the first finalize wins,
	// everything after is a no-op until teardown clears the entry.
	finished map[string]bool
	// pending holds, per lobby, the identities whose late statistics
	// the finalize sequence is still waiting for.
	pending map[string]map[string]bool
	// awaitingFinish marks lobbies whose finalize is parked behind a
	// pending-statistics window.
	awaitingFinish map[string]bool

	logger *slog.Logger
}

// NewCoordinator wires the coordinator to its collaborators. recorders
// may be empty; results are then only broadcast, never persisted.
func NewCoordinator(
	cfg config.GameConfig,
	lobbyCfg config.LobbyConfig,
	lobbies *lobby.Registry,
	sessions *session.Manager,
	sender Sender,
	recorders []ResultRecorder,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		cfg:            cfg,
		lobbyCfg:       lobbyCfg,
		lobbies:        lobbies,
		sessions:       sessions,
		sender:         sender,
		recorders:      recorders,
		timers:         newTimerSet(),
		finished:       make(map[string]bool),
		pending:        make(map[string]map[string]bool),
		awaitingFinish: make(map[string]bool),
		logger:         logger,
	}
}

// Dispatch routes one inbound envelope to its handler. A panicking
// handler is recovered and answered with a generic error so one bad
// message never takes the process down.
func (c *Coordinator) Dispatch(connID string, env *domain.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic",
				"conn_id", connID, "type", env.Type, "panic", r)
			c.sendError(connID, "internal error")
		}
	}()

	var payload domain.ClientPayload
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			c.sendError(connID, "invalid payload")
			return
		}
	}
	if payload.QuestionIndex < 0 || payload.CorrectAnswers < 0 ||
		payload.QuestionsAnswered < 0 {
		c.sendError(connID, "invalid payload")
		return
	}

	switch env.Type {
	case domain.MsgJoinLobby:
		c.handleJoinLobby(connID, &payload)
	case domain.MsgSetReady:
		c.handleSetReady(connID)
	case domain.MsgPlayerLost:
		c.handlePlayerLost(connID, &payload)
	case domain.MsgPlayerWon:
		c.handlePlayerWon(connID, &payload)
	case domain.MsgPlayerFinished:
		c.handlePlayerFinished(connID, &payload)
	case domain.MsgAutomaticWinner:
		c.handleAutomaticWinner(connID, &payload)
	case domain.MsgCheckSession:
		c.handleCheckSession(connID, &payload)
	case domain.MsgReconnect:
		c.handleReconnect(connID, &payload)
	case domain.MsgForceNewSession:
		c.handleForceNewSession(connID, &payload)
	case domain.MsgLogout:
		c.handleLogout(connID)
	case domain.MsgGetLobbyState:
		c.handleGetLobbyState(connID)
	case domain.MsgSessionStatus:
		c.handleSessionStatus(connID)
	default:
		c.sendError(connID, fmt.Sprintf("unknown message type: %s", env.Type))
	}
}

// HandleActivity refreshes session liveness on transport-level signs of
// life such as pong frames.
func (c *Coordinator) HandleActivity(connID string) {
	c.sessions.UpdateActivity(connID)
}

// HandleDisconnect reacts to a connection dropping. A player who
// disconnects mid-game is eliminated in place; their identity is added
// to the pending-statistics set so a quick reconnect can still deliver
// their final counters before the ranking is computed.
func (c *Coordinator) HandleDisconnect(connID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.sessions.GetByConn(connID)
	l := c.lobbies.FindByConn(connID)

	if l == nil {
		if sess != nil && !sess.BeingReplaced {
			c.sessions.Remove(connID)
		}
		return
	}

	switch l.State {
	case domain.LobbyWaiting:
		lob, empty, err := c.lobbies.RemovePlayer(connID)
		if err == nil {
			if empty {
				c.lobbies.Remove(lob.ID)
			} else {
				c.broadcastLobbyUpdate(lob)
			}
		}
		if sess != nil && !sess.BeingReplaced {
			c.sessions.Remove(connID)
		}

	case domain.LobbyPlaying:
		p := l.PlayerByConn(connID)
		if p == nil || !p.Alive() {
			return
		}
		// Keep the counters the player last reported.
		res, err := c.lobbies.Eliminate(connID, l.CurrentQuestion,
			p.CorrectAnswers, p.QuestionsAnswered)
		if err != nil {
			c.logger.Warn("eliminating disconnected player failed",
				"conn_id", connID, "error", err)
			return
		}
		c.addPendingStats(l.ID, p.Identity)
		c.logger.Info("player disconnected mid-game",
			"lobby_id", l.ID, "identity", p.Identity, "reason", reason)
		c.afterElimination(res, "disconnected")

	case domain.LobbyFinished:
		// Results already broadcast, nothing to unwind.
		if sess != nil && !sess.BeingReplaced {
			c.sessions.Remove(connID)
		}
	}
}

// Shutdown stops all pending timers.
func (c *Coordinator) Shutdown() {
	c.timers.stopAll()
}

func (c *Coordinator) sendError(connID, msg string) {
	c.sender.Send(connID, domain.MsgError, map[string]string{"message": msg})
}

// broadcast sends the same message to every member of the lobby.
func (c *Coordinator) broadcast(l *domain.Lobby, msgType string, data any) {
	for _, p := range l.Players {
		if p.ConnID != "" {
			c.sender.Send(p.ConnID, msgType, data)
		}
	}
}

func (c *Coordinator) broadcastLobbyUpdate(l *domain.Lobby) {
	c.broadcast(l, domain.MsgLobbyUpdate, lobbySnapshot(l))
}

// lobbySnapshot flattens a lobby into the wire representation shared by
// lobby_update and lobby_state.
func lobbySnapshot(l *domain.Lobby) map[string]any {
	members := make([]map[string]any, 0, len(l.Players))
	for _, p := range l.Players {
		members = append(members, map[string]any{
			"name":  p.Name,
			"ready": p.Ready,
			"state": p.State,
		})
	}
	return map[string]any{
		"lobby_id":     l.ID,
		"state":        l.State,
		"capacity":     l.Capacity,
		"player_count": len(l.Players),
		"players":      members,
	}
}
