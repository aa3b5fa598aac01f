package game_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiz-arena/internal/config"
	"github.com/quiz-arena/internal/domain"
	"github.com/quiz-arena/internal/game"
	"github.com/quiz-arena/internal/lobby"
	"github.com/quiz-arena/internal/session"
)

type sentMsg struct {
	ConnID string
	Type   string
	Data   any
}

// fakeSender records every outbound message instead of delivering it.
type fakeSender struct {
	mu           sync.Mutex
	sent         []sentMsg
	disconnected []sentMsg
}

func (f *fakeSender) Send(connID, msgType string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{ConnID: connID, Type: msgType, Data: data})
}

func (f *fakeSender) Disconnect(connID, msgType string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, sentMsg{ConnID: connID, Type: msgType, Data: data})
}

func (f *fakeSender) messages(connID, msgType string) []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMsg
	for _, m := range f.sent {
		if m.ConnID == connID && m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSender) count(connID, msgType string) int {
	return len(f.messages(connID, msgType))
}

type fixture struct {
	coord    *game.Coordinator
	sender   *fakeSender
	lobbies  *lobby.Registry
	sessions *session.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := &fakeSender{}
	lobbies := lobby.NewRegistry(2, logger)
	sessions := session.NewManager(logger)

	gameCfg := config.GameConfig{
		PendingStatsWindow: 150 * time.Millisecond,
		StatsRecencyWindow: 30 * time.Second,
		FinalizeGrace:      time.Minute,
		AutoWinnerDelay:    30 * time.Millisecond,
		FinishDelay:        10 * time.Millisecond,
	}
	lobbyCfg := config.LobbyConfig{
		MinPlayers:      2,
		DefaultCapacity: 4,
		MaxCapacity:     10,
	}

	coord := game.NewCoordinator(gameCfg, lobbyCfg, lobbies, sessions, sender, nil, logger)
	t.Cleanup(coord.Shutdown)

	return &fixture{coord: coord, sender: sender, lobbies: lobbies, sessions: sessions}
}

func envelope(t *testing.T, msgType string, payload any) *domain.Envelope {
	t.Helper()
	env := &domain.Envelope{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		env.Data = data
	}
	return env
}

// joinAndStart joins n players as conn-1..conn-n and readies them all.
func (fx *fixture) joinAndStart(t *testing.T, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		fx.coord.Dispatch(fmt.Sprintf("conn-%d", i), envelope(t, domain.MsgJoinLobby, &domain.ClientPayload{
			Identity: fmt.Sprintf("id-%d", i),
			Name:     fmt.Sprintf("player%d", i),
		}))
	}
	for i := 1; i <= n; i++ {
		fx.coord.Dispatch(fmt.Sprintf("conn-%d", i), envelope(t, domain.MsgSetReady, nil))
	}
	require.Equal(t, 1, fx.sender.count("conn-1", domain.MsgGameStarted))
}

func TestJoinLobby(t *testing.T) {
	t.Run("join confirms and updates the lobby", func(t *testing.T) {
		fx := newFixture(t)

		fx.coord.Dispatch("conn-1", envelope(t, domain.MsgJoinLobby, &domain.ClientPayload{
			Identity: "id-1", Name: "alice",
		}))

		assert.Equal(t, 1, fx.sender.count("conn-1", domain.MsgJoinConfirmed))
		assert.Equal(t, 1, fx.sender.count("conn-1", domain.MsgLobbyUpdate))
		assert.True(t, fx.sessions.IsConnected("id-1"))
	})

	t.Run("missing identity is rejected", func(t *testing.T) {
		fx := newFixture(t)

		fx.coord.Dispatch("conn-1", envelope(t, domain.MsgJoinLobby, &domain.ClientPayload{Name: "alice"}))

		assert.Equal(t, 1, fx.sender.count("conn-1", domain.MsgError))
		assert.Equal(t, 0, fx.sender.count("conn-1", domain.MsgJoinConfirmed))
	})

	t.Run("second connection for the same identity conflicts", func(t *testing.T) {
		fx := newFixture(t)
		fx.coord.Dispatch("conn-1", envelope(t, domain.MsgJoinLobby, &domain.ClientPayload{
			Identity: "id-1", Name: "alice",
		}))

		fx.coord.Dispatch("conn-2", envelope(t, domain.MsgJoinLobby, &domain.ClientPayload{
			Identity: "id-1", Name: "alice",
		}))

		assert.Equal(t, 1, fx.sender.count("conn-2", domain.MsgSessionConflict))
		assert.Equal(t, 0, fx.sender.count("conn-2", domain.MsgJoinConfirmed))
	})
}

func TestGameStart(t *testing.T) {
	fx := newFixture(t)
	fx.joinAndStart(t, 3)

	for i := 1; i <= 3; i++ {
		conn := fmt.Sprintf("conn-%d", i)
		assert.Equal(t, 1, fx.sender.count(conn, domain.MsgGameStarted))
	}
	sess := fx.sessions.Get("id-1")
	require.NotNil(t, sess)
	assert.True(t, sess.InGame)
}

func TestPlayerLost(t *testing.T) {
	t.Run("first of four is confirmed at fourth place", func(t *testing.T) {
		fx := newFixture(t)
		fx.joinAndStart(t, 4)

		fx.coord.Dispatch("conn-1", envelope(t, domain.MsgPlayerLost, &domain.ClientPayload{
			QuestionIndex: 2, CorrectAnswers: 1, QuestionsAnswered: 3,
		}))

		confirms := fx.sender.messages("conn-1", domain.MsgEliminationConfirmed)
		require.Len(t, confirms, 1)
		data := confirms[0].Data.(map[string]any)
		assert.Equal(t, 4, data["position"])

		// Everyone hears about it.
		for i := 1; i <= 4; i++ {
			conn := fmt.Sprintf("conn-%d", i)
			assert.Equal(t, 1, fx.sender.count(conn, domain.MsgPlayerEliminated))
			assert.Equal(t, 1, fx.sender.count(conn, domain.MsgPlayersRemaining))
		}
	})

	t.Run("negative counters are rejected without effect", func(t *testing.T) {
		fx := newFixture(t)
		fx.joinAndStart(t, 3)

		fx.coord.Dispatch("conn-1", envelope(t, domain.MsgPlayerLost, &domain.ClientPayload{
			CorrectAnswers: -1, QuestionsAnswered: 3,
		}))

		assert.Equal(t, 1, fx.sender.count("conn-1", domain.MsgError))
		assert.Equal(t, 0, fx.sender.count("conn-1", domain.MsgEliminationConfirmed))
		l := fx.lobbies.FindByConn("conn-1")
		require.NotNil(t, l)
		assert.True(t, l.PlayerByConn("conn-1").Alive())
	})

	t.Run("repeat report is acked with the original position", func(t *testing.T) {
		fx := newFixture(t)
		fx.joinAndStart(t, 3)

		fx.coord.Dispatch("conn-1", envelope(t, domain.MsgPlayerLost, &domain.ClientPayload{
			CorrectAnswers: 1, QuestionsAnswered: 2,
		}))
		fx.coord.Dispatch("conn-1", envelope(t, domain.MsgPlayerLost, &domain.ClientPayload{
			CorrectAnswers: 2, QuestionsAnswered: 4,
		}))

		confirms := fx.sender.messages("conn-1", domain.MsgEliminationConfirmed)
		require.Len(t, confirms, 2)
		repeat := confirms[1].Data.(map[string]any)
		assert.Equal(t, 3, repeat["position"])
		assert.Equal(t, true, repeat["repeat"])
	})
}

func TestAutomaticWinner(t *testing.T) {
	t.Run("lone survivor is announced and the game finalizes", func(t *testing.T) {
		fx := newFixture(t)
		fx.joinAndStart(t, 2)

		fx.coord.Dispatch("conn-1", envelope(t, domain.MsgPlayerLost, &domain.ClientPayload{
			CorrectAnswers: 1, QuestionsAnswered: 3,
		}))

		assert.Equal(t, 1, fx.sender.count("conn-2", domain.MsgAutomaticWinnerNote))

		// Winner confirms with its final counters before the deadline.
		fx.coord.Dispatch("conn-2", envelope(t, domain.MsgAutomaticWinner, &domain.ClientPayload{
			CorrectAnswers: 2, QuestionsAnswered: 3,
		}))
		assert.Equal(t, 1, fx.sender.count("conn-2", domain.MsgVictoryConfirmed))

		require.Eventually(t, func() bool {
			return fx.sender.count("conn-2", domain.MsgGameEnded) == 1
		}, time.Second, 10*time.Millisecond)

		ended := fx.sender.messages("conn-2", domain.MsgGameEnded)[0].Data.(*domain.GameEndedPayload)
		assert.Equal(t, "player2", ended.Winner)
		assert.Equal(t, 1, ended.Positions["player2"])
		assert.Equal(t, 2, ended.Positions["player1"])
		require.NotNil(t, ended.YourStats)
		assert.True(t, ended.YourStats.Won)
		assert.Equal(t, 2, ended.YourStats.CorrectAnswers)
	})

	t.Run("unconfirmed automatic winner still finalizes on the timer", func(t *testing.T) {
		fx := newFixture(t)
		fx.joinAndStart(t, 2)

		fx.coord.Dispatch("conn-1", envelope(t, domain.MsgPlayerLost, &domain.ClientPayload{
			CorrectAnswers: 1, QuestionsAnswered: 3,
		}))

		require.Eventually(t, func() bool {
			return fx.sender.count("conn-1", domain.MsgGameEnded) == 1
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, 1, fx.sender.count("conn-2", domain.MsgGameEnded))
	})

	t.Run("automatic win claim with survivors is rejected", func(t *testing.T) {
		fx := newFixture(t)
		fx.joinAndStart(t, 3)

		fx.coord.Dispatch("conn-1", envelope(t, domain.MsgAutomaticWinner, &domain.ClientPayload{
			CorrectAnswers: 5, QuestionsAnswered: 5,
		}))

		assert.Equal(t, 1, fx.sender.count("conn-1", domain.MsgError))
		assert.Equal(t, 0, fx.sender.count("conn-1", domain.MsgVictoryConfirmed))
	})
}

func TestFinalizeOnce(t *testing.T) {
	fx := newFixture(t)
	fx.joinAndStart(t, 2)

	fx.coord.Dispatch("conn-1", envelope(t, domain.MsgPlayerLost, &domain.ClientPayload{
		CorrectAnswers: 1, QuestionsAnswered: 2,
	}))
	// Confirm twice in a row; only one results broadcast may go out.
	fx.coord.Dispatch("conn-2", envelope(t, domain.MsgAutomaticWinner, &domain.ClientPayload{
		CorrectAnswers: 2, QuestionsAnswered: 2,
	}))
	fx.coord.Dispatch("conn-2", envelope(t, domain.MsgAutomaticWinner, &domain.ClientPayload{
		CorrectAnswers: 2, QuestionsAnswered: 2,
	}))

	require.Eventually(t, func() bool {
		return fx.sender.count("conn-2", domain.MsgGameEnded) >= 1
	}, time.Second, 10*time.Millisecond)

	// Let any stray timers fire, then verify the count never grew.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, fx.sender.count("conn-1", domain.MsgGameEnded))
	assert.Equal(t, 1, fx.sender.count("conn-2", domain.MsgGameEnded))
}

func TestDisconnectDuringGame(t *testing.T) {
	t.Run("mid-game disconnect eliminates the player", func(t *testing.T) {
		fx := newFixture(t)
		fx.joinAndStart(t, 3)

		fx.coord.HandleDisconnect("conn-1", "connection closed")

		assert.Equal(t, 1, fx.sender.count("conn-2", domain.MsgPlayerEliminated))
		// The session survives for reconnection.
		assert.True(t, fx.sessions.IsConnected("id-1"))
	})

	t.Run("late statistics arrive before the broadcast", func(t *testing.T) {
		fx := newFixture(t)
		fx.joinAndStart(t, 3)

		// player1 drops mid-game; their final counters are unknown.
		fx.coord.HandleDisconnect("conn-1", "connection closed")

		// player2 loses, leaving player3 the automatic winner. The
		// finalize now waits for player1's statistics.
		fx.coord.Dispatch("conn-2", envelope(t, domain.MsgPlayerLost, &domain.ClientPayload{
			CorrectAnswers: 2, QuestionsAnswered: 4,
		}))
		assert.Equal(t, 0, fx.sender.count("conn-3", domain.MsgGameEnded))

		// player1 reconnects and reports what they had.
		fx.coord.Dispatch("conn-1b", envelope(t, domain.MsgReconnect, &domain.ClientPayload{
			Identity: "id-1",
		}))
		assert.Equal(t, 1, fx.sender.count("conn-1b", domain.MsgReconnectResult))
		fx.coord.Dispatch("conn-1b", envelope(t, domain.MsgPlayerLost, &domain.ClientPayload{
			CorrectAnswers: 3, QuestionsAnswered: 4,
		}))

		// All statistics in, the game finalizes without waiting out the
		// full window.
		require.Eventually(t, func() bool {
			return fx.sender.count("conn-3", domain.MsgGameEnded) == 1
		}, time.Second, 10*time.Millisecond)

		ended := fx.sender.messages("conn-3", domain.MsgGameEnded)[0].Data.(*domain.GameEndedPayload)
		assert.Equal(t, 3, ended.Stats["player1"].CorrectAnswers)
	})

	t.Run("waiting lobby disconnect removes the player", func(t *testing.T) {
		fx := newFixture(t)
		fx.coord.Dispatch("conn-1", envelope(t, domain.MsgJoinLobby, &domain.ClientPayload{
			Identity: "id-1", Name: "alice",
		}))
		fx.coord.Dispatch("conn-2", envelope(t, domain.MsgJoinLobby, &domain.ClientPayload{
			Identity: "id-2", Name: "bob",
		}))

		fx.coord.HandleDisconnect("conn-1", "connection closed")

		assert.False(t, fx.sessions.IsConnected("id-1"))
		l := fx.lobbies.FindByConn("conn-2")
		require.NotNil(t, l)
		assert.Len(t, l.Players, 1)
	})
}

func TestSessionProtocol(t *testing.T) {
	t.Run("reconnect without a session fails cleanly", func(t *testing.T) {
		fx := newFixture(t)

		fx.coord.Dispatch("conn-1", envelope(t, domain.MsgReconnect, &domain.ClientPayload{
			Identity: "id-ghost",
		}))

		results := fx.sender.messages("conn-1", domain.MsgReconnectResult)
		require.Len(t, results, 1)
		data := results[0].Data.(map[string]any)
		assert.Equal(t, false, data["success"])
	})

	t.Run("check session reports existing sessions", func(t *testing.T) {
		fx := newFixture(t)
		fx.coord.Dispatch("conn-1", envelope(t, domain.MsgJoinLobby, &domain.ClientPayload{
			Identity: "id-1", Name: "alice",
		}))

		fx.coord.Dispatch("conn-2", envelope(t, domain.MsgCheckSession, &domain.ClientPayload{
			Identity: "id-1",
		}))

		found := fx.sender.messages("conn-2", domain.MsgSessionFound)
		require.Len(t, found, 1)
		data := found[0].Data.(map[string]any)
		assert.Equal(t, true, data["exists"])
	})

	t.Run("reconnect notifies then severs the previous connection", func(t *testing.T) {
		fx := newFixture(t)
		fx.coord.Dispatch("conn-old", envelope(t, domain.MsgJoinLobby, &domain.ClientPayload{
			Identity: "id-1", Name: "alice",
		}))

		fx.coord.Dispatch("conn-new", envelope(t, domain.MsgReconnect, &domain.ClientPayload{
			Identity: "id-1",
		}))

		require.Len(t, fx.sender.disconnected, 1)
		assert.Equal(t, "conn-old", fx.sender.disconnected[0].ConnID)
		assert.Equal(t, domain.MsgSessionReplaced, fx.sender.disconnected[0].Type)

		results := fx.sender.messages("conn-new", domain.MsgReconnectResult)
		require.Len(t, results, 1)
		data := results[0].Data.(map[string]any)
		assert.Equal(t, true, data["success"])

		// The session and lobby record both follow the new connection,
		// keeping the resumed game context.
		sess := fx.sessions.Get("id-1")
		require.NotNil(t, sess)
		assert.Equal(t, "conn-new", sess.ConnID)
		assert.NotEmpty(t, sess.LobbyID)
		assert.Nil(t, fx.lobbies.FindByConn("conn-old"))
		require.NotNil(t, fx.lobbies.FindByConn("conn-new"))
	})

	t.Run("force new session notifies then severs the old connection", func(t *testing.T) {
		fx := newFixture(t)
		fx.coord.Dispatch("conn-1", envelope(t, domain.MsgJoinLobby, &domain.ClientPayload{
			Identity: "id-1", Name: "alice",
		}))

		fx.coord.Dispatch("conn-2", envelope(t, domain.MsgForceNewSession, &domain.ClientPayload{
			Identity: "id-1", Name: "alice",
		}))

		require.Len(t, fx.sender.disconnected, 1)
		assert.Equal(t, "conn-1", fx.sender.disconnected[0].ConnID)
		assert.Equal(t, domain.MsgSessionReplaced, fx.sender.disconnected[0].Type)
		assert.Equal(t, 1, fx.sender.count("conn-2", domain.MsgNewSessionCreated))

		sess := fx.sessions.Get("id-1")
		require.NotNil(t, sess)
		assert.Equal(t, "conn-2", sess.ConnID)
		assert.Empty(t, sess.LobbyID)
	})
}

func TestPlayerFinished(t *testing.T) {
	fx := newFixture(t)
	fx.joinAndStart(t, 2)

	fx.coord.Dispatch("conn-1", envelope(t, domain.MsgPlayerFinished, &domain.ClientPayload{
		CorrectAnswers: 8, QuestionsAnswered: 10,
	}))

	assert.Equal(t, 1, fx.sender.count("conn-1", domain.MsgWaitingForOthers))
	assert.Equal(t, 1, fx.sender.count("conn-2", domain.MsgPlayerFinishedAll))
	assert.Equal(t, 0, fx.sender.count("conn-1", domain.MsgGameEnded))

	fx.coord.Dispatch("conn-2", envelope(t, domain.MsgPlayerFinished, &domain.ClientPayload{
		CorrectAnswers: 6, QuestionsAnswered: 10,
	}))

	require.Eventually(t, func() bool {
		return fx.sender.count("conn-1", domain.MsgGameEnded) == 1
	}, time.Second, 10*time.Millisecond)

	ended := fx.sender.messages("conn-1", domain.MsgGameEnded)[0].Data.(*domain.GameEndedPayload)
	assert.Equal(t, "player1", ended.Winner)
}

func TestGetLobbyState(t *testing.T) {
	fx := newFixture(t)
	fx.coord.Dispatch("conn-1", envelope(t, domain.MsgJoinLobby, &domain.ClientPayload{
		Identity: "id-1", Name: "alice",
	}))

	fx.coord.Dispatch("conn-1", envelope(t, domain.MsgGetLobbyState, nil))

	states := fx.sender.messages("conn-1", domain.MsgLobbyState)
	require.Len(t, states, 1)
	data := states[0].Data.(map[string]any)
	assert.Equal(t, 1, data["player_count"])
}
