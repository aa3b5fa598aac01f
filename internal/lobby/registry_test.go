package lobby_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiz-arena/internal/domain"
	"github.com/quiz-arena/internal/lobby"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJoinOrCreate(t *testing.T) {
	t.Run("first join creates a lobby", func(t *testing.T) {
		r := lobby.NewRegistry(2, testLogger())

		res := r.JoinOrCreate("id-a", "alice", "conn-a", 5)

		require.NotNil(t, res.Lobby)
		assert.True(t, res.Created)
		assert.False(t, res.Reconnected)
		assert.Equal(t, domain.LobbyWaiting, res.Lobby.State)
		assert.Len(t, res.Lobby.Players, 1)
	})

	t.Run("second join lands in the same lobby", func(t *testing.T) {
		r := lobby.NewRegistry(2, testLogger())

		first := r.JoinOrCreate("id-a", "alice", "conn-a", 5)
		second := r.JoinOrCreate("id-b", "bob", "conn-b", 5)

		assert.False(t, second.Created)
		assert.Equal(t, first.Lobby.ID, second.Lobby.ID)
		assert.Len(t, second.Lobby.Players, 2)
	})

	t.Run("full lobby opens a new one", func(t *testing.T) {
		r := lobby.NewRegistry(2, testLogger())

		first := r.JoinOrCreate("id-a", "alice", "conn-a", 2)
		r.JoinOrCreate("id-b", "bob", "conn-b", 2)
		third := r.JoinOrCreate("id-c", "carol", "conn-c", 2)

		assert.True(t, third.Created)
		assert.NotEqual(t, first.Lobby.ID, third.Lobby.ID)
	})

	t.Run("same identity rebinds instead of duplicating", func(t *testing.T) {
		r := lobby.NewRegistry(2, testLogger())

		first := r.JoinOrCreate("id-a", "alice", "conn-a", 5)
		again := r.JoinOrCreate("id-a", "alice", "conn-a2", 5)

		assert.True(t, again.Reconnected)
		assert.Equal(t, first.Lobby.ID, again.Lobby.ID)
		assert.Len(t, again.Lobby.Players, 1)
		assert.Equal(t, "conn-a2", again.Player.ConnID)
	})
}

func TestSetReady(t *testing.T) {
	t.Run("game starts when everyone is ready", func(t *testing.T) {
		r := lobby.NewRegistry(2, testLogger())
		r.JoinOrCreate("id-a", "alice", "conn-a", 5)
		r.JoinOrCreate("id-b", "bob", "conn-b", 5)

		_, started, err := r.SetReady("conn-a")
		require.NoError(t, err)
		assert.False(t, started)

		l, started, err := r.SetReady("conn-b")
		require.NoError(t, err)
		assert.True(t, started)
		assert.Equal(t, domain.LobbyPlaying, l.State)
		assert.Equal(t, 2, l.TotalPlayersAtStart)
		assert.False(t, l.StartedAt.IsZero())
	})

	t.Run("single ready player below minimum does not start", func(t *testing.T) {
		r := lobby.NewRegistry(2, testLogger())
		r.JoinOrCreate("id-a", "alice", "conn-a", 5)

		l, started, err := r.SetReady("conn-a")
		require.NoError(t, err)
		assert.False(t, started)
		assert.Equal(t, domain.LobbyWaiting, l.State)
	})

	t.Run("late joiner resets the all-ready condition", func(t *testing.T) {
		r := lobby.NewRegistry(2, testLogger())
		r.JoinOrCreate("id-a", "alice", "conn-a", 5)
		r.SetReady("conn-a")
		r.JoinOrCreate("id-b", "bob", "conn-b", 5)

		// Alice is ready, Bob is not.
		l := r.FindByConn("conn-a")
		require.NotNil(t, l)
		assert.Equal(t, domain.LobbyWaiting, l.State)

		_, started, err := r.SetReady("conn-b")
		require.NoError(t, err)
		assert.True(t, started)
	})

	t.Run("unknown connection errors", func(t *testing.T) {
		r := lobby.NewRegistry(2, testLogger())

		_, _, err := r.SetReady("nope")
		assert.ErrorIs(t, err, domain.ErrLobbyNotFound)
	})
}

func TestRebindConnection(t *testing.T) {
	r := lobby.NewRegistry(2, testLogger())
	res := r.JoinOrCreate("id-a", "alice", "conn-a", 5)

	require.NoError(t, r.RebindConnection(res.Lobby.ID, "id-a", "conn-b"))
	assert.Nil(t, r.FindByConn("conn-a"))
	require.NotNil(t, r.FindByConn("conn-b"))

	assert.ErrorIs(t, r.RebindConnection("missing", "id-a", "conn-b"), domain.ErrLobbyNotFound)
	assert.ErrorIs(t, r.RebindConnection(res.Lobby.ID, "id-ghost", "conn-b"), domain.ErrPlayerNotFound)
}

func TestRemovePlayer(t *testing.T) {
	t.Run("removing the last player empties the lobby", func(t *testing.T) {
		r := lobby.NewRegistry(2, testLogger())
		r.JoinOrCreate("id-a", "alice", "conn-a", 5)

		l, empty, err := r.RemovePlayer("conn-a")
		require.NoError(t, err)
		assert.True(t, empty)
		assert.Empty(t, l.Players)
	})

	t.Run("playing lobby keeps its players", func(t *testing.T) {
		r := lobby.NewRegistry(2, testLogger())
		r.JoinOrCreate("id-a", "alice", "conn-a", 5)
		r.JoinOrCreate("id-b", "bob", "conn-b", 5)
		r.SetReady("conn-a")
		r.SetReady("conn-b")

		_, _, err := r.RemovePlayer("conn-a")
		assert.ErrorIs(t, err, domain.ErrLobbyPlaying)
	})
}

func TestCleanup(t *testing.T) {
	t.Run("empty lobbies are swept", func(t *testing.T) {
		r := lobby.NewRegistry(2, testLogger())
		res := r.JoinOrCreate("id-a", "alice", "conn-a", 5)
		r.RemovePlayer("conn-a")

		assert.Equal(t, 1, r.CleanupEmpty())
		assert.Nil(t, r.FindByID(res.Lobby.ID))
	})

	t.Run("playing lobbies survive inactivity sweeps", func(t *testing.T) {
		r := lobby.NewRegistry(2, testLogger())
		r.JoinOrCreate("id-a", "alice", "conn-a", 5)
		r.JoinOrCreate("id-b", "bob", "conn-b", 5)
		r.SetReady("conn-a")
		r.SetReady("conn-b")

		l := r.FindByConn("conn-a")
		l.LastActivity = time.Now().Add(-2 * time.Hour)

		assert.Equal(t, 0, r.CleanupInactive(time.Hour))
		assert.NotNil(t, r.FindByID(l.ID))
	})

	t.Run("stale waiting lobbies are swept", func(t *testing.T) {
		r := lobby.NewRegistry(2, testLogger())
		res := r.JoinOrCreate("id-a", "alice", "conn-a", 5)
		res.Lobby.LastActivity = time.Now().Add(-2 * time.Hour)

		assert.Equal(t, 1, r.CleanupInactive(time.Hour))
	})
}

func TestGetStats(t *testing.T) {
	r := lobby.NewRegistry(2, testLogger())
	r.JoinOrCreate("id-a", "alice", "conn-a", 5)
	r.JoinOrCreate("id-b", "bob", "conn-b", 5)
	r.SetReady("conn-a")
	r.SetReady("conn-b")
	r.JoinOrCreate("id-c", "carol", "conn-c", 5)

	stats := r.GetStats()
	assert.Equal(t, 2, stats.TotalLobbies)
	assert.Equal(t, 1, stats.PlayingLobbies)
	assert.Equal(t, 1, stats.WaitingLobbies)
	assert.Equal(t, 3, stats.TotalPlayers)
}
