package session_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiz-arena/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreate(t *testing.T) {
	t.Run("first session is new", func(t *testing.T) {
		m := session.NewManager(testLogger())

		res := m.Create("id-a", "alice", "conn-1")

		assert.True(t, res.IsNew)
		assert.Nil(t, res.Previous)
		assert.Equal(t, "conn-1", res.Session.ConnID)
		assert.True(t, m.IsConnected("id-a"))
	})

	t.Run("new connection supersedes and inherits game context", func(t *testing.T) {
		m := session.NewManager(testLogger())
		m.Create("id-a", "alice", "conn-1")
		m.UpdateLobby("id-a", "lobby-9")
		m.SetInGame("id-a", true)

		res := m.Create("id-a", "alice", "conn-2")

		assert.False(t, res.IsNew)
		require.NotNil(t, res.Previous)
		assert.Equal(t, "conn-1", res.Previous.ConnID)
		assert.Equal(t, "lobby-9", res.Session.LobbyID)
		assert.True(t, res.Session.InGame)

		// The old connection no longer resolves.
		assert.Nil(t, m.GetByConn("conn-1"))
		assert.NotNil(t, m.GetByConn("conn-2"))
	})

	t.Run("forced replacement starts clean", func(t *testing.T) {
		m := session.NewManager(testLogger())
		m.Create("id-a", "alice", "conn-1")
		m.UpdateLobby("id-a", "lobby-9")
		m.SetInGame("id-a", true)

		old := m.MarkForReplacement("id-a")
		require.NotNil(t, old)
		// A replaced session is invisible to lookups.
		assert.Nil(t, m.Get("id-a"))

		res := m.Create("id-a", "alice", "conn-2")
		assert.Empty(t, res.Session.LobbyID)
		assert.False(t, res.Session.InGame)
	})

	t.Run("resume carries context across a marked replacement", func(t *testing.T) {
		m := session.NewManager(testLogger())
		m.Create("id-a", "alice", "conn-1")
		m.UpdateLobby("id-a", "lobby-9")
		m.SetInGame("id-a", true)

		m.MarkForReplacement("id-a")
		res := m.Resume("id-a", "alice", "conn-2")

		assert.Equal(t, "lobby-9", res.Session.LobbyID)
		assert.True(t, res.Session.InGame)
		assert.False(t, res.Session.BeingReplaced)
		assert.Nil(t, m.GetByConn("conn-1"))
	})
}

func TestRemove(t *testing.T) {
	t.Run("removes by connection", func(t *testing.T) {
		m := session.NewManager(testLogger())
		m.Create("id-a", "alice", "conn-1")

		removed := m.Remove("conn-1")
		require.NotNil(t, removed)
		assert.False(t, m.IsConnected("id-a"))
	})

	t.Run("stale connection removal spares the newer session", func(t *testing.T) {
		m := session.NewManager(testLogger())
		m.Create("id-a", "alice", "conn-1")
		m.Create("id-a", "alice", "conn-2")

		m.Remove("conn-1")
		assert.True(t, m.IsConnected("id-a"))
		assert.NotNil(t, m.GetByConn("conn-2"))
	})
}

func TestCleanupInactive(t *testing.T) {
	t.Run("idle sessions are swept", func(t *testing.T) {
		m := session.NewManager(testLogger())
		res := m.Create("id-a", "alice", "conn-1")
		res.Session.LastActivity = time.Now().Add(-time.Hour)

		assert.Equal(t, 1, m.CleanupInactive(30*time.Minute))
		assert.False(t, m.IsConnected("id-a"))
	})

	t.Run("in-game sessions survive", func(t *testing.T) {
		m := session.NewManager(testLogger())
		res := m.Create("id-a", "alice", "conn-1")
		m.SetInGame("id-a", true)
		res.Session.LastActivity = time.Now().Add(-time.Hour)

		assert.Equal(t, 0, m.CleanupInactive(30*time.Minute))
		assert.True(t, m.IsConnected("id-a"))
	})

	t.Run("sessions mid-replacement survive", func(t *testing.T) {
		m := session.NewManager(testLogger())
		res := m.Create("id-a", "alice", "conn-1")
		m.MarkForReplacement("id-a")
		res.Session.LastActivity = time.Now().Add(-time.Hour)

		assert.Equal(t, 0, m.CleanupInactive(30*time.Minute))
	})
}

func TestGetStats(t *testing.T) {
	m := session.NewManager(testLogger())
	m.Create("id-a", "alice", "conn-1")
	m.Create("id-b", "bob", "conn-2")
	m.SetInGame("id-b", true)

	stats := m.GetStats()
	assert.Equal(t, 2, stats.TotalSessions)
	assert.Equal(t, 1, stats.InGameSessions)
}
