package game

import (
	"strings"
	"sync"
	"time"
)

// timerSet tracks named one-shot timers keyed by "lobbyID:purpose".
// Scheduling a key supersedes any pending timer under the same key, so
// a later event always wins over an earlier schedule.
type timerSet struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[string]*time.Timer)}
}

func timerKey(lobbyID, purpose string) string {
	return lobbyID + ":" + purpose
}

// schedule arms fn to run after d, replacing any pending timer with the
// same key.
func (ts *timerSet) schedule(lobbyID, purpose string, d time.Duration, fn func()) {
	key := timerKey(lobbyID, purpose)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if t, ok := ts.timers[key]; ok {
		t.Stop()
	}
	ts.timers[key] = time.AfterFunc(d, func() {
		ts.mu.Lock()
		delete(ts.timers, key)
		ts.mu.Unlock()
		fn()
	})
}

// cancel stops the pending timer for the key, if any.
func (ts *timerSet) cancel(lobbyID, purpose string) {
	key := timerKey(lobbyID, purpose)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.timers[key]; ok {
		t.Stop()
		delete(ts.timers, key)
	}
}

// cancelLobby stops every pending timer belonging to the lobby.
func (ts *timerSet) cancelLobby(lobbyID string) {
	prefix := lobbyID + ":"
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for key, t := range ts.timers {
		if strings.HasPrefix(key, prefix) {
			t.Stop()
			delete(ts.timers, key)
		}
	}
}

// stopAll stops every pending timer. Used on shutdown.
func (ts *timerSet) stopAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for key, t := range ts.timers {
		t.Stop()
		delete(ts.timers, key)
	}
}
