package domain

import (
	"encoding/json"
	"time"
)

// Inbound message types
const (
	MsgJoinLobby       = "join_lobby"
	MsgSetReady        = "set_ready"
	MsgPlayerLost      = "player_lost"
	MsgPlayerWon       = "player_won"
	MsgPlayerFinished  = "player_finished"
	MsgAutomaticWinner = "declare_automatic_winner"
	MsgCheckSession    = "check_session"
	MsgReconnect       = "reconnect_session"
	MsgForceNewSession = "force_new_session"
	MsgLogout          = "logout"
	MsgGetLobbyState   = "get_lobby_state"
	MsgSessionStatus   = "session_status"
)

// Outbound message types
const (
	MsgJoinConfirmed        = "join_confirmed"
	MsgLobbyUpdate          = "lobby_update"
	MsgReadyConfirmed       = "ready_confirmed"
	MsgGameStarted          = "game_started"
	MsgPlayersRemaining     = "players_remaining"
	MsgPlayerEliminated     = "player_eliminated"
	MsgEliminationConfirmed = "elimination_confirmed"
	MsgAutomaticWinnerNote  = "automatic_winner"
	MsgVictoryConfirmed     = "victory_confirmed"
	MsgWaitingForOthers     = "waiting_for_others"
	MsgPlayerFinishedAll    = "player_finished_all"
	MsgGameEnded            = "game_ended"
	MsgSessionConflict      = "session_conflict"
	MsgSessionReplaced      = "session_replaced"
	MsgSessionFound         = "session_found"
	MsgReconnectResult      = "reconnect_result"
	MsgNewSessionCreated    = "new_session_created"
	MsgLobbyState           = "lobby_state"
	MsgSessionStats         = "session_stats"
	MsgLogoutConfirmed      = "logout_confirmed"
	MsgError                = "error"
)

// Envelope is the wire frame for every message in either direction.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// ClientPayload is the union of all inbound payload fields. Individual
// handlers read only the fields their message type defines.
type ClientPayload struct {
	Identity          string `json:"identity,omitempty"`
	Name              string `json:"name,omitempty"`
	QuestionIndex     int    `json:"question_index,omitempty"`
	CorrectAnswers    int    `json:"correct_answers,omitempty"`
	QuestionsAnswered int    `json:"questions_answered,omitempty"`
	CompletedAll      bool   `json:"completed_all,omitempty"`
}

// PlayerStats is the per-player stat breakdown included in the final
// ranking broadcast.
type PlayerStats struct {
	CorrectAnswers    int  `json:"correct_answers"`
	QuestionsAnswered int  `json:"questions_answered"`
	FinalPosition     int  `json:"final_position"`
	Won               bool `json:"won"`
	Alive             bool `json:"alive"`
}

// GameEndedPayload is the single ranking broadcast sent to every member
// when a game finalizes.
type GameEndedPayload struct {
	Winner           string                 `json:"winner"`
	Positions        map[string]int         `json:"positions"`
	Ranking          []string               `json:"ranking"`
	TotalPlayers     int                    `json:"total_players"`
	EliminationOrder []string               `json:"elimination_order"`
	Stats            map[string]PlayerStats `json:"stats"`
	YourStats        *PersonalStats         `json:"your_stats,omitempty"`
}

// PersonalStats personalizes the ranking broadcast for its recipient.
type PersonalStats struct {
	CorrectAnswers    int    `json:"correct_answers"`
	QuestionsAnswered int    `json:"questions_answered"`
	FinalPosition     int    `json:"final_position"`
	Won               bool   `json:"won"`
	GameTime          string `json:"game_time"`
}

// PlayerEliminatedPayload announces an elimination to the whole lobby.
type PlayerEliminatedPayload struct {
	Name        string `json:"name"`
	Position    int    `json:"position"`
	PlayersLeft int    `json:"players_left"`
	Reason      string `json:"reason,omitempty"`
	Stats       struct {
		CorrectAnswers    int `json:"correct_answers"`
		QuestionsAnswered int `json:"questions_answered"`
	} `json:"stats"`
}

// GameStartedPayload announces the transition to playing.
type GameStartedPayload struct {
	TotalPlayers int      `json:"total_players"`
	Players      []string `json:"players"`
}

// SessionInfo describes an existing session to a reconnecting client.
type SessionInfo struct {
	Name         string    `json:"name"`
	LobbyID      string    `json:"lobby_id,omitempty"`
	InGame       bool      `json:"in_game"`
	LastActivity time.Time `json:"last_activity"`
}
