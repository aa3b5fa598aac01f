package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quiz-arena/internal/lobby"
	"github.com/quiz-arena/internal/postgres"
	"github.com/quiz-arena/internal/redis"
	"github.com/quiz-arena/internal/session"
	"github.com/quiz-arena/internal/websocket"
)

// Handler provides HTTP handlers for the quiz arena API. The postgres
// repository and wins leaderboard are optional; their endpoints answer
// 503 when the backing store is disabled.
type Handler struct {
	lobbies  *lobby.Registry
	sessions *session.Manager
	hub      *websocket.Hub
	repo     *postgres.Repository
	wins     *redis.WinsLeaderboard
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	lobbies *lobby.Registry,
	sessions *session.Manager,
	hub *websocket.Hub,
	repo *postgres.Repository,
	wins *redis.WinsLeaderboard,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		lobbies:  lobbies,
		sessions: sessions,
		hub:      hub,
		repo:     repo,
		wins:     wins,
		logger:   logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/lobbies/stats", h.GetLobbyStats)
		r.Get("/sessions/stats", h.GetSessionStats)
		r.Get("/ws/stats", h.GetWebSocketStats)

		r.Get("/results/recent", h.GetRecentResults)
		r.Get("/results/player/{identity}", h.GetPlayerHistory)
		r.Get("/winners/top", h.GetTopWinners)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

var errStoreDisabled = errors.New("backing store is not enabled")

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// GetLobbyStats returns aggregate lobby statistics
func (h *Handler) GetLobbyStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.lobbies.GetStats())
}

// GetSessionStats returns aggregate session statistics
func (h *Handler) GetSessionStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.sessions.GetStats())
}

// GetWebSocketStats returns connection counts
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// GetRecentResults returns the most recently finished games
func (h *Handler) GetRecentResults(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		h.writeError(w, http.StatusServiceUnavailable, errStoreDisabled)
		return
	}

	limit := queryInt(r, "limit", 20)
	results, err := h.repo.RecentResults(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing recent results failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}
	h.writeSuccess(w, results)
}

// GetPlayerHistory returns one identity's past game results
func (h *Handler) GetPlayerHistory(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		h.writeError(w, http.StatusServiceUnavailable, errStoreDisabled)
		return
	}

	identity := chi.URLParam(r, "identity")
	if identity == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("identity is required"))
		return
	}

	limit := queryInt(r, "limit", 20)
	results, err := h.repo.PlayerHistory(r.Context(), identity, limit)
	if err != nil {
		h.logger.Error("listing player history failed", "identity", identity, "error", err)
		h.writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}
	h.writeSuccess(w, results)
}

// GetTopWinners returns the all-time wins ranking
func (h *Handler) GetTopWinners(w http.ResponseWriter, r *http.Request) {
	if h.wins == nil {
		h.writeError(w, http.StatusServiceUnavailable, errStoreDisabled)
		return
	}

	limit := queryInt(r, "limit", 10)
	entries, err := h.wins.TopWinners(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing top winners failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}
	h.writeSuccess(w, entries)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
