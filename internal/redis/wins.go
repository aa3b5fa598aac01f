package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/quiz-arena/internal/config"
	"github.com/quiz-arena/internal/domain"
)

// WinsLeaderboard maintains an all-time wins ranking in a Redis sorted
// set. It is a best-effort side channel: game flow never depends on it.
type WinsLeaderboard struct {
	client *redis.Client
	logger *slog.Logger
}

// NewWinsLeaderboard creates a new Redis wins leaderboard
func NewWinsLeaderboard(cfg *config.RedisConfig, logger *slog.Logger) (*WinsLeaderboard, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &WinsLeaderboard{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (s *WinsLeaderboard) Close() error {
	return s.client.Close()
}

// winsKey returns the Redis key for the all-time wins sorted set
func (s *WinsLeaderboard) winsKey() string {
	return "quiz:wins:alltime"
}

// gamesKey returns the Redis key for the games-played sorted set
func (s *WinsLeaderboard) gamesKey() string {
	return "quiz:games:alltime"
}

// RecordGameResults bumps the winner's win count and every player's
// games-played count.
func (s *WinsLeaderboard) RecordGameResults(ctx context.Context, results []domain.GameResult) error {
	pipe := s.client.Pipeline()
	for _, res := range results {
		pipe.ZIncrBy(ctx, s.gamesKey(), 1, res.Identity)
		if res.Won {
			pipe.ZIncrBy(ctx, s.winsKey(), 1, res.Identity)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording wins: %w", err)
	}
	return nil
}

// WinEntry is one row of the all-time wins ranking.
type WinEntry struct {
	Identity string `json:"identity"`
	Wins     int64  `json:"wins"`
	Rank     int64  `json:"rank"`
}

// TopWinners returns the highest win counts, best first.
func (s *WinsLeaderboard) TopWinners(ctx context.Context, limit int) ([]WinEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	rows, err := s.client.ZRevRangeWithScores(ctx, s.winsKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading top winners: %w", err)
	}

	entries := make([]WinEntry, 0, len(rows))
	for i, row := range rows {
		member, ok := row.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, WinEntry{
			Identity: member,
			Wins:     int64(row.Score),
			Rank:     int64(i + 1),
		})
	}
	return entries, nil
}

// Wins returns one identity's all-time win count.
func (s *WinsLeaderboard) Wins(ctx context.Context, identity string) (int64, error) {
	score, err := s.client.ZScore(ctx, s.winsKey(), identity).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading win count: %w", err)
	}
	return int64(score), nil
}
