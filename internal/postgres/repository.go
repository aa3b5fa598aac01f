package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quiz-arena/internal/config"
	"github.com/quiz-arena/internal/domain"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS game_results (
			id BIGSERIAL PRIMARY KEY,
			lobby_id VARCHAR(64) NOT NULL,
			identity VARCHAR(255) NOT NULL,
			player_name VARCHAR(255) NOT NULL,
			position INT NOT NULL,
			won BOOLEAN NOT NULL DEFAULT FALSE,
			correct_answers INT NOT NULL DEFAULT 0,
			questions_answered INT NOT NULL DEFAULT 0,
			total_players INT NOT NULL,
			elapsed_ms BIGINT NOT NULL DEFAULT 0,
			finished_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(lobby_id, identity)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_game_results_identity ON game_results(identity, finished_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_game_results_finished ON game_results(finished_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// RecordGameResults persists one row per player for a finished game.
// Re-recording the same lobby is an upsert, so a retried finalize never
// duplicates rows.
func (r *Repository) RecordGameResults(ctx context.Context, results []domain.GameResult) error {
	query := `
		INSERT INTO game_results (lobby_id, identity, player_name, position, won,
			correct_answers, questions_answered, total_players, elapsed_ms, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (lobby_id, identity)
		DO UPDATE SET position = $4, won = $5, correct_answers = $6,
			questions_answered = $7, elapsed_ms = $9
	`

	batch := &pgx.Batch{}
	for _, res := range results {
		batch.Queue(query,
			res.LobbyID,
			res.Identity,
			res.Name,
			res.Position,
			res.Won,
			res.CorrectAnswers,
			res.QuestionsAnswered,
			res.TotalPlayers,
			res.Elapsed.Milliseconds(),
			res.FinishedAt,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("inserting game result: %w", err)
		}
	}

	r.logger.Debug("game results recorded", "count", len(results))
	return nil
}

// RecentResults returns the most recently finished games, newest first.
func (r *Repository) RecentResults(ctx context.Context, limit int) ([]domain.GameResult, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT lobby_id, identity, player_name, position, won,
			correct_answers, questions_answered, total_players, elapsed_ms, finished_at
		FROM game_results
		ORDER BY finished_at DESC, position ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent results: %w", err)
	}
	defer rows.Close()

	var results []domain.GameResult
	for rows.Next() {
		var res domain.GameResult
		var elapsedMs int64
		err := rows.Scan(
			&res.LobbyID,
			&res.Identity,
			&res.Name,
			&res.Position,
			&res.Won,
			&res.CorrectAnswers,
			&res.QuestionsAnswered,
			&res.TotalPlayers,
			&elapsedMs,
			&res.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning game result: %w", err)
		}
		res.Elapsed = msToDuration(elapsedMs)
		results = append(results, res)
	}
	return results, nil
}

// PlayerHistory returns an identity's past game results, newest first.
func (r *Repository) PlayerHistory(ctx context.Context, identity string, limit int) ([]domain.GameResult, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT lobby_id, identity, player_name, position, won,
			correct_answers, questions_answered, total_players, elapsed_ms, finished_at
		FROM game_results
		WHERE identity = $1
		ORDER BY finished_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("listing player history: %w", err)
	}
	defer rows.Close()

	var results []domain.GameResult
	for rows.Next() {
		var res domain.GameResult
		var elapsedMs int64
		err := rows.Scan(
			&res.LobbyID,
			&res.Identity,
			&res.Name,
			&res.Position,
			&res.Won,
			&res.CorrectAnswers,
			&res.QuestionsAnswered,
			&res.TotalPlayers,
			&elapsedMs,
			&res.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning game result: %w", err)
		}
		res.Elapsed = msToDuration(elapsedMs)
		results = append(results, res)
	}
	return results, nil
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
