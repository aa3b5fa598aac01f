package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quiz-arena/internal/config"
	"github.com/quiz-arena/internal/game"
	"github.com/quiz-arena/internal/handler"
	"github.com/quiz-arena/internal/kafka"
	"github.com/quiz-arena/internal/lobby"
	"github.com/quiz-arena/internal/postgres"
	"github.com/quiz-arena/internal/redis"
	"github.com/quiz-arena/internal/session"
	"github.com/quiz-arena/internal/websocket"
	"github.com/quiz-arena/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core in-memory state
	lobbies := lobby.NewRegistry(cfg.Lobby.MinPlayers, logger)
	sessions := session.NewManager(logger)

	// Result recorders are optional: the game runs entirely in memory,
	// persistence is a best-effort side channel.
	var recorders []game.ResultRecorder

	var postgresRepo *postgres.Repository
	if cfg.Postgres.Enabled {
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		postgresRepo, err = postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			logger.Warn("failed to connect to PostgreSQL, continuing without it", "error", err)
		} else {
			defer postgresRepo.Close()
			if err := postgresRepo.RunMigrations(ctx); err != nil {
				logger.Error("failed to run migrations", "error", err)
				os.Exit(1)
			}
			recorders = append(recorders, postgresRepo)
			logger.Info("connected to PostgreSQL")
		}
	}

	var winsLeaderboard *redis.WinsLeaderboard
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		winsLeaderboard, err = redis.NewWinsLeaderboard(&cfg.Redis, logger)
		if err != nil {
			logger.Warn("failed to connect to Redis, continuing without it", "error", err)
		} else {
			defer winsLeaderboard.Close()
			recorders = append(recorders, winsLeaderboard)
			logger.Info("connected to Redis")
		}
	}

	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka producer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaProducer, err := kafka.NewProducer(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka producer, continuing without Kafka", "error", err)
		} else {
			defer kafkaProducer.Close()
			recorders = append(recorders, kafkaProducer)
			logger.Info("Kafka producer started successfully")
		}
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)

	// Initialize the game coordinator and wire it to the hub
	coordinator := game.NewCoordinator(
		cfg.Game,
		cfg.Lobby,
		lobbies,
		sessions,
		wsHub,
		recorders,
		logger,
	)
	defer coordinator.Shutdown()
	wsHub.SetHandler(coordinator)

	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Start cleanup sweeper
	sweeper := worker.NewSweeper(lobbies, sessions, &cfg.Lobby, &cfg.Session, logger)
	if err := sweeper.Start(ctx); err != nil {
		logger.Error("failed to start cleanup sweeper", "error", err)
		os.Exit(1)
	}

	// Initialize HTTP handler
	httpHandler := handler.NewHandler(lobbies, sessions, wsHub, postgresRepo, winsLeaderboard, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		logger.Info("WebSocket endpoint available at /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Stop background components
	if err := sweeper.Stop(); err != nil {
		logger.Error("cleanup sweeper stop error", "error", err)
	}
	wsHub.Stop()

	logger.Info("server stopped")
}
