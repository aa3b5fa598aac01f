package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Lobby    LobbyConfig    `yaml:"lobby"`
	Session  SessionConfig  `yaml:"session"`
	Game     GameConfig     `yaml:"game"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// LobbyConfig holds lobby sizing and cleanup configuration
type LobbyConfig struct {
	MinPlayers          int           `yaml:"min_players"`
	DefaultCapacity     int           `yaml:"default_capacity"`
	MaxCapacity         int           `yaml:"max_capacity"`
	CleanupInterval     time.Duration `yaml:"cleanup_interval"`
	InactivityThreshold time.Duration `yaml:"inactivity_threshold"`
}

// SessionConfig holds session lifecycle configuration
type SessionConfig struct {
	InactivityThreshold time.Duration `yaml:"inactivity_threshold"`
}

// GameConfig holds end-of-game timing configuration
type GameConfig struct {
	// PendingStatsWindow bounds how long finalize waits for late
	// client-reported statistics after a mass disconnect.
	PendingStatsWindow time.Duration `yaml:"pending_stats_window"`
	// StatsRecencyWindow selects which eliminated players are still
	// expected to report: only those eliminated this recently.
	StatsRecencyWindow time.Duration `yaml:"stats_recency_window"`
	// FinalizeGrace delays lobby teardown after results broadcast.
	FinalizeGrace time.Duration `yaml:"finalize_grace"`
	// AutoWinnerDelay delays finalize after an automatic winner is
	// detected, giving the winner's client time to confirm.
	AutoWinnerDelay time.Duration `yaml:"auto_winner_delay"`
	// FinishDelay is the short defer before ordinary finalizations.
	FinishDelay time.Duration `yaml:"finish_delay"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// KafkaConfig holds Kafka producer configuration
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Lobby defaults
	if c.Lobby.MinPlayers == 0 {
		c.Lobby.MinPlayers = 2
	}
	if c.Lobby.DefaultCapacity == 0 {
		c.Lobby.DefaultCapacity = 5
	}
	if c.Lobby.MaxCapacity == 0 {
		c.Lobby.MaxCapacity = 10
	}
	if c.Lobby.CleanupInterval == 0 {
		c.Lobby.CleanupInterval = 5 * time.Minute
	}
	if c.Lobby.InactivityThreshold == 0 {
		c.Lobby.InactivityThreshold = 30 * time.Minute
	}

	// Session defaults
	if c.Session.InactivityThreshold == 0 {
		c.Session.InactivityThreshold = 15 * time.Minute
	}

	// Game timing defaults
	if c.Game.PendingStatsWindow == 0 {
		c.Game.PendingStatsWindow = 15 * time.Second
	}
	if c.Game.StatsRecencyWindow == 0 {
		c.Game.StatsRecencyWindow = 30 * time.Second
	}
	if c.Game.FinalizeGrace == 0 {
		c.Game.FinalizeGrace = 60 * time.Second
	}
	if c.Game.AutoWinnerDelay == 0 {
		c.Game.AutoWinnerDelay = 3 * time.Second
	}
	if c.Game.FinishDelay == 0 {
		c.Game.FinishDelay = time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 20
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 2
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 50
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 5
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "quiz-game-results"
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
