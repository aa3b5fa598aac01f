package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/quiz-arena/internal/config"
	"github.com/quiz-arena/internal/domain"
)

// Producer publishes finished-game events to Kafka for downstream
// analytics. Publishing is asynchronous; errors are logged, never
// surfaced to the game flow.
type Producer struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger
	done     chan struct{}
}

// GameFinishedEvent is the message published once per finished game.
type GameFinishedEvent struct {
	LobbyID      string              `json:"lobby_id"`
	Winner       string              `json:"winner"`
	TotalPlayers int                 `json:"total_players"`
	FinishedAt   time.Time           `json:"finished_at"`
	Results      []domain.GameResult `json:"results"`
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg *config.KafkaConfig, logger *slog.Logger) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Flush.Messages = 100
	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}

	p := &Producer{
		producer: producer,
		topic:    cfg.Topic,
		logger:   logger,
		done:     make(chan struct{}),
	}

	// Drain producer errors
	go func() {
		defer close(p.done)
		for err := range producer.Errors() {
			p.logger.Error("kafka produce failed", "error", err)
		}
	}()

	return p, nil
}

// Close shuts the producer down, flushing buffered messages.
func (p *Producer) Close() error {
	err := p.producer.Close()
	<-p.done
	return err
}

// RecordGameResults publishes one game-finished event keyed by lobby id.
func (p *Producer) RecordGameResults(ctx context.Context, results []domain.GameResult) error {
	if len(results) == 0 {
		return nil
	}

	event := GameFinishedEvent{
		LobbyID:      results[0].LobbyID,
		TotalPlayers: results[0].TotalPlayers,
		FinishedAt:   results[0].FinishedAt,
		Results:      results,
	}
	for _, res := range results {
		if res.Won {
			event.Winner = res.Name
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling game event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.LobbyID),
		Value: sarama.ByteEncoder(data),
	}

	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
