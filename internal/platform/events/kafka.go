package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the appointment event producer.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// Kafka writes events to a topic, keyed so that all events of one
// appointment land on the same partition. Writes are asynchronous; failures
// are logged from the writer's completion callback.
type Kafka struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

func NewKafka(cfg KafkaConfig, logger zerolog.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}

	k := &Kafka{logger: logger.With().Str("component", "kafka").Str("topic", cfg.Topic).Logger()}
	k.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: cfg.BatchTimeout,
		Async:        true,
		Completion:   k.completion,
	}
	return k, nil
}

func (k *Kafka) Publish(ctx context.Context, evt Event) {
	msg, err := encodeMessage(evt)
	if err != nil {
		k.logger.Error().Err(err).Str("event_type", evt.Type).Msg("encode event")
		return
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.logger.Error().Err(err).Str("event_type", evt.Type).Str("key", evt.Key).Msg("publish event")
	}
}

func (k *Kafka) completion(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, m := range messages {
		k.logger.Error().Err(err).Str("key", string(m.Key)).Msg("deliver event")
	}
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

func encodeMessage(evt Event) (kafka.Message, error) {
	value, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(evt.Key),
		Value: value,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
			{Key: "event-id", Value: []byte(evt.ID)},
		},
	}, nil
}
