package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaStore publishes audit records to a durable append-only topic,
// keyed by account so per-account history stays ordered within a partition.
type KafkaStore struct {
	writer *kafka.Writer
}

// NewKafkaStore creates a publisher for the given brokers and topic
func NewKafkaStore(brokers []string, topic string) *KafkaStore {
	return &KafkaStore{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// Append publishes the batch
func (s *KafkaStore) Append(ctx context.Context, records []*Record) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, record := range records {
		value, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal audit record: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(record.AccountID),
			Value: value,
		})
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish audit records: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer
func (s *KafkaStore) Close() error {
	return s.writer.Close()
}
