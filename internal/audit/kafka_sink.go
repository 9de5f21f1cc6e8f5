package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of kafka.Writer used by KafkaSink
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes audit entries as JSON, keyed by event name
type KafkaSink struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// NewKafkaSink creates a producer for topic on brokers
func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	logger.Info("kafka audit sink initialized",
		slog.Any("brokers", brokers),
		slog.String("topic", topic))

	return &KafkaSink{writer: writer, topic: topic, logger: logger}
}

func (k *KafkaSink) Write(ctx context.Context, entry *models.AuditLogEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(entry.Event),
		Value: value,
		Time:  entry.Timestamp,
		Headers: []kafka.Header{
			{Key: "audit_id", Value: []byte(entry.ID)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	return nil
}

// Close flushes and closes the producer
func (k *KafkaSink) Close() error {
	if err := k.writer.Close(); err != nil {
		k.logger.Error("failed to close kafka audit sink", slog.Any("error", err))
		return err
	}
	return nil
}
