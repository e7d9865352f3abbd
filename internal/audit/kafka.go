package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// KafkaConfig holds the audit topic settings.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaSink publishes audit events to a Kafka topic, keyed by symbol so a
// symbol's events stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaSink creates a sink writing to cfg.Topic.
func NewKafkaSink(cfg KafkaConfig, logger *slog.Logger) *KafkaSink {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{
		writer: w,
		logger: logger.With(slog.String("component", "audit_kafka")),
	}
}

// Publish writes ev as a JSON message. Failures surface to the caller, which
// degrades to logging rather than blocking the trading path.
func (s *KafkaSink) Publish(ctx context.Context, ev domain.AuditEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.Symbol),
		Value: payload,
		Time:  ev.Timestamp,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("audit: publish %s: %w", ev.EventType, err)
	}
	return nil
}

// Close flushes and releases the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

var _ domain.AuditSink = (*KafkaSink)(nil)
