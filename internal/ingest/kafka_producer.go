package ingest

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-tracking/internal/models"
)

// MessageWriter is the subset of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer streams driver positions keyed by driver ID, so one driver's
// updates stay ordered on a single partition.
type KafkaProducer struct {
	writer MessageWriter
}

// NewKafkaProducer writes asynchronously; failed batches are logged and
// counted through onError.
func NewKafkaProducer(brokers []string, topic string, logger *slog.Logger, onError func(error)) *KafkaProducer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
		Async:    true,
		Completion: func(msgs []kafka.Message, err error) {
			if err == nil {
				return
			}
			logger.Warn("kafka batch failed", "topic", topic, "messages", len(msgs), "error", err)
			if onError != nil {
				onError(err)
			}
		},
	}
	return &KafkaProducer{writer: w}
}

func NewKafkaProducerWithWriter(w MessageWriter) *KafkaProducer {
	return &KafkaProducer{writer: w}
}

func (k *KafkaProducer) PublishPosition(ctx context.Context, u models.PositionUpdate) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(u.DriverID), Value: b, Time: u.Updated})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// DecodePosition parses a message value written by PublishPosition.
func DecodePosition(value []byte) (models.PositionUpdate, error) {
	var u models.PositionUpdate
	err := json.Unmarshal(value, &u)
	return u, err
}
