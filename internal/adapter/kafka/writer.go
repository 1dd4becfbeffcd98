package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/broadcast"
	"github.com/couchcryptid/hydroalert-service/internal/config"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces pipeline events to the events topic.
// It implements broadcast.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured events topic. Events
// are keyed by device so each device's stream stays ordered within a partition.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaEventsTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

func (w *Writer) Publish(ctx context.Context, msg broadcast.Message) error {
	return w.writer.WriteMessages(ctx, toMessage(msg))
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

func toMessage(msg broadcast.Message) kafkago.Message {
	key := msg.DeviceID
	if key == "" {
		key = msg.Topic
	}
	return kafkago.Message{
		Key:   []byte(key),
		Value: msg.Payload,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(msg.Type)},
			{Key: "topic", Value: []byte(msg.Topic)},
			{Key: "published_at", Value: []byte(msg.Timestamp.Format(time.RFC3339))},
		},
	}
}
