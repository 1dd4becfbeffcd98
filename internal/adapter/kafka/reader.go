// Package kafka carries telemetry in from and pipeline events out to Kafka.
package kafka

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/hydroalert-service/internal/config"
	"github.com/couchcryptid/hydroalert-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Reader consumes device telemetry from a Kafka topic.
// It implements pipeline.MessageSource.
type Reader struct {
	reader *kafkago.Reader
	logger *slog.Logger
}

// NewReader creates a consumer-group reader for the telemetry topic. Offsets
// are committed explicitly through RawMessage.Commit. A new group starts at the
// oldest retained message.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		GroupID:        cfg.KafkaGroupID,
		Topic:          cfg.KafkaTelemetryTopic,
		StartOffset:    kafkago.FirstOffset,
		CommitInterval: 0,
		MinBytes:       1,
		MaxBytes:       1 << 20,
	})
	return &Reader{reader: r, logger: logger}
}

// Fetch blocks until the next message arrives or ctx is done.
func (r *Reader) Fetch(ctx context.Context) (domain.RawMessage, error) {
	msg, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return domain.RawMessage{}, err
	}
	raw := mapMessage(msg)
	raw.Commit = func(ctx context.Context) error {
		return r.reader.CommitMessages(ctx, msg)
	}
	return raw, nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

func mapMessage(msg kafkago.Message) domain.RawMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return domain.RawMessage{
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}
