package domain

import (
	"context"
	"time"
)

// RawMessage is an unprocessed telemetry message from a broker.
type RawMessage struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	// Commit acknowledges the message. It is nil for sources without offsets.
	Commit func(ctx context.Context) error
}
