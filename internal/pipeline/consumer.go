package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/domain"
	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"
)

// MessageSource yields raw telemetry messages one at a time.
type MessageSource interface {
	Fetch(ctx context.Context) (domain.RawMessage, error)
}

// Ingester accepts decoded telemetry. Coordinator implements it.
type Ingester interface {
	Ingest(ctx context.Context, source string, t domain.Telemetry) (IngestResult, error)
}

// Consumer drives a broker source into the ingester. Invalid and noisy
// messages are committed and skipped. A store outage backs off and retries the
// same message so nothing is lost.
type Consumer struct {
	source   MessageSource
	ingester Ingester
	name     string
	clock    clockwork.Clock
	logger   *slog.Logger
	ready    atomic.Bool
}

// NewConsumer creates a Consumer. name labels the source in metrics.
func NewConsumer(source MessageSource, ingester Ingester, name string, clock clockwork.Clock, logger *slog.Logger) *Consumer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Consumer{source: source, ingester: ingester, name: name, clock: clock, logger: logger}
}

// CheckReadiness returns nil once the consumer has fetched a message.
func (c *Consumer) CheckReadiness(_ context.Context) error {
	if !c.ready.Load() {
		return errors.New(c.name + " consumer has not received any messages yet")
	}
	return nil
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started", "source", c.name)
	backoff := initialBackoff

	for {
		if ctx.Err() != nil {
			c.logger.Info("consumer stopping", "source", c.name, "reason", ctx.Err())
			return nil
		}

		msg, err := c.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("fetch message failed", "source", c.name, "error", err)
			if !c.backoffOrStop(ctx, &backoff) {
				return nil
			}
			continue
		}
		backoff = initialBackoff
		c.ready.Store(true)

		if !c.handle(ctx, msg, &backoff) {
			return nil
		}
	}
}

// handle ingests msg, retrying on store outages. It returns false if the
// consumer should stop.
func (c *Consumer) handle(ctx context.Context, msg domain.RawMessage, backoff *time.Duration) bool {
	t, err := domain.DecodeTelemetry(msg.Value, string(msg.Key))
	if err != nil {
		c.logger.Warn("invalid telemetry, skipping message",
			"error", err, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
		c.commit(ctx, msg)
		return true
	}

	for {
		res, err := c.ingester.Ingest(ctx, c.name, t)
		switch {
		case err == nil, res.Accepted, errors.Is(err, domain.ErrRejectedAsNoise), errors.Is(err, domain.ErrInvalidReading):
			// An accepted reading is buffered even if a later write failed;
			// retrying it would count it twice.
			c.commit(ctx, msg)
			return true
		case errors.Is(err, domain.ErrStoreUnavailable):
			c.logger.Error("ingest failed, retrying", "device_id", t.DeviceID, "offset", msg.Offset, "error", err)
			if !c.backoffOrStop(ctx, backoff) {
				return false
			}
		default:
			c.logger.Error("ingest failed, skipping message", "device_id", t.DeviceID, "offset", msg.Offset, "error", err)
			c.commit(ctx, msg)
			return true
		}
	}
}

func (c *Consumer) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !SleepWithContext(ctx, c.clock, *backoff) {
		return false
	}
	*backoff = sharedretry.NextBackoff(*backoff, maxBackoff)
	return true
}

func (c *Consumer) commit(ctx context.Context, msg domain.RawMessage) {
	if msg.Commit == nil {
		return
	}
	if err := msg.Commit(ctx); err != nil {
		c.logger.Warn("commit offset failed", "error", err,
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
	}
}
