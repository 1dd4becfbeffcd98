package pipeline

import (
	"context"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/broadcast"
	"github.com/couchcryptid/hydroalert-service/internal/domain"
)

// processWindow is the body of a window job. It runs on the device's lane, so
// jobs of one device never overlap.
func (c *Coordinator) processWindow(deviceID string, window []domain.RawReading) {
	ctx := c.jobCtx
	policy := c.policy.Policy()
	thresholds := policy.ThresholdsFor(deviceID)

	agg, err := domain.Aggregate(window, c.opts.RainUnitFactor, thresholds)
	if err != nil {
		c.metrics.AggregationFailures.Inc()
		c.logger.Error("aggregation failed", "device_id", deviceID, "window", len(window), "error", err)
		return
	}

	c.persistAggregate(ctx, agg)

	c.bus.Publish(broadcast.DeviceTopic(deviceID), broadcast.Event{
		Type: broadcast.TypeAggregatedUpdate, DeviceID: deviceID, Data: agg, Timestamp: agg.CreatedAt,
	})

	if agg.Status != domain.StatusNormal {
		c.notify(ctx, policy.Gate, agg)
	}
	c.predict(ctx, policy, thresholds, agg)
}

// persistAggregate flushes earlier parked aggregates and then saves agg. If
// the store stays unavailable agg is parked behind them, preserving order.
func (c *Coordinator) persistAggregate(ctx context.Context, agg domain.AggregatedReading) {
	if !c.flushPending(ctx, agg.DeviceID) {
		c.park(agg)
		return
	}

	err := retry(ctx, c.clock, c.opts.AggregateMaxAttempts, c.opts.RetryBackoff, c.opts.RetryMaxBackoff, func(ctx context.Context) error {
		sctx, cancel := c.storeContext(ctx)
		defer cancel()
		err := c.stores.Readings.AppendReading(sctx, agg)
		if err != nil {
			c.metrics.StoreErrors.WithLabelValues("append_reading").Inc()
		}
		return err
	})
	if err != nil {
		c.metrics.AggregationFailures.Inc()
		c.logger.Error("persist aggregated reading failed, parking",
			"device_id", agg.DeviceID,
			"attempts", c.opts.AggregateMaxAttempts,
			"error", err,
		)
		c.park(agg)
		return
	}
	c.metrics.WindowsAggregated.Inc()
}

// flushPending makes one attempt per parked aggregate, oldest first, stopping
// at the first failure. It reports whether nothing is left parked.
func (c *Coordinator) flushPending(ctx context.Context, deviceID string) bool {
	c.pendingMu.Lock()
	queue := c.pending[deviceID]
	c.pendingMu.Unlock()

	flushed := 0
	for _, agg := range queue {
		sctx, cancel := c.storeContext(ctx)
		err := c.stores.Readings.AppendReading(sctx, agg)
		cancel()
		if err != nil {
			c.metrics.StoreErrors.WithLabelValues("append_reading").Inc()
			break
		}
		flushed++
		c.metrics.WindowsAggregated.Inc()
	}
	if flushed > 0 {
		c.logger.Info("flushed parked aggregates", "device_id", deviceID, "count", flushed)
	}

	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	rest := c.pending[deviceID][flushed:]
	c.metrics.PendingAggregates.Sub(float64(flushed))
	if len(rest) == 0 {
		delete(c.pending, deviceID)
		return true
	}
	c.pending[deviceID] = rest
	return false
}

func (c *Coordinator) park(agg domain.AggregatedReading) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.pending[agg.DeviceID] = append(c.pending[agg.DeviceID], agg)
	c.metrics.PendingAggregates.Inc()
}

// pendingBetween returns parked aggregates of deviceID in [from, to).
func (c *Coordinator) pendingBetween(deviceID string, from, to time.Time) []domain.AggregatedReading {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	var out []domain.AggregatedReading
	for _, agg := range c.pending[deviceID] {
		if !agg.CreatedAt.Before(from) && agg.CreatedAt.Before(to) {
			out = append(out, agg)
		}
	}
	return out
}

func (c *Coordinator) pendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	n := 0
	for _, q := range c.pending {
		n += len(q)
	}
	return n
}
