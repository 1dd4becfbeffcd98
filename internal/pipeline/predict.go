package pipeline

import (
	"context"

	"github.com/couchcryptid/hydroalert-service/internal/broadcast"
	"github.com/couchcryptid/hydroalert-service/internal/domain"
)

func (c *Coordinator) predict(ctx context.Context, policy domain.Policy, thresholds domain.Thresholds, agg domain.AggregatedReading) {
	if !domain.Predictable(agg.Status) {
		return
	}

	from := agg.CreatedAt.Add(-policy.Trend.Lookback)
	sctx, cancel := c.storeContext(ctx)
	history, err := c.stores.Readings.ReadingsBetween(sctx, agg.DeviceID, from, agg.CreatedAt)
	cancel()
	if err != nil {
		c.metrics.StoreErrors.WithLabelValues("readings_between").Inc()
		c.metrics.Predictions.WithLabelValues("error").Inc()
		c.logger.Warn("load prediction history failed", "device_id", agg.DeviceID, "error", err)
		return
	}
	history = append(history, c.pendingBetween(agg.DeviceID, from, agg.CreatedAt)...)

	p, ok := domain.Predict(history, agg, thresholds, policy.Trend)
	if !ok {
		c.metrics.Predictions.WithLabelValues("none").Inc()
		return
	}
	c.metrics.Predictions.WithLabelValues("emitted").Inc()
	c.logger.Info("prediction",
		"device_id", p.DeviceID,
		"from", p.FromStatus,
		"to", p.ToStatus,
		"estimated_minutes", p.EstimatedMinutes,
		"rise_rate", p.AdjustedRiseRate,
	)
	c.bus.Publish(broadcast.DeviceTopic(agg.DeviceID), broadcast.Event{
		Type: broadcast.TypePrediction, DeviceID: agg.DeviceID, Data: p, Timestamp: p.PredictedAt,
	})
}
