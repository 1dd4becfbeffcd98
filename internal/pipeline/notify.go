package pipeline

import (
	"context"

	"github.com/couchcryptid/hydroalert-service/internal/broadcast"
	"github.com/couchcryptid/hydroalert-service/internal/domain"
	"github.com/google/uuid"
)

// notify runs the alert gate for a non-normal aggregate and, on emit, saves
// and dispatches the notification.
func (c *Coordinator) notify(ctx context.Context, gate domain.GatePolicy, agg domain.AggregatedReading) {
	prior := c.priorNotification(ctx, agg.DeviceID)
	decision := domain.EvaluateGate(prior, agg.Status, agg.WaterLevel, agg.CreatedAt, gate)
	if !decision.Emit {
		c.metrics.NotificationsSuppressed.Inc()
		c.logger.Debug("notification suppressed",
			"device_id", agg.DeviceID,
			"status", agg.Status,
			"water_level", agg.WaterLevel,
		)
		return
	}

	n := domain.NewNotification(uuid.NewString(), agg.DeviceID, agg.Status, agg.WaterLevel, agg.CreatedAt)
	c.rememberNotification(n)

	err := retry(ctx, c.clock, c.opts.AggregateMaxAttempts, c.opts.RetryBackoff, c.opts.RetryMaxBackoff, func(ctx context.Context) error {
		sctx, cancel := c.storeContext(ctx)
		defer cancel()
		return c.stores.Notifications.AppendNotification(sctx, n)
	})
	if err != nil {
		c.metrics.StoreErrors.WithLabelValues("append_notification").Inc()
		c.logger.Error("persist notification failed, dispatching anyway",
			"device_id", n.DeviceID,
			"notification_id", n.ID,
			"error", err,
		)
	}

	c.metrics.NotificationsEmitted.WithLabelValues(n.Severity.String(), string(decision.Reason)).Inc()
	c.logger.Info("notification emitted",
		"device_id", n.DeviceID,
		"severity", n.Severity,
		"reason", decision.Reason,
		"water_level", n.WaterLevel,
	)

	c.bus.Notify(domain.AlertMessage(n))
	ev := broadcast.Event{Type: broadcast.TypeNewNotification, DeviceID: n.DeviceID, Data: n, Timestamp: n.CreatedAt}
	c.bus.Publish(broadcast.TopicNotifications, ev)
	c.bus.Publish(broadcast.DeviceTopic(n.DeviceID), ev)
}

// priorNotification returns the most recent alert of deviceID. When the store
// lookup fails it falls back to the alerts emitted by this process, so the
// gate keeps deduplicating instead of alerting on every window.
func (c *Coordinator) priorNotification(ctx context.Context, deviceID string) *domain.Notification {
	c.notifiedMu.Lock()
	local, haveLocal := c.lastNotified[deviceID]
	c.notifiedMu.Unlock()

	sctx, cancel := c.storeContext(ctx)
	defer cancel()
	stored, ok, err := c.stores.Notifications.LatestNotification(sctx, deviceID)
	if err != nil {
		c.metrics.StoreErrors.WithLabelValues("latest_notification").Inc()
		c.logger.Warn("latest notification lookup failed, using local history", "device_id", deviceID, "error", err)
		ok = false
	}

	switch {
	case ok && haveLocal && local.CreatedAt.After(stored.CreatedAt):
		return &local
	case ok:
		return &stored
	case haveLocal:
		return &local
	}
	return nil
}

func (c *Coordinator) rememberNotification(n domain.Notification) {
	c.notifiedMu.Lock()
	defer c.notifiedMu.Unlock()
	c.lastNotified[n.DeviceID] = n
}
