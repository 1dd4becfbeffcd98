package pipeline

import (
	"context"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/broadcast"
	"github.com/couchcryptid/hydroalert-service/internal/domain"
)

// DeviceStore persists device registrations and activity timestamps.
type DeviceStore interface {
	// EnsureDevice creates the device if it does not exist and reports whether
	// it did.
	EnsureDevice(ctx context.Context, deviceID string, now time.Time) (bool, error)
	// RegisterDevice inserts d unless the ID is taken. It reports whether a
	// row was created.
	RegisterDevice(ctx context.Context, d domain.Device) (bool, error)
	TouchDevice(ctx context.Context, deviceID string, at time.Time) error
	ListDevices(ctx context.Context) ([]domain.Device, error)
}

// ReadingStore persists aggregated readings.
type ReadingStore interface {
	AppendReading(ctx context.Context, r domain.AggregatedReading) error
	// ReadingsBetween returns readings in [from, to), oldest first.
	ReadingsBetween(ctx context.Context, deviceID string, from, to time.Time) ([]domain.AggregatedReading, error)
}

// NotificationStore persists alerts.
type NotificationStore interface {
	AppendNotification(ctx context.Context, n domain.Notification) error
	LatestNotification(ctx context.Context, deviceID string) (domain.Notification, bool, error)
	ListNotifications(ctx context.Context, q domain.NotificationQuery) ([]domain.Notification, error)
}

// StatusCache holds the short-lived per-device state: the noise baseline and
// the latest-status mirror.
type StatusCache interface {
	Baseline(ctx context.Context, deviceID string) (domain.Baseline, bool, error)
	SetBaseline(ctx context.Context, b domain.Baseline, ttl time.Duration) error
	SetLatestStatus(ctx context.Context, s domain.LatestStatus) error
	LatestStatuses(ctx context.Context) ([]domain.LatestStatus, error)
	// DeleteStatus removes the latest status and the baseline of a device.
	DeleteStatus(ctx context.Context, deviceID string) error
}

// PolicySource yields the policy snapshot in force.
type PolicySource interface {
	Policy() domain.Policy
}

// StaticPolicy is a PolicySource that never changes.
type StaticPolicy domain.Policy

func (p StaticPolicy) Policy() domain.Policy { return domain.Policy(p) }

// Broadcaster is the fire-and-forget fan-out used by the pipeline.
type Broadcaster interface {
	Publish(topic string, ev broadcast.Event)
	Notify(message string)
}
