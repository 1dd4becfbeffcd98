// Package pipeline turns raw device telemetry into statuses, aggregated
// windows, alerts, and predictions.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/broadcast"
	"github.com/couchcryptid/hydroalert-service/internal/domain"
	"github.com/couchcryptid/hydroalert-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Stores groups the persistence dependencies of the coordinator.
type Stores struct {
	Devices       DeviceStore
	Readings      ReadingStore
	Notifications NotificationStore
	Cache         StatusCache
}

// Options tunes the coordinator. Zero values fall back to the defaults.
type Options struct {
	WindowSize           int
	RainUnitFactor       float64
	SensorMountHeightCm  float64
	StoreTimeout         time.Duration
	AggregateMaxAttempts int
	RetryBackoff         time.Duration
	RetryMaxBackoff      time.Duration
	Clock                clockwork.Clock
}

func (o Options) withDefaults() Options {
	if o.WindowSize <= 0 {
		o.WindowSize = 12
	}
	if o.RainUnitFactor <= 0 {
		o.RainUnitFactor = domain.MMPerSecondToMMPerHour
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 3 * time.Second
	}
	if o.AggregateMaxAttempts <= 0 {
		o.AggregateMaxAttempts = 5
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = initialBackoff
	}
	if o.RetryMaxBackoff <= 0 {
		o.RetryMaxBackoff = maxBackoff
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// IngestResult is the synchronous outcome of Ingest.
type IngestResult struct {
	Accepted    bool
	Status      domain.Status
	Reason      string
	WindowReady bool
}

// Coordinator runs the per-reading ingest path and schedules window jobs.
// Readings of one device are handled strictly in order; different devices
// proceed in parallel.
type Coordinator struct {
	stores  Stores
	policy  PolicySource
	bus     Broadcaster
	buffer  *SlidingBuffer
	filter  *NoiseFilter
	locks   *keyedMutex
	lanes   *laneSet
	opts    Options
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	known  sync.Map // deviceID -> struct{}, devices known to exist
	lastAt sync.Map // deviceID -> time.Time, last accepted receive time

	pendingMu sync.Mutex
	pending   map[string][]domain.AggregatedReading

	notifiedMu   sync.Mutex
	lastNotified map[string]domain.Notification

	jobCtx   context.Context
	stopJobs context.CancelFunc
}

// NewCoordinator wires a coordinator. bus receives every live event and alert.
func NewCoordinator(stores Stores, policy PolicySource, bus Broadcaster, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Coordinator {
	opts = opts.withDefaults()
	jobCtx, stop := context.WithCancel(context.Background())
	return &Coordinator{
		stores:       stores,
		policy:       policy,
		bus:          bus,
		buffer:       NewSlidingBuffer(opts.WindowSize),
		filter:       NewNoiseFilter(stores.Cache),
		locks:        newKeyedMutex(),
		lanes:        newLaneSet(metrics),
		opts:         opts,
		clock:        opts.Clock,
		logger:       logger,
		metrics:      metrics,
		pending:      make(map[string][]domain.AggregatedReading),
		lastNotified: make(map[string]domain.Notification),
		jobCtx:       jobCtx,
		stopJobs:     stop,
	}
}

// Ingest validates, filters, and buffers one reading. It returns once the
// reading is reflected in the live state; window processing happens later on
// the device's lane.
//
// A noise rejection returns Accepted=false with an error wrapping
// domain.ErrRejectedAsNoise and leaves no state behind. A store failure after
// the reading was buffered returns Accepted=true together with an error
// wrapping domain.ErrStoreUnavailable.
func (c *Coordinator) Ingest(ctx context.Context, source string, t domain.Telemetry) (IngestResult, error) {
	start := c.clock.Now()
	c.metrics.ReadingsReceived.WithLabelValues(source).Inc()
	defer func() { c.metrics.IngestDuration.Observe(c.clock.Since(start).Seconds()) }()

	if err := t.Validate(); err != nil {
		return IngestResult{Reason: err.Error()}, err
	}
	t.WaterLevel = domain.LevelFromDistance(c.opts.SensorMountHeightCm, t.WaterLevel)
	policy := c.policy.Policy()

	unlock := c.locks.Lock(t.DeviceID)
	defer unlock()

	now := c.monotonicNow(t.DeviceID)

	if err := c.ensureDevice(ctx, t.DeviceID, now); err != nil {
		return IngestResult{Reason: err.Error()}, err
	}

	if err := c.checkNoise(ctx, policy.Noise, t.DeviceID, t.WaterLevel, now); err != nil {
		var rejection *domain.NoiseRejection
		if errors.As(err, &rejection) {
			c.metrics.ReadingsRejected.Inc()
			c.logger.Warn("reading rejected as noise",
				"device_id", t.DeviceID,
				"water_level", t.WaterLevel,
				"baseline", rejection.Baseline,
				"delta", rejection.Delta,
				"mode", rejection.Mode,
			)
		}
		return IngestResult{Reason: err.Error()}, err
	}

	reading := t.Reading(now)
	status := policy.ThresholdsFor(t.DeviceID).Classify(reading.WaterLevel)
	window, ready := c.buffer.Push(reading)
	c.lastAt.Store(t.DeviceID, now)
	c.metrics.ReadingsAccepted.Inc()

	storeErr := c.recordAccepted(ctx, policy.Noise, reading, status)
	c.publishLive(reading, status)

	if ready {
		deviceID := t.DeviceID
		c.lanes.Submit(deviceID, func() { c.processWindow(deviceID, window) })
	}

	res := IngestResult{Accepted: true, Status: status, WindowReady: ready}
	if storeErr != nil {
		res.Reason = storeErr.Error()
	}
	return res, storeErr
}

// RegisterDevice creates a device with an optional location. It reports
// created=false when the device already exists.
func (c *Coordinator) RegisterDevice(ctx context.Context, deviceID string, location *domain.GeoPoint) (domain.Device, bool, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return domain.Device{}, false, fmt.Errorf("%w: deviceID is required", domain.ErrInvalidReading)
	}

	unlock := c.locks.Lock(deviceID)
	defer unlock()

	now := c.clock.Now()
	d := domain.Device{DeviceID: deviceID, Location: location, LastActiveAt: now, CreatedAt: now}

	sctx, cancel := c.storeContext(ctx)
	defer cancel()
	created, err := c.stores.Devices.RegisterDevice(sctx, d)
	if err != nil {
		c.metrics.StoreErrors.WithLabelValues("register_device").Inc()
		return domain.Device{}, false, domain.Unavailable("register device", err)
	}
	c.known.Store(deviceID, struct{}{})
	if created {
		c.logger.Info("device registered", "device_id", deviceID)
	}
	return d, created, nil
}

// Drain waits until every window job queued so far has finished.
func (c *Coordinator) Drain(ctx context.Context) error {
	return c.lanes.Drain(ctx)
}

// Close waits for queued window jobs. If ctx expires first, in-flight jobs
// are cancelled and any unsaved aggregate stays parked in memory.
func (c *Coordinator) Close(ctx context.Context) error {
	err := c.lanes.Drain(ctx)
	c.stopJobs()
	if pending := c.pendingCount(); pending > 0 {
		c.logger.Warn("shutting down with unsaved aggregates", "count", pending)
	}
	return err
}

// monotonicNow returns the current time, never earlier than the device's last
// accepted reading. Callers must hold the device lock.
func (c *Coordinator) monotonicNow(deviceID string) time.Time {
	now := c.clock.Now()
	if last, ok := c.lastAt.Load(deviceID); ok && now.Before(last.(time.Time)) {
		return last.(time.Time)
	}
	return now
}

func (c *Coordinator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opts.StoreTimeout)
}

func (c *Coordinator) ensureDevice(ctx context.Context, deviceID string, now time.Time) error {
	if _, ok := c.known.Load(deviceID); ok {
		return nil
	}
	sctx, cancel := c.storeContext(ctx)
	defer cancel()
	created, err := c.stores.Devices.EnsureDevice(sctx, deviceID, now)
	if err != nil {
		c.metrics.StoreErrors.WithLabelValues("ensure_device").Inc()
		return domain.Unavailable("ensure device", err)
	}
	c.known.Store(deviceID, struct{}{})
	if created {
		c.logger.Info("device auto-registered", "device_id", deviceID)
	}
	return nil
}

func (c *Coordinator) checkNoise(ctx context.Context, p domain.NoisePolicy, deviceID string, level float64, now time.Time) error {
	sctx, cancel := c.storeContext(ctx)
	defer cancel()
	err := c.filter.Check(sctx, p, deviceID, level, now)
	if errors.Is(err, domain.ErrStoreUnavailable) {
		c.metrics.StoreErrors.WithLabelValues("read_baseline").Inc()
	}
	return err
}

// recordAccepted updates the device activity, the latest status, and the
// noise baseline. Every write is attempted even if an earlier one fails.
func (c *Coordinator) recordAccepted(ctx context.Context, noise domain.NoisePolicy, r domain.RawReading, status domain.Status) error {
	var errs []error
	write := func(op string, fn func(context.Context) error) {
		sctx, cancel := c.storeContext(ctx)
		defer cancel()
		if err := fn(sctx); err != nil {
			c.metrics.StoreErrors.WithLabelValues(op).Inc()
			c.logger.Warn("store write failed", "op", op, "device_id", r.DeviceID, "error", err)
			errs = append(errs, domain.Unavailable(op, err))
		}
	}

	write("touch_device", func(ctx context.Context) error {
		return c.stores.Devices.TouchDevice(ctx, r.DeviceID, r.ReceivedAt)
	})
	write("set_latest_status", func(ctx context.Context) error {
		return c.stores.Cache.SetLatestStatus(ctx, domain.LatestStatus{
			DeviceID:      r.DeviceID,
			WaterLevel:    r.WaterLevel,
			RainIntensity: r.RainIntensity,
			WindSpeed:     r.WindSpeed,
			Status:        status,
			UpdatedAt:     r.ReceivedAt,
		})
	})
	write("set_baseline", func(ctx context.Context) error {
		return c.filter.Accept(ctx, noise, r.DeviceID, r.WaterLevel, r.ReceivedAt)
	})
	return errors.Join(errs...)
}

type sensorUpdate struct {
	WaterLevel    float64       `json:"waterLevel"`
	RainIntensity float64       `json:"rainIntensity"`
	WindSpeed     float64       `json:"windSpeed"`
	Status        domain.Status `json:"status"`
}

func (c *Coordinator) publishLive(r domain.RawReading, status domain.Status) {
	data := sensorUpdate{
		WaterLevel:    r.WaterLevel,
		RainIntensity: r.RainIntensity,
		WindSpeed:     r.WindSpeed,
		Status:        status,
	}
	c.bus.Publish(broadcast.DeviceTopic(r.DeviceID), broadcast.Event{
		Type: broadcast.TypeSensorUpdate, DeviceID: r.DeviceID, Data: data, Timestamp: r.ReceivedAt,
	})
	c.bus.Publish(broadcast.TopicDashboard, broadcast.Event{
		Type: broadcast.TypeDashboardUpdate, DeviceID: r.DeviceID, Data: data, Timestamp: r.ReceivedAt,
	})
}
