package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/adapter/memory"
	"github.com/couchcryptid/hydroalert-service/internal/broadcast"
	"github.com/couchcryptid/hydroalert-service/internal/domain"
	"github.com/couchcryptid/hydroalert-service/internal/observability"
	"github.com/couchcryptid/hydroalert-service/internal/pipeline"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var (
	t0           = time.Date(2025, 11, 11, 8, 0, 0, 0, time.UTC)
	errStoreDown = errors.New("connection refused")
)

// --- mocks ---

type published struct {
	topic string
	event broadcast.Event
}

type recordingBus struct {
	mu     sync.Mutex
	events []published
	alerts []string
}

func (b *recordingBus) Publish(topic string, ev broadcast.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, published{topic: topic, event: ev})
}

func (b *recordingBus) Notify(message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerts = append(b.alerts, message)
}

func (b *recordingBus) ofType(typ string) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []published
	for _, p := range b.events {
		if p.event.Type == typ {
			out = append(out, p)
		}
	}
	return out
}

func (b *recordingBus) notifications() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.alerts...)
}

// flakyReadings fails AppendReading while down is set.
type flakyReadings struct {
	*memory.Store
	down atomic.Bool
}

func (f *flakyReadings) AppendReading(ctx context.Context, r domain.AggregatedReading) error {
	if f.down.Load() {
		return errStoreDown
	}
	return f.Store.AppendReading(ctx, r)
}

// brokenCache fails the latest-status write.
type brokenCache struct {
	*memory.Store
}

func (brokenCache) SetLatestStatus(context.Context, domain.LatestStatus) error {
	return errStoreDown
}

// brokenDevices fails every device write.
type brokenDevices struct {
	*memory.Store
}

func (brokenDevices) EnsureDevice(context.Context, string, time.Time) (bool, error) {
	return false, errStoreDown
}

// blindNotifications can write alerts but never read them back.
type blindNotifications struct {
	*memory.Store
}

func (blindNotifications) LatestNotification(context.Context, string) (domain.Notification, bool, error) {
	return domain.Notification{}, false, errStoreDown
}

// scriptedClock returns the given instants from Now in order, then repeats
// the last one.
type scriptedClock struct {
	clockwork.Clock
	mu    sync.Mutex
	times []time.Time
}

func (c *scriptedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return now
}

// --- harness ---

type harness struct {
	coord   *pipeline.Coordinator
	store   *memory.Store
	clock   *clockwork.FakeClock
	bus     *recordingBus
	metrics *observability.Metrics
}

type harnessOption func(*pipeline.Stores, *pipeline.Options, *domain.Policy)

func withWindow(n int) harnessOption {
	return func(_ *pipeline.Stores, o *pipeline.Options, _ *domain.Policy) { o.WindowSize = n }
}

func withStores(fn func(*pipeline.Stores)) harnessOption {
	return func(s *pipeline.Stores, _ *pipeline.Options, _ *domain.Policy) { fn(s) }
}

func withOptions(fn func(*pipeline.Options)) harnessOption {
	return func(_ *pipeline.Stores, o *pipeline.Options, _ *domain.Policy) { fn(o) }
}

func withPolicy(fn func(*domain.Policy)) harnessOption {
	return func(_ *pipeline.Stores, _ *pipeline.Options, p *domain.Policy) { fn(p) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	store := memory.New(clock)
	stores := pipeline.Stores{Devices: store, Readings: store, Notifications: store, Cache: store}
	options := pipeline.Options{WindowSize: 12, AggregateMaxAttempts: 1, Clock: clock}
	policy := domain.DefaultPolicy()
	for _, o := range opts {
		o(&stores, &options, &policy)
	}

	h := &harness{
		store:   store,
		clock:   clock,
		bus:     &recordingBus{},
		metrics: observability.NewMetricsForTesting(),
	}
	h.coord = pipeline.NewCoordinator(stores, pipeline.StaticPolicy(policy), h.bus, options, discardLogger(), h.metrics)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.coord.Close(ctx)
	})
	return h
}

func (h *harness) ingest(t *testing.T, deviceID string, level float64) (pipeline.IngestResult, error) {
	t.Helper()
	return h.coord.Ingest(context.Background(), "test", domain.Telemetry{DeviceID: deviceID, WaterLevel: level})
}

func (h *harness) mustIngest(t *testing.T, deviceID string, level float64) pipeline.IngestResult {
	t.Helper()
	res, err := h.ingest(t, deviceID, level)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	return res
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.coord.Drain(ctx))
}

func (h *harness) readings(t *testing.T, deviceID string) []domain.AggregatedReading {
	t.Helper()
	rs, err := h.store.ReadingsBetween(context.Background(), deviceID, t0.Add(-time.Hour), t0.Add(24*time.Hour))
	require.NoError(t, err)
	return rs
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
