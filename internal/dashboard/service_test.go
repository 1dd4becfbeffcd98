package dashboard

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/adapter/memory"
	"github.com/couchcryptid/hydroalert-service/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 11, 11, 8, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New(clockwork.NewFakeClockAt(now))
	src := Sources{Devices: store, Notifications: store, Statuses: store}
	return NewService(src, 5*time.Minute, clockwork.NewFakeClockAt(now)), store
}

func seedDevice(t *testing.T, s *memory.Store, id string, lastActive time.Time) {
	t.Helper()
	_, err := s.RegisterDevice(context.Background(), domain.Device{DeviceID: id, LastActiveAt: lastActive, CreatedAt: lastActive})
	require.NoError(t, err)
}

func seedStatus(t *testing.T, s *memory.Store, id string, level float64, status domain.Status, at time.Time) {
	t.Helper()
	require.NoError(t, s.SetLatestStatus(context.Background(), domain.LatestStatus{
		DeviceID: id, WaterLevel: level, RainIntensity: 2, WindSpeed: 4, Status: status, UpdatedAt: at,
	}))
}

func TestSummary_WorstFreshStatus(t *testing.T) {
	svc, store := newTestService(t)
	seedDevice(t, store, "DEV-001", now.Add(-time.Minute))
	seedDevice(t, store, "DEV-002", now.Add(-10*time.Minute))
	seedDevice(t, store, "DEV-003", now.Add(-2*time.Minute))
	seedStatus(t, store, "DEV-001", 95, domain.StatusSiaga2, now.Add(-time.Minute))
	seedStatus(t, store, "DEV-002", 190, domain.StatusBahaya, now.Add(-10*time.Minute)) // stale
	seedStatus(t, store, "DEV-003", 40, domain.StatusNormal, now.Add(-2*time.Minute))

	for i := range 7 {
		n := domain.NewNotification(fmt.Sprintf("n%d", i), "DEV-001", domain.StatusWaspada, 70, now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.AppendNotification(context.Background(), n))
	}

	sum, err := svc.Summary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "DEV-001", sum.DeviceID)
	assert.Equal(t, 95.0, sum.Water.Level)
	assert.Equal(t, domain.StatusSiaga2, sum.Water.Status)
	require.NotNil(t, sum.Water.UpdatedAt)
	assert.Equal(t, 4.0, sum.Wind.Speed)
	assert.Equal(t, 2.0, sum.Rain.Intensity)
	assert.Equal(t, DeviceCounts{Total: 3, Active: 2}, sum.Devices)
	require.Len(t, sum.Notifications, 5)
	assert.Equal(t, "n6", sum.Notifications[0].ID)
}

func TestSummary_NoFreshStatus(t *testing.T) {
	svc, store := newTestService(t)
	seedStatus(t, store, "DEV-001", 190, domain.StatusBahaya, now.Add(-5*time.Minute))

	sum, err := svc.Summary(context.Background())
	require.NoError(t, err)

	want := Summary{Water: Water{Status: domain.StatusNormal}, Notifications: []domain.Notification{}}
	if diff := cmp.Diff(want, sum); diff != "" {
		t.Errorf("Summary() mismatch (-want +got):\n%s", diff)
	}
}

func TestMonitoring(t *testing.T) {
	svc, store := newTestService(t)
	loc := &domain.GeoPoint{Latitude: -6.2, Longitude: 106.8}
	_, err := store.RegisterDevice(context.Background(), domain.Device{DeviceID: "DEV-002", Location: loc, LastActiveAt: now.Add(-time.Hour)})
	require.NoError(t, err)
	seedDevice(t, store, "DEV-001", now.Add(-time.Minute))
	seedStatus(t, store, "DEV-001", 61.5, domain.StatusWaspada, now.Add(-time.Minute))

	m, err := svc.Monitoring(context.Background())
	require.NoError(t, err)

	assert.Equal(t, MonitoringStats{TotalDevices: 2, ActiveDevices: 1}, m.Stats)
	require.Len(t, m.Devices, 2)
	assert.Equal(t, "DEV-001", m.Devices[0].DeviceID)
	assert.Equal(t, domain.StatusWaspada, m.Devices[0].Water.Status)
	assert.Equal(t, 61.5, m.Devices[0].Water.Level)

	assert.Equal(t, "DEV-002", m.Devices[1].DeviceID)
	assert.Equal(t, loc, m.Devices[1].Location)
	assert.Equal(t, Water{Status: domain.StatusNormal}, m.Devices[1].Water)
}

func TestNotificationHistory(t *testing.T) {
	svc, store := newTestService(t)
	seed := []struct {
		id, device string
		status     domain.Status
		at         time.Time
	}{
		{"a", "DEV-001", domain.StatusWaspada, now},                    // 11 Nov 15:00 WIB
		{"b", "DEV-002", domain.StatusSiaga1, now.Add(2 * time.Hour)},  // 11 Nov 17:00 WIB
		{"c", "DEV-001", domain.StatusSiaga1, now.Add(10 * time.Hour)}, // 12 Nov 01:00 WIB
	}
	for _, s := range seed {
		require.NoError(t, store.AppendNotification(context.Background(), domain.NewNotification(s.id, s.device, s.status, 100, s.at)))
	}

	ids := func(g DateGroup) []string {
		var out []string
		for _, n := range g.Items {
			out = append(out, n.ID)
		}
		return out
	}

	t.Run("newest first grouped by local date", func(t *testing.T) {
		groups, err := svc.NotificationHistory(context.Background(), HistoryQuery{DeviceID: "all", Severity: "all"})
		require.NoError(t, err)
		require.Len(t, groups, 2)
		assert.Equal(t, "12 November 2025", groups[0].Date)
		assert.Equal(t, 1, groups[0].Total)
		assert.Equal(t, "11 November 2025", groups[1].Date)
		assert.Equal(t, 2, groups[1].Total)
		assert.Equal(t, []string{"b", "a"}, ids(groups[1]))
	})

	t.Run("oldest first", func(t *testing.T) {
		groups, err := svc.NotificationHistory(context.Background(), HistoryQuery{Sort: "oldest"})
		require.NoError(t, err)
		require.Len(t, groups, 2)
		assert.Equal(t, "11 November 2025", groups[0].Date)
		assert.Equal(t, []string{"a", "b"}, ids(groups[0]))
	})

	t.Run("filters and limit", func(t *testing.T) {
		groups, err := svc.NotificationHistory(context.Background(), HistoryQuery{Severity: "Siaga 1", Limit: 1})
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.Equal(t, []string{"c"}, ids(groups[0]))

		groups, err = svc.NotificationHistory(context.Background(), HistoryQuery{DeviceID: "DEV-002"})
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.Equal(t, []string{"b"}, ids(groups[0]))
	})

	t.Run("empty result", func(t *testing.T) {
		groups, err := svc.NotificationHistory(context.Background(), HistoryQuery{DeviceID: "DEV-404"})
		require.NoError(t, err)
		assert.Empty(t, groups)
		assert.NotNil(t, groups)
	})

	t.Run("invalid queries", func(t *testing.T) {
		for _, q := range []HistoryQuery{{Severity: "Siaga"}, {Sort: "random"}, {Limit: -1}} {
			_, err := svc.NotificationHistory(context.Background(), q)
			assert.ErrorIs(t, err, ErrInvalidQuery)
		}
	})
}

type failingSource struct{ *memory.Store }

func (failingSource) ListDevices(context.Context) ([]domain.Device, error) {
	return nil, errors.New("connection refused")
}

func TestService_StoreFailureIsUnavailable(t *testing.T) {
	store := memory.New(clockwork.NewFakeClockAt(now))
	f := failingSource{store}
	svc := NewService(Sources{Devices: f, Notifications: store, Statuses: store}, 5*time.Minute, clockwork.NewFakeClockAt(now))

	_, err := svc.Summary(context.Background())
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	_, err = svc.Monitoring(context.Background())
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
