package influx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/adapter/memory"
	"github.com/couchcryptid/hydroalert-service/internal/domain"
	"github.com/couchcryptid/hydroalert-service/internal/observability"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	points []*write.Point
	err    error
}

func (w *recordingWriter) WritePoint(_ context.Context, p ...*write.Point) error {
	w.points = append(w.points, p...)
	return w.err
}

var at = time.Date(2025, 11, 11, 8, 0, 0, 0, time.UTC)

func testMirror(w pointWriter) (*Mirror, *memory.Store, *observability.Metrics) {
	store := memory.New(clockwork.NewFakeClockAt(at))
	metrics := observability.NewMetricsForTesting()
	return &Mirror{
		ReadingStore: store,
		writer:       w,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:      metrics,
	}, store, metrics
}

func TestMirror_WritesPointAfterStore(t *testing.T) {
	w := &recordingWriter{}
	m, store, _ := testMirror(w)
	r := domain.AggregatedReading{DeviceID: "DEV-001", WaterLevel: 95, RainIntensity: 12, WindSpeed: 3, Status: domain.StatusSiaga2, CreatedAt: at}

	require.NoError(t, m.AppendReading(context.Background(), r))

	got, err := store.ReadingsBetween(context.Background(), "DEV-001", at, at.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.Len(t, w.points, 1)
	p := w.points[0]
	assert.Equal(t, measurement, p.Name())
	assert.True(t, at.Equal(p.Time()))
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"deviceId": "DEV-001", "status": "Siaga 2"}, tags)
	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 95.0, fields["waterLevel"])
	assert.Equal(t, int64(2), fields["statusLevel"])
}

func TestMirror_FailureIsNotReturned(t *testing.T) {
	w := &recordingWriter{err: errors.New("influx down")}
	m, _, metrics := testMirror(w)

	err := m.AppendReading(context.Background(), domain.AggregatedReading{DeviceID: "DEV-001", CreatedAt: at})

	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StoreErrors.WithLabelValues("mirror_reading")))
}
