// Package influx mirrors aggregated readings into InfluxDB for Grafana-style
// dashboards. The relational store stays authoritative.
package influx

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/domain"
	"github.com/couchcryptid/hydroalert-service/internal/observability"
	"github.com/couchcryptid/hydroalert-service/internal/pipeline"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const measurement = "aggregated_reading"

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Mirror wraps a ReadingStore. After each successful AppendReading the
// reading is written as a point; mirror failures are logged and counted but
// never returned.
type Mirror struct {
	pipeline.ReadingStore
	writer  pointWriter
	client  influxdb2.Client
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewMirror connects to url and writes to org/bucket.
func NewMirror(next pipeline.ReadingStore, url, token, org, bucket string, logger *slog.Logger, metrics *observability.Metrics) *Mirror {
	client := influxdb2.NewClient(url, token)
	return &Mirror{
		ReadingStore: next,
		writer:       client.WriteAPIBlocking(org, bucket),
		client:       client,
		logger:       logger,
		metrics:      metrics,
	}
}

func (m *Mirror) AppendReading(ctx context.Context, r domain.AggregatedReading) error {
	if err := m.ReadingStore.AppendReading(ctx, r); err != nil {
		return err
	}
	if err := m.writer.WritePoint(ctx, buildPoint(r)); err != nil {
		m.metrics.StoreErrors.WithLabelValues("mirror_reading").Inc()
		m.logger.Warn("influx mirror write failed", "device_id", r.DeviceID, "error", err)
	}
	return nil
}

func (m *Mirror) Close() {
	if m.client != nil {
		m.client.Close()
	}
}

func buildPoint(r domain.AggregatedReading) *write.Point {
	tags := map[string]string{
		"deviceId": r.DeviceID,
		"status":   r.Status.String(),
	}
	fields := map[string]any{
		"waterLevel":    r.WaterLevel,
		"rainIntensity": r.RainIntensity,
		"windSpeed":     r.WindSpeed,
		"statusLevel":   int(r.Status),
	}
	return write.NewPoint(measurement, tags, fields, r.CreatedAt.UTC().Truncate(time.Millisecond))
}
