// Package postgres implements the durable pipeline stores (devices,
// aggregated readings, notifications) on PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Options tunes the connection pool. Zero values keep the pgx defaults.
type Options struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	ApplicationName string
}

// Store is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a pool against url, verifies it and applies the schema.
func New(ctx context.Context, url string, o Options) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if o.MaxConns > 0 {
		cfg.MaxConns = o.MaxConns
	}
	if o.MinConns > 0 {
		cfg.MinConns = o.MinConns
	}
	if o.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = o.MaxConnLifetime
	}
	cfg.HealthCheckPeriod = 30 * time.Second
	if o.ApplicationName != "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = o.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() { s.pool.Close() }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		device_id      TEXT PRIMARY KEY,
		latitude       DOUBLE PRECISION,
		longitude      DOUBLE PRECISION,
		last_active_at TIMESTAMPTZ NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS aggregated_readings (
		id             BIGSERIAL PRIMARY KEY,
		device_id      TEXT NOT NULL REFERENCES devices (device_id),
		water_level    DOUBLE PRECISION NOT NULL,
		rain_intensity DOUBLE PRECISION NOT NULL,
		wind_speed     DOUBLE PRECISION NOT NULL,
		status         TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS aggregated_readings_device_time
		ON aggregated_readings (device_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id          TEXT PRIMARY KEY,
		device_id   TEXT NOT NULL REFERENCES devices (device_id),
		severity    TEXT NOT NULL,
		water_level DOUBLE PRECISION NOT NULL,
		title       TEXT NOT NULL,
		message     TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_device_time
		ON notifications (device_id, created_at DESC)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// --- devices ---

func (s *Store) EnsureDevice(ctx context.Context, deviceID string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO devices (device_id, last_active_at, created_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (device_id) DO NOTHING`, deviceID, now.UTC())
	if err != nil {
		return false, fmt.Errorf("ensure device %s: %w", deviceID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) RegisterDevice(ctx context.Context, d domain.Device) (bool, error) {
	var lat, lon *float64
	if d.Location != nil {
		lat, lon = &d.Location.Latitude, &d.Location.Longitude
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO devices (device_id, latitude, longitude, last_active_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (device_id) DO NOTHING`,
		d.DeviceID, lat, lon, d.LastActiveAt.UTC(), d.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("register device %s: %w", d.DeviceID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// TouchDevice never moves last_active_at backwards.
func (s *Store) TouchDevice(ctx context.Context, deviceID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO devices (device_id, last_active_at, created_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (device_id)
		DO UPDATE SET last_active_at = GREATEST(devices.last_active_at, EXCLUDED.last_active_at)`,
		deviceID, at.UTC())
	if err != nil {
		return fmt.Errorf("touch device %s: %w", deviceID, err)
	}
	return nil
}

func (s *Store) ListDevices(ctx context.Context) ([]domain.Device, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT device_id, latitude, longitude, last_active_at, created_at
		FROM devices ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []domain.Device
	for rows.Next() {
		var (
			d        domain.Device
			lat, lon *float64
		)
		if err := rows.Scan(&d.DeviceID, &lat, &lon, &d.LastActiveAt, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		if lat != nil && lon != nil {
			d.Location = &domain.GeoPoint{Latitude: *lat, Longitude: *lon}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- readings ---

func (s *Store) AppendReading(ctx context.Context, r domain.AggregatedReading) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO aggregated_readings (device_id, water_level, rain_intensity, wind_speed, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.DeviceID, r.WaterLevel, r.RainIntensity, r.WindSpeed, r.Status.String(), r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("append reading %s: %w", r.DeviceID, err)
	}
	return nil
}

func (s *Store) ReadingsBetween(ctx context.Context, deviceID string, from, to time.Time) ([]domain.AggregatedReading, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT device_id, water_level, rain_intensity, wind_speed, status, created_at
		FROM aggregated_readings
		WHERE device_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at, id`, deviceID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query readings %s: %w", deviceID, err)
	}
	defer rows.Close()

	var out []domain.AggregatedReading
	for rows.Next() {
		var (
			r      domain.AggregatedReading
			status string
		)
		if err := rows.Scan(&r.DeviceID, &r.WaterLevel, &r.RainIntensity, &r.WindSpeed, &status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		if r.Status, err = domain.ParseStatus(status); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- notifications ---

func (s *Store) AppendNotification(ctx context.Context, n domain.Notification) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, device_id, severity, water_level, title, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.DeviceID, n.Severity.String(), n.WaterLevel, n.Title, n.Message, n.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("append notification %s: %w", n.ID, err)
	}
	return nil
}

const notificationColumns = `id, device_id, severity, water_level, title, message, created_at`

func (s *Store) LatestNotification(ctx context.Context, deviceID string) (domain.Notification, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications WHERE device_id = $1
		ORDER BY created_at DESC LIMIT 1`, deviceID)
	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Notification{}, false, nil
	}
	if err != nil {
		return domain.Notification{}, false, fmt.Errorf("latest notification %s: %w", deviceID, err)
	}
	return n, true, nil
}

func (s *Store) ListNotifications(ctx context.Context, q domain.NotificationQuery) ([]domain.Notification, error) {
	query, args := buildNotificationQuery(q)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func buildNotificationQuery(q domain.NotificationQuery) (string, []any) {
	var (
		b     strings.Builder
		conds []string
		args  []any
	)
	b.WriteString("SELECT " + notificationColumns + " FROM notifications")
	if q.DeviceID != "" {
		args = append(args, q.DeviceID)
		conds = append(conds, fmt.Sprintf("device_id = $%d", len(args)))
	}
	if q.Severity != nil {
		args = append(args, q.Severity.String())
		conds = append(conds, fmt.Sprintf("severity = $%d", len(args)))
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	if q.OldestFirst {
		b.WriteString(" ORDER BY created_at ASC")
	} else {
		b.WriteString(" ORDER BY created_at DESC")
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

func scanNotification(row pgx.Row) (domain.Notification, error) {
	var (
		n        domain.Notification
		severity string
	)
	if err := row.Scan(&n.ID, &n.DeviceID, &severity, &n.WaterLevel, &n.Title, &n.Message, &n.CreatedAt); err != nil {
		return domain.Notification{}, err
	}
	s, err := domain.ParseStatus(severity)
	if err != nil {
		return domain.Notification{}, err
	}
	n.Severity = s
	return n, nil
}
