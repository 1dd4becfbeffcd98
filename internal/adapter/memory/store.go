// Package memory implements every pipeline store in process memory. It backs
// single-node deployments without Postgres or Redis, and the package tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Store is safe for concurrent use.
type Store struct {
	clock clockwork.Clock

	mu            sync.RWMutex
	devices       map[string]domain.Device
	readings      map[string][]domain.AggregatedReading
	notifications []domain.Notification
	baselines     map[string]baselineEntry
	latest        map[string]domain.LatestStatus
}

type baselineEntry struct {
	baseline  domain.Baseline
	expiresAt time.Time
}

// New returns an empty store. Baseline expiry follows clock.
func New(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock:     clock,
		devices:   make(map[string]domain.Device),
		readings:  make(map[string][]domain.AggregatedReading),
		baselines: make(map[string]baselineEntry),
		latest:    make(map[string]domain.LatestStatus),
	}
}

// --- devices ---

func (s *Store) EnsureDevice(_ context.Context, deviceID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[deviceID]; ok {
		return false, nil
	}
	s.devices[deviceID] = domain.Device{DeviceID: deviceID, LastActiveAt: now, CreatedAt: now}
	return true, nil
}

func (s *Store) RegisterDevice(_ context.Context, d domain.Device) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[d.DeviceID]; ok {
		return false, nil
	}
	s.devices[d.DeviceID] = d
	return true, nil
}

func (s *Store) TouchDevice(_ context.Context, deviceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		d = domain.Device{DeviceID: deviceID, CreatedAt: at}
	}
	if at.After(d.LastActiveAt) {
		d.LastActiveAt = at
	}
	s.devices[deviceID] = d
	return nil
}

// ListDevices returns every device ordered by ID.
func (s *Store) ListDevices(context.Context) ([]domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// --- aggregated readings ---

func (s *Store) AppendReading(_ context.Context, r domain.AggregatedReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings[r.DeviceID] = append(s.readings[r.DeviceID], r)
	return nil
}

func (s *Store) ReadingsBetween(_ context.Context, deviceID string, from, to time.Time) ([]domain.AggregatedReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AggregatedReading
	for _, r := range s.readings[deviceID] {
		if !r.CreatedAt.Before(from) && r.CreatedAt.Before(to) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- notifications ---

func (s *Store) AppendNotification(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *Store) LatestNotification(_ context.Context, deviceID string) (domain.Notification, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest domain.Notification
		found  bool
	)
	for _, n := range s.notifications {
		if n.DeviceID == deviceID && (!found || !n.CreatedAt.Before(latest.CreatedAt)) {
			latest, found = n, true
		}
	}
	return latest, found, nil
}

func (s *Store) ListNotifications(_ context.Context, q domain.NotificationQuery) ([]domain.Notification, error) {
	s.mu.RLock()
	out := make([]domain.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		if q.DeviceID != "" && n.DeviceID != q.DeviceID {
			continue
		}
		if q.Severity != nil && n.Severity != *q.Severity {
			continue
		}
		out = append(out, n)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if q.OldestFirst {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// --- status cache ---

func (s *Store) Baseline(_ context.Context, deviceID string) (domain.Baseline, bool, error) {
	s.mu.RLock()
	e, ok := s.baselines[deviceID]
	s.mu.RUnlock()
	if !ok || !s.clock.Now().Before(e.expiresAt) {
		return domain.Baseline{}, false, nil
	}
	return e.baseline, true, nil
}

func (s *Store) SetBaseline(_ context.Context, b domain.Baseline, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselines[b.DeviceID] = baselineEntry{baseline: b, expiresAt: s.clock.Now().Add(ttl)}
	return nil
}

func (s *Store) SetLatestStatus(_ context.Context, st domain.LatestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[st.DeviceID] = st
	return nil
}

// LatestStatuses returns every cached status ordered by device ID.
func (s *Store) LatestStatuses(context.Context) ([]domain.LatestStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.LatestStatus, 0, len(s.latest))
	for _, st := range s.latest {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (s *Store) DeleteStatus(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.latest, deviceID)
	delete(s.baselines, deviceID)
	return nil
}
