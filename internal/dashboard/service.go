// Package dashboard assembles the read models served to the operator UI:
// the headline summary, the per-device monitoring list and the grouped
// notification history.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/domain"
	"github.com/jonboulle/clockwork"
)

// ErrInvalidQuery marks a history query with an unknown severity or sort.
var ErrInvalidQuery = errors.New("invalid query")

const recentNotifications = 5

// Sources are the stores the dashboard reads from. The pipeline stores
// satisfy them.
type Sources struct {
	Devices interface {
		ListDevices(ctx context.Context) ([]domain.Device, error)
	}
	Notifications interface {
		ListNotifications(ctx context.Context, q domain.NotificationQuery) ([]domain.Notification, error)
	}
	Statuses interface {
		LatestStatuses(ctx context.Context) ([]domain.LatestStatus, error)
	}
}

// Service builds dashboard views. Entries older than staleAfter count as
// inactive.
type Service struct {
	src        Sources
	staleAfter time.Duration
	clock      clockwork.Clock
}

func NewService(src Sources, staleAfter time.Duration, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{src: src, staleAfter: staleAfter, clock: clock}
}

type Water struct {
	Level     float64       `json:"level"`
	Status    domain.Status `json:"status"`
	UpdatedAt *time.Time    `json:"updatedAt"`
}

type Wind struct {
	Speed float64 `json:"speed"`
}

type Rain struct {
	Intensity float64 `json:"intensity"`
}

type DeviceCounts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// Summary is the headline view: the worst fresh reading across all devices.
type Summary struct {
	DeviceID      string                `json:"deviceID,omitempty"`
	Water         Water                 `json:"water"`
	Wind          Wind                  `json:"wind"`
	Rain          Rain                  `json:"rain"`
	Devices       DeviceCounts          `json:"devices"`
	Notifications []domain.Notification `json:"notifications"`
}

func (s *Service) Summary(ctx context.Context) (Summary, error) {
	now := s.clock.Now()

	statuses, err := s.src.Statuses.LatestStatuses(ctx)
	if err != nil {
		return Summary{}, domain.Unavailable("latest statuses", err)
	}
	devices, err := s.src.Devices.ListDevices(ctx)
	if err != nil {
		return Summary{}, domain.Unavailable("list devices", err)
	}
	recent, err := s.src.Notifications.ListNotifications(ctx, domain.NotificationQuery{Limit: recentNotifications})
	if err != nil {
		return Summary{}, domain.Unavailable("list notifications", err)
	}

	out := Summary{
		Water:         Water{Status: domain.StatusNormal},
		Devices:       DeviceCounts{Total: len(devices), Active: s.countActive(devices, now)},
		Notifications: nonNil(recent),
	}
	var worst *domain.LatestStatus
	for i := range statuses {
		st := &statuses[i]
		if !st.Fresh(now, s.staleAfter) {
			continue
		}
		if worst == nil || st.WaterLevel > worst.WaterLevel {
			worst = st
		}
	}
	if worst != nil {
		out.DeviceID = worst.DeviceID
		out.Water, out.Wind, out.Rain = readingViews(worst)
	}
	return out, nil
}

type MonitoringStats struct {
	TotalDevices  int `json:"totalDevices"`
	ActiveDevices int `json:"activeDevices"`
}

type DeviceView struct {
	DeviceID   string           `json:"deviceID"`
	Location   *domain.GeoPoint `json:"location"`
	LastActive time.Time        `json:"lastActive"`
	Water      Water            `json:"water"`
	Wind       Wind             `json:"wind"`
	Rain       Rain             `json:"rain"`
}

type Monitoring struct {
	Stats   MonitoringStats `json:"stats"`
	Devices []DeviceView    `json:"devices"`
}

// Monitoring lists every registered device with its latest status, if any.
func (s *Service) Monitoring(ctx context.Context) (Monitoring, error) {
	now := s.clock.Now()

	devices, err := s.src.Devices.ListDevices(ctx)
	if err != nil {
		return Monitoring{}, domain.Unavailable("list devices", err)
	}
	statuses, err := s.src.Statuses.LatestStatuses(ctx)
	if err != nil {
		return Monitoring{}, domain.Unavailable("latest statuses", err)
	}
	byID := make(map[string]*domain.LatestStatus, len(statuses))
	for i := range statuses {
		byID[statuses[i].DeviceID] = &statuses[i]
	}

	out := Monitoring{
		Stats:   MonitoringStats{TotalDevices: len(devices), ActiveDevices: s.countActive(devices, now)},
		Devices: make([]DeviceView, 0, len(devices)),
	}
	for _, d := range devices {
		v := DeviceView{
			DeviceID:   d.DeviceID,
			Location:   d.Location,
			LastActive: d.LastActiveAt,
			Water:      Water{Status: domain.StatusNormal},
		}
		if st, ok := byID[d.DeviceID]; ok {
			v.Water, v.Wind, v.Rain = readingViews(st)
		}
		out.Devices = append(out.Devices, v)
	}
	return out, nil
}

// HistoryQuery is the string form of a history request. "all" or empty
// matches every device or severity.
type HistoryQuery struct {
	DeviceID string
	Severity string
	Sort     string // newest (default) | oldest
	Limit    int
}

// DateGroup holds the notifications of one local calendar day.
type DateGroup struct {
	Date  string                `json:"date"`
	Total int                   `json:"total"`
	Items []domain.Notification `json:"items"`
}

// NotificationHistory returns notifications grouped by Jakarta calendar date.
// Groups keep the order of the requested sort.
func (s *Service) NotificationHistory(ctx context.Context, hq HistoryQuery) ([]DateGroup, error) {
	q, err := hq.parse()
	if err != nil {
		return nil, err
	}
	list, err := s.src.Notifications.ListNotifications(ctx, q)
	if err != nil {
		return nil, domain.Unavailable("list notifications", err)
	}

	groups := []DateGroup{}
	index := make(map[string]int)
	for _, n := range list {
		label := domain.DateLabel(n.CreatedAt)
		i, ok := index[label]
		if !ok {
			i = len(groups)
			index[label] = i
			groups = append(groups, DateGroup{Date: label})
		}
		groups[i].Items = append(groups[i].Items, n)
		groups[i].Total++
	}
	return groups, nil
}

func (hq HistoryQuery) parse() (domain.NotificationQuery, error) {
	q := domain.NotificationQuery{Limit: hq.Limit}
	if q.Limit < 0 {
		return q, fmt.Errorf("%w: limit must not be negative", ErrInvalidQuery)
	}
	if !isAll(hq.DeviceID) {
		q.DeviceID = hq.DeviceID
	}
	if !isAll(hq.Severity) {
		st, err := domain.ParseStatus(hq.Severity)
		if err != nil {
			return q, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
		}
		q.Severity = &st
	}
	switch strings.ToLower(hq.Sort) {
	case "", "newest":
	case "oldest":
		q.OldestFirst = true
	default:
		return q, fmt.Errorf("%w: unknown sort %q", ErrInvalidQuery, hq.Sort)
	}
	return q, nil
}

func isAll(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, "all")
}

func (s *Service) countActive(devices []domain.Device, now time.Time) int {
	n := 0
	for _, d := range devices {
		if now.Sub(d.LastActiveAt) < s.staleAfter {
			n++
		}
	}
	return n
}

func readingViews(st *domain.LatestStatus) (Water, Wind, Rain) {
	updated := st.UpdatedAt
	return Water{Level: st.WaterLevel, Status: st.Status, UpdatedAt: &updated},
		Wind{Speed: st.WindSpeed},
		Rain{Intensity: st.RainIntensity}
}

func nonNil(n []domain.Notification) []domain.Notification {
	if n == nil {
		return []domain.Notification{}
	}
	return n
}
