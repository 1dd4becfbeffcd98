package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Sweeper periodically drops latest-status entries of devices that stopped
// reporting, along with their noise baseline.
type Sweeper struct {
	cache    StatusCache
	interval time.Duration
	maxAge   time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
}

func NewSweeper(cache StatusCache, interval, maxAge time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Sweeper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sweeper{cache: cache, interval: interval, maxAge: maxAge, clock: clock, logger: logger, metrics: metrics}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("stale status sweep failed", "error", err)
			}
		}
	}
}

// Sweep removes every entry older than maxAge and returns how many went.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	statuses, err := s.cache.LatestStatuses(ctx)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	removed := 0
	for _, st := range statuses {
		if st.Fresh(now, s.maxAge) {
			continue
		}
		if err := s.cache.DeleteStatus(ctx, st.DeviceID); err != nil {
			s.logger.Warn("delete stale status failed", "device_id", st.DeviceID, "error", err)
			continue
		}
		removed++
	}
	s.metrics.StaleSwept.Add(float64(removed))
	if removed > 0 {
		s.logger.Info("swept stale statuses", "count", removed)
	}
	return removed, nil
}
