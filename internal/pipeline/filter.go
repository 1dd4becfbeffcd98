package pipeline

import (
	"context"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/domain"
)

// NoiseFilter applies the noise policy against the cached baseline.
type NoiseFilter struct {
	cache StatusCache
}

func NewNoiseFilter(cache StatusCache) *NoiseFilter {
	return &NoiseFilter{cache: cache}
}

// Check returns a *domain.NoiseRejection when level is implausible, or an
// ErrStoreUnavailable-wrapped error when the baseline cannot be read.
func (f *NoiseFilter) Check(ctx context.Context, p domain.NoisePolicy, deviceID string, level float64, now time.Time) error {
	b, ok, err := f.cache.Baseline(ctx, deviceID)
	if err != nil {
		return domain.Unavailable("read baseline", err)
	}
	var baseline *domain.Baseline
	if ok {
		baseline = &b
	}
	return domain.CheckNoise(p, baseline, level, now)
}

// Accept records level as the device's new baseline.
func (f *NoiseFilter) Accept(ctx context.Context, p domain.NoisePolicy, deviceID string, level float64, now time.Time) error {
	b := domain.Baseline{DeviceID: deviceID, WaterLevel: level, AcceptedAt: now}
	if err := f.cache.SetBaseline(ctx, b, p.BaselineTTL); err != nil {
		return domain.Unavailable("set baseline", err)
	}
	return nil
}
