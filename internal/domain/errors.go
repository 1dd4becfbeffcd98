package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRejectedAsNoise marks a reading that deviates implausibly from the
	// device's baseline. It signals a possible sensor fault; nothing was stored.
	ErrRejectedAsNoise = errors.New("reading rejected: possible sensor fault")

	// ErrStoreUnavailable wraps any transient persistence failure.
	ErrStoreUnavailable = errors.New("store temporarily unavailable")

	// ErrInvalidReading marks malformed input (missing device, non-finite value).
	ErrInvalidReading = errors.New("invalid reading")

	// ErrInvariant marks an internal invariant violation.
	ErrInvariant = errors.New("internal invariant violated")

	// ErrEmptyWindow is returned when an aggregation is attempted on no readings.
	ErrEmptyWindow = fmt.Errorf("%w: empty aggregation window", ErrInvariant)
)

// NoiseRejection describes why a reading was rejected. It unwraps to
// ErrRejectedAsNoise.
type NoiseRejection struct {
	Mode     NoiseMode
	Delta    float64
	Baseline float64
	Elapsed  time.Duration
}

func (r *NoiseRejection) Error() string {
	return fmt.Sprintf("%s (%s policy: jump of %.1fcm from %.1fcm after %s)",
		ErrRejectedAsNoise, r.Mode, r.Delta, r.Baseline, r.Elapsed.Round(time.Millisecond))
}

func (r *NoiseRejection) Unwrap() error { return ErrRejectedAsNoise }

// Unavailable wraps err so that errors.Is(err, ErrStoreUnavailable) holds while
// keeping the underlying cause in the chain.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
