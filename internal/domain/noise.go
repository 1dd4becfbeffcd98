package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// NoiseMode selects the rejection rule applied by the noise filter.
type NoiseMode string

const (
	// NoiseAbsolute rejects a large jump that arrives too soon after the baseline.
	NoiseAbsolute NoiseMode = "absolute"
	// NoiseRelative rejects a jump that is large relative to the baseline level.
	NoiseRelative NoiseMode = "relative"
)

// NoisePolicy configures the noise filter. Only the fields of the selected
// mode are consulted.
type NoisePolicy struct {
	Mode NoiseMode

	MaxJumpCm   float64
	MinInterval time.Duration

	NoiseFloorCm   float64
	RelativeFactor float64

	// BaselineTTL bounds how long an accepted reading acts as the baseline.
	BaselineTTL time.Duration
}

// DefaultNoisePolicy mirrors the field-tested absolute rule: more than 100cm
// within 30 seconds is treated as a glitch.
func DefaultNoisePolicy() NoisePolicy {
	return NoisePolicy{
		Mode:           NoiseAbsolute,
		MaxJumpCm:      100,
		MinInterval:    30 * time.Second,
		NoiseFloorCm:   20,
		RelativeFactor: 0.5,
		BaselineTTL:    60 * time.Second,
	}
}

func (p NoisePolicy) Validate() error {
	if p.BaselineTTL <= 0 {
		return errors.New("noise baseline_ttl must be positive")
	}
	switch p.Mode {
	case NoiseAbsolute:
		if p.MaxJumpCm <= 0 || p.MinInterval <= 0 {
			return errors.New("absolute noise policy needs positive max_jump_cm and min_interval")
		}
	case NoiseRelative:
		if p.NoiseFloorCm < 0 || p.RelativeFactor <= 0 {
			return errors.New("relative noise policy needs non-negative noise_floor_cm and positive relative_factor")
		}
	default:
		return fmt.Errorf("unknown noise mode %q", p.Mode)
	}
	return nil
}

// CheckNoise decides whether level is plausible given the last accepted
// baseline. A nil baseline always accepts. The returned error is a
// *NoiseRejection on reject and nil on accept.
func CheckNoise(p NoisePolicy, baseline *Baseline, level float64, now time.Time) error {
	if baseline == nil {
		return nil
	}
	delta := math.Abs(level - baseline.WaterLevel)
	elapsed := now.Sub(baseline.AcceptedAt)

	var reject bool
	switch p.Mode {
	case NoiseRelative:
		reject = delta > p.NoiseFloorCm && delta > p.RelativeFactor*math.Abs(baseline.WaterLevel)
	default:
		reject = delta > p.MaxJumpCm && elapsed < p.MinInterval
	}
	if !reject {
		return nil
	}
	mode := p.Mode
	if mode == "" {
		mode = NoiseAbsolute
	}
	return &NoiseRejection{Mode: mode, Delta: delta, Baseline: baseline.WaterLevel, Elapsed: elapsed}
}
