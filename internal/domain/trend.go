package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// RegressionAxis selects the x values of the trend fit.
type RegressionAxis string

const (
	// AxisElapsed regresses against minutes since the first sample.
	AxisElapsed RegressionAxis = "elapsed"
	// AxisIndex regresses against sample position, scaled by the nominal
	// window duration. Only valid when the aggregation cadence is uniform.
	AxisIndex RegressionAxis = "index"
)

// FactorStep applies Factor to inputs strictly below Below. The last step of a
// table should use +Inf (or any value above the realistic range).
type FactorStep struct {
	Below  float64 `json:"below"`
	Factor float64 `json:"factor"`
}

// FactorTable is a monotonic step function ordered by Below.
type FactorTable []FactorStep

// Lookup returns the factor of the first step whose bound exceeds v, or the
// last step's factor, or 1 for an empty table.
func (t FactorTable) Lookup(v float64) float64 {
	if len(t) == 0 {
		return 1
	}
	for _, s := range t {
		if v < s.Below {
			return s.Factor
		}
	}
	return t[len(t)-1].Factor
}

func (t FactorTable) Validate(name string) error {
	prevBelow, prevFactor := math.Inf(-1), 1.0
	for i, s := range t {
		if s.Factor < 1 {
			return fmt.Errorf("%s step %d: factor %.3f below 1.0", name, i, s.Factor)
		}
		if s.Below <= prevBelow || s.Factor < prevFactor {
			return fmt.Errorf("%s step %d: table must increase monotonically", name, i)
		}
		prevBelow, prevFactor = s.Below, s.Factor
	}
	return nil
}

// DefaultRainFactors scales by rain intensity in mm/h.
func DefaultRainFactors() FactorTable {
	return FactorTable{{Below: 5, Factor: 1.0}, {Below: 20, Factor: 1.1}, {Below: 50, Factor: 1.2}, {Below: math.Inf(1), Factor: 1.35}}
}

// DefaultWindFactors scales by wind speed.
func DefaultWindFactors() FactorTable {
	return FactorTable{{Below: 5, Factor: 1.0}, {Below: 10, Factor: 1.01}, {Below: math.Inf(1), Factor: 1.03}}
}

// TrendPolicy configures the predictor.
type TrendPolicy struct {
	Lookback       time.Duration
	MinPoints      int
	MinRiseRate    float64 // cm per minute
	Axis           RegressionAxis
	WindowDuration time.Duration // nominal wall-clock span of one window
	RainFactors    FactorTable
	WindFactors    FactorTable
}

func DefaultTrendPolicy() TrendPolicy {
	return TrendPolicy{
		Lookback:       10 * time.Minute,
		MinPoints:      4,
		MinRiseRate:    0.01,
		Axis:           AxisElapsed,
		WindowDuration: time.Minute,
		RainFactors:    DefaultRainFactors(),
		WindFactors:    DefaultWindFactors(),
	}
}

func (p TrendPolicy) Validate() error {
	if p.Lookback <= 0 {
		return fmt.Errorf("prediction lookback must be positive")
	}
	if p.MinPoints < 2 {
		return fmt.Errorf("prediction min_points must be at least 2")
	}
	if p.Axis != AxisElapsed && p.Axis != AxisIndex {
		return fmt.Errorf("unknown regression axis %q", p.Axis)
	}
	if p.Axis == AxisIndex && p.WindowDuration <= 0 {
		return fmt.Errorf("index regression needs a positive window duration")
	}
	if err := p.RainFactors.Validate("rain_factors"); err != nil {
		return err
	}
	return p.WindFactors.Validate("wind_factors")
}

// Predictable reports whether a prediction is meaningful for s: only
// intermediate tiers can move toward a worse one.
func Predictable(s Status) bool {
	return s != StatusNormal && s < MaxStatus
}

// Predict fits a least-squares line through history plus current and
// estimates the minutes until the next tier's threshold. History must hold
// only readings older than current; order does not matter. The second return
// value is false when no prediction applies: terminal or normal tier, too few
// points, a flat or falling trend, or a level already past the next threshold.
func Predict(history []AggregatedReading, current AggregatedReading, t Thresholds, p TrendPolicy) (Prediction, bool) {
	if !Predictable(current.Status) {
		return Prediction{}, false
	}
	next, ok := current.Status.Next()
	if !ok {
		return Prediction{}, false
	}

	points := make([]AggregatedReading, 0, len(history)+1)
	points = append(points, history...)
	sort.SliceStable(points, func(i, j int) bool { return points[i].CreatedAt.Before(points[j].CreatedAt) })
	points = append(points, current)
	if len(points) < p.MinPoints {
		return Prediction{}, false
	}

	slope, ok := riseRate(points, p)
	if !ok || slope <= p.MinRiseRate {
		return Prediction{}, false
	}

	adjusted := slope * p.RainFactors.Lookup(current.RainIntensity) * p.WindFactors.Lookup(current.WindSpeed)

	target := t.Min(next)
	remaining := target - current.WaterLevel
	if remaining <= 0 {
		return Prediction{}, false
	}

	return Prediction{
		DeviceID:          current.DeviceID,
		FromStatus:        current.Status,
		ToStatus:          next,
		CurrentWaterLevel: current.WaterLevel,
		TargetWaterLevel:  target,
		EstimatedMinutes:  int(math.Round(remaining / adjusted)),
		AdjustedRiseRate:  adjusted,
		PredictedAt:       current.CreatedAt,
	}, true
}

// riseRate returns the OLS slope in cm per minute. It fails when all x values
// coincide.
func riseRate(points []AggregatedReading, p TrendPolicy) (float64, bool) {
	n := float64(len(points))
	origin := points[0].CreatedAt
	var sumX, sumY, sumXY, sumX2 float64
	for i, r := range points {
		var x float64
		if p.Axis == AxisIndex {
			x = float64(i) * p.WindowDuration.Minutes()
		} else {
			x = r.CreatedAt.Sub(origin).Minutes()
		}
		sumX += x
		sumY += r.WaterLevel
		sumXY += x * r.WaterLevel
		sumX2 += x * x
	}
	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return 0, false
	}
	return (n*sumXY - sumX*sumY) / denom, true
}
