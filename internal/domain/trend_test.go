package domain

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var trendT0 = time.Date(2025, 11, 11, 8, 0, 0, 0, time.UTC)

// series builds aggregated readings at the given minute offsets. The last
// element is returned separately as the current reading.
func series(t *testing.T, minutes []float64, levels []float64, status Status) ([]AggregatedReading, AggregatedReading) {
	t.Helper()
	require.Len(t, levels, len(minutes))
	out := make([]AggregatedReading, len(levels))
	for i := range levels {
		out[i] = AggregatedReading{
			DeviceID:   "DEV-001",
			WaterLevel: levels[i],
			Status:     status,
			CreatedAt:  trendT0.Add(time.Duration(minutes[i] * float64(time.Minute))),
		}
	}
	return out[:len(out)-1], out[len(out)-1]
}

func TestPredict_RisingTrend(t *testing.T) {
	history, current := series(t, []float64{0, 1, 2, 3}, []float64{70, 72, 74, 76}, StatusWaspada)

	got, ok := Predict(history, current, DefaultThresholds(), DefaultTrendPolicy())
	require.True(t, ok)

	want := Prediction{
		DeviceID:          "DEV-001",
		FromStatus:        StatusWaspada,
		ToStatus:          StatusSiaga2,
		CurrentWaterLevel: 76,
		TargetWaterLevel:  90,
		EstimatedMinutes:  7,
		AdjustedRiseRate:  2,
		PredictedAt:       current.CreatedAt,
	}
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b float64) bool { return math.Abs(a-b) < 1e-9 })); diff != "" {
		t.Errorf("prediction mismatch (-want +got):\n%s", diff)
	}
}

func TestPredict_IndexAxisMatchesUniformCadence(t *testing.T) {
	history, current := series(t, []float64{0, 1, 2, 3}, []float64{70, 72, 74, 76}, StatusWaspada)
	policy := DefaultTrendPolicy()
	policy.Axis = AxisIndex

	got, ok := Predict(history, current, DefaultThresholds(), policy)
	require.True(t, ok)
	assert.InDelta(t, 2, got.AdjustedRiseRate, 1e-9)
	assert.Equal(t, 7, got.EstimatedMinutes)
}

func TestPredict_ElapsedAxisHandlesIrregularCadence(t *testing.T) {
	// A skipped window at minute 2: the true rate is still 2cm/min.
	history, current := series(t, []float64{0, 1, 3, 4}, []float64{70, 72, 76, 78}, StatusWaspada)

	elapsed, ok := Predict(history, current, DefaultThresholds(), DefaultTrendPolicy())
	require.True(t, ok)
	assert.InDelta(t, 2, elapsed.AdjustedRiseRate, 1e-9)
	assert.Equal(t, 6, elapsed.EstimatedMinutes)

	policy := DefaultTrendPolicy()
	policy.Axis = AxisIndex
	index, ok := Predict(history, current, DefaultThresholds(), policy)
	require.True(t, ok)
	assert.InDelta(t, 2.8, index.AdjustedRiseRate, 1e-9)
}

func TestPredict_EnvironmentalFactors(t *testing.T) {
	history, current := series(t, []float64{0, 1, 2, 3}, []float64{70, 72, 74, 76}, StatusWaspada)
	current.RainIntensity = 30 // heavy rain, 1.2
	current.WindSpeed = 12     // strong wind, 1.03

	got, ok := Predict(history, current, DefaultThresholds(), DefaultTrendPolicy())
	require.True(t, ok)
	assert.InDelta(t, 2*1.2*1.03, got.AdjustedRiseRate, 1e-9)
	assert.Equal(t, 6, got.EstimatedMinutes)
}

func TestPredict_HistoryOrderDoesNotMatter(t *testing.T) {
	history, current := series(t, []float64{0, 1, 2, 3}, []float64{70, 72, 74, 76}, StatusWaspada)
	reversed := []AggregatedReading{history[2], history[0], history[1]}

	got, ok := Predict(reversed, current, DefaultThresholds(), DefaultTrendPolicy())
	require.True(t, ok)
	assert.InDelta(t, 2, got.AdjustedRiseRate, 1e-9)
}

func TestPredict_NoPrediction(t *testing.T) {
	minutes := []float64{0, 1, 2, 3}

	tests := []struct {
		name   string
		levels []float64
		status Status
		points []float64
	}{
		{name: "flat", levels: []float64{70, 70, 70, 70}, status: StatusWaspada},
		{name: "falling", levels: []float64{80, 78, 76, 74}, status: StatusWaspada},
		{name: "barely rising", levels: []float64{70, 70.005, 70.01, 70.015}, status: StatusWaspada},
		{name: "normal tier", levels: []float64{10, 20, 30, 40}, status: StatusNormal},
		{name: "terminal tier", levels: []float64{190, 200, 210, 220}, status: StatusBahaya},
		{name: "insufficient history", levels: []float64{70, 72, 74}, status: StatusWaspada, points: []float64{0, 1, 2}},
		{name: "already past next threshold", levels: []float64{80, 85, 90, 95}, status: StatusWaspada},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pts := minutes
			if tt.points != nil {
				pts = tt.points
			}
			history, current := series(t, pts, tt.levels, tt.status)
			_, ok := Predict(history, current, DefaultThresholds(), DefaultTrendPolicy())
			assert.False(t, ok)
		})
	}
}

func TestFactorTableLookup(t *testing.T) {
	rain := DefaultRainFactors()
	assert.Equal(t, 1.0, rain.Lookup(0))
	assert.Equal(t, 1.0, rain.Lookup(4.9))
	assert.Equal(t, 1.1, rain.Lookup(5))
	assert.Equal(t, 1.2, rain.Lookup(49))
	assert.Equal(t, 1.35, rain.Lookup(50))
	assert.Equal(t, 1.35, rain.Lookup(1e6))

	wind := DefaultWindFactors()
	assert.Equal(t, 1.0, wind.Lookup(4))
	assert.Equal(t, 1.01, wind.Lookup(5))
	assert.Equal(t, 1.03, wind.Lookup(10))

	assert.Equal(t, 1.0, FactorTable(nil).Lookup(100))
}

func TestTrendPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultTrendPolicy().Validate())

	p := DefaultTrendPolicy()
	p.RainFactors = FactorTable{{Below: 5, Factor: 1.2}, {Below: 10, Factor: 1.1}}
	assert.Error(t, p.Validate())

	p = DefaultTrendPolicy()
	p.WindFactors = FactorTable{{Below: 5, Factor: 0.9}}
	assert.Error(t, p.Validate())

	p = DefaultTrendPolicy()
	p.Axis = "sideways"
	assert.Error(t, p.Validate())
}
