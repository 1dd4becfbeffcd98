package domain

// MMPerSecondToMMPerHour converts a rain gauge reporting mm/s into mm/h.
const MMPerSecondToMMPerHour = 3600.0

// Aggregate reduces a completed window to its mean values. Rain is scaled by
// rainFactor into mm/h and the status is re-derived from the mean level. The
// result is stamped with the receive time of the window's last reading.
func Aggregate(window []RawReading, rainFactor float64, t Thresholds) (AggregatedReading, error) {
	if len(window) == 0 {
		return AggregatedReading{}, ErrEmptyWindow
	}

	var level, rain, wind float64
	for _, r := range window {
		level += r.WaterLevel
		rain += r.RainIntensity
		wind += r.WindSpeed
	}
	n := float64(len(window))
	last := window[len(window)-1]

	agg := AggregatedReading{
		DeviceID:      last.DeviceID,
		WaterLevel:    level / n,
		RainIntensity: rain / n * rainFactor,
		WindSpeed:     wind / n,
		CreatedAt:     last.ReceivedAt,
	}
	agg.Status = t.Classify(agg.WaterLevel)
	return agg, nil
}
