package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Telemetry is the wire payload a device submits, whether over HTTP, MQTT, or
// the Kafka telemetry topic.
type Telemetry struct {
	DeviceID      string  `json:"deviceID"`
	WaterLevel    float64 `json:"waterLevel"`
	RainIntensity float64 `json:"rainIntensity"`
	WindSpeed     float64 `json:"windSpeed"`
}

// DecodeTelemetry parses a JSON telemetry payload. fallbackID is used when the
// payload omits the device (MQTT devices may carry it in the topic instead).
func DecodeTelemetry(data []byte, fallbackID string) (Telemetry, error) {
	var t Telemetry
	if err := json.Unmarshal(data, &t); err != nil {
		return Telemetry{}, fmt.Errorf("%w: decode telemetry: %w", ErrInvalidReading, err)
	}
	if t.DeviceID == "" {
		t.DeviceID = fallbackID
	}
	return t, t.Validate()
}

// Validate rejects blank device IDs and non-finite measurements.
func (t Telemetry) Validate() error {
	if strings.TrimSpace(t.DeviceID) == "" {
		return fmt.Errorf("%w: deviceID is required", ErrInvalidReading)
	}
	for name, v := range map[string]float64{
		"waterLevel":    t.WaterLevel,
		"rainIntensity": t.RainIntensity,
		"windSpeed":     t.WindSpeed,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be finite", ErrInvalidReading, name)
		}
	}
	return nil
}

// Reading stamps the telemetry with its receive time.
func (t Telemetry) Reading(at time.Time) RawReading {
	return RawReading{
		DeviceID:      t.DeviceID,
		WaterLevel:    t.WaterLevel,
		RainIntensity: t.RainIntensity,
		WindSpeed:     t.WindSpeed,
		ReceivedAt:    at,
	}
}

// LevelFromDistance converts an ultrasonic sensor's distance to the water
// surface into a water level, given the sensor's height above the riverbed.
// A non-positive mount height disables the conversion.
func LevelFromDistance(mountHeightCm, distanceCm float64) float64 {
	if mountHeightCm <= 0 {
		return distanceCm
	}
	return mountHeightCm - distanceCm
}
