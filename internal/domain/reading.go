package domain

import "time"

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Device is a registered river-monitoring station.
type Device struct {
	DeviceID     string    `json:"deviceID"`
	Location     *GeoPoint `json:"location"`
	LastActiveAt time.Time `json:"lastActive"`
	CreatedAt    time.Time `json:"createdAt"`
}

// RawReading is a single accepted sample. It only lives in the sliding buffer.
type RawReading struct {
	DeviceID      string    `json:"deviceID"`
	WaterLevel    float64   `json:"waterLevel"`
	RainIntensity float64   `json:"rainIntensity"`
	WindSpeed     float64   `json:"windSpeed"`
	ReceivedAt    time.Time `json:"receivedAt"`
}

// Baseline is the last accepted raw water level for a device, used by the
// noise filter. It expires after the policy's baseline TTL.
type Baseline struct {
	DeviceID   string    `json:"deviceID"`
	WaterLevel float64   `json:"waterLevel"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

// LatestStatus mirrors the most recent accepted raw reading of a device.
type LatestStatus struct {
	DeviceID      string    `json:"deviceID"`
	WaterLevel    float64   `json:"waterLevel"`
	RainIntensity float64   `json:"rainIntensity"`
	WindSpeed     float64   `json:"windSpeed"`
	Status        Status    `json:"status"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Fresh reports whether the entry was updated within maxAge of now.
func (l LatestStatus) Fresh(now time.Time, maxAge time.Duration) bool {
	return now.Sub(l.UpdatedAt) < maxAge
}

// AggregatedReading is the mean of one completed window. It is the durable
// time series used for trend prediction.
type AggregatedReading struct {
	DeviceID      string    `json:"deviceID"`
	WaterLevel    float64   `json:"waterLevel"`
	RainIntensity float64   `json:"rainIntensity"` // mm/h
	WindSpeed     float64   `json:"windSpeed"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Notification is a persisted alert record.
type Notification struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"deviceID"`
	Severity   Status    `json:"severity"`
	WaterLevel float64   `json:"avgWaterLevel"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Prediction estimates when a device will cross into the next tier.
type Prediction struct {
	DeviceID          string    `json:"deviceID"`
	FromStatus        Status    `json:"fromStatus"`
	ToStatus          Status    `json:"toStatus"`
	CurrentWaterLevel float64   `json:"waterLevel"`
	TargetWaterLevel  float64   `json:"toWaterLevel"`
	EstimatedMinutes  int       `json:"estimatedMinutes"`
	AdjustedRiseRate  float64   `json:"adjustedRiseRate"` // cm per minute
	PredictedAt       time.Time `json:"predictedAt"`
}

// NotificationQuery filters notification history. Empty or "all" string
// fields match everything; Limit 0 means unlimited.
type NotificationQuery struct {
	DeviceID    string
	Severity    *Status
	OldestFirst bool
	Limit       int
}
