// Package broadcast fans pipeline events out to live subscribers and chat
// notifiers without ever blocking the ingestion path.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Shared topics. Every device additionally has its own topic under
// DeviceTopicPrefix, so no device ID can collide with a shared topic.
const (
	TopicDashboard     = "dashboard"
	TopicNotifications = "notifications"

	DeviceTopicPrefix = "device."
)

// Event types carried in the envelope.
const (
	TypeSensorUpdate     = "sensor_update"
	TypeDashboardUpdate  = "dashboard_update"
	TypeAggregatedUpdate = "aggregated_update"
	TypePrediction       = "prediction"
	TypeNewNotification  = "new_notification"
)

// DeviceTopic returns the per-device topic.
func DeviceTopic(deviceID string) string { return DeviceTopicPrefix + deviceID }

// IsShared reports whether topic is one of the shared topics.
func IsShared(topic string) bool {
	return topic == TopicDashboard || topic == TopicNotifications
}

// Event is the JSON envelope delivered to subscribers.
type Event struct {
	Type      string    `json:"type"`
	DeviceID  string    `json:"deviceID,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Message is an encoded event bound to a topic.
type Message struct {
	Topic     string
	Type      string
	DeviceID  string
	Payload   []byte
	Timestamp time.Time
}

// Encode serializes ev for topic.
func Encode(topic string, ev Event) (Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	return Message{
		Topic:     topic,
		Type:      ev.Type,
		DeviceID:  ev.DeviceID,
		Payload:   data,
		Timestamp: ev.Timestamp,
	}, nil
}

// Publisher delivers an encoded message to subscribers of its topic.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Notifier delivers a plain-text alert to an outbound channel.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}
