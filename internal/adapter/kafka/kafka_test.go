package kafka

import (
	"testing"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/broadcast"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapMessage(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("DEV-001"),
		Value:     []byte(`{"deviceID":"DEV-001","waterLevel":61.5}`),
		Topic:     "river-telemetry",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte("gateway-a")},
		},
	}

	raw := mapMessage(msg)

	assert.Equal(t, []byte("DEV-001"), raw.Key)
	assert.JSONEq(t, `{"deviceID":"DEV-001","waterLevel":61.5}`, string(raw.Value))
	assert.Equal(t, "river-telemetry", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "gateway-a", raw.Headers["source"])
	assert.Nil(t, raw.Commit)
}

func TestToMessage(t *testing.T) {
	now := time.Date(2025, 11, 11, 8, 0, 0, 0, time.UTC)
	ev := broadcast.Event{Type: broadcast.TypeAggregatedUpdate, DeviceID: "DEV-001", Data: map[string]float64{"waterLevel": 95}, Timestamp: now}
	enc, err := broadcast.Encode(broadcast.DeviceTopic("DEV-001"), ev)
	require.NoError(t, err)

	msg := toMessage(enc)

	assert.Equal(t, []byte("DEV-001"), msg.Key)
	assert.Contains(t, string(msg.Value), `"type":"aggregated_update"`)
	require.Len(t, msg.Headers, 3)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, []byte("aggregated_update"), msg.Headers[0].Value)
	assert.Equal(t, "topic", msg.Headers[1].Key)
	assert.Equal(t, []byte(broadcast.DeviceTopic("DEV-001")), msg.Headers[1].Value)
	assert.Equal(t, []byte(now.Format(time.RFC3339)), msg.Headers[2].Value)
}

func TestToMessage_SharedTopicKeyedByTopic(t *testing.T) {
	enc, err := broadcast.Encode(broadcast.TopicDashboard, broadcast.Event{Type: broadcast.TypeDashboardUpdate})
	require.NoError(t, err)
	assert.Equal(t, []byte(broadcast.TopicDashboard), toMessage(enc).Key)
}
