package websocket

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/broadcast"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func publish(t *testing.T, h *Hub, topic string, ev broadcast.Event) {
	t.Helper()
	msg, err := broadcast.Encode(topic, ev)
	require.NoError(t, err)
	require.NoError(t, h.Publish(context.Background(), msg))
}

func readEvent(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestHub_DeliversToRoomOnly(t *testing.T) {
	h, url := startHub(t)
	dev1 := dial(t, url+"?rooms=DEV-001")
	dash := dial(t, url)
	require.Eventually(t, func() bool {
		return h.Subscribers(broadcast.DeviceTopic("DEV-001")) == 1 && h.Subscribers(broadcast.TopicDashboard) == 1
	}, time.Second, 10*time.Millisecond)

	publish(t, h, broadcast.DeviceTopic("DEV-001"), broadcast.Event{Type: broadcast.TypeSensorUpdate, DeviceID: "DEV-001"})
	publish(t, h, broadcast.TopicDashboard, broadcast.Event{Type: broadcast.TypeDashboardUpdate, DeviceID: "DEV-001"})

	assert.Contains(t, readEvent(t, dev1), `"type":"sensor_update"`)
	assert.Contains(t, readEvent(t, dash), `"type":"dashboard_update"`)
	assert.Equal(t, 1, h.Subscribers(broadcast.TopicNotifications))
}

func TestHub_JoinAndLeave(t *testing.T) {
	h, url := startHub(t)
	conn := dial(t, url+"?rooms=dashboard")

	require.NoError(t, conn.WriteJSON(control{Event: "join_device", DeviceID: "DEV-002"}))
	require.Eventually(t, func() bool { return h.Subscribers(broadcast.DeviceTopic("DEV-002")) == 1 }, time.Second, 10*time.Millisecond)

	publish(t, h, broadcast.DeviceTopic("DEV-002"), broadcast.Event{Type: broadcast.TypePrediction, DeviceID: "DEV-002"})
	assert.Contains(t, readEvent(t, conn), `"type":"prediction"`)

	require.NoError(t, conn.WriteJSON(control{Event: "leave_device", DeviceID: "DEV-002"}))
	require.Eventually(t, func() bool { return h.Subscribers(broadcast.DeviceTopic("DEV-002")) == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_DisconnectCleansRooms(t *testing.T) {
	h, url := startHub(t)
	conn := dial(t, url+"?rooms=DEV-001,DEV-002")
	require.Eventually(t, func() bool { return h.Subscribers(broadcast.DeviceTopic("DEV-002")) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return h.Subscribers(broadcast.DeviceTopic("DEV-001")) == 0 && h.Subscribers(broadcast.DeviceTopic("DEV-002")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_PublishWithoutSubscribers(t *testing.T) {
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	publish(t, h, "nobody", broadcast.Event{Type: broadcast.TypeSensorUpdate})
}

func TestParseRooms(t *testing.T) {
	assert.Equal(t, DefaultRooms, parseRooms(""))
	assert.Equal(t, DefaultRooms, parseRooms(" , "))
	assert.Equal(t, []string{broadcast.DeviceTopic("DEV-001"), "dashboard"}, parseRooms("DEV-001, dashboard"))
	assert.Equal(t, []string{"notifications", broadcast.DeviceTopic("device.x")}, parseRooms("notifications,device.x"))
}

func TestControl_Room(t *testing.T) {
	tests := []struct {
		msg      control
		room     string
		join, ok bool
	}{
		{control{Event: "join_dashboard"}, broadcast.TopicDashboard, true, true},
		{control{Event: "leave_dashboard"}, broadcast.TopicDashboard, false, true},
		{control{Event: "join_notifications"}, broadcast.TopicNotifications, true, true},
		{control{Event: "join_device", DeviceID: "DEV-001"}, "device.DEV-001", true, true},
		{control{Event: "leave_device", DeviceID: "DEV-001"}, "device.DEV-001", false, true},
		{control{Event: "join_device", DeviceID: "notifications"}, "device.notifications", true, true},
		{control{Event: "join_device"}, "", false, false},
		{control{Event: "subscribe"}, "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.msg.Event, func(t *testing.T) {
			room, join, ok := tt.msg.room()
			assert.Equal(t, tt.room, room)
			assert.Equal(t, tt.join, join)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
