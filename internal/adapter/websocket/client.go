package websocket

import (
	"encoding/json"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/broadcast"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxMessageSize = 512                 // Maximum control message size allowed from peer.
)

// Client is one browser connection. rooms is guarded by the hub's mutex.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	rooms map[string]struct{}
}

// control is the only message a client may send.
type control struct {
	Event    string `json:"event"`
	DeviceID string `json:"deviceID,omitempty"`
}

// room resolves a control event to the room it targets and whether it joins.
func (m control) room() (room string, join bool, ok bool) {
	switch m.Event {
	case "join_dashboard":
		return broadcast.TopicDashboard, true, true
	case "leave_dashboard":
		return broadcast.TopicDashboard, false, true
	case "join_notifications":
		return broadcast.TopicNotifications, true, true
	case "leave_notifications":
		return broadcast.TopicNotifications, false, true
	case "join_device", "leave_device":
		if m.DeviceID == "" {
			return "", false, false
		}
		return broadcast.DeviceTopic(m.DeviceID), m.Event == "join_device", true
	}
	return "", false, false
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		var msg control
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		room, join, ok := msg.room()
		switch {
		case !ok:
			c.hub.logger.Debug("unknown websocket event", "event", msg.Event)
		case join:
			c.hub.join(c, room)
		default:
			c.hub.leave(c, room)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
