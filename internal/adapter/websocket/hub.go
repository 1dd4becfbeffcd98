// Package websocket serves live pipeline events to browser dashboards.
// Clients subscribe to rooms; a room is a broadcast topic such as
// "dashboard", "notifications" or a device topic.
package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/couchcryptid/hydroalert-service/internal/broadcast"
	"github.com/gorilla/websocket"
)

const sendBuffer = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub tracks connected clients by room and implements broadcast.Publisher.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

// DefaultRooms are joined when a client does not name any.
var DefaultRooms = []string{broadcast.TopicDashboard, broadcast.TopicNotifications}

// ServeHTTP upgrades the request. Initial rooms come from the comma-separated
// "rooms" query parameter; names other than the shared topics are device IDs.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), rooms: make(map[string]struct{})}
	h.register(c, parseRooms(r.URL.Query().Get("rooms")))

	go c.writePump()
	go c.readPump()
}

func parseRooms(q string) []string {
	var rooms []string
	for _, r := range strings.Split(q, ",") {
		r = strings.TrimSpace(r)
		switch {
		case r == "":
		case broadcast.IsShared(r):
			rooms = append(rooms, r)
		default:
			rooms = append(rooms, broadcast.DeviceTopic(r))
		}
	}
	if len(rooms) == 0 {
		return DefaultRooms
	}
	return rooms
}

func (h *Hub) register(c *Client, rooms []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	for _, room := range rooms {
		h.joinLocked(c, room)
	}
	h.logger.Debug("websocket client registered", "remote", c.conn.RemoteAddr().String(), "rooms", rooms)
}

func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.joinLocked(c, room)
	}
}

func (h *Hub) joinLocked(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked drops c from every room and closes its send channel, which
// tells the write pump to hang up.
func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	delete(h.clients, c)
	close(c.send)
}

// Publish queues msg for every client in its room. A client whose buffer is
// full is disconnected rather than allowed to stall the others.
func (h *Hub) Publish(_ context.Context, msg broadcast.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[msg.Topic] {
		select {
		case c.send <- msg.Payload:
		default:
			h.logger.Warn("websocket client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
			h.removeLocked(c)
		}
	}
	return nil
}

// Subscribers returns the number of clients in room.
func (h *Hub) Subscribers(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}
