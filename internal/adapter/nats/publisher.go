// Package nats mirrors broadcast events onto NATS subjects so other services
// can follow device updates without holding a WebSocket.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/broadcast"
	"github.com/nats-io/nats.go"
)

// Publisher implements broadcast.Publisher on a core NATS connection.
type Publisher struct {
	conn   *nats.Conn
	prefix string
}

// Connect dials url. Events are published on "<prefix>.<topic>".
func Connect(url, prefix string, logger *slog.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("hydroalert"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{conn: nc, prefix: prefix}, nil
}

func (p *Publisher) Publish(_ context.Context, msg broadcast.Message) error {
	m := nats.NewMsg(Subject(p.prefix, msg.Topic))
	m.Data = msg.Payload
	m.Header.Set("Event-Type", msg.Type)
	if msg.DeviceID != "" {
		m.Header.Set("Device-Id", msg.DeviceID)
	}
	if err := p.conn.PublishMsg(m); err != nil {
		return fmt.Errorf("nats publish %s: %w", m.Subject, err)
	}
	return nil
}

// CheckReadiness reports whether the connection is up.
func (p *Publisher) CheckReadiness(context.Context) error {
	if !p.conn.IsConnected() {
		return fmt.Errorf("nats status %s", p.conn.Status())
	}
	return nil
}

// Close flushes pending publishes and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}

var subjectToken = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

// Subject maps a broadcast topic to a NATS subject. Device topics become
// "<prefix>.device.<id>". Characters that carry meaning in subjects are
// replaced so a device ID always stays one token.
func Subject(prefix, topic string) string {
	var t string
	if id, ok := strings.CutPrefix(topic, broadcast.DeviceTopicPrefix); ok {
		t = "device." + subjectToken.Replace(id)
	} else {
		t = subjectToken.Replace(topic)
	}
	if prefix == "" {
		return t
	}
	return prefix + "." + t
}
