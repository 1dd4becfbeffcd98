// Package mqtt subscribes to device telemetry published directly by field
// gateways and feeds it to the ingestion pipeline.
package mqtt

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/config"
	"github.com/couchcryptid/hydroalert-service/internal/domain"
	"github.com/couchcryptid/hydroalert-service/internal/pipeline"
	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jonboulle/clockwork"
)

const (
	sourceName      = "mqtt"
	connectStart    = 2 * time.Second
	connectMax      = 30 * time.Second
	disconnectQuiet = 250 // ms
	handleTimeout   = 10 * time.Second
)

// Subscriber owns one paho client. Topics follow "<prefix>/<deviceID>/...";
// the device segment is used when the payload omits deviceID.
type Subscriber struct {
	cfg      *config.Config
	ingester pipeline.Ingester
	clock    clockwork.Clock
	logger   *slog.Logger
	client   paho.Client
}

// NewSubscriber builds the client. Call Run to connect.
func NewSubscriber(cfg *config.Config, ingester pipeline.Ingester, clock clockwork.Clock, logger *slog.Logger) *Subscriber {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Subscriber{cfg: cfg, ingester: ingester, clock: clock, logger: logger}
	s.client = paho.NewClient(s.clientOptions())
	return s
}

func (s *Subscriber) clientOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(s.cfg.MQTTBrokerURL).
		SetClientID(s.cfg.MQTTClientID).
		SetOrderMatters(true).
		SetCleanSession(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true)

	if s.cfg.MQTTUsername != "" {
		opts.SetUsername(s.cfg.MQTTUsername)
	}
	if s.cfg.MQTTPassword != "" {
		opts.SetPassword(s.cfg.MQTTPassword)
	}

	opts.OnConnect = func(c paho.Client) {
		s.logger.Info("mqtt connected", "broker", s.cfg.MQTTBrokerURL)
		token := c.Subscribe(s.cfg.MQTTTopic, s.cfg.MQTTQoS, func(_ paho.Client, msg paho.Message) {
			ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
			defer cancel()
			s.handle(ctx, msg.Topic(), msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			s.logger.Error("mqtt subscribe failed", "topic", s.cfg.MQTTTopic, "error", token.Error())
			return
		}
		s.logger.Info("mqtt subscribed", "topic", s.cfg.MQTTTopic, "qos", s.cfg.MQTTQoS)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		s.logger.Warn("mqtt connection lost", "error", err)
	}
	return opts
}

// Run connects with backoff and stays subscribed until ctx is cancelled. Once
// connected, paho handles reconnects and OnConnect re-subscribes.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := connectStart
	for {
		token := s.client.Connect()
		if token.Wait() && token.Error() == nil {
			break
		}
		s.logger.Error("mqtt connect failed", "error", token.Error(), "retry_in", backoff)
		if !pipeline.SleepWithContext(ctx, s.clock, backoff) {
			return nil
		}
		backoff = sharedretry.NextBackoff(backoff, connectMax)
	}

	<-ctx.Done()
	s.client.Disconnect(disconnectQuiet)
	s.logger.Info("mqtt subscriber stopped")
	return nil
}

// CheckReadiness reports whether the broker connection is open.
func (s *Subscriber) CheckReadiness(context.Context) error {
	if !s.client.IsConnectionOpen() {
		return errors.New("mqtt connection is not open")
	}
	return nil
}

// handle decodes and ingests one message. Failures are logged; MQTT has no
// redelivery we could ask for once the handler returns.
func (s *Subscriber) handle(ctx context.Context, topic string, payload []byte) {
	t, err := domain.DecodeTelemetry(payload, DeviceFromTopic(topic))
	if err != nil {
		s.logger.Warn("invalid mqtt telemetry", "topic", topic, "error", err)
		return
	}
	if _, err := s.ingester.Ingest(ctx, sourceName, t); err != nil && !errors.Is(err, domain.ErrRejectedAsNoise) {
		s.logger.Error("mqtt ingest failed", "topic", topic, "device_id", t.DeviceID, "error", err)
	}
}

// DeviceFromTopic returns the second topic level, or "" when there is none.
func DeviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
