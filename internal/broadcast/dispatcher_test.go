package broadcast_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/broadcast"
	"github.com/couchcryptid/hydroalert-service/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []broadcast.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg broadcast.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func (p *recordingPublisher) messages() []broadcast.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]broadcast.Message(nil), p.msgs...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) Notify(_ context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, message)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- tests ---

func TestDispatcher_PublishAndNotify(t *testing.T) {
	pub := &recordingPublisher{}
	notifier := &recordingNotifier{}
	d := broadcast.NewDispatcher(pub, notifier, 2, 16, time.Second, discardLogger(), observability.NewMetricsForTesting())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	at := time.Date(2025, 11, 11, 8, 0, 0, 0, time.UTC)
	d.Publish(broadcast.TopicDashboard, broadcast.Event{Type: broadcast.TypeDashboardUpdate, DeviceID: "DEV-001", Data: map[string]float64{"waterLevel": 61}, Timestamp: at})
	d.Notify("[PEMBERITAHUAN]")

	assert.Eventually(t, func() bool { return len(pub.messages()) == 1 && notifier.count() == 1 }, time.Second, 5*time.Millisecond)

	msg := pub.messages()[0]
	assert.Equal(t, broadcast.TopicDashboard, msg.Topic)
	assert.Equal(t, broadcast.TypeDashboardUpdate, msg.Type)
	assert.Equal(t, "DEV-001", msg.DeviceID)

	var ev map[string]any
	require.NoError(t, json.Unmarshal(msg.Payload, &ev))
	assert.Equal(t, "dashboard_update", ev["type"])
	assert.Equal(t, "2025-11-11T08:00:00Z", ev["timestamp"])

	cancel()
	<-done
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	d := broadcast.NewDispatcher(&recordingPublisher{}, &recordingNotifier{}, 1, 1, time.Second, discardLogger(), metrics)

	assert.True(t, d.Submit("publish", func(context.Context) error { return nil }))
	assert.False(t, d.Submit("publish", func(context.Context) error { return nil }))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DispatchDropped))
}

func TestDispatcher_CountsFailuresAndDrainsOnShutdown(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	pub := &recordingPublisher{err: errors.New("broker down")}
	d := broadcast.NewDispatcher(pub, &recordingNotifier{}, 1, 8, time.Second, discardLogger(), metrics)

	d.Publish("DEV-001", broadcast.Event{Type: broadcast.TypeSensorUpdate})
	d.Publish("DEV-001", broadcast.Event{Type: broadcast.TypeSensorUpdate})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	assert.Len(t, pub.messages(), 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.DispatchErrors.WithLabelValues("publish")))
}

func TestDispatcher_UnencodableEvent(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	d := broadcast.NewDispatcher(&recordingPublisher{}, &recordingNotifier{}, 1, 8, time.Second, discardLogger(), metrics)

	d.Publish("DEV-001", broadcast.Event{Type: "bad", Data: make(chan int)})
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DispatchErrors.WithLabelValues("encode")))
}

func TestFanout(t *testing.T) {
	ok := &recordingPublisher{}
	failing := &recordingPublisher{err: errors.New("nats down")}
	fan := broadcast.Fanout{failing, ok}

	err := fan.Publish(context.Background(), broadcast.Message{Topic: "dashboard"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats down")
	assert.Len(t, ok.messages(), 1)
}
