package remote

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficcounter/internal/config"
	"trafficcounter/internal/dto"
	"trafficcounter/internal/logger"
)

func mustRegexp(expr string) *regexp.Regexp {
	return regexp.MustCompile(expr)
}

// ==== Factory ====

func TestNew_NotConfigured(t *testing.T) {
	cfg := &config.Config{Sync: config.SyncConfig{Enabled: true, Backend: config.BackendNone}}
	_, err := New(context.Background(), cfg, logger.NewNop())
	assert.ErrorIs(t, err, ErrNotConfigured)

	cfg.Sync.Enabled = false
	cfg.Sync.Backend = config.BackendRTDB
	_, err = New(context.Background(), cfg, logger.NewNop())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNew_RTDBRequiresURL(t *testing.T) {
	cfg := &config.Config{Sync: config.SyncConfig{Enabled: true, Backend: config.BackendRTDB}}
	_, err := New(context.Background(), cfg, logger.NewNop())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotConfigured)
}

// ==== Key mapping ====

func TestNATSKey(t *testing.T) {
	assert.Equal(t, "detections.cam1_42", natsKey(DetectionsPath, "cam1_42"))
	assert.Equal(t, "plates.front_gate_7", natsKey(PlatesPath, "front gate_7"))
	assert.Equal(t, "daily_summaries.cam_a_b_20240501", natsKey(SummariesPath, "cam/a.b_20240501"))
}

func TestPostgresTables(t *testing.T) {
	tables, err := newPostgresTables("traffic_")
	require.NoError(t, err)
	assert.Equal(t, "traffic_detections", tables.detections)
	assert.Equal(t, "traffic_plates", tables.plates)
	assert.Equal(t, "traffic_daily_summaries", tables.summaries)
	assert.Len(t, tables.schema(), 4)

	_, err = newPostgresTables("x; DROP TABLE y")
	require.Error(t, err)
}

// ==== MQTT ====

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error, complete bool) *fakeToken {
	tok := &fakeToken{err: err, done: make(chan struct{})}
	if complete {
		close(tok.done)
	}
	return tok
}

func (t *fakeToken) Wait() bool                       { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	connected bool
	token     *fakeToken
	messages  []published
}

func (p *fakePublisher) IsConnected() bool { return p.connected }

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.messages = append(p.messages, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return p.token
}

func (p *fakePublisher) Disconnect(uint) { p.connected = false }

func TestMQTTStore_PublishesRetainedPerKey(t *testing.T) {
	pub := &fakePublisher{connected: true, token: newFakeToken(nil, true)}
	store := newMQTTStore(pub, config.MQTTConfig{TopicPrefix: "traffic", QoS: 1})

	ctx := context.Background()
	require.NoError(t, store.PutDetection(ctx, dto.DetectionRecord{LocalID: 5, CameraID: "cam1"}))
	require.NoError(t, store.PutSummary(ctx, dto.SummaryRecord{CameraID: "cam1", Date: "2024-05-01"}))

	require.Len(t, pub.messages, 2)
	assert.Equal(t, "traffic/detections/cam1_5", pub.messages[0].topic)
	assert.True(t, pub.messages[0].retained)
	assert.Equal(t, byte(1), pub.messages[0].qos)
	assert.Contains(t, string(pub.messages[0].payload), `"local_id":5`)
	assert.Equal(t, "traffic/daily_summaries/cam1_20240501", pub.messages[1].topic)

	require.NoError(t, store.Close())
	assert.Error(t, store.Ping(ctx))
}

func TestMQTTStore_Errors(t *testing.T) {
	ctx := context.Background()

	disconnected := newMQTTStore(&fakePublisher{token: newFakeToken(nil, true)}, config.MQTTConfig{})
	assert.Error(t, disconnected.PutPlate(ctx, dto.PlateRecord{LocalID: 1, CameraID: "cam1"}))

	failing := newMQTTStore(&fakePublisher{connected: true, token: newFakeToken(errors.New("broker refused"), true)}, config.MQTTConfig{})
	err := failing.PutPlate(ctx, dto.PlateRecord{LocalID: 1, CameraID: "cam1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker refused")

	hung := newMQTTStore(&fakePublisher{connected: true, token: newFakeToken(nil, false)}, config.MQTTConfig{Timeout: 20 * time.Millisecond})
	err = hung.PutPlate(ctx, dto.PlateRecord{LocalID: 1, CameraID: "cam1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}
