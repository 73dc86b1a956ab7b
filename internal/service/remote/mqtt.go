package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"trafficcounter/internal/config"
	"trafficcounter/internal/dto"
)

// publisher is the part of mqtt.Client the store uses.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTStore publishes each record as a retained message on its own topic,
// so the broker keeps the latest value per key.
type MQTTStore struct {
	client  publisher
	prefix  string
	qos     byte
	timeout time.Duration
}

// NewMQTTStore connects to the broker.
func NewMQTTStore(cfg config.MQTTConfig) (*MQTTStore, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "trafficcounter-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return newMQTTStore(client, cfg), nil
}

func newMQTTStore(client publisher, cfg config.MQTTConfig) *MQTTStore {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MQTTStore{client: client, prefix: cfg.TopicPrefix, qos: cfg.QoS, timeout: timeout}
}

func (s *MQTTStore) Name() string { return config.BackendMQTT }

func (s *MQTTStore) PutDetection(ctx context.Context, r dto.DetectionRecord) error {
	return s.publish(ctx, DetectionsPath, r.Key(), r)
}

func (s *MQTTStore) PutPlate(ctx context.Context, r dto.PlateRecord) error {
	return s.publish(ctx, PlatesPath, r.Key(), r)
}

func (s *MQTTStore) PutSummary(ctx context.Context, r dto.SummaryRecord) error {
	return s.publish(ctx, SummariesPath, r.Key(), r)
}

func (s *MQTTStore) Ping(ctx context.Context) error {
	if !s.client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	return nil
}

func (s *MQTTStore) Close() error {
	s.client.Disconnect(250)
	return nil
}

func (s *MQTTStore) topic(collection, key string) string {
	if s.prefix == "" {
		return collection + "/" + key
	}
	return s.prefix + "/" + collection + "/" + key
}

func (s *MQTTStore) publish(ctx context.Context, collection, key string, v any) error {
	if !s.client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	topic := s.topic(collection, key)
	token := s.client.Publish(topic, s.qos, true, payload)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-timer.C:
		return fmt.Errorf("publish %s: timeout", topic)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
