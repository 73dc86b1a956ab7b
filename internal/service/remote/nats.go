package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"trafficcounter/internal/config"
	"trafficcounter/internal/dto"
)

// NATSStore writes records into a JetStream key-value bucket. Retention is
// delegated to the bucket TTL.
type NATSStore struct {
	nc *nats.Conn
	kv jetstream.KeyValue
}

// NewNATSStore connects and ensures the bucket exists with ttl as its
// max age.
func NewNATSStore(ctx context.Context, cfg config.NATSConfig, ttl time.Duration) (*NATSStore, error) {
	opts := []nats.Option{
		nats.Name("trafficcounter"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}
	if cfg.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "traffic counter records",
		TTL:         ttl,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open bucket %s: %w", cfg.Bucket, err)
	}

	return &NATSStore{nc: nc, kv: kv}, nil
}

func (s *NATSStore) Name() string { return config.BackendNATS }

func (s *NATSStore) PutDetection(ctx context.Context, r dto.DetectionRecord) error {
	return s.put(ctx, DetectionsPath, r.Key(), r)
}

func (s *NATSStore) PutPlate(ctx context.Context, r dto.PlateRecord) error {
	return s.put(ctx, PlatesPath, r.Key(), r)
}

func (s *NATSStore) PutSummary(ctx context.Context, r dto.SummaryRecord) error {
	return s.put(ctx, SummariesPath, r.Key(), r)
}

func (s *NATSStore) Ping(ctx context.Context) error {
	return s.nc.FlushWithContext(ctx)
}

func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}

func (s *NATSStore) put(ctx context.Context, collection, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	kvKey := natsKey(collection, key)
	if _, err := s.kv.Put(ctx, kvKey, payload); err != nil {
		return fmt.Errorf("failed to put %s: %w", kvKey, err)
	}
	return nil
}

// natsKey joins collection and key, replacing characters JetStream keys
// do not accept.
func natsKey(collection, key string) string {
	var b strings.Builder
	b.Grow(len(collection) + 1 + len(key))
	b.WriteString(collection)
	b.WriteByte('.')
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '=':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
