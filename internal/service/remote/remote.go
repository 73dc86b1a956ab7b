// Package remote holds the adapters that replicate local records to the
// aggregation store. Every write is keyed, so re-uploading a record after a
// partial failure overwrites it instead of duplicating it.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trafficcounter/internal/config"
	"trafficcounter/internal/dto"
	"trafficcounter/internal/logger"
)

// ErrNotConfigured is returned when sync is disabled or no backend is set.
var ErrNotConfigured = errors.New("remote store not configured")

// Store is a keyed remote sink.
type Store interface {
	Name() string
	PutDetection(ctx context.Context, r dto.DetectionRecord) error
	PutPlate(ctx context.Context, r dto.PlateRecord) error
	PutSummary(ctx context.Context, r dto.SummaryRecord) error
	Ping(ctx context.Context) error
	Close() error
}

// Pruner is implemented by stores that can delete old records themselves.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Collections used by every backend.
const (
	DetectionsPath = "detections"
	PlatesPath     = "plates"
	SummariesPath  = "daily_summaries"
)

// New builds the store selected by sync.backend.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (Store, error) {
	if !cfg.Sync.Enabled {
		return nil, ErrNotConfigured
	}

	var (
		store Store
		err   error
	)
	switch cfg.Sync.Backend {
	case config.BackendRTDB:
		store, err = NewRTDBStore(ctx, cfg.Remote.RTDB)
	case config.BackendPostgres:
		store, err = NewPostgresStore(ctx, cfg.Remote.Postgres)
	case config.BackendNATS:
		store, err = NewNATSStore(ctx, cfg.Remote.NATS, cfg.Sync.RemoteRetention)
	case config.BackendMQTT:
		store, err = NewMQTTStore(cfg.Remote.MQTT)
	case config.BackendNone, "":
		return nil, ErrNotConfigured
	default:
		return nil, fmt.Errorf("unknown remote backend %q", cfg.Sync.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s store: %w", cfg.Sync.Backend, err)
	}

	log.Info("☁️ Remote store %s initialized", store.Name())
	return store, nil
}
