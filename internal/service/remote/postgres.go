package remote

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"trafficcounter/internal/config"
	"trafficcounter/internal/dto"
)

var tablePrefixPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PostgresStore upserts records into PostgreSQL tables keyed by record key.
type PostgresStore struct {
	pool   *pgxpool.Pool
	tables postgresTables
}

type postgresTables struct {
	detections string
	plates     string
	summaries  string
}

func newPostgresTables(prefix string) (postgresTables, error) {
	if prefix != "" && !tablePrefixPattern.MatchString(prefix) {
		return postgresTables{}, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return postgresTables{
		detections: prefix + DetectionsPath,
		plates:     prefix + PlatesPath,
		summaries:  prefix + SummariesPath,
	}, nil
}

func (t postgresTables) schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			local_id BIGINT NOT NULL,
			camera_id TEXT NOT NULL,
			vehicle_type TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			date DATE NOT NULL,
			hour SMALLINT NOT NULL,
			sync_time TIMESTAMPTZ NOT NULL
		)`, t.detections),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_ts_idx ON %s (ts)`, t.detections, t.detections),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			local_id BIGINT NOT NULL,
			camera_id TEXT NOT NULL,
			plate TEXT NOT NULL,
			vehicle_type TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			date DATE NOT NULL,
			sync_time TIMESTAMPTZ NOT NULL
		)`, t.plates),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			camera_id TEXT NOT NULL,
			date DATE NOT NULL,
			cars INTEGER NOT NULL,
			motorcycles INTEGER NOT NULL,
			buses INTEGER NOT NULL,
			trucks INTEGER NOT NULL,
			total INTEGER NOT NULL,
			last_updated TIMESTAMPTZ NOT NULL
		)`, t.summaries),
	}
}

// NewPostgresStore connects and creates the tables if needed.
func NewPostgresStore(ctx context.Context, cfg config.PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("remote.postgres.dsn is required")
	}
	tables, err := newPostgresTables(cfg.TablePrefix)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	for _, stmt := range tables.schema() {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create remote schema: %w", err)
		}
	}

	return &PostgresStore{pool: pool, tables: tables}, nil
}

func (s *PostgresStore) Name() string { return config.BackendPostgres }

func (s *PostgresStore) PutDetection(ctx context.Context, r dto.DetectionRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(key, local_id, camera_id, vehicle_type, confidence, ts, date, hour, sync_time)
		VALUES ($1, $2, $3, $4, $5, $6::timestamptz, $7::date, $8, $9::timestamptz)
		ON CONFLICT (key) DO UPDATE SET
			vehicle_type = EXCLUDED.vehicle_type,
			confidence = EXCLUDED.confidence,
			ts = EXCLUDED.ts,
			date = EXCLUDED.date,
			hour = EXCLUDED.hour,
			sync_time = EXCLUDED.sync_time`, s.tables.detections)

	_, err := s.pool.Exec(ctx, query, r.Key(), r.LocalID, r.CameraID, r.VehicleType,
		r.Confidence, r.Timestamp, r.Date, r.Hour, r.SyncTime)
	if err != nil {
		return fmt.Errorf("failed to upsert detection %s: %w", r.Key(), err)
	}
	return nil
}

func (s *PostgresStore) PutPlate(ctx context.Context, r dto.PlateRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(key, local_id, camera_id, plate, vehicle_type, confidence, ts, date, sync_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7::timestamptz, $8::date, $9::timestamptz)
		ON CONFLICT (key) DO UPDATE SET
			plate = EXCLUDED.plate,
			vehicle_type = EXCLUDED.vehicle_type,
			confidence = EXCLUDED.confidence,
			ts = EXCLUDED.ts,
			date = EXCLUDED.date,
			sync_time = EXCLUDED.sync_time`, s.tables.plates)

	_, err := s.pool.Exec(ctx, query, r.Key(), r.LocalID, r.CameraID, r.Plate,
		r.VehicleType, r.Confidence, r.Timestamp, r.Date, r.SyncTime)
	if err != nil {
		return fmt.Errorf("failed to upsert plate %s: %w", r.Key(), err)
	}
	return nil
}

func (s *PostgresStore) PutSummary(ctx context.Context, r dto.SummaryRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(key, camera_id, date, cars, motorcycles, buses, trucks, total, last_updated)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9::timestamptz)
		ON CONFLICT (key) DO UPDATE SET
			cars = EXCLUDED.cars,
			motorcycles = EXCLUDED.motorcycles,
			buses = EXCLUDED.buses,
			trucks = EXCLUDED.trucks,
			total = EXCLUDED.total,
			last_updated = EXCLUDED.last_updated`, s.tables.summaries)

	_, err := s.pool.Exec(ctx, query, r.Key(), r.CameraID, r.Date, r.Cars,
		r.Motorcycles, r.Buses, r.Trucks, r.Total, r.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to upsert summary %s: %w", r.Key(), err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Prune deletes remote detections and plates older than before.
func (s *PostgresStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, table := range []string{s.tables.detections, s.tables.plates} {
		tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE ts < $1`, table), before)
		if err != nil {
			return total, fmt.Errorf("failed to prune %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
