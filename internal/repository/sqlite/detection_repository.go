package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trafficcounter/internal/model"
	"trafficcounter/internal/repository"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db  *DB
	now func() time.Time
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db, now: time.Now}
}

const insertDetectionSQL = `
	INSERT INTO detections (camera_id, vehicle_type, confidence, timestamp, date, hour, synced)
	VALUES (?, ?, ?, ?, ?, ?, 0)
`

const upsertSummarySQL = `
	INSERT INTO daily_summaries (camera_id, date, cars, motorcycles, buses, trucks, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(camera_id, date) DO UPDATE SET
		cars = cars + excluded.cars,
		motorcycles = motorcycles + excluded.motorcycles,
		buses = buses + excluded.buses,
		trucks = trucks + excluded.trucks,
		updated_at = excluded.updated_at
`

// Insert writes the event and increments its daily summary in one
// transaction. On any failure nothing is written and the returned error
// wraps repository.ErrPersistence.
func (r *DetectionRepository) Insert(ctx context.Context, event *model.DetectionEvent) (int64, error) {
	if !event.VehicleType.IsVehicle() {
		return 0, fmt.Errorf("%w: unknown vehicle type %q", repository.ErrPersistence, event.VehicleType)
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to begin transaction: %w", repository.ErrPersistence, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, insertDetectionSQL,
		event.CameraID, string(event.VehicleType), event.Confidence,
		formatTime(event.Timestamp), event.Date(), event.Timestamp.Hour())
	if err != nil {
		return 0, fmt.Errorf("%w: failed to insert detection: %w", repository.ErrPersistence, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read detection id: %w", repository.ErrPersistence, err)
	}

	var delta model.Counts
	delta.Add(event.VehicleType, 1)
	if _, err := tx.ExecContext(ctx, upsertSummarySQL,
		event.CameraID, event.Date(),
		delta.Cars, delta.Motorcycles, delta.Buses, delta.Trucks,
		formatTime(r.now())); err != nil {
		return 0, fmt.Errorf("%w: failed to update daily summary: %w", repository.ErrPersistence, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: failed to commit detection: %w", repository.ErrPersistence, err)
	}

	event.ID = id
	return id, nil
}

// ListUnsynced returns up to limit unsynced events, oldest first.
func (r *DetectionRepository) ListUnsynced(ctx context.Context, limit int) ([]model.DetectionEvent, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT id, camera_id, vehicle_type, confidence, timestamp, synced
		FROM detections WHERE synced = 0
		ORDER BY timestamp ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced detections: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

// MarkSynced flips the synced flag of every id in one statement.
func (r *DetectionRepository) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	query := fmt.Sprintf(`UPDATE detections SET synced = 1 WHERE synced = 0 AND id IN (%s)`, placeholders(len(ids)))
	if _, err := r.db.Conn().ExecContext(ctx, query, int64Args(ids)...); err != nil {
		return fmt.Errorf("failed to mark detections synced: %w", err)
	}
	return nil
}

// DeleteSyncedBefore removes synced events older than cutoff. Unsynced rows
// are never touched.
func (r *DetectionRepository) DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().ExecContext(ctx,
		`DELETE FROM detections WHERE synced = 1 AND timestamp < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete synced detections: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the number of stored events.
func (r *DetectionRepository) Count(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM detections`)
}

// CountUnsynced returns the number of events still waiting for upload.
func (r *DetectionRepository) CountUnsynced(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM detections WHERE synced = 0`)
}

func (r *DetectionRepository) count(ctx context.Context, query string) (int64, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var n int64
	if err := r.db.Conn().QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count detections: %w", err)
	}
	return n, nil
}

// HourlyStats returns 24 buckets of per-class counts for date.
func (r *DetectionRepository) HourlyStats(ctx context.Context, date string, cameras []string) ([]model.HourlyCount, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	filter, filterArgs := inFilter("camera_id", cameras)
	args := append([]interface{}{date}, filterArgs...)

	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT hour, vehicle_type, COUNT(*)
		FROM detections WHERE date = ?`+filter+`
		GROUP BY hour, vehicle_type
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly stats: %w", err)
	}
	defer rows.Close()

	hours := make([]model.HourlyCount, 24)
	for i := range hours {
		hours[i].Hour = i
	}
	for rows.Next() {
		var (
			hour  int
			class string
			n     int
		)
		if err := rows.Scan(&hour, &class, &n); err != nil {
			return nil, fmt.Errorf("failed to scan hourly stats: %w", err)
		}
		if hour < 0 || hour > 23 {
			continue
		}
		hours[hour].Counts.Add(model.VehicleClass(class), n)
	}
	return hours, rows.Err()
}

// ListByDate returns every event of date in chronological order.
func (r *DetectionRepository) ListByDate(ctx context.Context, date string, cameras []string) ([]model.DetectionEvent, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	filter, filterArgs := inFilter("camera_id", cameras)
	args := append([]interface{}{date}, filterArgs...)

	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT id, camera_id, vehicle_type, confidence, timestamp, synced
		FROM detections WHERE date = ?`+filter+`
		ORDER BY timestamp ASC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections by date: %w", err)
	}
	defer rows.Close()

	return scanDetections(rows)
}

func scanDetections(rows *sql.Rows) ([]model.DetectionEvent, error) {
	var events []model.DetectionEvent
	for rows.Next() {
		var (
			e     model.DetectionEvent
			class string
			ts    string
		)
		if err := rows.Scan(&e.ID, &e.CameraID, &class, &e.Confidence, &ts, &e.Synced); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		parsed, err := parseTime(ts)
		if err != nil {
			return nil, err
		}
		e.VehicleType = model.VehicleClass(class)
		e.Timestamp = parsed
		events = append(events, e)
	}
	return events, rows.Err()
}

var (
	_ repository.DetectionRepository = (*DetectionRepository)(nil)
	_ repository.SummaryRepository   = (*SummaryRepository)(nil)
	_ repository.PlateRepository     = (*PlateRepository)(nil)
	_ repository.SourceRepository    = (*SourceRepository)(nil)
)
