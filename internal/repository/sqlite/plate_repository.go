package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"trafficcounter/internal/model"
	"trafficcounter/internal/repository"
)

// PlateRepository implements repository.PlateRepository for SQLite.
type PlateRepository struct {
	db *DB
}

// NewPlateRepository creates a new SQLite plate repository.
func NewPlateRepository(db *DB) *PlateRepository {
	return &PlateRepository{db: db}
}

const plateColumns = `id, camera_id, plate, vehicle_type, confidence, timestamp, synced`

// Insert stores an already deduplicated plate read.
func (r *PlateRepository) Insert(ctx context.Context, event *model.PlateEvent) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO plate_detections (camera_id, plate, vehicle_type, confidence, timestamp, synced)
		VALUES (?, ?, ?, ?, ?, 0)
	`, event.CameraID, event.Plate, string(event.VehicleType), event.Confidence, formatTime(event.Timestamp))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to insert plate: %w", repository.ErrPersistence, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read plate id: %w", repository.ErrPersistence, err)
	}
	event.ID = id
	return id, nil
}

// ListUnsynced returns up to limit unsynced plates, oldest first.
func (r *PlateRepository) ListUnsynced(ctx context.Context, limit int) ([]model.PlateEvent, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT `+plateColumns+` FROM plate_detections WHERE synced = 0
		ORDER BY timestamp ASC, id ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced plates: %w", err)
	}
	defer rows.Close()

	return scanPlates(rows)
}

// MarkSynced flips the synced flag of every id in one statement.
func (r *PlateRepository) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	query := fmt.Sprintf(`UPDATE plate_detections SET synced = 1 WHERE synced = 0 AND id IN (%s)`, placeholders(len(ids)))
	if _, err := r.db.Conn().ExecContext(ctx, query, int64Args(ids)...); err != nil {
		return fmt.Errorf("failed to mark plates synced: %w", err)
	}
	return nil
}

// DeleteSyncedBefore removes synced plates older than cutoff.
func (r *PlateRepository) DeleteSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().ExecContext(ctx,
		`DELETE FROM plate_detections WHERE synced = 1 AND timestamp < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete synced plates: %w", err)
	}
	return result.RowsAffected()
}

func (r *PlateRepository) CountUnsynced(ctx context.Context) (int64, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var n int64
	if err := r.db.Conn().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM plate_detections WHERE synced = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count plates: %w", err)
	}
	return n, nil
}

// History returns the most recent plates, newest first. An empty cameraID
// means every camera.
func (r *PlateRepository) History(ctx context.Context, cameraID string, limit int) ([]model.PlateEvent, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	query := `SELECT ` + plateColumns + ` FROM plate_detections`
	var args []interface{}
	if cameraID != "" {
		query += ` WHERE camera_id = ?`
		args = append(args, cameraID)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plate history: %w", err)
	}
	defer rows.Close()

	return scanPlates(rows)
}

// Search finds plates equal to (exact) or containing the query.
func (r *PlateRepository) Search(ctx context.Context, plate string, exact bool, limit int) ([]model.PlateEvent, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	plate = strings.ToUpper(strings.TrimSpace(plate))
	cond, arg := `plate = ?`, plate
	if !exact {
		cond, arg = `plate LIKE ?`, "%"+plate+"%"
	}

	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT `+plateColumns+` FROM plate_detections WHERE `+cond+`
		ORDER BY timestamp DESC, id DESC LIMIT ?
	`, arg, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search plates: %w", err)
	}
	defer rows.Close()

	return scanPlates(rows)
}

// CountDistinctSince counts unique plates seen at or after since.
func (r *PlateRepository) CountDistinctSince(ctx context.Context, since time.Time, cameraID string) (int64, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	query := `SELECT COUNT(DISTINCT plate) FROM plate_detections WHERE timestamp >= ?`
	args := []interface{}{formatTime(since)}
	if cameraID != "" {
		query += ` AND camera_id = ?`
		args = append(args, cameraID)
	}

	var n int64
	if err := r.db.Conn().QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count distinct plates: %w", err)
	}
	return n, nil
}

func scanPlates(rows *sql.Rows) ([]model.PlateEvent, error) {
	var events []model.PlateEvent
	for rows.Next() {
		var (
			e     model.PlateEvent
			class string
			ts    string
		)
		if err := rows.Scan(&e.ID, &e.CameraID, &e.Plate, &class, &e.Confidence, &ts, &e.Synced); err != nil {
			return nil, fmt.Errorf("failed to scan plate: %w", err)
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
